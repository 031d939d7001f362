package utils

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	log "github.com/sirupsen/logrus"
)

var Log = logrus.New()

func SetLogLevel(level string) error {
	// We are not using logrus' trace and panic levels
	switch strings.ToLower(level) {
	case "debug":
		Log.SetLevel(log.DebugLevel)
	case "info":
		Log.SetLevel(log.InfoLevel)
	case "warning", "warn":
		Log.SetLevel(log.WarnLevel)
	case "error":
		Log.SetLevel(log.ErrorLevel)
	case "fatal":
		Log.SetLevel(log.FatalLevel)
	default:
		return fmt.Errorf("bad log level string: %q", level)
	}
	return nil
}

// Discard returns a logger that drops everything. Library components fall
// back to it when the caller does not pass a logger.
func Discard() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Chunk splits s into consecutive slices of at most size elements.
func Chunk[T any](s []T, size int) [][]T {
	if size <= 0 {
		size = len(s)
	}
	var out [][]T
	for size > 0 && len(s) > 0 {
		n := size
		if n > len(s) {
			n = len(s)
		}
		out = append(out, s[:n:n])
		s = s[n:]
	}
	return out
}
