package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/sw33tLie/searchtrack/internal/utils"
	"github.com/sw33tLie/searchtrack/pkg/backends/httpjson"
	"github.com/sw33tLie/searchtrack/pkg/backends/null"
	"github.com/sw33tLie/searchtrack/pkg/indexing"
	"github.com/sw33tLie/searchtrack/pkg/metrics"
	"github.com/sw33tLie/searchtrack/pkg/search"
	"github.com/sw33tLie/searchtrack/pkg/storage"
	"github.com/sw33tLie/searchtrack/pkg/tasks"
	"github.com/sw33tLie/searchtrack/pkg/tracker"
)

// app wires the components used by the commands.
type app struct {
	db       *storage.DB
	backends *search.BackendRegistry
	tasks    *tasks.Manager
	indexing *indexing.Service
	metrics  *metrics.Metrics
}

// openApp opens the database and builds the components from the config.
// Metrics are registered on reg when it is not nil.
func openApp(reg prometheus.Registerer) (*app, error) {
	dbPath, err := utils.GetAbsDBPath(viper.GetString("db.path"))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := storage.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", dbPath, err)
	}

	order, err := tracker.ParseOrder(viper.GetString("tracker.indexing_order"))
	if err != nil {
		db.Close()
		return nil, err
	}
	lockDir := viper.GetString("tasks.lock_dir")
	if lockDir == "" {
		lockDir = filepath.Join(filepath.Dir(dbPath), "locks")
	}

	a := &app{db: db, backends: newBackendRegistry(utils.Log), metrics: metrics.New(reg)}
	a.tasks, err = tasks.New(tasks.Config{
		DB:          db,
		Backends:    a.backends,
		LockDir:     lockDir,
		MaxAttempts: viper.GetInt("tasks.max_attempts"),
		Log:         utils.Log,
		Metrics:     a.metrics,
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	a.indexing, err = indexing.New(indexing.Config{
		DB:        db,
		Backends:  a.backends,
		Tasks:     a.tasks,
		BatchSize: viper.GetInt("tracker.batch_size"),
		Order:     order,
		Log:       utils.Log,
		Metrics:   a.metrics,
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// newBackendRegistry registers the built-in backends. HTTP backends get
// backend.http.retry_max unless their server config sets retry_max.
func newBackendRegistry(log logrus.FieldLogger) *search.BackendRegistry {
	r := search.NewBackendRegistry(log)
	r.Register(null.Name, null.Factory)
	r.Register(httpjson.Name, func(server *search.Server, log logrus.FieldLogger) (search.Backend, error) {
		cfg := map[string]any{"retry_max": viper.GetInt("backend.http.retry_max")}
		for k, v := range server.BackendConfig {
			cfg[k] = v
		}
		s := *server
		s.BackendConfig = cfg
		return httpjson.Factory(&s, log)
	})
	return r
}

// readIDs returns args, or the non-empty lines of r when args is empty.
func readIDs(args []string, r io.Reader) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	var ids []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			ids = append(ids, line)
		}
	}
	return ids, sc.Err()
}
