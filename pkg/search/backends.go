package search

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sw33tLie/searchtrack/internal/utils"
)

// BackendFactory builds a backend for one server from its backend config.
type BackendFactory func(server *Server, log logrus.FieldLogger) (Backend, error)

// BackendRegistry maps backend names to factories. Factories are registered
// explicitly at startup.
type BackendRegistry struct {
	mu        sync.RWMutex
	factories map[string]BackendFactory
	log       logrus.FieldLogger
}

func NewBackendRegistry(log logrus.FieldLogger) *BackendRegistry {
	if log == nil {
		log = utils.Discard()
	}
	return &BackendRegistry{factories: make(map[string]BackendFactory), log: log}
}

// Register adds a factory under name, replacing any previous one.
func (r *BackendRegistry) Register(name string, f BackendFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = f
}

// Names returns the registered backend names, sorted.
func (r *BackendRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Backend builds the backend configured for server.
func (r *BackendRegistry) Backend(server *Server) (Backend, error) {
	r.mu.RLock()
	f, ok := r.factories[strings.ToLower(server.Backend)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported backend %q for server %s", server.Backend, server.ID)
	}
	return f(server, r.log.WithField("server", server.ID))
}
