package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sw33tLie/searchtrack/internal/utils"
	"github.com/sw33tLie/searchtrack/pkg/indexing"
	"github.com/sw33tLie/searchtrack/pkg/storage"
	"github.com/sw33tLie/searchtrack/pkg/tasks"
)

type Server struct {
	DB       *storage.DB
	Indexing *indexing.Service
	Tasks    *tasks.Manager
	Gatherer prometheus.Gatherer
	Username string
	Password string
}

func New(db *storage.DB, svc *indexing.Service, mgr *tasks.Manager, gatherer prometheus.Gatherer, user, pass string) *Server {
	return &Server{
		DB:       db,
		Indexing: svc,
		Tasks:    mgr,
		Gatherer: gatherer,
		Username: user,
		Password: pass,
	}
}

// Handler returns the status API and the metrics endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// API Group
	mux.HandleFunc("GET /api/servers", s.basicAuth(s.handleServers))
	mux.HandleFunc("GET /api/indexes", s.basicAuth(s.handleIndexes))
	mux.HandleFunc("GET /api/indexes/{id}/status", s.basicAuth(s.handleIndexStatus))
	mux.HandleFunc("GET /api/tasks", s.basicAuth(s.handleTasks))
	mux.HandleFunc("POST /api/tasks/execute", s.basicAuth(s.handleExecuteTasks))

	if s.Gatherer != nil {
		metrics := promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})
		mux.HandleFunc("GET /metrics", s.basicAuth(metrics.ServeHTTP))
	}
	return mux
}

func (s *Server) Start(addr string) error {
	utils.Log.Infof("Starting server on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) basicAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Username == "" && s.Password == "" {
			next(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.Username || pass != s.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
