package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sw33tLie/searchtrack/internal/utils"
	"github.com/sw33tLie/searchtrack/pkg/search"
	"github.com/sw33tLie/searchtrack/pkg/storage"
	"github.com/sw33tLie/searchtrack/pkg/tasks"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.Log.WithError(err).Debug("Could not write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, search.ErrNotFound) {
		status = http.StatusNotFound
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.DB.ListServers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	// Backend configs may hold credentials.
	for i := range servers {
		servers[i].BackendConfig = nil
	}
	if servers == nil {
		servers = []search.Server{}
	}
	writeJSON(w, http.StatusOK, servers)
}

func (s *Server) handleIndexes(w http.ResponseWriter, r *http.Request) {
	indexes, err := s.DB.ListIndexes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if indexes == nil {
		indexes = []search.Index{}
	}
	writeJSON(w, http.StatusOK, indexes)
}

type IndexStatus struct {
	Index       string                        `json:"index"`
	Total       storage.ItemCounts            `json:"total"`
	Datasources map[string]storage.ItemCounts `json:"datasources"`
}

func (s *Server) handleIndexStatus(w http.ResponseWriter, r *http.Request) {
	idx, err := s.DB.Index(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	tr, err := s.Indexing.TrackerFor(idx.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	status := IndexStatus{Index: idx.ID, Datasources: make(map[string]storage.ItemCounts)}
	if status.Total, err = tr.Status(r.Context(), ""); err != nil {
		writeError(w, err)
		return
	}
	for _, ds := range idx.Datasources {
		c, err := tr.Status(r.Context(), ds)
		if err != nil {
			writeError(w, err)
			return
		}
		status.Datasources[ds] = c
	}
	writeJSON(w, http.StatusOK, status)
}

type TaskView struct {
	ID        int64     `json:"id"`
	ServerID  string    `json:"server_id"`
	Type      string    `json:"type"`
	IndexID   string    `json:"index_id,omitempty"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := tasks.Filter{ServerID: q.Get("server"), IndexID: q.Get("index")}
	if raw := q.Get("id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid task id", http.StatusBadRequest)
			return
		}
		f.IDs = []int64{id}
	}

	pending, err := s.Tasks.Pending(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]TaskView, 0, len(pending))
	for _, t := range pending {
		out = append(out, TaskView{ID: t.ID, ServerID: t.ServerID, Type: t.Type, IndexID: t.IndexID, Attempts: t.Attempts, CreatedAt: t.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

type ExecuteResponse struct {
	tasks.Result
	Succeeded bool `json:"succeeded"`
}

func (s *Server) handleExecuteTasks(w http.ResponseWriter, r *http.Request) {
	res, err := s.Tasks.Execute(r.Context(), r.URL.Query().Get("server"))
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if !res.Succeeded() {
		status = http.StatusAccepted
	}
	writeJSON(w, status, ExecuteResponse{Result: res, Succeeded: res.Succeeded()})
}
