// Package tasks queues backend operations that could not be applied to a
// search server right away and replays them later, in insertion order per
// server. A failing task stops the remaining tasks of its server for the
// current run; other servers are unaffected.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sw33tLie/searchtrack/internal/utils"
	"github.com/sw33tLie/searchtrack/pkg/metrics"
	"github.com/sw33tLie/searchtrack/pkg/search"
	"github.com/sw33tLie/searchtrack/pkg/storage"
	"golang.org/x/sync/singleflight"
)

// Type names a backend operation.
type Type string

const (
	AddIndex            Type = "addIndex"
	UpdateIndex         Type = "updateIndex"
	RemoveIndex         Type = "removeIndex"
	DeleteItems         Type = "deleteItems"
	DeleteAllIndexItems Type = "deleteAllIndexItems"
)

// KnownTypes lists the task types Execute processes.
var KnownTypes = []Type{AddIndex, UpdateIndex, RemoveIndex, DeleteItems, DeleteAllIndexItems}

func (t Type) Valid() bool {
	for _, k := range KnownTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Config holds the dependencies of a Manager.
type Config struct {
	DB       *storage.DB
	Backends *search.BackendRegistry
	// Indexes and Servers default to DB.
	Indexes search.IndexRegistry
	Servers search.ServerRegistry
	// LockDir holds the per-server lock files. Empty disables file locking;
	// concurrent runs inside one process are still collapsed.
	LockDir string
	// MaxAttempts evicts a task after that many failed runs. 0 keeps
	// failed tasks forever.
	MaxAttempts int
	Log         logrus.FieldLogger
	Metrics     *metrics.Metrics
}

type Manager struct {
	db          *storage.DB
	backends    *search.BackendRegistry
	indexes     search.IndexRegistry
	servers     search.ServerRegistry
	lockDir     string
	maxAttempts int
	log         logrus.FieldLogger
	metrics     *metrics.Metrics
	flight      singleflight.Group
}

func New(cfg Config) (*Manager, error) {
	if cfg.DB == nil {
		return nil, errors.New("tasks: DB is required")
	}
	if cfg.Backends == nil {
		return nil, errors.New("tasks: backend registry is required")
	}
	m := &Manager{
		db:          cfg.DB,
		backends:    cfg.Backends,
		indexes:     cfg.Indexes,
		servers:     cfg.Servers,
		lockDir:     cfg.LockDir,
		maxAttempts: cfg.MaxAttempts,
		log:         cfg.Log,
		metrics:     cfg.Metrics,
	}
	if m.indexes == nil {
		m.indexes = cfg.DB
	}
	if m.servers == nil {
		m.servers = cfg.DB
	}
	if m.log == nil {
		m.log = utils.Discard()
	}
	return m, nil
}

// Add queues a task. data is JSON encoded and handed back verbatim to the
// handler of typ; []byte and json.RawMessage values are stored as is.
func (m *Manager) Add(ctx context.Context, serverID string, typ Type, indexID string, data any) (int64, error) {
	if serverID == "" {
		return 0, errors.New("tasks: server id is required")
	}
	if !typ.Valid() {
		return 0, fmt.Errorf("tasks: unknown task type %q", typ)
	}
	var raw []byte
	switch v := data.(type) {
	case nil:
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return 0, fmt.Errorf("tasks: encoding data: %w", err)
		}
		raw = b
	}
	if typ == DeleteItems && (len(raw) == 0 || string(raw) == "null") {
		return 0, errors.New("tasks: deleteItems needs the item ids as data")
	}
	id, err := m.db.AddTask(ctx, storage.Task{ServerID: serverID, Type: string(typ), IndexID: indexID, Data: raw})
	if err != nil {
		return 0, err
	}
	m.log.WithFields(logrus.Fields{"server": serverID, "type": typ, "index": indexID, "task": id}).Debug("Queued server task")
	return id, nil
}

// Filter selects tasks for Delete and Pending. Every non-zero field
// narrows the selection.
type Filter struct {
	IDs      []int64
	ServerID string
	IndexID  string
}

func (f Filter) storage() storage.TaskFilter {
	sf := storage.TaskFilter{IDs: f.IDs, IndexID: f.IndexID}
	if f.ServerID != "" {
		sf.ServerIDs = []string{f.ServerID}
	}
	return sf
}

// Delete removes matching tasks.
func (m *Manager) Delete(ctx context.Context, f Filter) (int64, error) {
	return m.db.DeleteTasks(ctx, f.storage())
}

// Pending lists matching tasks in execution order.
func (m *Manager) Pending(ctx context.Context, f Filter) ([]storage.Task, error) {
	return m.db.ListTasks(ctx, f.storage(), true)
}

// Result describes one Execute run.
type Result struct {
	RunID string `json:"run_id"`
	// Attempted counts tasks handed to a handler.
	Attempted int `json:"attempted"`
	// Executed holds ids of tasks removed from the queue after success or
	// because they were stale.
	Executed []int64 `json:"executed"`
	// Evicted holds ids of tasks dropped after reaching MaxAttempts.
	Evicted        []int64  `json:"evicted"`
	FailingServers []string `json:"failing_servers"`
	// BusyServers were skipped because another worker held their lock.
	BusyServers []string `json:"busy_servers"`
}

// Succeeded reports whether every attempted server ran all its tasks. A run
// with nothing to do succeeds too; check Attempted to tell them apart.
func (r Result) Succeeded() bool {
	return len(r.FailingServers) == 0 && len(r.BusyServers) == 0
}

// BackendOperationError wraps a failure of one task.
type BackendOperationError struct {
	TaskID   int64
	ServerID string
	Type     Type
	Err      error
}

func (e *BackendOperationError) Error() string {
	return fmt.Sprintf("task %d (%s) on server %s: %v", e.TaskID, e.Type, e.ServerID, e.Err)
}

func (e *BackendOperationError) Unwrap() error { return e.Err }

// Execute runs pending tasks of serverID, or of every enabled server when
// serverID is empty. Concurrent calls for the same scope share one run,
// which is not cancelled with ctx.
// The error is only set when the queue itself could not be read or cleaned
// up; task failures are reported in the Result.
func (m *Manager) Execute(ctx context.Context, serverID string) (Result, error) {
	key := "server:" + serverID
	if serverID == "" {
		key = "all"
	}
	// The run is shared by every waiting caller, so one caller giving up
	// must not cancel it for the others.
	runCtx := context.WithoutCancel(ctx)
	v, err, _ := m.flight.Do(key, func() (interface{}, error) {
		return m.execute(runCtx, serverID)
	})
	res, _ := v.(Result)
	return res, err
}

func (m *Manager) execute(ctx context.Context, serverID string) (Result, error) {
	res := Result{RunID: uuid.NewString()}
	log := m.log.WithField("run", res.RunID)

	filter := knownTypesFilter()
	if serverID != "" {
		filter.ServerIDs = []string{serverID}
	} else {
		servers, err := m.servers.EnabledServers(ctx)
		if err != nil {
			return res, fmt.Errorf("loading enabled servers: %w", err)
		}
		filter.ServerIDs = []string{}
		for _, s := range servers {
			filter.ServerIDs = append(filter.ServerIDs, s.ID)
		}
	}

	pending, err := m.db.ListTasks(ctx, filter, true)
	if err != nil {
		return res, fmt.Errorf("loading pending tasks: %w", err)
	}
	if len(pending) == 0 {
		return res, nil
	}
	log.Debugf("Executing %d pending server tasks", len(pending))

	for _, id := range serverIDs(pending) {
		if err := m.runServer(ctx, log.WithField("server", id), id, &res); err != nil {
			return res, err
		}
	}
	sort.Strings(res.FailingServers)
	sort.Strings(res.BusyServers)
	return res, nil
}

func knownTypesFilter() storage.TaskFilter {
	f := storage.TaskFilter{}
	for _, t := range KnownTypes {
		f.Types = append(f.Types, string(t))
	}
	return f
}

// serverIDs returns the distinct servers of pending, in order.
func serverIDs(pending []storage.Task) []string {
	var ids []string
	for i, t := range pending {
		if i == 0 || t.ServerID != pending[i-1].ServerID {
			ids = append(ids, t.ServerID)
		}
	}
	return ids
}

// runServer executes the tasks of one server in order, stopping at the
// first failure. The server's tasks are read and the finished ones deleted
// while its lock is held, so no other worker can replay them. The error is
// only set when the queue could not be read or cleaned up.
func (m *Manager) runServer(ctx context.Context, log logrus.FieldLogger, serverID string, res *Result) error {
	if m.lockDir != "" {
		lock, err := utils.NewServerLock(m.lockDir, serverID)
		if err != nil {
			log.WithError(err).Error("Could not create server lock")
			res.FailingServers = append(res.FailingServers, serverID)
			return nil
		}
		locked, err := lock.TryLock()
		if err != nil {
			log.WithError(err).Error("Could not take server lock")
			res.FailingServers = append(res.FailingServers, serverID)
			return nil
		}
		if !locked {
			log.Info("Another worker is executing tasks for this server, skipping")
			m.metrics.Busy(serverID)
			res.BusyServers = append(res.BusyServers, serverID)
			return nil
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				log.WithError(err).Warn("Could not release server lock")
			}
		}()
	}

	filter := knownTypesFilter()
	filter.ServerIDs = []string{serverID}
	group, err := m.db.ListTasks(ctx, filter, true)
	if err != nil {
		return fmt.Errorf("loading pending tasks of server %s: %w", serverID, err)
	}
	if len(group) == 0 {
		// Another worker got here first.
		return nil
	}

	server, err := m.servers.Server(ctx, serverID)
	if err != nil {
		log.WithError(err).Warn("Could not load server, keeping its tasks")
		res.FailingServers = append(res.FailingServers, serverID)
		return nil
	}
	if !server.Enabled {
		log.Warn("Server is disabled, keeping its tasks")
		res.FailingServers = append(res.FailingServers, serverID)
		return nil
	}
	backend, err := m.backends.Backend(server)
	if err != nil {
		log.WithError(err).Warn("Server has no usable backend, keeping its tasks")
		res.FailingServers = append(res.FailingServers, serverID)
		return nil
	}

	var done []int64
	for _, task := range group {
		tlog := log.WithFields(logrus.Fields{"task": task.ID, "type": task.Type, "index": task.IndexID})
		res.Attempted++

		skipped, err := m.runTask(ctx, backend, task)
		if err == nil {
			outcome := "executed"
			if skipped {
				outcome = "skipped"
				tlog.Debug("Task is stale or does not apply, dropping it")
			}
			m.metrics.Task(serverID, task.Type, outcome)
			res.Executed = append(res.Executed, task.ID)
			done = append(done, task.ID)
			continue
		}

		berr := &BackendOperationError{TaskID: task.ID, ServerID: serverID, Type: Type(task.Type), Err: err}
		tlog.WithError(berr).Error("Server task failed, remaining tasks of this server are postponed")
		m.metrics.Task(serverID, task.Type, "failed")
		res.FailingServers = append(res.FailingServers, serverID)

		attempts, aerr := m.db.IncrementTaskAttempts(ctx, task.ID)
		if aerr != nil {
			tlog.WithError(aerr).Warn("Could not record task attempt")
		} else if m.maxAttempts > 0 && attempts >= m.maxAttempts {
			tlog.Errorf("Task failed %d times, evicting it from the queue", attempts)
			m.metrics.Task(serverID, task.Type, "evicted")
			res.Evicted = append(res.Evicted, task.ID)
			done = append(done, task.ID)
		}
		break
	}

	if len(done) > 0 {
		if _, err := m.db.DeleteTasks(ctx, storage.TaskFilter{IDs: done}); err != nil {
			return fmt.Errorf("deleting executed tasks of server %s: %w", serverID, err)
		}
	}
	return nil
}

// runTask dispatches one task to the backend. skipped is true when the task
// no longer applies and can be dropped without calling the backend.
func (m *Manager) runTask(ctx context.Context, backend search.Backend, task storage.Task) (skipped bool, err error) {
	typ := Type(task.Type)

	var index *search.Index
	if task.IndexID != "" {
		index, err = m.indexes.Index(ctx, task.IndexID)
		switch {
		case err == nil:
		case errors.Is(err, search.ErrNotFound) && typ == RemoveIndex && len(task.Data) > 0:
			// The index is usually gone already; fall back to the snapshot.
			index = &search.Index{}
			if err := json.Unmarshal(task.Data, index); err != nil {
				return false, fmt.Errorf("decoding index snapshot: %w", err)
			}
		case errors.Is(err, search.ErrNotFound):
			return true, nil
		default:
			return false, err
		}
	}
	if index == nil {
		return true, nil
	}

	switch typ {
	case AddIndex:
		return false, backend.AddIndex(ctx, index)

	case UpdateIndex:
		if len(task.Data) > 0 {
			original := &search.Index{}
			if err := json.Unmarshal(task.Data, original); err != nil {
				return false, fmt.Errorf("decoding original index: %w", err)
			}
			index.Original = original
		}
		return false, backend.UpdateIndex(ctx, index)

	case RemoveIndex:
		return false, backend.RemoveIndex(ctx, index)

	case DeleteItems:
		if index.ReadOnly {
			return true, nil
		}
		var ids []string
		if len(task.Data) > 0 {
			if err := json.Unmarshal(task.Data, &ids); err != nil {
				return false, fmt.Errorf("decoding item ids: %w", err)
			}
		}
		if len(ids) == 0 {
			return true, nil
		}
		return false, backend.DeleteItems(ctx, index, ids)

	case DeleteAllIndexItems:
		if index.ReadOnly {
			return true, nil
		}
		var datasourceID string
		if len(task.Data) > 0 {
			if err := json.Unmarshal(task.Data, &datasourceID); err != nil {
				return false, fmt.Errorf("decoding datasource id: %w", err)
			}
		}
		return false, backend.DeleteAllIndexItems(ctx, index, datasourceID)
	}
	return false, fmt.Errorf("unknown task type %q", task.Type)
}
