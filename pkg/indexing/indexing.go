// Package indexing applies catalog changes that affect a search backend.
// Operations are sent to the backend right away when the server has no
// pending tasks and is reachable; otherwise they are queued behind the
// server's existing tasks.
package indexing

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/sw33tLie/searchtrack/internal/utils"
	"github.com/sw33tLie/searchtrack/pkg/metrics"
	"github.com/sw33tLie/searchtrack/pkg/search"
	"github.com/sw33tLie/searchtrack/pkg/storage"
	"github.com/sw33tLie/searchtrack/pkg/tasks"
	"github.com/sw33tLie/searchtrack/pkg/tracker"
)

type Config struct {
	DB       *storage.DB
	Backends *search.BackendRegistry
	Tasks    *tasks.Manager

	// Tracker settings used by TrackerFor.
	BatchSize int
	Order     tracker.Order

	Log     logrus.FieldLogger
	Metrics *metrics.Metrics
}

type Service struct {
	db        *storage.DB
	backends  *search.BackendRegistry
	tasks     *tasks.Manager
	batchSize int
	order     tracker.Order
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
}

func New(cfg Config) (*Service, error) {
	if cfg.DB == nil || cfg.Backends == nil || cfg.Tasks == nil {
		return nil, errors.New("indexing: DB, backend registry and task manager are required")
	}
	s := &Service{
		db:        cfg.DB,
		backends:  cfg.Backends,
		tasks:     cfg.Tasks,
		batchSize: cfg.BatchSize,
		order:     cfg.Order,
		log:       cfg.Log,
		metrics:   cfg.Metrics,
	}
	if s.log == nil {
		s.log = utils.Discard()
	}
	return s, nil
}

// TrackerFor returns the tracker of an index.
func (s *Service) TrackerFor(indexID string) (*tracker.Tracker, error) {
	return tracker.New(tracker.Config{
		DB:        s.db,
		IndexID:   indexID,
		BatchSize: s.batchSize,
		Order:     s.order,
		Log:       s.log,
		Metrics:   s.metrics,
	})
}

// Outcome tells how a backend operation was handled.
type Outcome int

const (
	// Skipped means no backend call was needed.
	Skipped Outcome = iota
	Applied
	Queued
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Queued:
		return "queued"
	}
	return "skipped"
}

// AddIndex stores a new index and creates it on its server.
func (s *Service) AddIndex(ctx context.Context, idx search.Index) (Outcome, error) {
	if idx.ID == "" {
		return Skipped, errors.New("index id is required")
	}
	if _, err := s.db.Index(ctx, idx.ID); err == nil {
		return Skipped, fmt.Errorf("index %s already exists", idx.ID)
	} else if !errors.Is(err, search.ErrNotFound) {
		return Skipped, err
	}
	if err := s.db.SaveIndex(ctx, idx); err != nil {
		return Skipped, err
	}
	if idx.ServerID == "" {
		return Skipped, nil
	}
	// Older queued work for a freshly added index is meaningless.
	if _, err := s.tasks.Delete(ctx, tasks.Filter{ServerID: idx.ServerID, IndexID: idx.ID}); err != nil {
		return Skipped, err
	}
	return s.apply(ctx, idx.ServerID, tasks.AddIndex, &idx, nil, func(b search.Backend) error {
		return b.AddIndex(ctx, &idx)
	})
}

// UpdateIndex stores a changed index. When the index moves to another server
// it is removed from the old one and added to the new one; otherwise the
// server is asked to update it with the previous definition attached.
func (s *Service) UpdateIndex(ctx context.Context, idx search.Index) (Outcome, error) {
	original, err := s.db.Index(ctx, idx.ID)
	if err != nil {
		return Skipped, err
	}
	if err := s.db.SaveIndex(ctx, idx); err != nil {
		return Skipped, err
	}

	if original.ServerID != idx.ServerID {
		if original.ServerID != "" {
			if _, err := s.removeFromServer(ctx, original); err != nil {
				return Skipped, err
			}
		}
		if idx.ServerID == "" {
			return Skipped, nil
		}
		return s.apply(ctx, idx.ServerID, tasks.AddIndex, &idx, nil, func(b search.Backend) error {
			return b.AddIndex(ctx, &idx)
		})
	}
	if idx.ServerID == "" {
		return Skipped, nil
	}

	original.Original = nil
	idx.Original = original
	return s.apply(ctx, idx.ServerID, tasks.UpdateIndex, &idx, original, func(b search.Backend) error {
		return b.UpdateIndex(ctx, &idx)
	})
}

// RemoveIndex deletes an index with its tracked items and removes it from
// its server. Pending tasks of the index are dropped first.
func (s *Service) RemoveIndex(ctx context.Context, indexID string) (Outcome, error) {
	idx, err := s.db.Index(ctx, indexID)
	if err != nil {
		return Skipped, err
	}
	if err := s.db.DeleteIndex(ctx, indexID); err != nil {
		return Skipped, err
	}
	if idx.ServerID == "" {
		return Skipped, nil
	}
	return s.removeFromServer(ctx, idx)
}

func (s *Service) removeFromServer(ctx context.Context, idx *search.Index) (Outcome, error) {
	if _, err := s.tasks.Delete(ctx, tasks.Filter{ServerID: idx.ServerID, IndexID: idx.ID}); err != nil {
		return Skipped, err
	}
	return s.apply(ctx, idx.ServerID, tasks.RemoveIndex, idx, idx, func(b search.Backend) error {
		return b.RemoveIndex(ctx, idx)
	})
}

// DeleteItems stops tracking the given items and deletes them from the
// server. Read-only indexes keep their remote items.
func (s *Service) DeleteItems(ctx context.Context, indexID string, itemIDs []string) (Outcome, error) {
	if len(itemIDs) == 0 {
		return Skipped, nil
	}
	idx, err := s.db.Index(ctx, indexID)
	if err != nil {
		return Skipped, err
	}
	tr, err := s.TrackerFor(indexID)
	if err != nil {
		return Skipped, err
	}
	tr.TrackItemsDeleted(ctx, itemIDs)

	if idx.ReadOnly || idx.ServerID == "" {
		return Skipped, nil
	}
	return s.apply(ctx, idx.ServerID, tasks.DeleteItems, idx, itemIDs, func(b search.Backend) error {
		return b.DeleteItems(ctx, idx, itemIDs)
	})
}

// ClearIndex deletes all items of an index, or of one datasource, from the
// server and schedules them for reindexing.
func (s *Service) ClearIndex(ctx context.Context, indexID, datasourceID string) (Outcome, error) {
	idx, err := s.db.Index(ctx, indexID)
	if err != nil {
		return Skipped, err
	}
	if datasourceID != "" && !idx.HasDatasource(datasourceID) {
		return Skipped, fmt.Errorf("index %s has no datasource %s", indexID, datasourceID)
	}

	outcome := Skipped
	if !idx.ReadOnly && idx.ServerID != "" {
		var data any
		if datasourceID != "" {
			data = datasourceID
		}
		outcome, err = s.apply(ctx, idx.ServerID, tasks.DeleteAllIndexItems, idx, data, func(b search.Backend) error {
			return b.DeleteAllIndexItems(ctx, idx, datasourceID)
		})
		if err != nil {
			return outcome, err
		}
	}

	tr, err := s.TrackerFor(indexID)
	if err != nil {
		return outcome, err
	}
	tr.TrackAllItemsUpdated(ctx, datasourceID)
	return outcome, nil
}

// apply runs op against the server's backend once the server's queue is
// empty. The operation is queued instead when earlier tasks are still
// pending or the backend call fails.
func (s *Service) apply(ctx context.Context, serverID string, typ tasks.Type, idx *search.Index, data any, op func(search.Backend) error) (Outcome, error) {
	log := s.log.WithFields(logrus.Fields{"server": serverID, "index": idx.ID, "type": typ})

	if backend, ok := s.ready(ctx, log, serverID); ok {
		err := op(backend)
		if err == nil {
			return Applied, nil
		}
		log.WithError(err).Warn("Backend operation failed, queueing it")
	}

	if _, err := s.tasks.Add(ctx, serverID, typ, idx.ID, data); err != nil {
		return Skipped, fmt.Errorf("queueing %s for server %s: %w", typ, serverID, err)
	}
	log.Info("Queued backend operation for later execution")
	return Queued, nil
}

// ready flushes the server's pending tasks and returns its backend if the
// queue is now empty and the server is usable.
func (s *Service) ready(ctx context.Context, log logrus.FieldLogger, serverID string) (search.Backend, bool) {
	res, err := s.tasks.Execute(ctx, serverID)
	if err != nil {
		log.WithError(err).Warn("Could not execute pending tasks")
		return nil, false
	}
	if !res.Succeeded() {
		return nil, false
	}
	server, err := s.db.Server(ctx, serverID)
	if err != nil {
		log.WithError(err).Warn("Could not load server")
		return nil, false
	}
	if !server.Enabled {
		log.Debug("Server is disabled")
		return nil, false
	}
	backend, err := s.backends.Backend(server)
	if err != nil {
		log.WithError(err).Warn("Server has no usable backend")
		return nil, false
	}
	return backend, true
}
