// Package tracker keeps, per search index, the set of trackable items and
// whether each of them is up to date in the search backend.
//
// Mutating operations are best effort: a storage failure rolls the whole
// call back and is logged, never returned. Callers that need confirmation
// read the counts afterwards.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sw33tLie/searchtrack/internal/utils"
	"github.com/sw33tLie/searchtrack/pkg/metrics"
	"github.com/sw33tLie/searchtrack/pkg/search"
	"github.com/sw33tLie/searchtrack/pkg/storage"
)

const DefaultBatchSize = 1000

// MaxBatchSize keeps a batched insert (5 bound values per row) below
// SQLite's limit of 32766 variables per statement.
const MaxBatchSize = 5000

// Order decides how changed items are queued.
type Order string

const (
	// OrderLIFO stamps every changed item with the current time, moving
	// it to the back of the pending queue.
	OrderLIFO Order = "lifo"
	// OrderFIFO only re-stamps items that were already indexed, so pending
	// items keep their position.
	OrderFIFO Order = "fifo"
)

// ParseOrder accepts "lifo" or "fifo" (case-insensitive, empty = lifo).
func ParseOrder(s string) (Order, error) {
	switch Order(strings.ToLower(strings.TrimSpace(s))) {
	case "", OrderLIFO:
		return OrderLIFO, nil
	case OrderFIFO:
		return OrderFIFO, nil
	}
	return "", fmt.Errorf("unknown indexing order %q", s)
}

// Config holds everything a Tracker needs for one index.
type Config struct {
	DB        *storage.DB
	IndexID   string
	BatchSize int   // defaults to DefaultBatchSize if <= 0, capped at MaxBatchSize
	Order     Order // defaults to OrderLIFO
	Log       logrus.FieldLogger
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// PersistenceError wraps a storage failure of a tracker mutation.
type PersistenceError struct {
	IndexID string
	Op      string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("tracker %s on index %s: %v", e.Op, e.IndexID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

type Tracker struct {
	db        *storage.DB
	indexID   string
	batchSize int
	order     Order
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func New(cfg Config) (*Tracker, error) {
	if cfg.DB == nil {
		return nil, errors.New("tracker: DB is required")
	}
	if cfg.IndexID == "" {
		return nil, errors.New("tracker: index id is required")
	}
	t := &Tracker{
		db:        cfg.DB,
		indexID:   cfg.IndexID,
		batchSize: cfg.BatchSize,
		order:     cfg.Order,
		log:       cfg.Log,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
	}
	if t.batchSize <= 0 {
		t.batchSize = DefaultBatchSize
	}
	if t.order == "" {
		t.order = OrderLIFO
	}
	if t.log == nil {
		t.log = utils.Discard()
	}
	if t.now == nil {
		t.now = time.Now
	}
	t.log = t.log.WithField("index", t.indexID)
	if t.batchSize > MaxBatchSize {
		t.log.Warnf("Batch size %d is too large, using %d", t.batchSize, MaxBatchSize)
		t.batchSize = MaxBatchSize
	}
	return t, nil
}

// IndexID returns the index this tracker works on.
func (t *Tracker) IndexID() string { return t.indexID }

// TrackItemsInserted starts tracking the given combined item ids as not
// indexed. Ids that are already tracked are left alone; ids without a
// datasource prefix are skipped.
func (t *Tracker) TrackItemsInserted(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	now := t.now().Unix()
	t.mutate(ctx, "insert", func(tx *storage.Tx) (int64, error) {
		var total int64
		for _, chunk := range utils.Chunk(ids, t.batchSize) {
			rows := make([]storage.TrackedItem, 0, len(chunk))
			for _, id := range chunk {
				datasourceID, _, ok := search.SplitID(id)
				if !ok {
					t.log.Warnf("Skipping item %q: not a combined datasource/id value", id)
					continue
				}
				rows = append(rows, storage.TrackedItem{
					IndexID:      t.indexID,
					DatasourceID: datasourceID,
					ItemID:       id,
					ChangedAt:    now,
					Status:       storage.NotIndexed,
				})
			}
			n, err := tx.InsertItems(ctx, rows)
			if err != nil {
				return total, err
			}
			total += n
		}
		return total, nil
	})
}

// TrackItemsUpdated marks the given items as changed. A nil ids slice marks
// every item of the index.
func (t *Tracker) TrackItemsUpdated(ctx context.Context, ids []string) {
	if ids != nil && len(ids) == 0 {
		return
	}
	now := t.now().Unix()
	onlyIndexed := t.order == OrderFIFO
	t.mutate(ctx, "update", func(tx *storage.Tx) (int64, error) {
		if ids == nil {
			return tx.MarkChanged(ctx, t.indexID, storage.ItemFilter{}, now, onlyIndexed)
		}
		var total int64
		for _, chunk := range utils.Chunk(ids, t.batchSize) {
			n, err := tx.MarkChanged(ctx, t.indexID, storage.ItemFilter{IDs: chunk}, now, onlyIndexed)
			if err != nil {
				return total, err
			}
			total += n
		}
		return total, nil
	})
}

// TrackAllItemsUpdated marks every item as changed, regardless of the
// indexing order, optionally only those of one datasource.
func (t *Tracker) TrackAllItemsUpdated(ctx context.Context, datasourceID string) {
	now := t.now().Unix()
	t.mutate(ctx, "update_all", func(tx *storage.Tx) (int64, error) {
		return tx.MarkChanged(ctx, t.indexID, storage.ItemFilter{DatasourceID: datasourceID}, now, false)
	})
}

// TrackItemsIndexed marks exactly the given items as indexed.
func (t *Tracker) TrackItemsIndexed(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	t.mutate(ctx, "indexed", func(tx *storage.Tx) (int64, error) {
		var total int64
		for _, chunk := range utils.Chunk(ids, t.batchSize) {
			n, err := tx.MarkIndexed(ctx, t.indexID, storage.ItemFilter{IDs: chunk})
			if err != nil {
				return total, err
			}
			total += n
		}
		return total, nil
	})
}

// TrackItemsDeleted stops tracking the given items. A nil ids slice removes
// every item of the index.
func (t *Tracker) TrackItemsDeleted(ctx context.Context, ids []string) {
	if ids != nil && len(ids) == 0 {
		return
	}
	t.mutate(ctx, "delete", func(tx *storage.Tx) (int64, error) {
		if ids == nil {
			return tx.DeleteItems(ctx, t.indexID, storage.ItemFilter{})
		}
		var total int64
		for _, chunk := range utils.Chunk(ids, t.batchSize) {
			n, err := tx.DeleteItems(ctx, t.indexID, storage.ItemFilter{IDs: chunk})
			if err != nil {
				return total, err
			}
			total += n
		}
		return total, nil
	})
}

// TrackAllItemsDeleted stops tracking every item, optionally only those of
// one datasource.
func (t *Tracker) TrackAllItemsDeleted(ctx context.Context, datasourceID string) {
	t.mutate(ctx, "delete_all", func(tx *storage.Tx) (int64, error) {
		return tx.DeleteItems(ctx, t.indexID, storage.ItemFilter{DatasourceID: datasourceID})
	})
}

// GetRemainingItems returns up to limit pending item ids, oldest change
// first and ties broken by item id. A negative limit returns all of them.
func (t *Tracker) GetRemainingItems(ctx context.Context, limit int, datasourceID string) ([]string, error) {
	return t.db.RemainingItems(ctx, t.indexID, limit, datasourceID)
}

func (t *Tracker) GetTotalItemsCount(ctx context.Context, datasourceID string) (int, error) {
	return t.db.CountItems(ctx, t.indexID, datasourceID, nil)
}

func (t *Tracker) GetIndexedItemsCount(ctx context.Context, datasourceID string) (int, error) {
	s := storage.Indexed
	return t.db.CountItems(ctx, t.indexID, datasourceID, &s)
}

func (t *Tracker) GetRemainingItemsCount(ctx context.Context, datasourceID string) (int, error) {
	s := storage.NotIndexed
	return t.db.CountItems(ctx, t.indexID, datasourceID, &s)
}

// Status returns total, indexed and remaining counts together.
func (t *Tracker) Status(ctx context.Context, datasourceID string) (storage.ItemCounts, error) {
	return t.db.CountItemsByStatus(ctx, t.indexID, datasourceID)
}

// mutate runs fn in one transaction. Failures are logged and swallowed.
func (t *Tracker) mutate(ctx context.Context, op string, fn func(tx *storage.Tx) (int64, error)) {
	var affected int64
	err := t.db.WithTx(ctx, func(tx *storage.Tx) error {
		n, err := fn(tx)
		affected = n
		return err
	})
	if err != nil {
		perr := &PersistenceError{IndexID: t.indexID, Op: op, Err: err}
		t.log.WithField("op", op).WithError(perr).Error("Tracker operation failed, changes rolled back")
		t.metrics.TrackerError(t.indexID, op)
		return
	}
	t.log.WithField("op", op).Debugf("Tracker operation affected %d items", affected)
	t.metrics.TrackerAffected(t.indexID, op, affected)
}
