package storage

import "time"

// ItemStatus is the indexing state of a tracked item.
type ItemStatus int

const (
	NotIndexed ItemStatus = 0
	Indexed    ItemStatus = 1
)

func (s ItemStatus) String() string {
	if s == Indexed {
		return "indexed"
	}
	return "not_indexed"
}

// TrackedItem is one row of the tracker table.
type TrackedItem struct {
	IndexID      string
	DatasourceID string
	ItemID       string
	ChangedAt    int64 // unix seconds
	Status       ItemStatus
}

// ItemFilter selects tracked items of one index. A nil IDs slice matches
// every item; an empty DatasourceID matches every datasource.
type ItemFilter struct {
	IDs          []string
	DatasourceID string
}

// Task is one row of the pending task table.
type Task struct {
	ID        int64
	ServerID  string
	Type      string
	IndexID   string
	Data      []byte
	Attempts  int
	CreatedAt time.Time
}

// TaskFilter selects pending tasks. Every non-empty field narrows the
// selection (AND semantics); a zero filter matches every task.
type TaskFilter struct {
	IDs       []int64
	ServerIDs []string
	IndexID   string
	Types     []string
}
