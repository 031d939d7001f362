package indexing

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sw33tLie/searchtrack/pkg/search"
	"github.com/sw33tLie/searchtrack/pkg/storage"
	"github.com/sw33tLie/searchtrack/pkg/tasks"
)

type stubBackend struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (b *stubBackend) call(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, name)
	if b.fail {
		return errors.New("connection refused")
	}
	return nil
}

func (b *stubBackend) AddIndex(ctx context.Context, index *search.Index) error {
	return b.call("add " + index.ID)
}

func (b *stubBackend) UpdateIndex(ctx context.Context, index *search.Index) error {
	if index.Original == nil {
		return b.call("update " + index.ID)
	}
	return b.call("update " + index.ID + " from " + index.Original.Name)
}

func (b *stubBackend) RemoveIndex(ctx context.Context, index *search.Index) error {
	return b.call("remove " + index.ID)
}

func (b *stubBackend) DeleteItems(ctx context.Context, index *search.Index, itemIDs []string) error {
	return b.call("delete " + index.ID)
}

func (b *stubBackend) DeleteAllIndexItems(ctx context.Context, index *search.Index, datasourceID string) error {
	return b.call("clear " + index.ID + " " + datasourceID)
}

type env struct {
	db      *storage.DB
	tasks   *tasks.Manager
	svc     *Service
	backend map[string]*stubBackend
}

func setup(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(filepath.Join(t.TempDir(), "indexing.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	e := &env{db: db, backend: map[string]*stubBackend{"s1": {}, "s2": {}}}
	for id := range e.backend {
		if err := db.SaveServer(ctx, search.Server{ID: id, Name: id, Backend: "stub", Enabled: true}); err != nil {
			t.Fatal(err)
		}
	}
	backends := search.NewBackendRegistry(nil)
	backends.Register("stub", func(server *search.Server, log logrus.FieldLogger) (search.Backend, error) {
		return e.backend[server.ID], nil
	})

	e.tasks, err = tasks.New(tasks.Config{DB: db, Backends: backends})
	if err != nil {
		t.Fatal(err)
	}
	e.svc, err = New(Config{DB: db, Backends: backends, Tasks: e.tasks})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func (e *env) pendingTypes(t *testing.T) []string {
	t.Helper()
	pending, err := e.tasks.Pending(context.Background(), tasks.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	out := []string{}
	for _, p := range pending {
		out = append(out, p.ServerID+":"+p.Type+":"+p.IndexID)
	}
	return out
}

var contentIndex = search.Index{
	ID:          "social_content",
	Name:        "Content",
	ServerID:    "s1",
	Datasources: []string{"entity:node", "entity:group"},
	Enabled:     true,
}

func TestAddIndexAppliesDirectly(t *testing.T) {
	e := setup(t)
	out, err := e.svc.AddIndex(context.Background(), contentIndex)
	if err != nil || out != Applied {
		t.Fatalf("AddIndex = %v, %v", out, err)
	}
	if want := []string{"add social_content"}; !reflect.DeepEqual(e.backend["s1"].calls, want) {
		t.Fatalf("calls = %v", e.backend["s1"].calls)
	}
	if got := e.pendingTypes(t); len(got) != 0 {
		t.Fatalf("pending = %v", got)
	}
	if _, err := e.svc.AddIndex(context.Background(), contentIndex); err == nil {
		t.Fatal("expected duplicate index error")
	}
}

func TestFailedOperationIsQueuedAndReplayed(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.backend["s1"].fail = true

	if out, err := e.svc.AddIndex(ctx, contentIndex); err != nil || out != Queued {
		t.Fatalf("AddIndex = %v, %v", out, err)
	}
	// The queue is still blocked, so this must wait behind the add.
	if out, err := e.svc.DeleteItems(ctx, contentIndex.ID, []string{"entity:node/1"}); err != nil || out != Queued {
		t.Fatalf("DeleteItems = %v, %v", out, err)
	}
	want := []string{"s1:addIndex:social_content", "s1:deleteItems:social_content"}
	if got := e.pendingTypes(t); !reflect.DeepEqual(got, want) {
		t.Fatalf("pending = %v, want %v", got, want)
	}

	e.backend["s1"].fail = false
	e.backend["s1"].calls = nil
	res, err := e.tasks.Execute(ctx, "s1")
	if err != nil || !res.Succeeded() {
		t.Fatalf("Execute = %+v, %v", res, err)
	}
	if want := []string{"add social_content", "delete social_content"}; !reflect.DeepEqual(e.backend["s1"].calls, want) {
		t.Fatalf("calls = %v", e.backend["s1"].calls)
	}
}

func TestUpdateIndexSendsOriginal(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.svc.AddIndex(ctx, contentIndex)

	changed := contentIndex
	changed.Name = "All content"
	if out, err := e.svc.UpdateIndex(ctx, changed); err != nil || out != Applied {
		t.Fatalf("UpdateIndex = %v, %v", out, err)
	}
	if got := e.backend["s1"].calls[1]; got != "update social_content from Content" {
		t.Fatalf("call = %q", got)
	}
	stored, _ := e.db.Index(ctx, contentIndex.ID)
	if stored.Name != "All content" {
		t.Fatalf("stored name = %q", stored.Name)
	}
}

func TestUpdateIndexMovesServer(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.svc.AddIndex(ctx, contentIndex)

	moved := contentIndex
	moved.ServerID = "s2"
	if out, err := e.svc.UpdateIndex(ctx, moved); err != nil || out != Applied {
		t.Fatalf("UpdateIndex = %v, %v", out, err)
	}
	if want := []string{"add social_content", "remove social_content"}; !reflect.DeepEqual(e.backend["s1"].calls, want) {
		t.Fatalf("s1 calls = %v", e.backend["s1"].calls)
	}
	if want := []string{"add social_content"}; !reflect.DeepEqual(e.backend["s2"].calls, want) {
		t.Fatalf("s2 calls = %v", e.backend["s2"].calls)
	}
}

func TestRemoveIndexDropsTrackingAndTasks(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.backend["s1"].fail = true
	e.svc.AddIndex(ctx, contentIndex)

	tr, _ := e.svc.TrackerFor(contentIndex.ID)
	tr.TrackItemsInserted(ctx, []string{"entity:node/1", "entity:group/2"})

	if out, err := e.svc.RemoveIndex(ctx, contentIndex.ID); err != nil || out != Queued {
		t.Fatalf("RemoveIndex = %v, %v", out, err)
	}
	if want := []string{"s1:removeIndex:social_content"}; !reflect.DeepEqual(e.pendingTypes(t), want) {
		t.Fatalf("pending = %v", e.pendingTypes(t))
	}
	if n, _ := tr.GetTotalItemsCount(ctx, ""); n != 0 {
		t.Fatalf("tracked items left: %d", n)
	}

	// The snapshot lets the queued removal run after the index is gone.
	e.backend["s1"].fail = false
	e.backend["s1"].calls = nil
	if res, _ := e.tasks.Execute(ctx, "s1"); !res.Succeeded() {
		t.Fatalf("Execute = %+v", res)
	}
	if want := []string{"remove social_content"}; !reflect.DeepEqual(e.backend["s1"].calls, want) {
		t.Fatalf("calls = %v", e.backend["s1"].calls)
	}
}

func TestDeleteItemsUntracks(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	idx := contentIndex
	idx.ReadOnly = true
	e.svc.AddIndex(ctx, idx)

	tr, _ := e.svc.TrackerFor(idx.ID)
	tr.TrackItemsInserted(ctx, []string{"entity:node/1", "entity:node/2"})

	out, err := e.svc.DeleteItems(ctx, idx.ID, []string{"entity:node/1"})
	if err != nil || out != Skipped {
		t.Fatalf("DeleteItems on read-only index = %v, %v", out, err)
	}
	if n, _ := tr.GetTotalItemsCount(ctx, ""); n != 1 {
		t.Fatalf("total = %d, want 1", n)
	}
}

func TestClearIndexSchedulesReindex(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.svc.AddIndex(ctx, contentIndex)

	tr, _ := e.svc.TrackerFor(contentIndex.ID)
	ids := []string{"entity:node/1", "entity:group/1"}
	tr.TrackItemsInserted(ctx, ids)
	tr.TrackItemsIndexed(ctx, ids)

	if out, err := e.svc.ClearIndex(ctx, contentIndex.ID, "entity:node"); err != nil || out != Applied {
		t.Fatalf("ClearIndex = %v, %v", out, err)
	}
	if got := e.backend["s1"].calls[1]; got != "clear social_content entity:node" {
		t.Fatalf("call = %q", got)
	}
	if n, _ := tr.GetRemainingItemsCount(ctx, ""); n != 1 {
		t.Fatalf("remaining = %d, want 1", n)
	}
	if n, _ := tr.GetRemainingItemsCount(ctx, "entity:node"); n != 1 {
		t.Fatalf("remaining nodes = %d, want 1", n)
	}
	if _, err := e.svc.ClearIndex(ctx, contentIndex.ID, "entity:user"); err == nil {
		t.Fatal("expected error for unknown datasource")
	}
}

func TestOutcomeString(t *testing.T) {
	for o, want := range map[Outcome]string{Skipped: "skipped", Applied: "applied", Queued: "queued"} {
		if o.String() != want {
			t.Fatalf("%d.String() = %q", o, o.String())
		}
	}
}
