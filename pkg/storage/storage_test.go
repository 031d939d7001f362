package storage

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/sw33tLie/searchtrack/pkg/search"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "storage.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPlaceholders(t *testing.T) {
	cases := map[int]string{0: "", 1: "?", 3: "?,?,?"}
	for n, want := range cases {
		if got := placeholders(n); got != want {
			t.Errorf("placeholders(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestServerRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	s := search.Server{ID: "es", Name: "Elastic", Backend: "httpjson", BackendConfig: map[string]any{"base_url": "http://es:9200"}, Enabled: true}
	if err := db.SaveServer(ctx, s); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveServer(ctx, search.Server{ID: "off", Backend: "null"}); err != nil {
		t.Fatal(err)
	}

	got, err := db.Server(ctx, "es")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(*got, s) {
		t.Fatalf("got %+v, want %+v", *got, s)
	}

	enabled, _ := db.EnabledServers(ctx)
	if len(enabled) != 1 || enabled[0].ID != "es" {
		t.Fatalf("enabled = %+v", enabled)
	}
	all, _ := db.ListServers(ctx)
	if len(all) != 2 {
		t.Fatalf("servers = %+v", all)
	}

	s.Enabled = false
	db.SaveServer(ctx, s)
	if got, _ := db.Server(ctx, "es"); got.Enabled {
		t.Fatal("update was not applied")
	}

	if err := db.DeleteServer(ctx, "es"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Server(ctx, "es"); !errors.Is(err, search.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := db.DeleteServer(ctx, "es"); !errors.Is(err, search.ErrNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
}

func TestIndexRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	idx := search.Index{
		ID:          "social_content",
		Name:        "Content",
		ServerID:    "es",
		Datasources: []string{"entity:node", "entity:group"},
		Fields:      []search.Field{{ID: "title", Type: "text", DatasourceID: "entity:node", PropertyPath: "title"}},
		ReadOnly:    true,
		Enabled:     true,
		Options:     map[string]any{"cron_limit": "50"},
	}
	if err := db.SaveIndex(ctx, idx); err != nil {
		t.Fatal(err)
	}
	got, err := db.Index(ctx, idx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(*got, idx) {
		t.Fatalf("got %+v, want %+v", *got, idx)
	}

	bare := search.Index{ID: "bare", Datasources: []string{"entity:user"}}
	db.SaveIndex(ctx, bare)
	got, _ = db.Index(ctx, "bare")
	if got.ServerID != "" || got.Fields != nil || got.Options != nil {
		t.Fatalf("bare index = %+v", got)
	}

	list, _ := db.ListIndexes(ctx)
	if len(list) != 2 || list[0].ID != "bare" {
		t.Fatalf("list = %+v", list)
	}
	if _, err := db.Index(ctx, "nope"); !errors.Is(err, search.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestDeleteIndexDropsTrackedItems(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	db.SaveIndex(ctx, search.Index{ID: "a", Datasources: []string{"ds"}})

	err := db.WithTx(ctx, func(tx *Tx) error {
		_, err := tx.InsertItems(ctx, []TrackedItem{
			{IndexID: "a", DatasourceID: "ds", ItemID: "ds/1"},
			{IndexID: "b", DatasourceID: "ds", ItemID: "ds/1"},
		})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteIndex(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if n, _ := db.CountItems(ctx, "a", "", nil); n != 0 {
		t.Fatalf("items of a = %d", n)
	}
	if n, _ := db.CountItems(ctx, "b", "", nil); n != 1 {
		t.Fatalf("items of b = %d", n)
	}
}

func TestWithTxRollsBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.InsertItems(ctx, []TrackedItem{{IndexID: "a", DatasourceID: "ds", ItemID: "ds/1"}}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if n, _ := db.CountItems(ctx, "a", "", nil); n != 0 {
		t.Fatalf("rolled back insert left %d rows", n)
	}
}

func TestEmptyItemFilterMatchesNothing(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	db.WithTx(ctx, func(tx *Tx) error {
		_, err := tx.InsertItems(ctx, []TrackedItem{{IndexID: "a", DatasourceID: "ds", ItemID: "ds/1"}})
		return err
	})

	var n int64
	db.WithTx(ctx, func(tx *Tx) (err error) {
		n, err = tx.DeleteItems(ctx, "a", ItemFilter{IDs: []string{}})
		return err
	})
	if n != 0 {
		t.Fatalf("empty id list deleted %d rows", n)
	}
}

func TestTaskOrderingAndFilters(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	created := time.Unix(1_700_000_000, 0)

	add := func(server, typ, index string, data []byte) int64 {
		id, err := db.AddTask(ctx, Task{ServerID: server, Type: typ, IndexID: index, Data: data, CreatedAt: created})
		if err != nil {
			t.Fatal(err)
		}
		return id
	}
	a := add("s2", "addIndex", "x", nil)
	b := add("s1", "deleteItems", "x", []byte(`["x/1"]`))
	c := add("s2", "removeIndex", "", nil)
	d := add("s1", "custom", "y", nil)

	ids := func(tasks []Task) []int64 {
		out := []int64{}
		for _, t := range tasks {
			out = append(out, t.ID)
		}
		return out
	}

	byServer, _ := db.ListTasks(ctx, TaskFilter{}, true)
	if want := []int64{b, d, a, c}; !reflect.DeepEqual(ids(byServer), want) {
		t.Fatalf("by server = %v, want %v", ids(byServer), want)
	}
	byID, _ := db.ListTasks(ctx, TaskFilter{}, false)
	if want := []int64{a, b, c, d}; !reflect.DeepEqual(ids(byID), want) {
		t.Fatalf("by id = %v, want %v", ids(byID), want)
	}
	if !byServer[0].CreatedAt.Equal(created) || string(byServer[0].Data) != `["x/1"]` {
		t.Fatalf("task = %+v", byServer[0])
	}
	if byID[2].IndexID != "" || byID[2].Data != nil {
		t.Fatalf("empty index/data not kept as NULL: %+v", byID[2])
	}

	tests := []struct {
		name   string
		filter TaskFilter
		want   []int64
	}{
		{"server", TaskFilter{ServerIDs: []string{"s1"}}, []int64{b, d}},
		{"index and server", TaskFilter{ServerIDs: []string{"s2"}, IndexID: "x"}, []int64{a}},
		{"types", TaskFilter{Types: []string{"addIndex", "removeIndex"}}, []int64{a, c}},
		{"ids", TaskFilter{IDs: []int64{a, d}}, []int64{a, d}},
		{"empty servers", TaskFilter{ServerIDs: []string{}}, []int64{}},
		{"empty ids", TaskFilter{IDs: []int64{}}, []int64{}},
	}
	for _, tt := range tests {
		got, err := db.ListTasks(ctx, tt.filter, false)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(ids(got), tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, ids(got), tt.want)
		}
	}

	n, err := db.IncrementTaskAttempts(ctx, b)
	if err != nil || n != 1 {
		t.Fatalf("attempts = %d, %v", n, err)
	}
	if n, _ = db.IncrementTaskAttempts(ctx, b); n != 2 {
		t.Fatalf("attempts = %d", n)
	}

	removed, _ := db.DeleteTasks(ctx, TaskFilter{ServerIDs: []string{"s2"}})
	if removed != 2 {
		t.Fatalf("removed %d", removed)
	}
}
