package httpjson

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/sw33tLie/searchtrack/pkg/search"
)

type recorded struct {
	Method string
	Path   string
	Body   map[string]any
	User   string
}

type fakeService struct {
	mu       sync.Mutex
	requests []recorded
	// statuses are served in order; the last one repeats.
	statuses []int
	body     string
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec := recorded{Method: r.Method, Path: r.URL.Path}
	if user, _, ok := r.BasicAuth(); ok {
		rec.User = user
	}
	if b, _ := io.ReadAll(r.Body); len(b) > 0 {
		_ = json.Unmarshal(b, &rec.Body)
	}
	f.requests = append(f.requests, rec)

	status := http.StatusOK
	if len(f.statuses) > 0 {
		status = f.statuses[0]
		if len(f.statuses) > 1 {
			f.statuses = f.statuses[1:]
		}
	}
	w.WriteHeader(status)
	if status >= 300 {
		io.WriteString(w, f.body)
	}
}

func newBackend(t *testing.T, svc *fakeService) *Backend {
	t.Helper()
	srv := httptest.NewServer(svc)
	t.Cleanup(srv.Close)
	cfg, err := ParseConfig(map[string]any{
		"base_url":          srv.URL + "/",
		"username":          "indexer",
		"password":          "secret",
		"retry_max":         2,
		"retry_wait_min_ms": 1,
		"retry_wait_max_ms": 2,
	})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	return New(cfg, nil)
}

var testIndex = &search.Index{
	ID:          "social_content",
	Name:        "Content",
	Datasources: []string{"entity:node", "entity:group"},
	Fields:      []search.Field{{ID: "title", Type: "text"}},
}

func TestAddIndexSendsDefinition(t *testing.T) {
	svc := &fakeService{}
	b := newBackend(t, svc)

	if err := b.AddIndex(context.Background(), testIndex); err != nil {
		t.Fatalf("AddIndex: %v", err)
	}
	if len(svc.requests) != 1 {
		t.Fatalf("got %d requests", len(svc.requests))
	}
	req := svc.requests[0]
	if req.Method != http.MethodPut || req.Path != "/indexes/social_content" {
		t.Fatalf("unexpected request %s %s", req.Method, req.Path)
	}
	if req.User != "indexer" {
		t.Fatalf("basic auth user = %q", req.User)
	}
	if req.Body["name"] != "Content" {
		t.Fatalf("body = %#v", req.Body)
	}
}

func TestRetriesServerErrors(t *testing.T) {
	svc := &fakeService{statuses: []int{http.StatusServiceUnavailable, http.StatusOK}}
	b := newBackend(t, svc)

	if err := b.DeleteItems(context.Background(), testIndex, []string{"entity:node/1"}); err != nil {
		t.Fatalf("DeleteItems: %v", err)
	}
	if len(svc.requests) != 2 {
		t.Fatalf("got %d requests, want 2", len(svc.requests))
	}
	if got := svc.requests[1].Body["ids"]; !reflect.DeepEqual(got, []any{"entity:node/1"}) {
		t.Fatalf("ids = %#v", got)
	}
}

func TestErrorReasonIsReported(t *testing.T) {
	svc := &fakeService{statuses: []int{http.StatusBadRequest}, body: `{"error":{"reason":"mapping conflict"}}`}
	b := newBackend(t, svc)

	err := b.AddIndex(context.Background(), testIndex)
	var serr *StatusError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if serr.StatusCode != http.StatusBadRequest || serr.Reason != "mapping conflict" {
		t.Fatalf("unexpected error %+v", serr)
	}
	if len(svc.requests) != 1 {
		t.Fatalf("client errors must not be retried, got %d requests", len(svc.requests))
	}
}

func TestGivesUpAfterRetries(t *testing.T) {
	svc := &fakeService{statuses: []int{http.StatusBadGateway}, body: `{"message":"upstream down"}`}
	b := newBackend(t, svc)

	err := b.DeleteAllIndexItems(context.Background(), testIndex, "entity:node")
	var serr *StatusError
	if !errors.As(err, &serr) || serr.Reason != "upstream down" {
		t.Fatalf("err = %v", err)
	}
	if len(svc.requests) != 3 {
		t.Fatalf("got %d requests, want 3", len(svc.requests))
	}
	if svc.requests[0].Body["datasource"] != "entity:node" {
		t.Fatalf("body = %#v", svc.requests[0].Body)
	}
}

func TestRemoveMissingIndexSucceeds(t *testing.T) {
	svc := &fakeService{statuses: []int{http.StatusNotFound}}
	b := newBackend(t, svc)

	if err := b.RemoveIndex(context.Background(), testIndex); err != nil {
		t.Fatalf("RemoveIndex: %v", err)
	}
}

func TestUpdateIndexSendsChangedFields(t *testing.T) {
	svc := &fakeService{}
	b := newBackend(t, svc)

	idx := *testIndex
	idx.Fields = []search.Field{{ID: "title", Type: "string"}, {ID: "created", Type: "date"}}
	idx.Original = &search.Index{ID: idx.ID, Fields: []search.Field{{ID: "title", Type: "text"}, {ID: "body", Type: "text"}}}

	if err := b.UpdateIndex(context.Background(), &idx); err != nil {
		t.Fatalf("UpdateIndex: %v", err)
	}
	got := svc.requests[0].Body["changed_fields"]
	if want := []any{"title", "created", "body"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("changed_fields = %#v, want %#v", got, want)
	}
}

func TestParseConfig(t *testing.T) {
	if _, err := ParseConfig(map[string]any{}); err == nil {
		t.Fatal("expected error for missing base_url")
	}
	if _, err := ParseConfig(map[string]any{"base_url": "not a url"}); err == nil {
		t.Fatal("expected error for invalid base_url")
	}
	cfg, err := ParseConfig(map[string]any{"base_url": "http://search:9200", "retry_max": float64(7), "timeout_ms": "1500"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RetryMax != 7 || cfg.Timeout != 1500*time.Millisecond || cfg.RetryWaitMin != defaultRetryWaitMin {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
