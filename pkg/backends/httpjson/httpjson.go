// Package httpjson implements a search backend that manages indexes on a
// remote search service through a small JSON-over-HTTP API:
//
//	PUT    {base}/indexes/{id}             create or update an index
//	DELETE {base}/indexes/{id}             drop an index
//	POST   {base}/indexes/{id}/delete      {"ids": [...]}
//	POST   {base}/indexes/{id}/delete_all  {"datasource": "..."}
//
// Failed responses are expected to carry {"error": {"reason": "..."}} or
// {"message": "..."}.
package httpjson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"github.com/sw33tLie/searchtrack/internal/utils"
	"github.com/sw33tLie/searchtrack/pkg/search"
	"github.com/tidwall/gjson"
)

// Name is the backend name servers use to select this backend.
const Name = "httpjson"

const (
	defaultRetryMax     = 3
	defaultRetryWaitMin = 500 * time.Millisecond
	defaultRetryWaitMax = 10 * time.Second
	defaultTimeout      = 30 * time.Second
)

// Config is decoded from the backend_config of a server.
type Config struct {
	BaseURL      string
	Username     string
	Password     string
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Timeout      time.Duration
}

// ParseConfig reads the keys base_url, username, password, retry_max,
// retry_wait_min_ms, retry_wait_max_ms and timeout_ms.
func ParseConfig(raw map[string]any) (Config, error) {
	cfg := Config{
		BaseURL:      strings.TrimRight(configString(raw, "base_url"), "/"),
		Username:     configString(raw, "username"),
		Password:     configString(raw, "password"),
		RetryMax:     configInt(raw, "retry_max", defaultRetryMax),
		RetryWaitMin: time.Duration(configInt(raw, "retry_wait_min_ms", int(defaultRetryWaitMin/time.Millisecond))) * time.Millisecond,
		RetryWaitMax: time.Duration(configInt(raw, "retry_wait_max_ms", int(defaultRetryWaitMax/time.Millisecond))) * time.Millisecond,
		Timeout:      time.Duration(configInt(raw, "timeout_ms", int(defaultTimeout/time.Millisecond))) * time.Millisecond,
	}
	if cfg.BaseURL == "" {
		return cfg, errors.New("httpjson: base_url is required")
	}
	if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return cfg, fmt.Errorf("httpjson: invalid base_url %q", cfg.BaseURL)
	}
	return cfg, nil
}

// Backend talks to one remote search service.
type Backend struct {
	cfg    Config
	client *retryablehttp.Client
	log    logrus.FieldLogger
}

// Factory builds a Backend from a server's backend config.
func Factory(server *search.Server, log logrus.FieldLogger) (search.Backend, error) {
	cfg, err := ParseConfig(server.BackendConfig)
	if err != nil {
		return nil, err
	}
	return New(cfg, log), nil
}

func New(cfg Config, log logrus.FieldLogger) *Backend {
	if log == nil {
		log = utils.Discard()
	}
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = cfg.RetryWaitMin
	client.RetryWaitMax = cfg.RetryWaitMax
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = leveledLogger{log}
	// Hand the last response back once retries are exhausted so its error
	// body can be reported.
	client.ErrorHandler = func(resp *http.Response, err error, attempts int) (*http.Response, error) {
		if resp != nil {
			log.Debugf("Giving up after %d attempt(s): %v", attempts, err)
			return resp, nil
		}
		return nil, err
	}
	return &Backend{cfg: cfg, client: client, log: log}
}

// indexBody is the payload of index create/update requests.
type indexBody struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Datasources   []string       `json:"datasources"`
	Fields        []search.Field `json:"fields"`
	ChangedFields []string       `json:"changed_fields,omitempty"`
}

func (b *Backend) AddIndex(ctx context.Context, index *search.Index) error {
	return b.do(ctx, http.MethodPut, b.indexURL(index.ID), newIndexBody(index), nil)
}

// UpdateIndex sends the index definition together with the ids of fields
// that differ from the original definition, if one is known.
func (b *Backend) UpdateIndex(ctx context.Context, index *search.Index) error {
	body := newIndexBody(index)
	if index.Original != nil {
		body.ChangedFields = changedFields(index.Original.Fields, index.Fields)
	}
	return b.do(ctx, http.MethodPut, b.indexURL(index.ID), body, nil)
}

// RemoveIndex drops the remote index. A missing index counts as removed.
func (b *Backend) RemoveIndex(ctx context.Context, index *search.Index) error {
	return b.do(ctx, http.MethodDelete, b.indexURL(index.ID), nil, []int{http.StatusNotFound})
}

func (b *Backend) DeleteItems(ctx context.Context, index *search.Index, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	return b.do(ctx, http.MethodPost, b.indexURL(index.ID)+"/delete", map[string]any{"ids": itemIDs}, nil)
}

func (b *Backend) DeleteAllIndexItems(ctx context.Context, index *search.Index, datasourceID string) error {
	body := map[string]any{}
	if datasourceID != "" {
		body["datasource"] = datasourceID
	}
	return b.do(ctx, http.MethodPost, b.indexURL(index.ID)+"/delete_all", body, nil)
}

func (b *Backend) indexURL(id string) string {
	return b.cfg.BaseURL + "/indexes/" + url.PathEscape(id)
}

// do sends one JSON request. Statuses in okStatuses are accepted in
// addition to 2xx.
func (b *Backend) do(ctx context.Context, method, target string, body any, okStatuses []int) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.cfg.Username != "" || b.cfg.Password != "" {
		req.SetBasicAuth(b.cfg.Username, b.cfg.Password)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: reading response: %w", method, target, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	for _, s := range okStatuses {
		if resp.StatusCode == s {
			return nil
		}
	}
	return &StatusError{Method: method, URL: target, StatusCode: resp.StatusCode, Reason: errorReason(respBody)}
}

// StatusError is returned for non-successful responses.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Reason     string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.StatusCode)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func errorReason(body []byte) string {
	if !gjson.ValidBytes(body) {
		return strings.TrimSpace(string(body))
	}
	for _, path := range []string{"error.reason", "error.message", "error", "message"} {
		if r := gjson.GetBytes(body, path); r.Exists() && r.Type == gjson.String {
			return r.Str
		}
	}
	return ""
}

func newIndexBody(index *search.Index) indexBody {
	fields := index.Fields
	if fields == nil {
		fields = []search.Field{}
	}
	return indexBody{ID: index.ID, Name: index.Name, Datasources: index.Datasources, Fields: fields}
}

// changedFields returns ids of fields added, removed or retyped between two
// definitions, in the order they first appear.
func changedFields(before, after []search.Field) []string {
	old := make(map[string]search.Field, len(before))
	for _, f := range before {
		old[f.ID] = f
	}
	var changed []string
	seen := make(map[string]bool)
	for _, f := range after {
		seen[f.ID] = true
		if prev, ok := old[f.ID]; !ok || prev != f {
			changed = append(changed, f.ID)
		}
	}
	for _, f := range before {
		if !seen[f.ID] {
			changed = append(changed, f.ID)
		}
	}
	return changed
}

func configString(raw map[string]any, key string) string {
	if v, ok := raw[key]; ok && v != nil {
		return strings.TrimSpace(fmt.Sprint(v))
	}
	return ""
}

func configInt(raw map[string]any, key string, def int) int {
	switch v := raw[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// leveledLogger adapts logrus to retryablehttp.LeveledLogger.
type leveledLogger struct {
	log logrus.FieldLogger
}

func (l leveledLogger) entry(kv []interface{}) logrus.FieldLogger {
	e := l.log
	for i := 0; i+1 < len(kv); i += 2 {
		e = e.WithField(fmt.Sprint(kv[i]), kv[i+1])
	}
	return e
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.entry(kv).Error(msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.entry(kv).Warn(msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.entry(kv).Debug(msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.entry(kv).Debug(msg) }
