package search

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned by registries when an index or server does not exist.
var ErrNotFound = errors.New("not found")

// Field describes one indexed field of an index.
type Field struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	DatasourceID string `json:"datasource_id,omitempty"`
	PropertyPath string `json:"property_path,omitempty"`
}

// Index is the catalog entry of a search index.
type Index struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	ServerID    string         `json:"server_id"`
	Datasources []string       `json:"datasources"`
	Fields      []Field        `json:"fields,omitempty"`
	ReadOnly    bool           `json:"read_only"`
	Enabled     bool           `json:"enabled"`
	Options     map[string]any `json:"options,omitempty"`

	// Original holds the previous state of the index while an update is
	// being applied, so backends can diff against it.
	Original *Index `json:"-"`
}

// HasDatasource reports whether the index reads items from datasourceID.
func (i *Index) HasDatasource(datasourceID string) bool {
	for _, d := range i.Datasources {
		if d == datasourceID {
			return true
		}
	}
	return false
}

// Server is the catalog entry of a search server.
type Server struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Backend       string         `json:"backend"`
	BackendConfig map[string]any `json:"backend_config,omitempty"`
	Enabled       bool           `json:"enabled"`
}

// IndexRegistry gives read access to index metadata.
type IndexRegistry interface {
	Index(ctx context.Context, id string) (*Index, error)
}

// ServerRegistry gives read access to server metadata.
type ServerRegistry interface {
	Server(ctx context.Context, id string) (*Server, error)
	EnabledServers(ctx context.Context) ([]Server, error)
}

// Backend performs the index-level operations of a search server.
type Backend interface {
	AddIndex(ctx context.Context, index *Index) error
	UpdateIndex(ctx context.Context, index *Index) error
	RemoveIndex(ctx context.Context, index *Index) error
	DeleteItems(ctx context.Context, index *Index, itemIDs []string) error
	// DeleteAllIndexItems removes every item of the index, or only the items
	// of one datasource when datasourceID is not empty.
	DeleteAllIndexItems(ctx context.Context, index *Index, datasourceID string) error
}

// CombineID builds the item id stored by the tracker.
func CombineID(datasourceID, rawID string) string {
	return datasourceID + "/" + rawID
}

// SplitID splits a combined item id into its datasource and raw parts.
// ok is false if the id carries no datasource prefix.
func SplitID(combinedID string) (datasourceID, rawID string, ok bool) {
	datasourceID, rawID, ok = strings.Cut(combinedID, "/")
	if !ok || datasourceID == "" {
		return "", combinedID, false
	}
	return datasourceID, rawID, true
}

// EntityType returns the entity type a datasource id refers to, e.g.
// "entity:node" -> "node". Ids without the "entity:" prefix are returned as is.
func EntityType(datasourceID string) string {
	if t, ok := strings.CutPrefix(datasourceID, "entity:"); ok {
		return t
	}
	return datasourceID
}
