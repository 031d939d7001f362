package null

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/sw33tLie/searchtrack/pkg/search"
)

// Name is the backend name servers use to select this backend.
const Name = "null"

// Backend accepts every operation and only logs it. It is meant for
// servers that are being set up or for dry runs.
type Backend struct {
	log logrus.FieldLogger
}

// Factory builds a Backend for a server.
func Factory(server *search.Server, log logrus.FieldLogger) (search.Backend, error) {
	return &Backend{log: log}, nil
}

func (b *Backend) AddIndex(ctx context.Context, index *search.Index) error {
	b.log.WithField("index", index.ID).Info("add index")
	return nil
}

func (b *Backend) UpdateIndex(ctx context.Context, index *search.Index) error {
	b.log.WithField("index", index.ID).Info("update index")
	return nil
}

func (b *Backend) RemoveIndex(ctx context.Context, index *search.Index) error {
	b.log.WithField("index", index.ID).Info("remove index")
	return nil
}

func (b *Backend) DeleteItems(ctx context.Context, index *search.Index, itemIDs []string) error {
	b.log.WithField("index", index.ID).Infof("delete %d items", len(itemIDs))
	return nil
}

func (b *Backend) DeleteAllIndexItems(ctx context.Context, index *search.Index, datasourceID string) error {
	b.log.WithField("index", index.ID).WithField("datasource", datasourceID).Info("delete all items")
	return nil
}
