// Package access contains the access contributors that fill the condition
// groups created by query.Tagger.
package access

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/sw33tLie/searchtrack/internal/utils"
	"github.com/sw33tLie/searchtrack/pkg/query"
)

// Contributor adds conditions for one access concern. Name is the id
// other code passes to Query.SkipAccessCheck to turn it off.
type Contributor interface {
	Name() string
	Contribute(ctx context.Context, ev *query.TaggedEvent) error
}

// Dispatcher runs contributors for every tagged query. It implements
// query.Subscriber.
type Dispatcher struct {
	contributors []Contributor
	log          logrus.FieldLogger
}

func NewDispatcher(log logrus.FieldLogger, contributors ...Contributor) *Dispatcher {
	if log == nil {
		log = utils.Discard()
	}
	return &Dispatcher{contributors: contributors, log: log}
}

// Defaults returns the contributors of a standard community site.
func Defaults() []Contributor {
	return []Contributor{
		&ManageAll{},
		&ContentVisibility{},
		&Published{},
		&BlockedUsers{},
	}
}

func (d *Dispatcher) QueryTagged(ctx context.Context, ev *query.TaggedEvent) error {
	for _, c := range d.contributors {
		log := d.log.WithField("contributor", c.Name())
		if ev.Query.ShouldSkipAccessCheck(c.Name()) {
			log.Debug("Access check skipped for this query")
			continue
		}
		err := c.Contribute(ctx, ev)
		var terr *query.MissingTagError
		switch {
		case err == nil:
		case errors.As(err, &terr):
			log.WithField("tag", terr.Tag).Error("Condition group not found, skipping contributor")
		default:
			log.WithError(err).Error("Access contributor failed")
		}
	}
	return nil
}
