package query

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/sw33tLie/searchtrack/internal/utils"
	"github.com/sw33tLie/searchtrack/pkg/search"
)

// Tags and fields used by the condition tree.
const (
	TagSearch       = "social_search"
	FieldDatasource = "search_api_datasource"
	FieldID         = "search_api_id"
)

// EntityTypeTag is the tag of the AND group of one entity type.
func EntityTypeTag(entityType string) string {
	return "social_entity_type_" + entityType
}

// AccessTag is the tag of the access OR group of one entity type.
func AccessTag(entityType string) string {
	return EntityTypeTag(entityType) + "_access"
}

// EntityGroups are the handles of one entity type branch.
type EntityGroups struct {
	EntityType string
	// DatasourceID is the first datasource of the type; Datasources lists
	// all of them in index order.
	DatasourceID string
	Datasources  []string
	// Group is the AND group restricting the branch to the datasource.
	// Conditions added here apply to every item of the type.
	Group *ConditionGroup
	// Access is the OR group inside Group. Each member is a sufficient
	// condition for seeing an item; an empty group hides the type.
	Access *ConditionGroup
}

// Tagging holds the groups the Tagger created for a query.
type Tagging struct {
	Root     *ConditionGroup
	entities []*EntityGroups
}

// Entities returns the branches in datasource order.
func (t *Tagging) Entities() []*EntityGroups {
	return append([]*EntityGroups(nil), t.entities...)
}

// Entity returns the branch of entityType.
func (t *Tagging) Entity(entityType string) (*EntityGroups, error) {
	for _, e := range t.entities {
		if e.EntityType == entityType {
			return e, nil
		}
	}
	return nil, &MissingTagError{Tag: EntityTypeTag(entityType)}
}

// TaggedEvent is sent to subscribers after a query was tagged.
type TaggedEvent struct {
	Query   *Query
	Account *Account
	Tagging *Tagging
}

// Subscriber reacts to tagged queries, usually by adding access
// conditions. Errors are logged and do not stop other subscribers.
type Subscriber interface {
	QueryTagged(ctx context.Context, ev *TaggedEvent) error
}

type SubscriberFunc func(ctx context.Context, ev *TaggedEvent) error

func (f SubscriberFunc) QueryTagged(ctx context.Context, ev *TaggedEvent) error { return f(ctx, ev) }

type Tagger struct {
	accounts    AccountResolver
	subscribers []Subscriber
	log         logrus.FieldLogger
}

func NewTagger(accounts AccountResolver, log logrus.FieldLogger, subscribers ...Subscriber) *Tagger {
	if log == nil {
		log = utils.Discard()
	}
	return &Tagger{accounts: accounts, subscribers: subscribers, log: log}
}

func (t *Tagger) Subscribe(s Subscriber) {
	t.subscribers = append(t.subscribers, s)
}

// Process adds the access condition tree to q. It returns nil when access
// is bypassed or the account cannot be resolved; in the latter case q is
// aborted.
func (t *Tagger) Process(ctx context.Context, q *Query) *Tagging {
	if bypass, _ := q.options[OptionBypassAccess].(bool); bypass {
		return nil
	}
	log := t.log
	if q.index != nil {
		log = log.WithField("index", q.index.ID)
	}

	raw, set := q.Option(OptionAccessAccount)
	account, err := resolveAccount(ctx, t.accounts, raw, set)
	if err != nil {
		log.WithError(err).Warn("Could not resolve the search access account, aborting query")
		q.Abort(err)
		return nil
	}
	q.SetOption(OptionResolvedAccount, account)

	tagging := &Tagging{Root: NewGroup(Or, TagSearch)}
	q.AddTag(TagSearch)
	if q.index != nil {
		for _, ds := range q.index.Datasources {
			entityType := search.EntityType(ds)
			if e, err := tagging.Entity(entityType); err == nil {
				// Datasources of one entity type share a branch; its first
				// condition selects all of them.
				e.Datasources = append(e.Datasources, ds)
				e.Group.Conditions[0] = Condition{
					Field:    FieldDatasource,
					Value:    append([]string(nil), e.Datasources...),
					Operator: OpIn,
				}
				continue
			}
			access := NewGroup(Or, AccessTag(entityType))
			group := NewGroup(And, EntityTypeTag(entityType)).
				AddCondition(FieldDatasource, ds, OpEqual).
				AddGroup(access)
			tagging.Root.AddGroup(group)
			tagging.entities = append(tagging.entities, &EntityGroups{
				EntityType:   entityType,
				DatasourceID: ds,
				Datasources:  []string{ds},
				Group:        group,
				Access:       access,
			})
			q.AddTag(EntityTypeTag(entityType))
			q.AddTag(AccessTag(entityType))
		}
	}
	q.root.AddGroup(tagging.Root)

	ev := &TaggedEvent{Query: q, Account: account, Tagging: tagging}
	for _, s := range t.subscribers {
		if err := s.QueryTagged(ctx, ev); err != nil {
			log.WithError(err).Error("Search access subscriber failed")
		}
	}
	return tagging
}
