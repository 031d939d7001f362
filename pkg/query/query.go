// Package query builds access restrictions into search queries. A Tagger
// adds a tagged condition tree with one branch per entity type of the
// index; access contributors then fill the per-type access groups.
package query

import (
	"github.com/sw33tLie/searchtrack/pkg/search"
)

// Option keys understood by the Tagger.
const (
	OptionBypassAccess  = "search_api_bypass_access"
	OptionAccessAccount = "search_api_access_account"
	// OptionResolvedAccount is set by the Tagger to the *Account the
	// conditions were built for.
	OptionResolvedAccount = "social_search_access_account"
)

const skipAccessTagPrefix = "skip_access_check:"

// Query is a search query as seen by access processing.
type Query struct {
	index   *search.Index
	options map[string]any
	tags    []string
	root    *ConditionGroup
	abort   error
}

func New(index *search.Index) *Query {
	return &Query{
		index:   index,
		options: make(map[string]any),
		root:    NewGroup(And),
	}
}

func (q *Query) Index() *search.Index { return q.index }

func (q *Query) Option(key string) (any, bool) {
	v, ok := q.options[key]
	return v, ok
}

func (q *Query) SetOption(key string, value any) *Query {
	q.options[key] = value
	return q
}

func (q *Query) AddTag(tag string) {
	if !q.HasTag(tag) {
		q.tags = append(q.tags, tag)
	}
}

func (q *Query) HasTag(tag string) bool {
	for _, t := range q.tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (q *Query) Tags() []string { return append([]string(nil), q.tags...) }

// ConditionGroup returns the root AND group of the query.
func (q *Query) ConditionGroup() *ConditionGroup { return q.root }

// ConditionGroupByTag looks a group up by tag anywhere in the tree.
func (q *Query) ConditionGroupByTag(tag string) (*ConditionGroup, error) {
	if g := q.root.FindByTag(tag); g != nil {
		return g, nil
	}
	return nil, &MissingTagError{Tag: tag}
}

// Abort marks the query as failed. An aborted query matches nothing.
// The first reason is kept.
func (q *Query) Abort(reason error) {
	if q.abort == nil {
		q.abort = reason
	}
}

func (q *Query) Aborted() bool { return q.abort != nil }

// AbortReason returns the error passed to Abort, if any.
func (q *Query) AbortReason() error { return q.abort }

// Account returns the account the access conditions were built for.
func (q *Query) Account() *Account {
	a, _ := q.options[OptionResolvedAccount].(*Account)
	return a
}

// SkipAccessCheck tells the access contributor named id that the query is
// already restricted for its concern.
func (q *Query) SkipAccessCheck(id string) {
	q.AddTag(skipAccessTagPrefix + id)
}

func (q *Query) ShouldSkipAccessCheck(id string) bool {
	return q.HasTag(skipAccessTagPrefix + id)
}
