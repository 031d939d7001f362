package query

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/sw33tLie/searchtrack/pkg/search"
)

var socialIndex = &search.Index{
	ID:          "social_all",
	Datasources: []string{"entity:node", "entity:group"},
}

var testAccounts = &StaticAccounts{
	Accounts: map[int64]*Account{
		7: {ID: 7, Name: "member", Groups: []int64{3}},
	},
	Current: 7,
}

func TestTaggingCreatesOneBranchPerDatasource(t *testing.T) {
	q := New(socialIndex)
	tagging := NewTagger(testAccounts, nil).Process(context.Background(), q)
	if tagging == nil {
		t.Fatal("expected tagging")
	}
	if tagging.Root.Conjunction != Or || !tagging.Root.HasTag(TagSearch) {
		t.Fatalf("root = %+v", tagging.Root)
	}
	if len(tagging.Root.Groups) != 2 {
		t.Fatalf("got %d groups under the root, want 2", len(tagging.Root.Groups))
	}

	seen := map[string]bool{}
	for i, e := range tagging.Entities() {
		if tagging.Root.Groups[i] != e.Group {
			t.Fatalf("handle %d does not point into the tree", i)
		}
		if e.Group.Conjunction != And || e.Access.Conjunction != Or {
			t.Fatalf("unexpected conjunctions for %s", e.EntityType)
		}
		want := Condition{Field: FieldDatasource, Value: e.DatasourceID, Operator: OpEqual}
		if !reflect.DeepEqual(e.Group.Conditions, []Condition{want}) {
			t.Fatalf("conditions = %+v", e.Group.Conditions)
		}
		tag := AccessTag(e.EntityType)
		if seen[tag] {
			t.Fatalf("duplicate access tag %s", tag)
		}
		seen[tag] = true
		if g, err := q.ConditionGroupByTag(tag); err != nil || g != e.Access {
			t.Fatalf("lookup of %s = %v, %v", tag, g, err)
		}
	}

	wantTags := []string{TagSearch,
		"social_entity_type_node", "social_entity_type_node_access",
		"social_entity_type_group", "social_entity_type_group_access"}
	if !reflect.DeepEqual(q.Tags(), wantTags) {
		t.Fatalf("tags = %v", q.Tags())
	}
	if a := q.Account(); a == nil || a.ID != 7 {
		t.Fatalf("account = %+v", a)
	}
}

func TestBypassCreatesNoGroups(t *testing.T) {
	q := New(socialIndex).SetOption(OptionBypassAccess, true)
	if tagging := NewTagger(testAccounts, nil).Process(context.Background(), q); tagging != nil {
		t.Fatal("expected no tagging")
	}
	if q.ConditionGroup().Len() != 0 {
		t.Fatalf("groups were added: %s", q.ConditionGroup())
	}
	if !q.Matches(Item{FieldDatasource: "entity:node"}) {
		t.Fatal("bypassed query should not restrict results")
	}
}

func TestAccountOption(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		wantID int64
		bad    bool
	}{
		{"account value", Account{ID: 12}, 12, false},
		{"account pointer", &Account{ID: 13}, 13, false},
		{"numeric id", 7, 7, false},
		{"int64 id", int64(0), 0, false},
		{"unknown id", 99, 0, true},
		{"negative id", -1, 0, true},
		{"string", "admin", 0, true},
		{"nil pointer", (*Account)(nil), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New(socialIndex).SetOption(OptionAccessAccount, tt.value)
			NewTagger(testAccounts, nil).Process(context.Background(), q)
			if q.Aborted() != tt.bad {
				t.Fatalf("aborted = %v, reason %v", q.Aborted(), q.AbortReason())
			}
			if !tt.bad && q.Account().ID != tt.wantID {
				t.Fatalf("account id = %d, want %d", q.Account().ID, tt.wantID)
			}
		})
	}
}

func TestUnresolvableAccountFailsClosed(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	var called bool
	tagger := NewTagger(testAccounts, logger, SubscriberFunc(func(ctx context.Context, ev *TaggedEvent) error {
		called = true
		return nil
	}))

	q := New(socialIndex).SetOption(OptionAccessAccount, 404)
	if tagger.Process(context.Background(), q) != nil {
		t.Fatal("expected no tagging")
	}
	if called {
		t.Fatal("subscribers must not run for aborted queries")
	}
	if q.ConditionGroup().Len() != 0 {
		t.Fatalf("groups were added: %s", q.ConditionGroup())
	}
	var aerr *IllegalAccountError
	if !errors.As(q.AbortReason(), &aerr) || !errors.Is(aerr, search.ErrNotFound) {
		t.Fatalf("abort reason = %v", q.AbortReason())
	}
	if e := hook.LastEntry(); e == nil || e.Level != logrus.WarnLevel {
		t.Fatalf("expected a warning, got %+v", hook.AllEntries())
	}
	items := []Item{{FieldDatasource: "entity:node"}, {FieldDatasource: "entity:group"}}
	if got := q.Filter(items); len(got) != 0 {
		t.Fatalf("aborted query returned %v", got)
	}
}

func TestEmptyAccessGroupsHideEverything(t *testing.T) {
	q := New(socialIndex)
	NewTagger(testAccounts, nil).Process(context.Background(), q)
	if got := q.Filter([]Item{{FieldDatasource: "entity:node", FieldID: "entity:node/1"}}); len(got) != 0 {
		t.Fatalf("untouched access groups let %v through", got)
	}
}

func TestSubscribersFillAccessGroups(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	grantNodes := SubscriberFunc(func(ctx context.Context, ev *TaggedEvent) error {
		e, err := ev.Tagging.Entity("node")
		if err != nil {
			return err
		}
		e.Access.AddCondition("status", 1, OpEqual)
		return nil
	})
	missing := SubscriberFunc(func(ctx context.Context, ev *TaggedEvent) error {
		_, err := ev.Query.ConditionGroupByTag(AccessTag("comment"))
		return err
	})
	q := New(socialIndex)
	NewTagger(testAccounts, logger, missing, grantNodes).Process(context.Background(), q)

	var terr *MissingTagError
	if e := hook.LastEntry(); e == nil || e.Level != logrus.ErrorLevel || !errors.As(e.Data[logrus.ErrorKey].(error), &terr) {
		t.Fatalf("expected the missing tag to be logged, got %+v", hook.AllEntries())
	}
	if terr.Tag != "social_entity_type_comment_access" {
		t.Fatalf("tag = %q", terr.Tag)
	}

	items := []Item{
		{FieldDatasource: "entity:node", "status": 1},
		{FieldDatasource: "entity:node", "status": 0},
		{FieldDatasource: "entity:group", "status": 1},
	}
	got := q.Filter(items)
	if len(got) != 1 || !reflect.DeepEqual(got[0], items[0]) {
		t.Fatalf("filter = %v", got)
	}
}

func TestDuplicateEntityTypesShareABranch(t *testing.T) {
	idx := &search.Index{ID: "x", Datasources: []string{"entity:node", "node"}}
	grantAll := SubscriberFunc(func(ctx context.Context, ev *TaggedEvent) error {
		for _, e := range ev.Tagging.Entities() {
			e.Access.AddCondition(FieldID, nil, OpNotEqual)
		}
		return nil
	})
	q := New(idx)
	tagging := NewTagger(testAccounts, nil, grantAll).Process(context.Background(), q)
	if len(tagging.Entities()) != 1 {
		t.Fatalf("entities = %d", len(tagging.Entities()))
	}
	e := tagging.Entities()[0]
	if !reflect.DeepEqual(e.Datasources, []string{"entity:node", "node"}) {
		t.Fatalf("datasources = %v", e.Datasources)
	}

	for _, ds := range idx.Datasources {
		item := Item{FieldDatasource: ds, FieldID: ds + "/1"}
		if !q.Matches(item) {
			t.Errorf("item of datasource %s is hidden by %s", ds, q.ConditionGroup())
		}
	}
	if q.Matches(Item{FieldDatasource: "entity:group", FieldID: "entity:group/1"}) {
		t.Error("item of a foreign datasource is visible")
	}
}

func TestSkipAccessCheck(t *testing.T) {
	q := New(socialIndex)
	if q.ShouldSkipAccessCheck("content_visibility") {
		t.Fatal("unexpected skip")
	}
	q.SkipAccessCheck("content_visibility")
	if !q.ShouldSkipAccessCheck("content_visibility") || q.ShouldSkipAccessCheck("published") {
		t.Fatal("skip flags are not tracked per contributor")
	}
}
