package query

import "testing"

func TestConditionMatches(t *testing.T) {
	item := Item{
		"status":     1,
		"title":      "Hello",
		"groups":     []int64{3, 5},
		"created":    int64(1700000000),
		"visibility": "group",
	}
	tests := []struct {
		cond Condition
		want bool
	}{
		{Condition{"status", 1, OpEqual}, true},
		{Condition{"status", 1.0, OpEqual}, true},
		{Condition{"status", true, OpEqual}, true},
		{Condition{"status", 0, OpEqual}, false},
		{Condition{"status", 0, OpNotEqual}, true},
		{Condition{"title", "Hello", OpEqual}, true},
		{Condition{"groups", 5, OpEqual}, true},
		{Condition{"groups", []int64{4, 5}, OpIn}, true},
		{Condition{"groups", []int64{4}, OpIn}, false},
		{Condition{"groups", []int64{}, OpIn}, false},
		{Condition{"groups", []int64(nil), OpIn}, false},
		{Condition{"visibility", []string{"public", "community"}, OpNotIn}, true},
		{Condition{"visibility", []string{"group"}, OpNotIn}, false},
		{Condition{"created", 1700000001, OpLess}, true},
		{Condition{"created", 1700000000, OpLessEqual}, true},
		{Condition{"created", 1700000000, OpGreater}, false},
		{Condition{"created", 1600000000, OpGreaterEqual}, true},
		{Condition{"title", "A", OpGreater}, true},
		{Condition{"title", 3, OpGreater}, false},
		{Condition{"missing", nil, OpEqual}, true},
		{Condition{"missing", nil, OpNotEqual}, false},
		{Condition{"title", nil, OpNotEqual}, true},
		{Condition{"missing", 1, OpNotEqual}, false},
		{Condition{"status", 1, "LIKE"}, false},
	}
	for _, tt := range tests {
		if got := tt.cond.Matches(item); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.cond, got, tt.want)
		}
	}
}

func TestEmptyGroups(t *testing.T) {
	if !NewGroup(And).Matches(Item{}) {
		t.Fatal("empty AND should match")
	}
	if NewGroup(Or).Matches(Item{}) {
		t.Fatal("empty OR should not match")
	}
}

func TestGroupString(t *testing.T) {
	g := NewGroup(Or).
		AddCondition(FieldID, nil, OpNotEqual).
		AddGroup(NewGroup(And).AddCondition("visibility", "group", "").AddCondition("groups", []int64{}, "in"))
	want := "(search_api_id IS NOT NULL OR (visibility = group AND groups IN []))"
	if g.String() != want {
		t.Fatalf("got %s, want %s", g, want)
	}
}
