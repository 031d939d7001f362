package query

import (
	"fmt"
	"strings"
)

// Conjunction joins the members of a ConditionGroup.
type Conjunction string

const (
	And Conjunction = "AND"
	Or  Conjunction = "OR"
)

// Supported condition operators.
const (
	OpEqual        = "="
	OpNotEqual     = "<>"
	OpIn           = "IN"
	OpNotIn        = "NOT IN"
	OpLess         = "<"
	OpLessEqual    = "<="
	OpGreater      = ">"
	OpGreaterEqual = ">="
)

var operators = map[string]bool{
	OpEqual: true, OpNotEqual: true, OpIn: true, OpNotIn: true,
	OpLess: true, OpLessEqual: true, OpGreater: true, OpGreaterEqual: true,
}

// Condition compares one field against a value. A nil value with "=" or
// "<>" tests for a missing or present field.
type Condition struct {
	Field    string
	Value    any
	Operator string
}

func (c Condition) String() string {
	switch {
	case c.Value == nil && c.Operator == OpEqual:
		return c.Field + " IS NULL"
	case c.Value == nil && c.Operator == OpNotEqual:
		return c.Field + " IS NOT NULL"
	}
	return fmt.Sprintf("%s %s %v", c.Field, c.Operator, c.Value)
}

// ConditionGroup is a node of the condition tree. Members are the
// conditions followed by the nested groups, joined by Conjunction.
type ConditionGroup struct {
	Conjunction Conjunction
	Conditions  []Condition
	Groups      []*ConditionGroup
	tags        []string
}

// NewGroup creates an empty group. An unknown conjunction is treated as AND.
func NewGroup(conj Conjunction, tags ...string) *ConditionGroup {
	if conj != Or {
		conj = And
	}
	g := &ConditionGroup{Conjunction: conj}
	for _, t := range tags {
		g.AddTag(t)
	}
	return g
}

// AddCondition appends a condition. An empty operator means "=". Unknown
// operators are kept but never match.
func (g *ConditionGroup) AddCondition(field string, value any, operator string) *ConditionGroup {
	if operator == "" {
		operator = OpEqual
	}
	g.Conditions = append(g.Conditions, Condition{Field: field, Value: value, Operator: strings.ToUpper(operator)})
	return g
}

// AddGroup nests sub inside g.
func (g *ConditionGroup) AddGroup(sub *ConditionGroup) *ConditionGroup {
	g.Groups = append(g.Groups, sub)
	return g
}

func (g *ConditionGroup) AddTag(tag string) {
	if !g.HasTag(tag) {
		g.tags = append(g.tags, tag)
	}
}

func (g *ConditionGroup) HasTag(tag string) bool {
	for _, t := range g.tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (g *ConditionGroup) Tags() []string {
	return append([]string(nil), g.tags...)
}

// Len returns the number of direct members.
func (g *ConditionGroup) Len() int {
	return len(g.Conditions) + len(g.Groups)
}

// FindByTag returns the first group in g's subtree (g included) carrying
// tag, searching depth first.
func (g *ConditionGroup) FindByTag(tag string) *ConditionGroup {
	if g.HasTag(tag) {
		return g
	}
	for _, sub := range g.Groups {
		if found := sub.FindByTag(tag); found != nil {
			return found
		}
	}
	return nil
}

// String renders the group in an SQL-like notation, mostly for logs and
// the CLI.
func (g *ConditionGroup) String() string {
	parts := make([]string, 0, g.Len())
	for _, c := range g.Conditions {
		parts = append(parts, c.String())
	}
	for _, sub := range g.Groups {
		parts = append(parts, sub.String())
	}
	if len(parts) == 0 {
		if g.Conjunction == Or {
			return "(FALSE)"
		}
		return "(TRUE)"
	}
	return "(" + strings.Join(parts, " "+string(g.Conjunction)+" ") + ")"
}
