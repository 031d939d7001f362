package query

import (
	"fmt"
	"reflect"
)

// Item holds the field values of one search result. Slice values are
// multi-valued fields.
type Item map[string]any

// Matches evaluates the query's condition tree against item. Aborted
// queries match nothing.
func (q *Query) Matches(item Item) bool {
	if q.Aborted() {
		return false
	}
	return q.root.Matches(item)
}

// Filter returns the items that match q, keeping their order.
func (q *Query) Filter(items []Item) []Item {
	out := []Item{}
	for _, it := range items {
		if q.Matches(it) {
			out = append(out, it)
		}
	}
	return out
}

// Matches evaluates g. An empty AND group matches everything, an empty OR
// group matches nothing.
func (g *ConditionGroup) Matches(item Item) bool {
	if g.Conjunction == Or {
		for _, c := range g.Conditions {
			if c.Matches(item) {
				return true
			}
		}
		for _, sub := range g.Groups {
			if sub.Matches(item) {
				return true
			}
		}
		return false
	}
	for _, c := range g.Conditions {
		if !c.Matches(item) {
			return false
		}
	}
	for _, sub := range g.Groups {
		if !sub.Matches(item) {
			return false
		}
	}
	return true
}

// Matches evaluates c. Multi-valued fields match when any of their values
// does. Missing fields only match "IS NULL".
func (c Condition) Matches(item Item) bool {
	values := flatten(item[c.Field])

	if c.Value == nil {
		switch c.Operator {
		case OpEqual:
			return len(values) == 0
		case OpNotEqual:
			return len(values) > 0
		}
		return false
	}
	if !operators[c.Operator] || len(values) == 0 {
		return false
	}

	for _, v := range values {
		if c.matchValue(v) {
			return true
		}
	}
	return false
}

func (c Condition) matchValue(v any) bool {
	switch c.Operator {
	case OpEqual:
		return equal(v, c.Value)
	case OpNotEqual:
		return !equal(v, c.Value)
	case OpIn, OpNotIn:
		in := false
		for _, want := range flatten(c.Value) {
			if equal(v, want) {
				in = true
				break
			}
		}
		return in == (c.Operator == OpIn)
	}
	cmp, ok := compare(v, c.Value)
	if !ok {
		return false
	}
	switch c.Operator {
	case OpLess:
		return cmp < 0
	case OpLessEqual:
		return cmp <= 0
	case OpGreater:
		return cmp > 0
	case OpGreaterEqual:
		return cmp >= 0
	}
	return false
}

// flatten returns the values of a possibly multi-valued field. nil yields
// no values.
func flatten(v any) []any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return []any{string(rv.Bytes())}
		}
		out := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			if e := rv.Index(i).Interface(); e != nil {
				out = append(out, e)
			}
		}
		return out
	}
	return []any{v}
}

func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	if ba, ok := a.(bool); ok {
		if fb, ok := toFloat(b); ok {
			return (ba && fb == 1) || (!ba && fb == 0)
		}
	}
	if bb, ok := b.(bool); ok {
		if fa, ok := toFloat(a); ok {
			return (bb && fa == 1) || (!bb && fa == 0)
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func compare(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	sa, aok := a.(string)
	sb, bok := b.(string)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case sa < sb:
		return -1, true
	case sa > sb:
		return 1, true
	}
	return 0, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
