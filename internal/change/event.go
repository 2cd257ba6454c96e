// Package change normalizes document change notifications into typed events.
//
// A Notification is the transport-neutral form of one document mutation: the
// document path plus its field values before and after the write. Decode binds
// a Notification to a path Pattern and produces an Event whose path parameters
// have been extracted once, at the boundary.
package change

import (
	"math"
)

// Fields holds the top-level fields of a document snapshot. A nil Fields
// means the document did not exist.
type Fields map[string]any

// Exists reports whether the snapshot describes an existing document.
func (f Fields) Exists() bool {
	return f != nil
}

// Int returns the named field as an integer. Missing and non-numeric values
// yield 0, since a counter document may legitimately lack the field before its
// first increment.
func (f Fields) Int(name string) int64 {
	switch v := f[name].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return floatToInt(v)
	case float32:
		return floatToInt(float64(v))
	default:
		return 0
	}
}

// floatToInt truncates v toward zero, saturating at the int64 bounds.
// Non-finite values yield 0.
func floatToInt(v float64) int64 {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return math.MinInt64
	default:
		return int64(v)
	}
}

// String returns the named field as a string, or "" when it is missing or not a string.
func (f Fields) String(name string) string {
	s, _ := f[name].(string)
	return s
}

// Notification is one document mutation as delivered by the change feed.
type Notification struct {
	// Document is the path relative to the database root, e.g. "countries/KR".
	Document string
	Before   Fields
	After    Fields
}

// Kind classifies a mutation.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// KindOf derives the mutation kind from the presence of the two snapshots.
func KindOf(before, after Fields) Kind {
	switch {
	case !after.Exists():
		return KindDelete
	case !before.Exists():
		return KindCreate
	default:
		return KindUpdate
	}
}

// Event is a Notification bound to the pattern it matched.
type Event struct {
	Keys   Keys
	Kind   Kind
	Before Fields
	After  Fields
}

// Decode matches n against p and extracts the path keys. It reports false when
// the document does not belong to p.
func Decode(p *Pattern, n Notification) (Event, bool) {
	keys, ok := p.Match(n.Document)
	if !ok {
		return Event{}, false
	}
	return Event{
		Keys:   keys,
		Kind:   KindOf(n.Before, n.After),
		Before: n.Before,
		After:  n.After,
	}, true
}

// ShouldSync reports whether a mutation changed the named counter. Only when
// both snapshots exist and carry the same value is the mutation a no-op.
func ShouldSync(before, after Fields, field string) bool {
	if before.Exists() && after.Exists() && before.Int(field) == after.Int(field) {
		return false
	}
	return true
}
