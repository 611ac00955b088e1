// Package criterion parses raw fee-rule criteria into normalized,
// comparable forms. Parsing happens once at catalog load; the matcher
// never re-parses a rule string per transaction.
package criterion

import (
	"errors"
)

// ErrMalformed reports a criterion value that cannot be parsed.
// A malformed catalog entry is a hard error: it must surface to the
// caller, never degrade into "matches nothing" or a zero threshold.
var ErrMalformed = errors.New("malformed criterion")

// StringSet is an exact-set criterion over string values.
// An empty set is a wildcard and matches everything.
type StringSet map[string]struct{}

// NewStringSet builds a set criterion from a rule's value list.
func NewStringSet(values []string) StringSet {
	if len(values) == 0 {
		return nil
	}
	s := make(StringSet, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// Matches reports whether v is a member, or true for a wildcard set.
func (s StringSet) Matches(v string) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[v]
	return ok
}

// IntSet is an exact-set criterion over integer values (MCCs).
// An empty set is a wildcard and matches everything.
type IntSet map[int]struct{}

// NewIntSet builds a set criterion from a rule's value list.
func NewIntSet(values []int) IntSet {
	if len(values) == 0 {
		return nil
	}
	s := make(IntSet, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// Matches reports whether v is a member, or true for a wildcard set.
func (s IntSet) Matches(v int) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[v]
	return ok
}

// TriStateMatches implements the nullable-boolean criterion: a nil
// rule value matches either way.
func TriStateMatches(want *bool, got bool) bool {
	return want == nil || *want == got
}
