// Package rules implements the selective synchronization policy: an ordered
// list of path patterns, each carrying an action, evaluated with
// first-match-wins semantics like a conventional exclude file.
package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hass-tools/confsync/pkg/fnmatch"
)

// Action is what the sync is allowed to do with a matched path.
type Action string

const (
	// ActionExclude removes the path from the sync entirely: never
	// transferred, never deleted, in either direction.
	ActionExclude Action = "exclude"

	// ActionProtect blocks deletion of the path on the destination. It does
	// not block creation or update from the source.
	ActionProtect Action = "protect"

	// ActionAllow transfers the path normally, including mirror deletion.
	ActionAllow Action = "allow"
)

// Rule pairs a path pattern with an action.
//
// Patterns containing a slash are anchored at the tree root and matched with
// doublestar glob syntax. Patterns without a slash match any path component
// by name, the way rsync and gitignore treat slash-free patterns. Either
// form, when it matches a directory, matches the directory node and every
// descendant. A trailing slash restricts the pattern to directories.
type Rule struct {
	Pattern string
	Action  Action
}

// PatternError reports a malformed pattern found while building a rule set.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid pattern %q: %v", e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error { return e.Err }

// ErrEmptyRuleSet is returned when a rule set is built from zero rules.
var ErrEmptyRuleSet = errors.New("rule set contains no rules")

// Set is an immutable ordered rule set for one sync direction. The first
// rule whose pattern matches a path decides its action; if nothing matches
// the path is allowed.
type Set struct {
	rules []Rule
}

// New validates the rules and builds a set. Every pattern must compile and
// every action must be one of exclude, protect, or allow.
func New(rs []Rule) (*Set, error) {
	if len(rs) == 0 {
		return nil, ErrEmptyRuleSet
	}

	for _, r := range rs {
		switch r.Action {
		case ActionExclude, ActionProtect, ActionAllow:
		default:
			return nil, fmt.Errorf("unknown action %q for pattern %q", r.Action, r.Pattern)
		}

		pat := strings.TrimSuffix(r.Pattern, "/")
		if pat == "" {
			return nil, &PatternError{Pattern: r.Pattern, Err: errors.New("empty pattern")}
		}
		if strings.Contains(pat, "/") {
			if !doublestar.ValidatePattern(pat) {
				return nil, &PatternError{Pattern: r.Pattern, Err: doublestar.ErrBadPattern}
			}
		} else {
			if err := fnmatch.Valid(pat); err != nil {
				return nil, &PatternError{Pattern: r.Pattern, Err: err}
			}
		}
	}

	set := &Set{rules: make([]Rule, len(rs))}
	copy(set.rules, rs)
	return set, nil
}

// Classify returns the action of the first rule matching path. The path must
// be slash-separated and relative to the tree root; dir says whether it
// names a directory. Classify is pure: same inputs, same answer.
func (s *Set) Classify(path string, dir bool) Action {
	for _, r := range s.rules {
		if matches(r.Pattern, path, dir) {
			return r.Action
		}
	}
	return ActionAllow
}

// Rules returns a copy of the ordered rules.
func (s *Set) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// ExcludePatterns returns the patterns of the exclude rules, in order. This
// and ProtectPatterns are the rule set expressed in the transfer primitive's
// native vocabulary; both are always derived from the same set so the
// primitive's behavior cannot drift from the plan.
func (s *Set) ExcludePatterns() []string {
	var out []string
	for _, r := range s.rules {
		if r.Action == ActionExclude {
			out = append(out, r.Pattern)
		}
	}
	return out
}

// ProtectPatterns returns the patterns of the protect rules only, in order,
// for transfer mechanisms that can distinguish delete-blocking from full
// exclusion (rsync filter "P" rules).
func (s *Set) ProtectPatterns() []string {
	var out []string
	for _, r := range s.rules {
		if r.Action == ActionProtect {
			out = append(out, r.Pattern)
		}
	}
	return out
}

// matches reports whether pattern matches path, treating a match on any
// ancestor directory as a match on the whole subtree.
func matches(pattern, path string, dir bool) bool {
	dirOnly := strings.HasSuffix(pattern, "/")
	pattern = strings.TrimSuffix(pattern, "/")

	if strings.Contains(pattern, "/") {
		// Root-anchored glob. Try the full path, then every ancestor
		// directory so that matching a directory matches its subtree.
		if ok, _ := doublestar.Match(pattern, path); ok {
			return !dirOnly || dir
		}
		for _, ancestor := range ancestors(path) {
			if ok, _ := doublestar.Match(pattern, ancestor); ok {
				return true
			}
		}
		return false
	}

	// Slash-free pattern: match individual path components. A match on a
	// non-final component is a directory match and covers the subtree.
	parts := strings.Split(path, "/")
	for i, part := range parts {
		ok, _ := fnmatch.Match(pattern, part)
		if !ok {
			continue
		}
		final := i == len(parts)-1
		if final && dirOnly && !dir {
			continue
		}
		return true
	}
	return false
}

// ancestors returns every proper ancestor directory of path, nearest the
// root first: "a/b/c" yields "a", "a/b".
func ancestors(path string) []string {
	var out []string
	for i, c := range path {
		if c == '/' {
			out = append(out, path[:i])
		}
	}
	return out
}
