package pathmatch

import "regexp"

// Matcher is an ordered list of compiled glob patterns, matched
// path-aware and (optionally) case-folded per spec.md §4.1:
//
//   - a pattern starting with "/" matches the full canonicalised path
//   - a pattern containing "/" matches the path with its leading
//     slash stripped
//   - otherwise the pattern matches the basename
//
// All three cases are handled uniformly by GlobToRegexp's anchoring,
// so Matcher itself only needs to try each compiled pattern in turn.
type Matcher struct {
	patterns []string
	regexps  []*regexp.Regexp
}

// New compiles patterns into a Matcher. ignoreCase requests case-folded
// matching (the host "provides case-folded globbing" per spec.md §4.1).
func New(patterns []string, ignoreCase bool) (*Matcher, error) {
	m := &Matcher{patterns: append([]string(nil), patterns...)}
	for _, p := range patterns {
		re, err := GlobToRegexp(p, ignoreCase)
		if err != nil {
			return nil, err
		}
		m.regexps = append(m.regexps, re)
	}
	return m, nil
}

// Match reports whether path matches any pattern in the set. An empty
// Matcher never matches anything.
func (m *Matcher) Match(path string) bool {
	if m == nil {
		return false
	}
	for _, re := range m.regexps {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// Empty reports whether the matcher has no patterns.
func (m *Matcher) Empty() bool {
	return m == nil || len(m.regexps) == 0
}

// Patterns returns the raw pattern strings backing the matcher, in the
// order they were supplied. The capture-config parser keeps the
// original config buffer alive so these remain valid for the set's
// lifetime (spec.md §4.2).
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	return m.patterns
}
