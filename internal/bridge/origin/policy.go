// Package origin decides whether a sender's origin is trusted.
//
// A Policy holds an ordered allowlist of patterns. Patterns are either exact
// origins ("https://app.example.com"), the universal wildcard "*", or strings
// containing "*" where each "*" matches any substring, including dots and
// slashes. "https://*.co" therefore matches "https://evil.co" as well as
// "https://a.b.co"; callers must write patterns precise enough for their needs.
//
// An empty allowlist rejects every origin.
package origin

import (
	"regexp"
	"strings"
	"sync/atomic"
)

// Wildcard is the standalone pattern accepting every origin
const Wildcard = "*"

// Policy is safe for concurrent use; the rule set is swapped atomically
type Policy struct {
	rules atomic.Pointer[ruleSet]
}

type ruleSet struct {
	patterns []string
	exact    map[string]struct{}
	matchers []*regexp.Regexp
	any      bool
}

// NewPolicy creates a policy allowing the given patterns
func NewPolicy(patterns ...string) *Policy {
	p := &Policy{}
	p.Replace(patterns)
	return p
}

// Replace swaps the whole allowlist
func (p *Policy) Replace(patterns []string) {
	p.rules.Store(compile(patterns))
}

// Add appends patterns to the current allowlist
func (p *Policy) Add(patterns ...string) {
	for {
		cur := p.rules.Load()
		merged := make([]string, 0, len(cur.patterns)+len(patterns))
		merged = append(merged, cur.patterns...)
		merged = append(merged, patterns...)
		if p.rules.CompareAndSwap(cur, compile(merged)) {
			return
		}
	}
}

// Patterns returns a copy of the allowlist in declaration order
func (p *Policy) Patterns() []string {
	cur := p.rules.Load()
	out := make([]string, len(cur.patterns))
	copy(out, cur.patterns)
	return out
}

// Empty reports whether the policy rejects everything
func (p *Policy) Empty() bool {
	return len(p.rules.Load().patterns) == 0
}

// IsAllowed reports whether messages from origin may be processed
func (p *Policy) IsAllowed(origin string) bool {
	rs := p.rules.Load()
	if len(rs.patterns) == 0 {
		return false
	}
	if _, ok := rs.exact[origin]; ok {
		return true
	}
	if rs.any {
		return true
	}
	for _, m := range rs.matchers {
		if m.MatchString(origin) {
			return true
		}
	}
	return false
}

func compile(patterns []string) *ruleSet {
	rs := &ruleSet{
		patterns: make([]string, 0, len(patterns)),
		exact:    make(map[string]struct{}, len(patterns)),
	}
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		rs.patterns = append(rs.patterns, pattern)

		switch {
		case pattern == Wildcard:
			rs.any = true
		case strings.Contains(pattern, Wildcard):
			rs.matchers = append(rs.matchers, wildcardMatcher(pattern))
		default:
			rs.exact[pattern] = struct{}{}
		}
	}
	return rs
}

// wildcardMatcher anchors the pattern and expands every "*" to ".*"
func wildcardMatcher(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, Wildcard)
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
}
