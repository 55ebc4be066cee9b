package cache

import (
	"fmt"
	"regexp"
)

// ExclusionList decides whether completions for a model are kept out of
// the response cache, e.g. models whose output is intentionally sampled
// hot. Two rule forms are supported:
//
//   - exact: the model string must equal the rule verbatim
//   - pattern: the model string is tested against a compiled regexp,
//     so "^gpt-4.*" can exclude a whole family
//
// A nil *ExclusionList never matches, so callers skip the nil check.
type ExclusionList struct {
	exact    map[string]struct{}
	patterns []*regexp.Regexp
}

// NewExclusionList compiles exact rules and regex patterns into an
// ExclusionList. A pattern that fails to compile is a startup error, not
// a silently dropped rule. Empty strings in either list are skipped.
func NewExclusionList(exact, patterns []string) (*ExclusionList, error) {
	el := &ExclusionList{
		exact: make(map[string]struct{}, len(exact)),
	}

	for _, e := range exact {
		if e != "" {
			el.exact[e] = struct{}{}
		}
	}

	for _, p := range patterns {
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("cache exclusion: invalid pattern %q: %w", p, err)
		}
		el.patterns = append(el.patterns, re)
	}

	return el, nil
}

// Matches reports whether model is excluded from caching. Exact rules are
// checked first, then patterns in configuration order.
func (el *ExclusionList) Matches(model string) bool {
	if el == nil {
		return false
	}
	if _, ok := el.exact[model]; ok {
		return true
	}
	for _, re := range el.patterns {
		if re.MatchString(model) {
			return true
		}
	}
	return false
}

// Len returns the total number of exclusion rules configured.
func (el *ExclusionList) Len() int {
	if el == nil {
		return 0
	}
	return len(el.exact) + len(el.patterns)
}
