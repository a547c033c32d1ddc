// Package deploy decides, per generated artifact path, which cache-control
// header and compression policy apply before publishing. Rules are evaluated
// in configuration order and the first match wins; declaring a broad pattern
// above a narrow one silently shadows the narrow one, so order in the
// configuration file is part of the contract.
package deploy

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule pairs a path pattern with the directive applied to matching paths.
// A nil CacheControl means "emit no cache-control header at all", which is
// distinct from an empty string (rejected at validation time).
type Rule struct {
	Pattern      string
	CacheControl *string
	Gzip         bool
}

// Directive is the publish instruction for a single artifact path.
// The zero value is the default treatment for unmatched paths: no
// cache-control header, no compression.
type Directive struct {
	CacheControl *string
	Gzip         bool
}

// PatternError reports a rule whose pattern does not compile.
type PatternError struct {
	Index   int
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("matcher %d: invalid pattern %q: %v", e.Index, e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error { return e.Err }

type compiledRule struct {
	re        *regexp.Regexp
	directive Directive
}

// Matcher evaluates an ordered rule list against artifact paths.
type Matcher struct {
	rules []compiledRule
}

// New compiles all rules eagerly so bad patterns fail before any rendering
// or publishing work begins. Rules keep their declaration order.
func New(rules []Rule) (*Matcher, error) {
	m := &Matcher{rules: make([]compiledRule, 0, len(rules))}
	for i, r := range rules {
		re, err := regexp.Compile(anchor(r.Pattern))
		if err != nil {
			return nil, &PatternError{Index: i, Pattern: r.Pattern, Err: err}
		}
		m.rules = append(m.rules, compiledRule{
			re:        re,
			directive: Directive{CacheControl: r.CacheControl, Gzip: r.Gzip},
		})
	}
	return m, nil
}

// Match returns the directive of the first rule whose pattern matches the
// full path. Paths matching no rule get the zero Directive; that is valid,
// not an error.
func (m *Matcher) Match(path string) Directive {
	for _, r := range m.rules {
		if r.re.MatchString(path) {
			return r.directive
		}
	}
	return Directive{}
}

// Len returns the number of compiled rules.
func (m *Matcher) Len() int { return len(m.rules) }

// anchor wraps a pattern so it must match the whole path. Patterns already
// carrying their own anchors are grouped rather than double-anchored.
func anchor(pattern string) string {
	if strings.HasPrefix(pattern, "^") && strings.HasSuffix(pattern, "$") {
		return pattern
	}
	return "^(?:" + pattern + ")$"
}
