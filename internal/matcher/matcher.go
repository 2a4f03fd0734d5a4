// Package matcher decides whether message text should raise an alert.
//
// Keywords are case-insensitive substrings. Patterns use RE2 syntax and are
// compiled once, case-insensitively; a pattern that fails to compile
// (including constructs RE2 does not support, like lookarounds) is logged and
// skipped without affecting the others.
package matcher

import (
	"regexp"
	"strings"

	logx "oncallbuzzer/pkg/logx"
)

// Policy is an immutable compiled match policy.
type Policy struct {
	keywords []string
	patterns []*regexp.Regexp
	sources  []string
}

// Compile builds a Policy. Keywords are lowercased; empty entries are ignored.
func Compile(keywords, patterns []string, log logx.Logger) Policy {
	p := Policy{}
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			p.keywords = append(p.keywords, kw)
		}
	}
	for _, raw := range patterns {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + raw)
		if err != nil {
			log.Warn("invalid regex pattern skipped", logx.String("pattern", raw), logx.Err(err))
			continue
		}
		p.patterns = append(p.patterns, re)
		p.sources = append(p.sources, raw)
	}
	return p
}

// Match reports whether any keyword is a substring of text or any pattern
// matches it. Keywords are checked first.
func (p Policy) Match(text string) bool {
	if text == "" {
		return false
	}
	if len(p.keywords) > 0 {
		lowered := strings.ToLower(text)
		for _, kw := range p.keywords {
			if strings.Contains(lowered, kw) {
				return true
			}
		}
	}
	for _, re := range p.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Keywords returns a copy of the normalized keywords.
func (p Policy) Keywords() []string { return append([]string(nil), p.keywords...) }

// Patterns returns the source of every pattern that compiled.
func (p Policy) Patterns() []string { return append([]string(nil), p.sources...) }

// Matches is the one-shot form of Compile(...).Match(text).
func Matches(text string, keywords, patterns []string, log logx.Logger) bool {
	return Compile(keywords, patterns, log).Match(text)
}
