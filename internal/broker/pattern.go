package broker

import (
	"regexp"
	"strings"
)

// Pattern is a compiled subscription expression: a comma-separated list of
// sub-patterns, each a slash-delimited sequence of literal, "*", "+" or
// "$system" parts. A name matches the pattern if it matches any sub-pattern.
type Pattern struct {
	source         string
	regex          *regexp.Regexp
	multiple       bool
	includesSystem bool
}

// CompilePattern builds a Pattern from its textual form. The only failure
// mode is a malformed resulting regular expression, which in practice can't
// happen since every literal part is escaped — kept as an error return
// anyway so callers have a single place to reject bad input.
func CompilePattern(source string) (*Pattern, error) {
	subPatterns := strings.Split(source, ",")
	compiled := make([]string, len(subPatterns))
	multiple := false
	includesSystem := false

	for i, sub := range subPatterns {
		parts := strings.Split(sub, "/")
		for j, part := range parts {
			switch part {
			case "*":
				multiple = true
				parts[j] = ".+"
			case "+":
				multiple = true
				parts[j] = "[^/]+"
			case "$system":
				includesSystem = true
				parts[j] = regexp.QuoteMeta(part)
			default:
				parts[j] = regexp.QuoteMeta(part)
			}
		}
		compiled[i] = "(^" + strings.Join(parts, "/") + "$)"
	}

	re, err := regexp.Compile(strings.Join(compiled, "|"))
	if err != nil {
		return nil, ErrInvalidPattern
	}

	return &Pattern{
		source:         source,
		regex:          re,
		multiple:       multiple,
		includesSystem: includesSystem,
	}, nil
}

// Matches reports whether name satisfies the pattern. "$system" is never
// matched by the compiled regex directly — a pattern must spell out
// "$system" as one of its parts to receive it, so a bare "*" subscription
// does not pick up log events.
func (p *Pattern) Matches(name string) bool {
	if name == "$system" {
		return p.includesSystem
	}
	return p.regex.MatchString(name)
}

// String returns the original, uncompiled pattern text.
func (p *Pattern) String() string {
	return p.source
}

// MatchesMultiple reports whether the pattern contains a "*" or "+" part.
// Advisory only; not used for any matching decision.
func (p *Pattern) MatchesMultiple() bool {
	return p.multiple
}
