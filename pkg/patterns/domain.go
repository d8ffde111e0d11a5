// Package patterns provides the low-level matching primitives shared by the
// category detectors: domain extraction and glob matching, URL path
// classification, and currency amount parsing.
package patterns

import (
	"net/url"
	"regexp"
	"strings"
)

// ExtractDomain returns the lowercased hostname of raw, treating inputs
// without a scheme as https. Invalid inputs return "".
func ExtractDomain(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || strings.ContainsAny(host, " \t") {
		return ""
	}
	return host
}

// DomainMatch describes how a domain matched a pattern.
type DomainMatch struct {
	Pattern    string
	Exact      bool
	Confidence float64
}

// MatchDomain matches domain against a glob pattern. Supported syntax:
// `*` matches any run of characters excluding `.`, `**` matches any run
// including `.`, `?` matches one character; every other metacharacter is
// literal. Matching is case-insensitive and whole-string anchored.
// An exact equality hit reports a higher confidence than a wildcard hit.
func MatchDomain(domain, pattern string) (DomainMatch, bool) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if domain == "" || pattern == "" {
		return DomainMatch{}, false
	}
	if domain == pattern {
		return DomainMatch{Pattern: pattern, Exact: true, Confidence: 0.95}, true
	}
	re, err := compileGlob(pattern)
	if err != nil {
		return DomainMatch{}, false
	}
	if !re.MatchString(domain) {
		return DomainMatch{}, false
	}
	return DomainMatch{Pattern: pattern, Confidence: wildcardConfidence(pattern)}, true
}

// MatchAnyDomain returns the first pattern in patterns that matches domain.
func MatchAnyDomain(domain string, patterns []string) (DomainMatch, bool) {
	for _, p := range patterns {
		if m, ok := MatchDomain(domain, p); ok {
			return m, true
		}
	}
	return DomainMatch{}, false
}

// wildcardConfidence scales with pattern specificity: more literal
// characters relative to wildcards reads as a tighter match.
func wildcardConfidence(pattern string) float64 {
	literal := 0
	for _, r := range pattern {
		if r != '*' && r != '?' {
			literal++
		}
	}
	if len(pattern) == 0 {
		return 0.95
	}
	ratio := float64(literal) / float64(len(pattern))
	conf := 0.95 + 0.04*ratio
	if conf > 0.99 {
		conf = 0.99
	}
	return conf
}

var globCache = newRegexpCache()

func compileGlob(pattern string) (*regexp.Regexp, error) {
	if re := globCache.get(pattern); re != nil {
		return re, nil
	}
	var b strings.Builder
	b.WriteString("(?i)^")
	// Walk runes, not bytes: slicing a multibyte character would quote
	// its bytes individually and break the pattern.
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch {
		case runes[i] == '*' && i+1 < len(runes) && runes[i+1] == '*':
			b.WriteString(".*")
			i++
		case runes[i] == '*':
			b.WriteString(`[^.]*`)
		case runes[i] == '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(runes[i])))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, err
	}
	globCache.put(pattern, re)
	return re, nil
}
