package logging

import (
	"regexp"
)

// Sanitizer redacts credentials from log messages and attributes.
type Sanitizer struct {
	patterns []*regexp.Regexp
	redacted string
}

// NewSanitizer creates a sanitizer with default patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: defaultPatterns(),
		redacted: "[REDACTED]",
	}
}

func defaultPatterns() []*regexp.Regexp {
	patterns := []string{
		// LLM providers
		`sk-ant-[a-zA-Z0-9-]{40,}`,
		`sk-[A-Za-z0-9_-]{20,}`,
		`AIza[a-zA-Z0-9_-]{35}`,
		// Meta Graph API access tokens
		`EAA[A-Za-z0-9]{30,}`,
		// Google Ads developer tokens and OAuth refresh tokens
		`1//[A-Za-z0-9_-]{30,}`,
		`ya29\.[A-Za-z0-9_-]{20,}`,
		// Search providers
		`tvly-[A-Za-z0-9]{20,}`,
		// Postgres DSN passwords
		`(?i)postgres(?:ql)?://[^:\s]+:[^@\s]+@`,
		`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`,
		`(?i)api[_-]?key["'\s:=]+[a-zA-Z0-9_-]{20,}`,
		`(?i)access[_-]?token["'\s:=]+[a-zA-Z0-9._-]{20,}`,
		`(?i)secret["'\s:=]+[a-zA-Z0-9_-]{20,}`,
		`(?i)password["'\s:=]+[^\s"']{8,}`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Sanitize redacts sensitive information from a string.
func (s *Sanitizer) Sanitize(input string) string {
	result := input
	for _, pattern := range s.patterns {
		result = pattern.ReplaceAllString(result, s.redacted)
	}
	return result
}

// AddPattern adds a custom pattern.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.patterns = append(s.patterns, re)
	return nil
}
