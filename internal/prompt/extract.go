package prompt

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned by Decode when the reply holds no JSON value.
var ErrNoJSON = errors.New("no JSON value in reply")

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\s*\\n?```")

// ExtractJSON returns the first JSON object or array found in text. It
// prefers a fenced code block and otherwise scans for the first balanced
// value. It returns "" when nothing balanced is found.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if json.Valid([]byte(text)) {
		return text
	}
	if m := fencedJSON.FindStringSubmatch(text); len(m) >= 2 {
		if candidate := strings.TrimSpace(m[1]); json.Valid([]byte(candidate)) {
			return candidate
		}
	}
	for i, ch := range text {
		if ch != '{' && ch != '[' {
			continue
		}
		if end := balancedEnd(text[i:]); end > 0 {
			candidate := text[i : i+end]
			if json.Valid([]byte(candidate)) {
				return candidate
			}
		}
	}
	return ""
}

// Decode extracts JSON from text and unmarshals it into v.
func Decode(text string, v any) error {
	raw := ExtractJSON(text)
	if raw == "" {
		return ErrNoJSON
	}
	return json.Unmarshal([]byte(raw), v)
}

// balancedEnd returns the length of the balanced value starting at s[0],
// or -1. Brackets inside strings are ignored.
func balancedEnd(s string) int {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}
