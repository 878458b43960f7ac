package evaluator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)

// StripANSI removes terminal escape sequences; some CLIs color their
// output even when piped.
func StripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}

var (
	rateLimitMarkers = []string{
		"usage_limit",
		"usage limit",
		"rate limit",
		"rate_limit",
		"too many requests",
		"429",
		"quota",
		"overloaded",
	}
	overflowMarkers = []string{
		"context window",
		"context_window",
		"context length",
		"context_length_exceeded",
		"prompt too long",
		"prompt is too long",
		"input too long",
		"maximum context",
	}
)

// classify maps CLI failure text onto the sentinel taxonomy. The raw
// error is wrapped so the original text survives for failure records.
func classify(output string, cause error) error {
	lower := strings.ToLower(StripANSI(output))
	for _, m := range overflowMarkers {
		if strings.Contains(lower, m) {
			return fmt.Errorf("%w: %s", ErrContextOverflow, firstLine(output))
		}
	}
	for _, m := range rateLimitMarkers {
		if strings.Contains(lower, m) {
			return fmt.Errorf("%w: %s", ErrRateLimited, firstLine(output))
		}
	}
	if cause != nil {
		return fmt.Errorf("evaluator failed: %w: %s", cause, firstLine(output))
	}
	return fmt.Errorf("evaluator failed: %s", firstLine(output))
}

func firstLine(s string) string {
	s = strings.TrimSpace(StripANSI(s))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// decodeResult parses evaluator output into a Result. CLIs are not
// reliable JSON emitters, so after a direct parse this salvages a
// fenced code block and then the first balanced object.
func decodeResult(text string) (*Result, error) {
	text = strings.TrimSpace(StripANSI(text))
	if text == "" {
		return nil, fmt.Errorf("evaluator returned empty output")
	}

	var res Result
	if err := json.Unmarshal([]byte(text), &res); err == nil && res.Summary != "" {
		return &res, nil
	}

	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		if err := json.Unmarshal([]byte(m[1]), &res); err == nil && res.Summary != "" {
			return &res, nil
		}
	}

	if obj := firstBalancedObject(text); obj != "" {
		if err := json.Unmarshal([]byte(obj), &res); err == nil && res.Summary != "" {
			return &res, nil
		}
	}

	return nil, fmt.Errorf("evaluator output is not valid result JSON: %s", firstLine(text))
}

// firstBalancedObject returns the first top-level {...} span, tracking
// string literals so braces inside them don't miscount.
func firstBalancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
