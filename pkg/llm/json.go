package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when a response carries no parseable JSON value.
var ErrNoJSON = errors.New("no valid JSON found in response")

// Reasoning models may open with a <think> block before answering.
var thinkTagPattern = regexp.MustCompile(`(?s)^[\s]*<think>.*?</think>[\s]*`)

// fencePattern matches a response wrapped entirely in a markdown code block.
var fencePattern = regexp.MustCompile("(?s)^```[A-Za-z0-9_-]*[ \t]*\r?\n?(.*?)\r?\n?```$")

// StripCodeFences removes a markdown code block wrapping the whole response.
// Text that is not fully fenced is returned trimmed.
func StripCodeFences(response string) string {
	trimmed := strings.TrimSpace(response)
	if m := fencePattern.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}
	return trimmed
}

// CleanText strips a leading <think> block and code fences from a prose response.
func CleanText(response string) string {
	return StripCodeFences(thinkTagPattern.ReplaceAllString(response, ""))
}

// ExtractJSON returns the first complete JSON object or array in response.
// Models wrap answers in prose, fences and reasoning blocks, so every
// opening bracket is tried in order until one yields a valid document.
func ExtractJSON(response string) (string, error) {
	return extractFirst(response, "{[")
}

// ExtractJSONObject is ExtractJSON restricted to objects. Arrays in the
// surrounding prose, such as "columns [1, 2]", are skipped.
func ExtractJSONObject(response string) (string, error) {
	doc, err := extractFirst(response, "{")
	if err != nil {
		return "", err
	}
	if doc[0] != '{' {
		return "", ErrNoJSON
	}
	return doc, nil
}

func extractFirst(response, opens string) (string, error) {
	text := thinkTagPattern.ReplaceAllString(response, "")

	for start := 0; start < len(text); start++ {
		if strings.IndexByte(opens, text[start]) < 0 {
			continue
		}
		end := matchingBracket(text, start)
		if end < 0 {
			continue
		}
		if candidate := text[start : end+1]; json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	if whole := strings.TrimSpace(text); whole != "" && json.Valid([]byte(whole)) {
		return whole, nil
	}
	return "", ErrNoJSON
}

// matchingBracket returns the index closing the bracket at s[start], or -1.
// Brackets inside string literals are ignored.
func matchingBracket(s string, start int) int {
	var depth int
	var inString, escaped bool

	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString:
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
		case c == '"':
			inString = true
		case c == '{' || c == '[':
			depth++
		case c == '}' || c == ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// ParseJSONResponse unmarshals the first JSON object in response into T.
func ParseJSONResponse[T any](response string) (T, error) {
	var result T

	doc, err := ExtractJSONObject(response)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(doc), &result); err != nil {
		return result, fmt.Errorf("unmarshal JSON: %w", err)
	}
	return result, nil
}
