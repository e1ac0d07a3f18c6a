package formatting

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrParseFailed is returned when model output cannot be decoded into the
// expected structure.
var ErrParseFailed = errors.New("failed to parse response")

const fence = "```"

// StripFence trims surrounding whitespace and, when the text opens with a
// markdown code fence, drops the opening fence line and everything from the
// last closing fence onward.
func StripFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, fence) {
		return text
	}

	nl := strings.IndexByte(text, '\n')
	if nl < 0 {
		return ""
	}
	text = text[nl+1:]

	if i := strings.LastIndex(text, fence); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

// Parse strips any code fence from raw and unmarshals the remainder into T.
func Parse[T any](raw string) (T, error) {
	var result T

	text := StripFence(raw)
	if text == "" {
		return result, fmt.Errorf("%w: empty content", ErrParseFailed)
	}

	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return result, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}

	return result, nil
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
