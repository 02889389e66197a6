// Package json recovers JSON values from LLM responses.
//
// Models asked for structured output rarely return only JSON. Some wrap it in
// markdown fences, some add commentary before or after it, and some ignore the
// instruction entirely. Extract runs an ordered list of strategies and returns
// the first value that parses.
package json

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

const (
	// ScanWindow bounds the bracket-matching scan, measured in bytes from the
	// first opening bracket.
	ScanWindow = 50000

	// PreviewLength is the number of characters of the original content kept
	// in an ExtractionError.
	PreviewLength = 200
)

// fencedBlock matches a fenced code block, with or without a json language tag,
// whose body is an object or an array.
var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\}|\\[.*?\\])\\s*```")

// ExtractionError reports that no strategy produced valid JSON.
type ExtractionError struct {
	// Preview holds the first PreviewLength characters of the response.
	Preview string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("no valid JSON found in response, response starts with: %q", e.Preview)
}

type strategy func(content string) (any, bool)

// strategies run in order against the original content. The first two are
// what well-behaved providers need; the rest dig JSON out of commentary.
var strategies = []strategy{
	parseStripped,
	parseDirect,
	parseFenced,
	parseDelimited,
	parseBracketScan,
}

// Extract returns the first JSON value recoverable from content.
func Extract(content string) (any, error) {
	for _, try := range strategies {
		if v, ok := try(content); ok {
			return v, nil
		}
	}
	return nil, &ExtractionError{Preview: Preview(content)}
}

// ExtractRaw returns the recovered JSON re-encoded in compact form.
func ExtractRaw(content string) (string, error) {
	v, err := Extract(content)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to re-encode extracted JSON: %w", err)
	}
	return string(raw), nil
}

// ExtractInto decodes the recovered JSON into result.
func ExtractInto(content string, result any) error {
	raw, err := ExtractRaw(content)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), result); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return nil
}

// ExtractAs decodes the recovered JSON into a value of type T.
func ExtractAs[T any](content string) (T, error) {
	var result T
	err := ExtractInto(content, &result)
	return result, err
}

// Preview truncates content to PreviewLength characters.
func Preview(content string) string {
	runes := []rune(content)
	if len(runes) <= PreviewLength {
		return content
	}
	return string(runes[:PreviewLength])
}

// LooksLikeIgnoredInstructions reports whether content reads like prose,
// a markdown document or HTML rather than failed JSON. It is a heuristic:
// callers use it to tell a model that ignored the format instruction apart
// from one that produced broken data.
func LooksLikeIgnoredInstructions(content string) bool {
	lower := strings.ToLower(strings.TrimSpace(content))
	head500 := prefix(lower, 500)
	head100 := prefix(lower, 100)

	switch {
	case strings.HasPrefix(lower, "#"):
		return true
	case strings.Contains(head500, "html"), strings.Contains(head500, "doctype"):
		return true
	case strings.Contains(head100, "tutorial") && !strings.Contains(head500, "json"):
		return true
	}
	return false
}

func parseStripped(content string) (any, bool) {
	return decode(stripCodeFence(content))
}

func parseDirect(content string) (any, bool) {
	return decode(content)
}

func parseFenced(content string) (any, bool) {
	match := fencedBlock.FindStringSubmatch(content)
	if match == nil {
		return nil, false
	}
	return decode(match[1])
}

// parseDelimited looks for the leftmost object, then the leftmost array, whose
// closing bracket is followed by a blank line, a heading, another bracket or
// the end of the text. Only the first such span per bracket type is tried.
func parseDelimited(content string) (any, bool) {
	for _, pair := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		span, found := delimitedSpan(content, pair[0], pair[1])
		if !found {
			continue
		}
		if v, ok := decode(span); ok {
			return v, true
		}
	}
	return nil, false
}

// parseBracketScan counts bracket depth from the first '{' and then from the
// first '[' and parses the balanced span.
func parseBracketScan(content string) (any, bool) {
	for _, open := range []byte{'{', '['} {
		start := strings.IndexByte(content, open)
		if start == -1 {
			continue
		}
		end := min(start+ScanWindow, len(content))
		depth := 0
		for i := start; i < end; i++ {
			switch content[i] {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
			if depth == 0 {
				if v, ok := decode(content[start : i+1]); ok {
					return v, true
				}
				break
			}
		}
	}
	return nil, false
}

// delimitedSpan returns the span from the first open bracket to the nearest
// close bracket that sits on a boundary. A later open bracket can never match
// when the first one does not, so only the first is considered.
func delimitedSpan(content string, open, close byte) (string, bool) {
	start := strings.IndexByte(content, open)
	if start == -1 {
		return "", false
	}
	for end := start + 1; end < len(content); end++ {
		if content[end] == close && followedByBoundary(content[end+1:]) {
			return content[start : end+1], true
		}
	}
	return "", false
}

// followedByBoundary reports whether rest, after optional whitespace, is empty
// or begins with a blank line, a markdown heading or another bracket.
func followedByBoundary(rest string) bool {
	for i := 0; ; i++ {
		tail := rest[i:]
		switch {
		case tail == "", tail == "\n":
			return true
		case strings.HasPrefix(tail, "\n\n"), strings.HasPrefix(tail, "\n#"):
			return true
		case tail[0] == '{', tail[0] == '[':
			return true
		}
		if !unicode.IsSpace(rune(tail[0])) {
			return false
		}
	}
}

// stripCodeFence removes a leading ```json or ``` marker and a trailing ```.
func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)

	if strings.HasPrefix(trimmed, "```json") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
	} else if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
	}
	trimmed = strings.TrimSuffix(trimmed, "```")

	return strings.TrimSpace(trimmed)
}

func decode(candidate string) (any, bool) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(candidate), &v); err != nil {
		return nil, false
	}
	return v, true
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
