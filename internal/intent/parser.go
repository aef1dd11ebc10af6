package intent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Parse error codes. Parse failure is never fatal to the conversation; the
// caller falls back to keyword matching and still returns the reply.
const (
	ErrNoJSONFound    = "NO_JSON_FOUND"
	ErrInvalidJSON    = "INVALID_JSON"
	ErrMissingFields  = "MISSING_FIELDS"
	ErrInvalidLevel   = "INVALID_AUTOMATION_LEVEL"
	ErrIntentNotFound = "INTENT_NOT_FOUND"
	ErrInvalidClass   = "INVALID_EXECUTION_CLASS"
	ErrInvalidParams  = "INVALID_PARAMS"
)

type ParseError struct {
	Code    string
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("intent parse %s: %s", e.Code, e.Message)
}

var fencedBlockRE = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// extractJSONBlocks pulls candidate intent JSON out of a model reply.
// Fenced code blocks are tried first, then bare objects found by balanced
// brace scanning around every "intent_key" occurrence. Only candidates
// mentioning intent_key qualify.
func extractJSONBlocks(text string) []string {
	var blocks []string
	seen := map[string]bool{}
	add := func(candidate string) {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" || candidate == "{}" {
			return
		}
		if !strings.HasPrefix(candidate, "{") || !strings.Contains(candidate, "intent_key") {
			return
		}
		normalized := strings.Join(strings.Fields(candidate), " ")
		if seen[normalized] {
			return
		}
		seen[normalized] = true
		blocks = append(blocks, candidate)
	}

	for _, m := range fencedBlockRE.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	stripped := fencedBlockRE.ReplaceAllString(text, "")
	for idx := strings.Index(stripped, `"intent_key"`); idx >= 0; {
		start := strings.LastIndex(stripped[:idx], "{")
		if start < 0 {
			break
		}
		if end, ok := matchBraces(stripped, start); ok {
			add(stripped[start : end+1])
		}
		next := strings.Index(stripped[idx+1:], `"intent_key"`)
		if next < 0 {
			break
		}
		idx += 1 + next
	}
	return blocks
}

// matchBraces returns the index of the brace closing the object opened at
// start, skipping braces inside JSON strings.
func matchBraces(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = true
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return i, true
				}
				if depth < 0 {
					return 0, false
				}
			}
		}
	}
	return 0, false
}

type rawIntent struct {
	IntentKey string         `json:"intent_key"`
	Level     string         `json:"automation_level"`
	Class     *string        `json:"execution_class"`
	Params    map[string]any `json:"params"`
}

// Parse extracts and validates an intent from a model reply. Every candidate
// JSON block is tried in order; the first one that passes registry
// validation wins. An unknown intent_key is a parse failure, never an
// accepted intent.
func Parse(reply string) (Intent, error) {
	if strings.TrimSpace(reply) == "" {
		return Intent{}, &ParseError{Code: ErrNoJSONFound, Message: "empty model reply"}
	}
	blocks := extractJSONBlocks(reply)
	if len(blocks) == 0 {
		return Intent{}, &ParseError{Code: ErrNoJSONFound, Message: "no intent JSON block in reply"}
	}

	var firstErr *ParseError
	fail := func(code, msg string) {
		if firstErr == nil {
			firstErr = &ParseError{Code: code, Message: msg}
		}
	}
	for _, block := range blocks {
		var raw rawIntent
		if err := json.Unmarshal([]byte(block), &raw); err != nil {
			fail(ErrInvalidJSON, err.Error())
			continue
		}
		if raw.IntentKey == "" {
			fail(ErrMissingFields, "intent_key missing")
			continue
		}
		if raw.Level != LevelL0 && raw.Level != LevelL1 && raw.Level != LevelL2 {
			fail(ErrInvalidLevel, fmt.Sprintf("automation_level %q", raw.Level))
			continue
		}
		item, ok := Get(raw.IntentKey)
		if !ok {
			fail(ErrIntentNotFound, fmt.Sprintf("intent %q not in registry", raw.IntentKey))
			continue
		}
		if item.Level != raw.Level {
			fail(ErrInvalidLevel, fmt.Sprintf("registry says %s, reply says %s", item.Level, raw.Level))
			continue
		}
		class := ""
		if raw.Class != nil {
			class = *raw.Class
		}
		if raw.Level == LevelL2 {
			if class != ClassA && class != ClassB {
				fail(ErrInvalidClass, "L2 intent requires execution_class A or B")
				continue
			}
			if class != item.Class {
				fail(ErrInvalidClass, fmt.Sprintf("registry says %s, reply says %s", item.Class, class))
				continue
			}
		} else if class != "" {
			fail(ErrInvalidClass, raw.Level+" intent must not carry execution_class")
			continue
		}
		params := raw.Params
		if params == nil {
			params = map[string]any{}
		}
		out := Intent{Key: raw.IntentKey, Level: raw.Level, Params: params}
		if raw.Level == LevelL2 {
			out.Class = class
		}
		return out, nil
	}
	return Intent{}, firstErr
}

// StripIntentJSON removes intent JSON blocks from a model reply so the user
// only sees the natural-language answer.
func StripIntentJSON(reply string) string {
	clean := fencedBlockRE.ReplaceAllStringFunc(reply, func(m string) string {
		inner := strings.TrimSpace(fencedBlockRE.FindStringSubmatch(m)[1])
		if strings.HasPrefix(inner, "{") && strings.Contains(inner, "intent_key") {
			return ""
		}
		return m
	})
	for {
		idx := strings.Index(clean, `"intent_key"`)
		if idx < 0 {
			break
		}
		start := strings.LastIndex(clean[:idx], "{")
		if start < 0 {
			break
		}
		end, ok := matchBraces(clean, start)
		if !ok {
			break
		}
		clean = clean[:start] + clean[end+1:]
	}
	return strings.TrimSpace(clean)
}
