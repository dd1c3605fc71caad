// Package repair recovers a JSON document from free-form model output.
package repair

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/titanous/json5"

	"github.com/jmylchreest/refyne-harvest/internal/schema"
)

// ErrUnparsable is returned when no JSON object or array could be recovered.
var ErrUnparsable = errors.New("unparsable model response")

// Step names, reported by ParseWithStep.
const (
	StepDirect   = "direct"
	StepFences   = "fences"
	StepSlice    = "slice"
	StepBalanced = "balanced"
	StepLenient  = "lenient"
	StepTruncate = "truncation"
)

// Parse recovers the JSON object or array contained in text.
func Parse(text string) (any, error) {
	v, _, err := ParseWithStep(text)
	return v, err
}

// ParseWithStep is Parse that also reports which repair step succeeded.
// Steps run in order:
//  1. parse the whole response
//  2. strip leading/trailing markdown code fences
//  3. slice from the first '{' to the last '}', or '[' to ']'
//  4. close a document cut off mid-stream and parse it
//  5. scan for any balanced object or array
//  6. parse the candidate slices leniently (trailing commas, single quotes, comments)
func ParseWithStep(text string) (any, string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, "", ErrUnparsable
	}

	if v, ok := strict(trimmed); ok {
		return v, StepDirect, nil
	}

	unfenced := StripFences(trimmed)
	if unfenced != trimmed {
		if v, ok := strict(unfenced); ok {
			return v, StepFences, nil
		}
	}

	sliced := Slices(unfenced)
	for _, cand := range sliced {
		if v, ok := strict(cand); ok {
			return v, StepSlice, nil
		}
	}

	if closed, ok := CloseTruncated(unfenced); ok {
		if v, ok := strict(closed); ok {
			return v, StepTruncate, nil
		}
		if v, ok := lenient(closed); ok {
			return v, StepTruncate, nil
		}
	}

	balanced := Balanced(unfenced)
	for _, cand := range balanced {
		if v, ok := strict(cand); ok {
			return v, StepBalanced, nil
		}
	}

	lenientCandidates := append([]string{unfenced}, balanced...)
	lenientCandidates = append(lenientCandidates, sliced...)
	for _, cand := range lenientCandidates {
		if v, ok := lenient(cand); ok {
			return v, StepLenient, nil
		}
	}

	return nil, "", ErrUnparsable
}

// Recover parses text and validates it against s. It never fails: when
// nothing can be recovered it returns s.Default() and false.
func Recover(text string, s *schema.Schema) (schema.Candidate, bool) {
	v, err := Parse(text)
	if err != nil {
		return s.Default(), false
	}
	c, err := s.Decode(v)
	if err != nil {
		return s.Default(), false
	}
	return c, true
}

func strict(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return container(v)
}

func lenient(s string) (any, bool) {
	var v any
	if err := json5.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return container(v)
}

// container accepts only objects and arrays; a bare number or string found in
// prose is not a record.
func container(v any) (any, bool) {
	switch v.(type) {
	case map[string]any, []any:
		return v, true
	}
	return nil, false
}

// StripFences removes a leading ``` or ```json line and a trailing ``` marker.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimLeft(strings.TrimPrefix(s, "```"), "jsonJSON")
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Slice returns the preferred candidate of Slices.
func Slice(s string) (string, bool) {
	cands := Slices(s)
	if len(cands) == 0 {
		return "", false
	}
	return cands[0], true
}

// Slices returns the text from the first '{' to the last '}' and from the
// first '[' to the last ']'. The object slice comes first unless an array
// opened before it is still open at its start, so a bracketed note in prose
// before an object does not win over the object. An object inside an array
// that never closes is left to the truncation step.
func Slices(s string) []string {
	objStart, objEnd, hasObj := span(s, '{', '}')
	arrStart, arrEnd, hasArr := span(s, '[', ']')

	var obj, arr []string
	if hasObj {
		obj = []string{s[objStart : objEnd+1]}
	}
	if hasArr {
		arr = []string{s[arrStart : arrEnd+1]}
	}
	if !hasObj {
		return arr
	}

	open := strings.IndexByte(s, '[')
	if open < 0 || open > objStart {
		return append(obj, arr...)
	}
	switch last := strings.LastIndexByte(s, ']'); {
	case last < 0:
		return nil
	case last < objStart:
		return append(obj, arr...)
	default:
		return append(arr, obj...)
	}
}

func span(s string, open, closer byte) (int, int, bool) {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return 0, 0, false
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return 0, 0, false
	}
	return start, end, true
}

// Balanced returns every top-level balanced object or array in s, in order
// of appearance, skipping brackets inside string literals.
func Balanced(s string) []string {
	var out []string
	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		if end, ok := matchClose(s, i); ok {
			out = append(out, s[i:end+1])
		}
	}
	return out
}

// matchClose finds the index closing the bracket at start.
func matchClose(s string, start int) (int, bool) {
	var stack []byte
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
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// CloseTruncated closes a document cut off mid-stream: an open string is
// terminated, a dangling key or separator is dropped and every open bracket
// is closed in order.
func CloseTruncated(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}
	doc := s[start:]

	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(doc); i++ {
		c := doc[i]
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
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(stack) == 0 && !inString {
		return "", false
	}

	var b strings.Builder
	b.WriteString(doc)
	if escaped {
		b.WriteString(`\`)
	}
	if inString {
		b.WriteByte('"')
	}
	inObject := len(stack) > 0 && stack[len(stack)-1] == '}'
	out := trimDangling(b.String(), inObject)
	for i := len(stack) - 1; i >= 0; i-- {
		out += string(stack[i])
	}
	return out, true
}

// trimDangling removes a trailing separator or, inside an object, a key
// without a value.
func trimDangling(s string, inObject bool) string {
	for {
		t := strings.TrimRight(s, " \t\r\n")
		switch {
		case strings.HasSuffix(t, ","):
			s = strings.TrimSuffix(t, ",")
		case strings.HasSuffix(t, ":"):
			s = dropLastKey(strings.TrimSuffix(t, ":"))
		default:
			if key, ok := danglingKey(t); ok && inObject {
				s = key
				continue
			}
			return t
		}
	}
}

// danglingKey drops a trailing quoted string that is an object key with no
// colon after it, e.g. `{"a": 1, "b"`.
func danglingKey(s string) (string, bool) {
	if !strings.HasSuffix(s, `"`) || len(s) < 2 {
		return "", false
	}
	open := strings.LastIndexByte(s[:len(s)-1], '"')
	if open < 0 {
		return "", false
	}
	before := strings.TrimRight(s[:open], " \t\r\n")
	if strings.HasSuffix(before, ",") || strings.HasSuffix(before, "{") {
		return before, true
	}
	return "", false
}

func dropLastKey(s string) string {
	s = strings.TrimRight(s, " \t\r\n")
	if !strings.HasSuffix(s, `"`) {
		return s
	}
	open := strings.LastIndexByte(s[:len(s)-1], '"')
	if open < 0 {
		return s
	}
	return s[:open]
}
