package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// ErrShape is returned when a parsed response is neither an object nor an array.
var ErrShape = errors.New("response is not a JSON object or array")

// fuzzyThreshold is the minimum Jaro-Winkler similarity for a key match.
const fuzzyThreshold = 0.92

// Decode validates a parsed model response against the schema. Keys are
// matched to field names exactly, then ignoring case and accents, then by
// Jaro-Winkler similarity. Keys that match no field are dropped.
//
// An object may hold the subject and detail sections under their names, or
// flat fields of either section. An array is read as the detail list.
func (s *Schema) Decode(raw any) (Candidate, error) {
	c := Candidate{Subject: Fields{}}

	switch v := raw.(type) {
	case map[string]any:
		s.decodeObject(v, &c)
	case []any:
		c.Details = s.decodeRows(v)
	default:
		return Candidate{}, fmt.Errorf("%w: got %T", ErrShape, raw)
	}

	s.inheritSubjectFields(&c)
	return c, nil
}

func (s *Schema) decodeObject(obj map[string]any, c *Candidate) {
	flatDetail := Fields{}

	for key, val := range obj {
		switch {
		case len(s.Subject.Fields) > 0 && matchKey(key, s.Subject.Name) && isObject(val):
			for k, fv := range val.(map[string]any) {
				if name, ok := s.Subject.match(k); ok {
					c.Subject[name] = stringify(fv)
				}
			}
		case len(s.Detail.Fields) > 0 && matchKey(key, s.Detail.Name) && (isArray(val) || isObject(val)):
			if arr, ok := val.([]any); ok {
				c.Details = append(c.Details, s.decodeRows(arr)...)
			} else {
				c.Details = append(c.Details, s.decodeRows([]any{val})...)
			}
		default:
			if name, ok := s.Subject.match(key); ok {
				c.Subject[name] = stringify(val)
			}
			if name, ok := s.Detail.match(key); ok {
				flatDetail[name] = stringify(val)
			}
		}
	}

	// Flat detail-only fields describe a single detail row.
	if len(c.Details) == 0 && s.hasDetailOnly(flatDetail) {
		c.Details = append(c.Details, flatDetail)
	}
}

func (s *Schema) decodeRows(arr []any) []Fields {
	rows := make([]Fields, 0, len(arr))
	for _, item := range arr {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		row := Fields{}
		for k, v := range obj {
			if name, ok := s.Detail.match(k); ok {
				row[name] = stringify(v)
			}
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}
	return rows
}

func (s *Schema) hasDetailOnly(row Fields) bool {
	for name := range row {
		if _, shared := s.Subject.Field(name); !shared {
			return true
		}
	}
	return false
}

// inheritSubjectFields copies fields shared by both sections between the
// subject and its detail rows so the foreign key is populated on both sides.
func (s *Schema) inheritSubjectFields(c *Candidate) {
	for _, f := range s.Subject.Fields {
		if _, shared := s.Detail.Field(f.Name); !shared {
			continue
		}
		if s.IsEmpty(c.Subject[f.Name]) {
			for _, d := range c.Details {
				if !s.IsEmpty(d[f.Name]) {
					c.Subject[f.Name] = d[f.Name]
					break
				}
			}
		}
		if v := c.Subject[f.Name]; !s.IsEmpty(v) {
			for _, d := range c.Details {
				if s.IsEmpty(d[f.Name]) {
					d[f.Name] = v
				}
			}
		}
	}
}

// match resolves a response key to a field name of the section.
func (sec Section) match(key string) (string, bool) {
	for _, f := range sec.Fields {
		if f.Name == key {
			return f.Name, true
		}
	}

	best, bestScore := "", 0.0
	nk := normalizeKey(key)
	for _, f := range sec.Fields {
		for _, cand := range append([]string{f.Name}, f.Aliases...) {
			nc := normalizeKey(cand)
			if nc == nk {
				return f.Name, true
			}
			if score := matchr.JaroWinkler(nk, nc, false); score > bestScore {
				best, bestScore = f.Name, score
			}
		}
	}
	if bestScore >= fuzzyThreshold {
		return best, true
	}
	return "", false
}

func matchKey(key, name string) bool {
	if name == "" {
		return false
	}
	nk, nn := normalizeKey(key), normalizeKey(name)
	return nk == nn || matchr.JaroWinkler(nk, nn, false) >= fuzzyThreshold
}

var accents = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
	"à", "a", "è", "e", "ì", "i", "ò", "o", "ù", "u",
)

// normalizeKey lowercases, strips accents and drops everything but letters
// and digits, so "No. Consulta", "no_consulta" and "NoConsulta" compare equal.
func normalizeKey(s string) string {
	s = accents.Replace(strings.ToLower(s))
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		out, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(out)
	}
}

func isObject(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}

func isArray(v any) bool {
	_, ok := v.([]any)
	return ok
}
