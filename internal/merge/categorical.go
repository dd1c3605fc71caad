package merge

import (
	"strings"

	"github.com/jmylchreest/refyne-harvest/internal/schema"
)

var (
	yesWords = []string{"si", "sí", "s", "yes", "y", "true", "positivo", "presente", "x", "1"}
	noWords  = []string{"no", "n", "false", "negativo", "niega", "ausente", "0"}
	nrWords  = []string{"no reporta", "no reportado", "n/a", "na", "nr", "desconocido", "sin dato", "sin datos", "null", "none"}
)

// normalizeCategorical maps v onto f.Allowed. Yes/no/not-reported synonyms
// map onto the allowed value of the same meaning; values outside the set
// become the sentinel.
func (m *Merger) normalizeCategorical(f schema.Field, v string) string {
	if len(f.Allowed) == 0 || m.schema.IsEmpty(v) {
		return v
	}

	key := fold(v)
	for _, allowed := range f.Allowed {
		if fold(allowed) == key {
			return allowed
		}
	}

	var meaning []string
	switch {
	case contains(yesWords, key):
		meaning = yesWords
	case contains(noWords, key):
		meaning = noWords
	case contains(nrWords, key):
		return m.schema.Sentinel
	default:
		// Leading words such as "Si, 10 cigarrillos/dia" or "No refiere".
		first := strings.FieldsFunc(key, func(r rune) bool { return r == ' ' || r == ',' || r == '.' || r == ';' })
		if len(first) > 0 {
			if contains(yesWords, first[0]) {
				meaning = yesWords
			} else if contains(noWords, first[0]) {
				meaning = noWords
			}
		}
	}

	for _, allowed := range f.Allowed {
		if contains(meaning, fold(allowed)) {
			return allowed
		}
	}
	return m.schema.Sentinel
}

var accentFolder = strings.NewReplacer("á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u")

func fold(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return accentFolder.Replace(s)
}

func contains(words []string, s string) bool {
	for _, w := range words {
		if accentFolder.Replace(w) == s {
			return true
		}
	}
	return false
}
