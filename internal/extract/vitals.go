package extract

import (
	"regexp"
	"strconv"

	"github.com/jmylchreest/refyne-harvest/internal/schema"
)

var (
	weightPattern = regexp.MustCompile(`(?i)PESO\s*([0-9]+(?:\.[0-9]+)?)\s*kgs`)
	heightPattern = regexp.MustCompile(`(?i)TALLA\s*([0-9]+(?:\.[0-9]+)?)\s*cms`)
)

// Vitals holds anthropometric values read from document text.
type Vitals struct {
	WeightKg float64
	HeightCm float64
}

// HasWeight reports whether a weight was found.
func (v Vitals) HasWeight() bool { return v.WeightKg > 0 }

// HasHeight reports whether a height was found.
func (v Vitals) HasHeight() bool { return v.HeightCm > 0 }

// ReadVitals returns the last weight ("PESO 70 kgs") and height
// ("TALLA 172 cms") recorded in text. Later entries in a history are the
// most recent measurements.
func ReadVitals(text string) Vitals {
	return Vitals{
		WeightKg: lastNumber(weightPattern, text),
		HeightCm: lastNumber(heightPattern, text),
	}
}

func lastNumber(re *regexp.Regexp, text string) float64 {
	matches := re.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(matches[len(matches)-1][1], 64)
	if err != nil {
		return 0
	}
	return v
}

// Field names filled by Apply when a schema declares them.
const (
	WeightField = "Peso"
	HeightField = "Talla"
)

// Apply copies v into the subject fields of c named WeightField and
// HeightField, when s declares them and the model left them empty.
func (v Vitals) Apply(s *schema.Schema, c *schema.Candidate) {
	if c.Subject == nil {
		c.Subject = schema.Fields{}
	}
	set := func(name string, value float64) {
		if value <= 0 {
			return
		}
		if _, ok := s.Subject.Field(name); !ok {
			return
		}
		if s.IsEmpty(c.Subject[name]) {
			c.Subject[name] = strconv.FormatFloat(value, 'f', -1, 64)
		}
	}
	set(WeightField, v.WeightKg)
	set(HeightField, v.HeightCm)
}
