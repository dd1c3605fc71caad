// Package schema defines the fixed field list the model is asked to populate
// and validates model output against it.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role decides how the merger treats conflicting values for a field.
type Role int

const (
	// RoleIdentity fields are stable per subject; the first value wins.
	RoleIdentity Role = iota
	// RoleNarrative fields accumulate distinct values.
	RoleNarrative
	// RoleCategorical fields take one of a closed set of values and are
	// otherwise treated like identity fields.
	RoleCategorical
)

func (r Role) String() string {
	switch r {
	case RoleIdentity:
		return "identity"
	case RoleNarrative:
		return "narrative"
	case RoleCategorical:
		return "categorical"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole converts a recipe role name to a Role. An empty name is identity.
func ParseRole(name string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "identity":
		return RoleIdentity, nil
	case "narrative":
		return RoleNarrative, nil
	case "categorical":
		return RoleCategorical, nil
	}
	return 0, fmt.Errorf("unknown field role %q", name)
}

// Field is one column of the extraction schema.
type Field struct {
	Name        string
	Role        Role
	Aliases     []string
	Allowed     []string // closed value set for categorical fields
	Description string
}

// Section is a group of fields emitted as one table.
type Section struct {
	Name   string
	Key    string // field that identifies a row within the section
	Fields []Field
}

// Field returns the named field.
func (s Section) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Names returns the field names in column order.
func (s Section) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Schema is the full extraction schema: one subject-level section and one
// detail-level section foreign-keyed by the subject key.
type Schema struct {
	Name     string
	Sentinel string
	Subject  Section
	Detail   Section
}

// Fields is one record's values keyed by schema field name.
type Fields map[string]string

// Clone returns a copy of f.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Candidate is one unvalidated extraction result. Only schema fields are kept.
type Candidate struct {
	Subject Fields
	Details []Fields
}

// SubjectID returns the candidate's subject identifier, falling back to the
// first detail row that carries one.
func (s *Schema) SubjectID(c Candidate) string {
	key := s.Subject.Key
	if id := strings.TrimSpace(c.Subject[key]); !s.IsEmpty(id) {
		return id
	}
	for _, d := range c.Details {
		if id := strings.TrimSpace(d[key]); !s.IsEmpty(id) {
			return id
		}
	}
	return ""
}

// IsEmpty reports whether v carries no information.
func (s *Schema) IsEmpty(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, s.Sentinel) || strings.EqualFold(v, "null")
}

// Default returns the candidate used when a response cannot be recovered:
// every field holds the sentinel and there is one sentinel detail row.
func (s *Schema) Default() Candidate {
	subject := make(Fields, len(s.Subject.Fields))
	for _, f := range s.Subject.Fields {
		subject[f.Name] = s.Sentinel
	}
	var details []Fields
	if len(s.Detail.Fields) > 0 {
		row := make(Fields, len(s.Detail.Fields))
		for _, f := range s.Detail.Fields {
			row[f.Name] = s.Sentinel
		}
		details = append(details, row)
	}
	return Candidate{Subject: subject, Details: details}
}

// ExampleJSON renders the literal example embedded in the prompt.
func (s *Schema) ExampleJSON() string {
	example := map[string]any{}
	if len(s.Subject.Fields) > 0 {
		example[s.Subject.Name] = sectionExample(s.Subject)
	}
	if len(s.Detail.Fields) > 0 {
		example[s.Detail.Name] = []map[string]string{sectionExample(s.Detail)}
	}
	out, _ := json.MarshalIndent(example, "", "  ")
	return string(out)
}

func sectionExample(sec Section) map[string]string {
	m := make(map[string]string, len(sec.Fields))
	for _, f := range sec.Fields {
		switch {
		case f.Description != "":
			m[f.Name] = f.Description
		case len(f.Allowed) > 0:
			m[f.Name] = strings.Join(f.Allowed, " | ")
		default:
			m[f.Name] = ""
		}
	}
	return m
}

// Instructions describes the expected output for the prompt.
func (s *Schema) Instructions() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Return only a JSON object with this exact structure:\n%s\n", s.ExampleJSON())
	fmt.Fprintf(&b, "Use %q for any field that is not present in the document.\n", s.Sentinel)
	if len(s.Detail.Fields) > 0 {
		fmt.Fprintf(&b, "Emit one entry in %q for each %s found.\n", s.Detail.Name, strings.ToLower(s.Detail.Key))
	}
	for _, f := range append(append([]Field{}, s.Subject.Fields...), s.Detail.Fields...) {
		if len(f.Allowed) > 0 {
			fmt.Fprintf(&b, "%q must be one of: %s.\n", f.Name, strings.Join(f.Allowed, ", "))
		}
	}
	return b.String()
}

// Validate checks the schema is usable.
func (s *Schema) Validate() error {
	if s.Sentinel == "" {
		return fmt.Errorf("schema %q: sentinel is required", s.Name)
	}
	if len(s.Subject.Fields) == 0 {
		return fmt.Errorf("schema %q: subject section has no fields", s.Name)
	}
	if _, ok := s.Subject.Field(s.Subject.Key); !ok {
		return fmt.Errorf("schema %q: subject key %q is not a field", s.Name, s.Subject.Key)
	}
	if len(s.Detail.Fields) > 0 && s.Detail.Key != "" {
		if _, ok := s.Detail.Field(s.Detail.Key); !ok {
			return fmt.Errorf("schema %q: detail key %q is not a field", s.Name, s.Detail.Key)
		}
	}
	return nil
}
