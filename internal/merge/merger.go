// Package merge folds the candidate records extracted for one subject into a
// single record, field by field, according to each field's role.
package merge

import (
	"strings"

	"github.com/jmylchreest/refyne-harvest/internal/schema"
)

// NarrativeSeparator joins distinct values of a narrative field.
const NarrativeSeparator = "; "

// SubjectRecord is the merged record for one subject.
type SubjectRecord struct {
	ID      string
	Subject schema.Fields
	Details []schema.Fields
	Sources int // candidates folded into this record
}

// Candidate converts r back to candidate form.
func (r *SubjectRecord) Candidate() schema.Candidate {
	c := schema.Candidate{Subject: r.Subject.Clone()}
	for _, d := range r.Details {
		c.Details = append(c.Details, d.Clone())
	}
	return c
}

// Clone returns a deep copy of r.
func (r *SubjectRecord) Clone() *SubjectRecord {
	c := r.Candidate()
	return &SubjectRecord{ID: r.ID, Subject: c.Subject, Details: c.Details, Sources: r.Sources}
}

// Merger merges candidates according to a schema.
type Merger struct {
	schema *schema.Schema
}

// New creates a merger for s.
func New(s *schema.Schema) *Merger {
	return &Merger{schema: s}
}

// Schema returns the schema the merger applies.
func (m *Merger) Schema() *schema.Schema { return m.schema }

// Merge folds c into existing and returns the result. existing is not
// modified and may be nil.
//
// For each field: an empty or sentinel existing value takes the candidate's
// value; identity fields otherwise keep the existing value; narrative fields
// append the candidate's value unless it is already present; categorical
// values are normalized to the allowed set and then behave like identity
// fields. Detail rows with the same detail key are merged with the same
// rules; other rows are appended.
func (m *Merger) Merge(existing *SubjectRecord, c schema.Candidate) *SubjectRecord {
	var out *SubjectRecord
	if existing == nil {
		out = &SubjectRecord{Subject: schema.Fields{}}
	} else {
		out = existing.Clone()
		if out.Subject == nil {
			out.Subject = schema.Fields{}
		}
	}

	m.mergeFields(m.schema.Subject, out.Subject, c.Subject)

	if out.ID == "" {
		out.ID = m.schema.SubjectID(c)
	}
	if out.ID != "" {
		key := m.schema.Subject.Key
		if m.schema.IsEmpty(out.Subject[key]) {
			out.Subject[key] = out.ID
		}
	}

	for _, row := range c.Details {
		out.Details = m.mergeDetail(out.Details, row)
	}
	out.Sources++
	return out
}

func (m *Merger) mergeDetail(rows []schema.Fields, row schema.Fields) []schema.Fields {
	if m.isSentinelRow(row) {
		if len(rows) > 0 {
			return rows
		}
	}

	key := m.detailKey(row)
	for i, existing := range rows {
		if m.detailKey(existing) == key {
			merged := existing.Clone()
			m.mergeFields(m.schema.Detail, merged, row)
			rows[i] = merged
			return rows
		}
	}

	fresh := schema.Fields{}
	m.mergeFields(m.schema.Detail, fresh, row)
	if !m.isSentinelRow(fresh) {
		rows = m.dropSentinelRows(rows)
	}
	return append(rows, fresh)
}

func (m *Merger) dropSentinelRows(rows []schema.Fields) []schema.Fields {
	kept := rows[:0]
	for _, r := range rows {
		if !m.isSentinelRow(r) {
			kept = append(kept, r)
		}
	}
	return kept
}

// isSentinelRow reports whether row carries no information at all.
func (m *Merger) isSentinelRow(row schema.Fields) bool {
	for _, v := range row {
		if !m.schema.IsEmpty(v) {
			return false
		}
	}
	return true
}

// detailKey normalizes the row's detail key. Rows without a key share the
// empty key, so fragments of one unnumbered entry fold together.
func (m *Merger) detailKey(row schema.Fields) string {
	v := row[m.schema.Detail.Key]
	if m.schema.IsEmpty(v) {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(v))
}

func (m *Merger) mergeFields(sec schema.Section, dst, src schema.Fields) {
	for _, f := range sec.Fields {
		incoming, ok := src[f.Name]
		if !ok {
			if _, have := dst[f.Name]; !have {
				dst[f.Name] = m.schema.Sentinel
			}
			continue
		}
		if f.Role == schema.RoleCategorical {
			incoming = m.normalizeCategorical(f, incoming)
		}
		dst[f.Name] = m.mergeValue(f, dst[f.Name], incoming)
	}
}

func (m *Merger) mergeValue(f schema.Field, current, incoming string) string {
	current = strings.TrimSpace(current)
	incoming = strings.TrimSpace(incoming)

	if m.schema.IsEmpty(incoming) {
		if current == "" {
			return m.schema.Sentinel
		}
		return current
	}
	if m.schema.IsEmpty(current) {
		return incoming
	}

	switch f.Role {
	case schema.RoleNarrative:
		return appendNarrative(current, incoming)
	default:
		return current
	}
}

func appendNarrative(current, incoming string) string {
	lc, li := strings.ToLower(current), strings.ToLower(incoming)
	switch {
	case strings.Contains(lc, li):
		return current
	case strings.Contains(li, lc):
		return incoming
	default:
		return current + NarrativeSeparator + incoming
	}
}
