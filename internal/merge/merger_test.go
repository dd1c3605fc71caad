package merge

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/jmylchreest/refyne-harvest/internal/schema"
)

const nr = schema.NotReported

func visit(fields schema.Fields) schema.Fields {
	row := schema.Fields{
		"ID Paciente":      "1001",
		"No Consulta":      nr,
		"Tabaquismo":       nr,
		"Diabetes":         nr,
		"PSA":              nr,
		"Presion Arterial": nr,
		"Diagnostico":      nr,
		"Tratamiento":      nr,
	}
	for k, v := range fields {
		row[k] = v
	}
	return row
}

func TestMerge_PartialPages(t *testing.T) {
	m := New(schema.Clinical())

	first := schema.Candidate{
		Subject: schema.Fields{"ID Paciente": "1001"},
		Details: []schema.Fields{{"PSA": "", "Diagnostico": "A"}},
	}
	second := schema.Candidate{
		Subject: schema.Fields{"ID Paciente": "1001"},
		Details: []schema.Fields{{"PSA": "4.2", "Diagnostico": "B"}},
	}

	got := m.Merge(m.Merge(nil, first), second)

	if len(got.Details) != 1 {
		t.Fatalf("got %d detail rows, want 1: %+v", len(got.Details), got.Details)
	}
	row := got.Details[0]
	if row["PSA"] != "4.2" {
		t.Errorf("PSA = %q, want 4.2", row["PSA"])
	}
	if row["Diagnostico"] != "A; B" {
		t.Errorf("Diagnostico = %q, want %q", row["Diagnostico"], "A; B")
	}
	if got.Sources != 2 {
		t.Errorf("Sources = %d, want 2", got.Sources)
	}
}

func TestMerge_Rules(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		existing string
		incoming string
		want     string
	}{
		{"sentinel adopts", "PSA", nr, "4.2", "4.2"},
		{"empty adopts", "PSA", "", "4.2", "4.2"},
		{"identity keeps", "PSA", "4.2", "5.0", "4.2"},
		{"identity ignores empty", "PSA", "4.2", "", "4.2"},
		{"narrative appends", "Diagnostico", "HTA", "DM2", "HTA; DM2"},
		{"narrative substring guard", "Diagnostico", "HTA; DM2", "dm2", "HTA; DM2"},
		{"narrative superset replaces", "Diagnostico", "HTA", "HTA controlada", "HTA controlada"},
		{"categorical synonym", "Diabetes", nr, "yes", "Si"},
		{"categorical accent", "Diabetes", nr, "sí", "Si"},
		{"categorical leading word", "Tabaquismo", nr, "No refiere", "No"},
		{"categorical keeps existing", "Diabetes", "No", "Si", "No"},
		{"categorical unknown", "Diabetes", nr, "tipo 2", nr},
	}

	m := New(schema.Clinical())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			existing := &SubjectRecord{
				ID:      "1001",
				Subject: schema.Fields{"ID Paciente": "1001"},
				Details: []schema.Fields{visit(schema.Fields{"No Consulta": "1", tt.field: tt.existing})},
			}
			c := schema.Candidate{Details: []schema.Fields{{"No Consulta": "1", tt.field: tt.incoming}}}

			got := m.Merge(existing, c)

			if v := got.Details[0][tt.field]; v != tt.want {
				t.Errorf("%s = %q, want %q", tt.field, v, tt.want)
			}
			if existing.Details[0][tt.field] != tt.existing {
				t.Error("Merge modified the existing record")
			}
		})
	}
}

func TestMerge_Idempotent(t *testing.T) {
	m := New(schema.Clinical())
	candidates := []schema.Candidate{
		{
			Subject: schema.Fields{"ID Paciente": "1001", "Nombre": "Ana", "Edad": "54"},
			Details: []schema.Fields{
				{"No Consulta": "1", "Diagnostico": "HTA", "Diabetes": "no"},
				{"No Consulta": "2", "Diagnostico": "HTA; DM2", "Tratamiento": "Losartan"},
			},
		},
		schema.Clinical().Default(),
		{Details: []schema.Fields{{"Diagnostico": "sin numero"}}},
	}

	for _, c := range candidates {
		once := m.Merge(nil, c)
		twice := m.Merge(once, c)
		if diff := cmp.Diff(once, twice, cmpopts.IgnoreFields(SubjectRecord{}, "Sources")); diff != "" {
			t.Errorf("merging twice changed the record (-once +twice):\n%s", diff)
		}
	}
}

func TestMerge_IdentityStable(t *testing.T) {
	m := New(schema.Clinical())
	rec := m.Merge(nil, schema.Candidate{
		Subject: schema.Fields{"ID Paciente": "1001", "Nombre": "Ana Ruiz", "Edad": "54", "Fecha": "01/02/1970"},
	})

	conflicting := []schema.Fields{
		{"Nombre": "ANA RUIZ PEREZ", "Edad": "55"},
		{"Nombre": nr, "Edad": ""},
		{"Fecha": "02/01/1970"},
	}
	for _, subject := range conflicting {
		rec = m.Merge(rec, schema.Candidate{Subject: subject})
	}

	want := schema.Fields{"ID Paciente": "1001", "Nombre": "Ana Ruiz", "Edad": "54", "Fecha": "01/02/1970"}
	if diff := cmp.Diff(want, rec.Subject); diff != "" {
		t.Errorf("identity fields changed (-want +got):\n%s", diff)
	}
}

func TestMerge_DetailRows(t *testing.T) {
	m := New(schema.Clinical())

	rec := m.Merge(nil, schema.Clinical().Default())
	if len(rec.Details) != 1 {
		t.Fatalf("default candidate should keep one sentinel row, got %d", len(rec.Details))
	}

	rec = m.Merge(rec, schema.Candidate{Details: []schema.Fields{
		{"No Consulta": "1", "PSA": "3.1"},
		{"No Consulta": "2", "PSA": "3.8"},
	}})
	rec = m.Merge(rec, schema.Candidate{Details: []schema.Fields{{"No Consulta": " 2 ", "Tratamiento": "Tamsulosina"}}})

	if len(rec.Details) != 2 {
		t.Fatalf("got %d detail rows, want 2: %+v", len(rec.Details), rec.Details)
	}
	if rec.Details[1]["Tratamiento"] != "Tamsulosina" || rec.Details[1]["PSA"] != "3.8" {
		t.Errorf("visit 2 = %+v", rec.Details[1])
	}
	for _, row := range rec.Details {
		if len(row) != len(schema.Clinical().Detail.Fields) {
			t.Errorf("row has %d fields, want every schema field: %+v", len(row), row)
		}
	}
}

func TestMerge_SubjectIDFromDetails(t *testing.T) {
	m := New(schema.Clinical())
	rec := m.Merge(nil, schema.Candidate{Details: []schema.Fields{{"ID Paciente": "77", "No Consulta": "1"}}})

	if rec.ID != "77" {
		t.Errorf("ID = %q, want 77", rec.ID)
	}
	if rec.Subject["ID Paciente"] != "77" {
		t.Errorf("subject key = %q, want 77", rec.Subject["ID Paciente"])
	}
}

func TestAccumulator(t *testing.T) {
	acc := NewAccumulator(New(schema.Clinical()))

	acc.Add("list-1", schema.Candidate{Subject: schema.Fields{"ID Paciente": "1001", "Nombre": "Ana"}})
	acc.Add("list-2", schema.Candidate{Subject: schema.Fields{"Nombre": "Luis"}})
	acc.Add("list-1", schema.Candidate{Subject: schema.Fields{"ID Paciente": "1001", "Edad": "54"}})

	if acc.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", acc.Len())
	}

	records := acc.Records()
	if records[0].ID != "1001" || records[1].ID != "list-2" {
		t.Errorf("order = [%s %s], want [1001 list-2]", records[0].ID, records[1].ID)
	}
	if records[0].Subject["Edad"] != "54" || records[0].Sources != 2 {
		t.Errorf("record 1001 = %+v", records[0])
	}

	got, ok := acc.Get("list-2")
	if !ok || got.Subject["ID Paciente"] != "list-2" {
		t.Errorf("Get(list-2) = %+v, %v", got, ok)
	}

	got.Subject["Nombre"] = "changed"
	again, _ := acc.Get("list-2")
	if again.Subject["Nombre"] != "Luis" {
		t.Error("Get returned a shared record")
	}
}
