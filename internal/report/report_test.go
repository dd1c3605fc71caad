package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/jmylchreest/refyne-harvest/internal/merge"
	"github.com/jmylchreest/refyne-harvest/internal/schema"
	"github.com/jmylchreest/refyne-harvest/internal/store"
)

func testRecords() []*merge.SubjectRecord {
	return []*merge.SubjectRecord{
		{
			ID:      "1001",
			Subject: schema.Fields{"ID Paciente": "1001", "Nombre": "Ana <Pérez>"},
			Details: []schema.Fields{{"No Consulta": "7", "Diagnostico": "HTA; DM2"}},
		},
		{
			ID:      "1002",
			Subject: schema.Fields{"ID Paciente": "1002", "Nombre": "Luis"},
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"HTML", FormatHTML, false},
		{"md", FormatMarkdown, false},
		{"csv", FormatCSV, false},
		{"pdf", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestRender(t *testing.T) {
	failures := []store.Failure{{SubjectID: "1003", Stage: "infer", Error: "model unavailable", CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}}

	tests := []struct {
		name    string
		opts    Options
		want    []string
		notWant []string
	}{
		{
			name:    "console subjects only",
			opts:    Options{Format: FormatTable},
			want:    []string{"paciente (2)", "1001", "Ana <Pérez>", "failures (1)", "model unavailable"},
			notWant: []string{"consultas ("},
		},
		{
			name: "console with details",
			opts: Options{Format: FormatTable, Details: true},
			want: []string{"consultas (1)", "HTA; DM2"},
		},
		{
			name:    "html escapes cells",
			opts:    Options{Format: FormatHTML},
			want:    []string{`<table class="harvest-table">`, "Ana &lt;Pérez&gt;", "<caption"},
			notWant: []string{"Ana <Pérez>"},
		},
		{
			name: "csv",
			opts: Options{Format: FormatCSV, Details: true},
			want: []string{"1002,Luis,No reporta,No reporta", "1001,7,"},
		},
		{
			name: "markdown",
			opts: Options{Format: FormatMarkdown},
			want: []string{"| 1001 |", "Luis"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Render(&buf, schema.Clinical(), testRecords(), failures, tt.opts); err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("output unexpectedly contains %q", w)
				}
			}
		})
	}
}

func TestRender_WrapsWideCells(t *testing.T) {
	recs := []*merge.SubjectRecord{{ID: "1", Subject: schema.Fields{"Nombre": strings.Repeat("palabra ", 10)}}}

	var buf bytes.Buffer
	if err := Render(&buf, schema.Clinical(), recs, nil, Options{Format: FormatTable, MaxWidth: 20}); err != nil {
		t.Fatal(err)
	}
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, strings.Repeat("palabra ", 4)) {
			t.Errorf("cell not wrapped: %q", line)
		}
	}
}
