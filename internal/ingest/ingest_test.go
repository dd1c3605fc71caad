package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/jmylchreest/refyne-harvest/internal/extract"
	"github.com/jmylchreest/refyne-harvest/internal/llm"
	"github.com/jmylchreest/refyne-harvest/internal/logging"
	"github.com/jmylchreest/refyne-harvest/internal/merge"
	"github.com/jmylchreest/refyne-harvest/internal/schema"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeModel struct {
	mu    sync.Mutex
	kinds []extract.Kind
	fail  string // infer fails for text containing this
}

func (m *fakeModel) Infer(_ context.Context, content extract.RawContent, _ *schema.Schema) (schema.Candidate, error) {
	m.mu.Lock()
	m.kinds = append(m.kinds, content.Kind)
	m.mu.Unlock()

	if m.fail != "" && strings.Contains(content.Text, m.fail) {
		return schema.Candidate{}, llm.ErrModelUnavailable
	}
	diagnosis := "HTA"
	if content.Kind == extract.KindScreenshot {
		diagnosis = "DM2"
	} else if strings.Contains(content.Text, "Asma") {
		diagnosis = "Asma"
	}
	return schema.Candidate{
		Subject: schema.Fields{"Nombre": "Paciente"},
		Details: []schema.Fields{{"Diagnostico": diagnosis}},
	}, nil
}

type fakeSink struct {
	mu       sync.Mutex
	records  map[string]*merge.SubjectRecord
	failures []string
}

func (s *fakeSink) Upsert(_ context.Context, rec *merge.SubjectRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == nil {
		s.records = make(map[string]*merge.SubjectRecord)
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *fakeSink) RecordFailure(_ context.Context, subjectID, stage string, _ error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, subjectID+"/"+stage)
	return nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestHTMLText(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "drops scripts and styles",
			html: `<html><head><title>x</title><style>p{}</style></head><body><script>var a=1;</script><p>Diagnóstico: HTA</p></body></html>`,
			want: "Diagnóstico: HTA",
		},
		{
			name: "blocks become lines",
			html: `<body><h1>Historia</h1><div>PESO 80 kgs</div><p>TALLA   175 cms</p></body>`,
			want: "Historia\nPESO 80 kgs\nTALLA 175 cms",
		},
		{
			name: "table cells are separated",
			html: `<table><tr><td>Fecha</td><td>01/02/2024</td></tr><tr><td>PSA</td><td>4.2</td></tr></table>`,
			want: "Fecha 01/02/2024\nPSA 4.2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HTMLText([]byte(tt.html))
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("HTMLText() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// textPDF builds a one-page PDF whose text layer is text.
func textPDF(text string) []byte {
	content := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return b.Bytes()
}

func TestPDFText(t *testing.T) {
	text, err := PDFText(textPDF("Diagnostico: HTA"))
	if err != nil {
		t.Fatalf("PDFText() error = %v", err)
	}
	if !strings.Contains(text, "Diagnostico: HTA") {
		t.Errorf("PDFText() = %q", text)
	}

	if _, err := PDFText(textPDF("")); !errors.Is(err, ErrNoText) {
		t.Errorf("empty pdf error = %v, want ErrNoText", err)
	}
	if _, err := PDFText([]byte("%PDF-1.4 broken")); err == nil {
		t.Error("PDFText() on a broken file returned no error")
	}
}

func TestDir_PDF(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "3003.pdf"), string(textPDF("Consulta 1: Asma. PESO 64 kgs TALLA 160 cms")))

	model := &fakeModel{}
	sink := &fakeSink{}
	res, err := New(model, merge.New(schema.Clinical()), sink, Options{}, logging.Discard()).Dir(context.Background(), dir)
	if err != nil {
		t.Fatalf("Dir() error = %v", err)
	}
	if res.Files != 1 || res.Failed != 0 || res.Skipped != 0 {
		t.Errorf("result = %+v", res)
	}

	rec := sink.records["3003"]
	if rec == nil {
		t.Fatalf("no record for 3003: %v", sink.records)
	}
	if got := rec.Details[0]["Diagnostico"]; got != "Asma" {
		t.Errorf("diagnosis = %q, want Asma", got)
	}
	if rec.Subject[extract.WeightField] != "64" || rec.Subject[extract.HeightField] != "160" {
		t.Errorf("vitals = %q / %q", rec.Subject[extract.WeightField], rec.Subject[extract.HeightField])
	}
	if diff := cmp.Diff([]extract.Kind{extract.KindText}, model.kinds); diff != "" {
		t.Errorf("content kinds (-want +got):\n%s", diff)
	}
}

func TestRead(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "  "+strings.Repeat("x", 50)+"  ")
	writeFile(t, filepath.Join(dir, "b.png"), "\x89PNG\r\n\x1a\n0000")
	writeFile(t, filepath.Join(dir, "c.docx"), "PK")
	writeFile(t, filepath.Join(dir, "d.pdf"), string(textPDF("PESO 80 kgs TALLA 175 cms")))

	rc, err := Read(filepath.Join(dir, "a.txt"), 20)
	if err != nil {
		t.Fatal(err)
	}
	if rc.Kind != extract.KindText || rc.Rung != extract.RungFile || len(rc.Text) != 20 || !rc.Truncated || rc.SourceLength != 50 {
		t.Errorf("text content = %+v", rc)
	}

	rc, err = Read(filepath.Join(dir, "b.png"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if rc.Kind != extract.KindScreenshot || rc.MediaType != "image/png" {
		t.Errorf("image content kind=%s media=%s", rc.Kind, rc.MediaType)
	}

	if _, err := Read(filepath.Join(dir, "c.docx"), 0); !errors.Is(err, ErrUnsupported) {
		t.Errorf("docx error = %v, want ErrUnsupported", err)
	}

	rc, err = Read(filepath.Join(dir, "d.pdf"), 0)
	if err != nil {
		t.Fatalf("Read(pdf) error = %v", err)
	}
	if rc.Kind != extract.KindText || !strings.Contains(rc.Text, "PESO 80 kgs") {
		t.Errorf("pdf content kind=%s text=%q", rc.Kind, rc.Text)
	}
}

func TestDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "1001.txt"), "Consulta. PESO 72.5 kgs TALLA 168 cms")
	writeFile(t, filepath.Join(dir, "2002", "01.html"), "<p>Consulta 1: Asma</p>")
	writeFile(t, filepath.Join(dir, "2002", "02.png"), "\x89PNG\r\n\x1a\n0000")
	writeFile(t, filepath.Join(dir, "notes.docx"), "PK")
	writeFile(t, filepath.Join(dir, ".cache", "x.txt"), "ignored")

	model := &fakeModel{}
	sink := &fakeSink{}
	in := New(model, merge.New(schema.Clinical()), sink, Options{Workers: 2}, logging.Discard())

	res, err := in.Dir(context.Background(), dir)
	if err != nil {
		t.Fatalf("Dir() error = %v", err)
	}
	want := &Result{Files: 3, Skipped: 1, Subjects: 2}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("Result mismatch (-want +got):\n%s", diff)
	}

	first := sink.records["1001"]
	if first == nil {
		t.Fatalf("no record for 1001: %v", sink.records)
	}
	if first.Subject[extract.WeightField] != "72.5" || first.Subject[extract.HeightField] != "168" {
		t.Errorf("vitals = %q / %q", first.Subject[extract.WeightField], first.Subject[extract.HeightField])
	}

	second := sink.records["2002"]
	if second == nil || len(second.Details) != 1 {
		t.Fatalf("record 2002 = %+v", second)
	}
	if got := second.Details[0]["Diagnostico"]; got != "Asma; DM2" {
		t.Errorf("merged diagnosis = %q, want documents merged in name order", got)
	}
	if !slices.Contains(model.kinds, extract.KindScreenshot) {
		t.Error("image document was not sent as a screenshot")
	}
}

func TestDir_FailuresAreRecorded(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "1001.txt"), "documento roto")
	writeFile(t, filepath.Join(dir, "1002.txt"), "Consulta normal")

	sink := &fakeSink{}
	in := New(&fakeModel{fail: "roto"}, merge.New(schema.Clinical()), sink, Options{}, logging.Discard())

	res, err := in.Dir(context.Background(), dir)
	if err != nil {
		t.Fatalf("Dir() error = %v", err)
	}
	if res.Failed != 1 || res.Subjects != 1 {
		t.Errorf("result = %+v", res)
	}
	if diff := cmp.Diff([]string{"1001/infer"}, sink.failures); diff != "" {
		t.Errorf("failures mismatch (-want +got):\n%s", diff)
	}
	if _, ok := sink.records["1002"]; !ok {
		t.Error("healthy document was not stored")
	}
}

func TestDir_Cancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "1001.txt"), "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(&fakeModel{}, merge.New(schema.Clinical()), &fakeSink{}, Options{}, logging.Discard()).Dir(ctx, dir)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Dir() error = %v, want context.Canceled", err)
	}
}
