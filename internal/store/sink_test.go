package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jmylchreest/refyne-harvest/internal/extract"
	"github.com/jmylchreest/refyne-harvest/internal/logging"
	"github.com/jmylchreest/refyne-harvest/internal/merge"
	"github.com/jmylchreest/refyne-harvest/internal/schema"
)

type fakeUploader struct {
	keys []string
	err  error
}

func (f *fakeUploader) Enabled() bool { return true }

func (f *fakeUploader) Upload(_ context.Context, key, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	f.keys = append(f.keys, key)
	return f.err
}

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenJournal(":memory:", JournalOptions{}, logging.Discard())
	if err != nil {
		t.Fatalf("OpenJournal() error = %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func newTestSink(t *testing.T, uploader Uploader) (*Sink, string) {
	t.Helper()
	dir := t.TempDir()
	sink := NewSink(openTestJournal(t), merge.New(schema.Clinical()), SinkOptions{
		OutputDir: dir,
		RunID:     "01J0RUN",
		Uploader:  uploader,
		Prefix:    "harvest",
	}, logging.Discard())
	return sink, dir
}

func record(id string, subject schema.Fields, details ...schema.Fields) *merge.SubjectRecord {
	m := merge.New(schema.Clinical())
	s := schema.Fields{"ID Paciente": id}
	for k, v := range subject {
		s[k] = v
	}
	return m.Merge(nil, schema.Candidate{Subject: s, Details: details})
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return rows
}

func TestJournal_AppendIsIdempotent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	rec := record("1001", schema.Fields{"Nombre": "Ana"})

	for i, wantNew := range []bool{true, false} {
		inserted, err := j.Append(ctx, "run", rec)
		if err != nil {
			t.Fatalf("Append() #%d error = %v", i, err)
		}
		if inserted != wantNew {
			t.Errorf("Append() #%d inserted = %v, want %v", i, inserted, wantNew)
		}
	}

	entries, err := j.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if diff := cmp.Diff(rec.Subject, entries[0].Record.Subject); diff != "" {
		t.Errorf("subject round trip (-want +got):\n%s", diff)
	}
}

func TestContentHash_IgnoresMapOrder(t *testing.T) {
	a := &merge.SubjectRecord{ID: "1", Subject: schema.Fields{"a": "1", "b": "2"}}
	b := &merge.SubjectRecord{ID: "1", Subject: schema.Fields{"b": "2", "a": "1"}}

	ha, _ := ContentHash(a)
	hb, _ := ContentHash(b)
	if ha != hb {
		t.Errorf("hashes differ: %s vs %s", ha, hb)
	}
}

func TestSink_FlushFoldsByEarliestValue(t *testing.T) {
	sink, dir := newTestSink(t, nil)
	ctx := context.Background()

	snapshots := []*merge.SubjectRecord{
		record("1001", schema.Fields{"Nombre": "Ana Ruiz"}, schema.Fields{"No Consulta": "1", "Diagnostico": "HTA"}),
		record("2002", schema.Fields{"Nombre": "Luis"}),
		record("1001", schema.Fields{"Nombre": "A. Ruiz", "Edad": "54"}, schema.Fields{"No Consulta": "1", "Diagnostico": "DM2"}),
	}
	for _, rec := range snapshots {
		if err := sink.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}

	res, err := sink.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if res.Subjects != 2 || res.Details != 1 {
		t.Errorf("Flush() = %+v, want 2 subjects and 1 detail", res)
	}

	subjects := readCSV(t, filepath.Join(dir, SubjectsFile))
	want := [][]string{
		{"ID Paciente", "Nombre", "Edad", "Fecha", "Peso", "Talla"},
		{"1001", "Ana Ruiz", "54", schema.NotReported, schema.NotReported, schema.NotReported},
		{"2002", "Luis", schema.NotReported, schema.NotReported, schema.NotReported, schema.NotReported},
	}
	if diff := cmp.Diff(want, subjects); diff != "" {
		t.Errorf("subjects.csv (-want +got):\n%s", diff)
	}

	details := readCSV(t, filepath.Join(dir, DetailsFile))
	if details[0][0] != "ID Paciente" {
		t.Errorf("details header starts with %q, want the subject key", details[0][0])
	}
	var diagnoses []string
	col := indexOf(details[0], "Diagnostico")
	for _, row := range details[1:] {
		if row[0] == "1001" {
			diagnoses = append(diagnoses, row[col])
		}
	}
	if diff := cmp.Diff([]string{"HTA; DM2"}, diagnoses); diff != "" {
		t.Errorf("1001 diagnoses (-want +got):\n%s", diff)
	}
}

func TestSink_FlushWritesVitals(t *testing.T) {
	sink, dir := newTestSink(t, nil)
	ctx := context.Background()

	c := schema.Candidate{Subject: schema.Fields{"ID Paciente": "1001", "Nombre": "Ana"}}
	extract.ReadVitals("Control. PESO 80 kgs TALLA 175 cms. Control 2: PESO 78.5 kgs").Apply(schema.Clinical(), &c)
	if err := sink.Upsert(ctx, merge.New(schema.Clinical()).Merge(nil, c)); err != nil {
		t.Fatal(err)
	}
	if _, err := sink.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	subjects := readCSV(t, filepath.Join(dir, SubjectsFile))
	if len(subjects) != 2 {
		t.Fatalf("subjects.csv rows = %d, want 2", len(subjects))
	}
	got := map[string]string{
		"Peso":  subjects[1][indexOf(subjects[0], "Peso")],
		"Talla": subjects[1][indexOf(subjects[0], "Talla")],
	}
	if diff := cmp.Diff(map[string]string{"Peso": "78.5", "Talla": "175"}, got); diff != "" {
		t.Errorf("vitals columns (-want +got):\n%s", diff)
	}
}

func TestSink_FlushIsRepeatable(t *testing.T) {
	sink, dir := newTestSink(t, nil)
	ctx := context.Background()
	if err := sink.Upsert(ctx, record("1001", schema.Fields{"Nombre": "Ana"})); err != nil {
		t.Fatal(err)
	}

	if _, err := sink.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	first, _ := os.ReadFile(filepath.Join(dir, SubjectsFile))

	// A rerun journals the same snapshot again.
	if err := sink.Upsert(ctx, record("1001", schema.Fields{"Nombre": "Ana"})); err != nil {
		t.Fatal(err)
	}
	if _, err := sink.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	second, _ := os.ReadFile(filepath.Join(dir, SubjectsFile))

	if !bytes.Equal(first, second) {
		t.Errorf("second flush changed subjects.csv:\n%s\n---\n%s", first, second)
	}

	leftovers, _ := filepath.Glob(filepath.Join(dir, ".*"))
	if len(leftovers) != 0 {
		t.Errorf("temporary files left behind: %v", leftovers)
	}
}

func TestSink_UpsertAfterCancel(t *testing.T) {
	sink, _ := newTestSink(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sink.Upsert(ctx, record("1001", nil)); err != nil {
		t.Fatalf("Upsert() on cancelled context error = %v", err)
	}

	res, err := sink.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if res.Subjects != 1 {
		t.Errorf("Subjects = %d, want 1", res.Subjects)
	}
}

func TestSink_Upload(t *testing.T) {
	up := &fakeUploader{}
	sink, _ := newTestSink(t, up)
	ctx := context.Background()
	if err := sink.Upsert(ctx, record("1001", nil)); err != nil {
		t.Fatal(err)
	}

	res, err := sink.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if !res.Uploaded {
		t.Error("Uploaded = false")
	}
	want := []string{"harvest/01J0RUN/subjects.csv", "harvest/01J0RUN/details.csv"}
	if diff := cmp.Diff(want, up.keys); diff != "" {
		t.Errorf("uploaded keys (-want +got):\n%s", diff)
	}

	up.err = errors.New("bucket unavailable")
	if _, err := sink.Flush(ctx); err == nil {
		t.Error("Flush() error = nil, want upload failure")
	}
}

func TestSink_Failures(t *testing.T) {
	sink, _ := newTestSink(t, nil)
	ctx := context.Background()

	if err := sink.RecordFailure(ctx, "3003", "infer", errors.New("model unavailable")); err != nil {
		t.Fatal(err)
	}
	failures, err := sink.Journal().Failures(ctx, "01J0RUN")
	if err != nil {
		t.Fatal(err)
	}
	if len(failures) != 1 || failures[0].SubjectID != "3003" || failures[0].Stage != "infer" {
		t.Errorf("Failures() = %+v", failures)
	}

	other, _ := sink.Journal().Failures(ctx, "other-run")
	if len(other) != 0 {
		t.Errorf("Failures(other-run) = %+v, want none", other)
	}
}

func TestTables_DropsUnknownFields(t *testing.T) {
	rec := &merge.SubjectRecord{
		ID:      "1001",
		Subject: schema.Fields{"ID Paciente": "1001", "Nombre": "Ana", "Color": "azul"},
	}
	subjects, details := Tables(schema.Clinical(), []*merge.SubjectRecord{rec})

	if len(subjects[1]) != len(schema.Clinical().Subject.Fields) {
		t.Errorf("subject row = %v", subjects[1])
	}
	if len(details) != 1 {
		t.Errorf("details = %v, want header only", details)
	}
}

func indexOf(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}
