package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/jmylchreest/refyne-harvest/internal/merge"
	"github.com/jmylchreest/refyne-harvest/internal/schema"
)

// Output file names written by Flush.
const (
	SubjectsFile = "subjects.csv"
	DetailsFile  = "details.csv"
)

// Uploader copies flushed files to remote storage.
type Uploader interface {
	Upload(ctx context.Context, key, path string) error
	Enabled() bool
}

// FlushResult describes one flush.
type FlushResult struct {
	Subjects     int
	Details      int
	SubjectsPath string
	DetailsPath  string
	Uploaded     bool
}

// Sink journals merged records and writes the output tables.
type Sink struct {
	journal  *Journal
	merger   *merge.Merger
	outDir   string
	runID    string
	uploader Uploader
	prefix   string
	logger   *slog.Logger

	mu sync.Mutex
}

// SinkOptions configures a Sink.
type SinkOptions struct {
	OutputDir string
	RunID     string
	Uploader  Uploader // optional
	Prefix    string   // object key prefix for uploads
}

// NewSink creates a sink writing to opts.OutputDir.
func NewSink(journal *Journal, merger *merge.Merger, opts SinkOptions, logger *slog.Logger) *Sink {
	return &Sink{
		journal:  journal,
		merger:   merger,
		outDir:   opts.OutputDir,
		runID:    opts.RunID,
		uploader: opts.Uploader,
		prefix:   opts.Prefix,
		logger:   logger.With("component", "sink"),
	}
}

// Journal returns the underlying journal.
func (s *Sink) Journal() *Journal { return s.journal }

// Upsert journals a snapshot of rec. The write is not abandoned when ctx is
// cancelled, so records captured before a shutdown still reach the journal.
func (s *Sink) Upsert(ctx context.Context, rec *merge.SubjectRecord) error {
	if rec == nil {
		return nil
	}
	_, err := s.journal.Append(context.WithoutCancel(ctx), s.runID, rec)
	return err
}

// RecordFailure journals a subject the run gave up on.
func (s *Sink) RecordFailure(ctx context.Context, subjectID, stage string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.journal.RecordFailure(context.WithoutCancel(ctx), Failure{
		RunID:     s.runID,
		SubjectID: subjectID,
		Stage:     stage,
		Error:     msg,
	})
}

// Records folds the journal into one record per subject, in order of first
// appearance. Snapshots are merged oldest first, so the earliest non-empty
// value of an identity field wins.
func (s *Sink) Records(ctx context.Context) ([]*merge.SubjectRecord, error) {
	entries, err := s.journal.Entries(ctx)
	if err != nil {
		return nil, err
	}
	return Fold(s.merger, entries), nil
}

// Fold merges journal entries by subject id.
func Fold(m *merge.Merger, entries []Entry) []*merge.SubjectRecord {
	byID := make(map[string]*merge.SubjectRecord)
	var order []string
	for _, e := range entries {
		existing, ok := byID[e.SubjectID]
		if !ok {
			existing = &merge.SubjectRecord{ID: e.SubjectID}
			order = append(order, e.SubjectID)
		}
		byID[e.SubjectID] = m.Merge(existing, e.Record.Candidate())
	}

	out := make([]*merge.SubjectRecord, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

// Flush rewrites the output tables from the journal and uploads them when
// storage is enabled.
func (s *Sink) Flush(ctx context.Context) (*FlushResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fold journal: %w", err)
	}

	if err := os.MkdirAll(s.outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	sch := s.merger.Schema()
	result := &FlushResult{
		SubjectsPath: filepath.Join(s.outDir, SubjectsFile),
		DetailsPath:  filepath.Join(s.outDir, DetailsFile),
	}

	subjectRows, detailRows := Tables(sch, records)
	result.Subjects = len(subjectRows) - 1
	result.Details = len(detailRows) - 1

	if err := writeCSVAtomic(result.SubjectsPath, subjectRows); err != nil {
		return nil, err
	}
	if err := writeCSVAtomic(result.DetailsPath, detailRows); err != nil {
		return nil, err
	}

	if s.uploader != nil && s.uploader.Enabled() {
		for _, path := range []string{result.SubjectsPath, result.DetailsPath} {
			key := objectKey(s.prefix, s.runID, filepath.Base(path))
			if err := s.uploader.Upload(ctx, key, path); err != nil {
				return result, fmt.Errorf("failed to upload %s: %w", filepath.Base(path), err)
			}
		}
		result.Uploaded = true
	}

	if err := s.journal.Sync(); err != nil {
		s.logger.Warn("journal sync failed", "error", err)
	}

	s.logger.Info("output flushed",
		"subjects", result.Subjects,
		"details", result.Details,
		"dir", s.outDir,
		"uploaded", result.Uploaded,
	)
	return result, nil
}

// Tables lays records out as the subjects and details tables, header row
// first. Columns follow the schema; other fields are dropped. Detail rows
// carry the subject id as their first column.
func Tables(sch *schema.Schema, records []*merge.SubjectRecord) (subjects, details [][]string) {
	subjectCols := sch.Subject.Names()
	subjects = append(subjects, subjectCols)

	key := sch.Subject.Key
	detailCols := []string{key}
	for _, name := range sch.Detail.Names() {
		if name != key {
			detailCols = append(detailCols, name)
		}
	}
	details = append(details, detailCols)

	for _, rec := range records {
		subjects = append(subjects, row(sch, subjectCols, rec.Subject, rec.ID, key))
		for _, d := range rec.Details {
			details = append(details, row(sch, detailCols, d, rec.ID, key))
		}
	}
	return subjects, details
}

func row(sch *schema.Schema, cols []string, fields schema.Fields, id, key string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		v, ok := fields[c]
		if !ok || v == "" {
			v = sch.Sentinel
		}
		out[i] = v
	}
	if id != "" {
		for i, c := range cols {
			if c == key {
				out[i] = id
			}
		}
	}
	return out
}

// writeCSVAtomic writes rows to a temporary file in the target directory and
// renames it over path.
func writeCSVAtomic(path string, rows [][]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	// UTF-8 BOM so spreadsheet tools detect the encoding of accented names.
	if _, err := tmp.WriteString("\ufeff"); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}

	w := csv.NewWriter(tmp)
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func objectKey(prefix, runID, name string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{prefix, runID, name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return filepath.ToSlash(filepath.Join(parts...))
}
