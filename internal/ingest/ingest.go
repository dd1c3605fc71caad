// Package ingest runs saved documents through the same inference, merge and
// sink stages as a portal run.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/refyne-harvest/internal/extract"
	"github.com/jmylchreest/refyne-harvest/internal/logging"
	"github.com/jmylchreest/refyne-harvest/internal/merge"
	"github.com/jmylchreest/refyne-harvest/internal/schema"
)

var (
	// ErrUnsupported is returned by Read for file types it cannot turn into content.
	ErrUnsupported = errors.New("unsupported document type")
	// ErrNoText is returned for a PDF without a text layer.
	ErrNoText = errors.New("document has no extractable text")
)

// Inferrer turns content into a candidate record.
type Inferrer interface {
	Infer(ctx context.Context, content extract.RawContent, s *schema.Schema) (schema.Candidate, error)
}

// Sink persists merged records and failures.
type Sink interface {
	Upsert(ctx context.Context, rec *merge.SubjectRecord) error
	RecordFailure(ctx context.Context, subjectID, stage string, cause error) error
}

// Options configures an Ingester.
type Options struct {
	MaxTextChars int
	Workers      int // subjects processed concurrently
}

// Result summarises an ingest.
type Result struct {
	Files    int
	Skipped  int
	Failed   int
	Subjects int
}

// Ingester processes a directory of documents.
type Ingester struct {
	model  Inferrer
	merger *merge.Merger
	sink   Sink
	opts   Options
	logger *slog.Logger
}

// New creates an ingester.
func New(model Inferrer, merger *merge.Merger, sink Sink, opts Options, logger *slog.Logger) *Ingester {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxTextChars <= 0 {
		opts.MaxTextChars = 15000
	}
	return &Ingester{
		model:  model,
		merger: merger,
		sink:   sink,
		opts:   opts,
		logger: logger.With("component", "ingest"),
	}
}

// document is one file and the subject it belongs to.
type document struct {
	path      string
	subjectID string
}

// collect lists the supported documents under dir grouped by subject. Files
// in a subdirectory belong to the subject named after that subdirectory;
// files directly in dir are subjects of their own, named after the file.
func collect(dir string) (map[string][]document, []string, int, error) {
	groups := make(map[string][]document)
	var order []string
	skipped := 0

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !Supported(path) {
			skipped++
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		id := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
		if parts := strings.Split(filepath.ToSlash(rel), "/"); len(parts) > 1 {
			id = parts[0]
		}

		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], document{path: path, subjectID: id})
		return nil
	})
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	slices.Sort(order)
	for _, docs := range groups {
		slices.SortFunc(docs, func(a, b document) int { return strings.Compare(a.path, b.path) })
	}
	return groups, order, skipped, nil
}

// Supported reports whether Read handles the file's extension.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".text", ".md", ".html", ".htm", ".pdf", ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}

// Read converts a document file into content for the model.
func Read(path string, maxChars int) (extract.RawContent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return extract.RawContent{}, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".text", ".md":
		return extract.TextContent(string(data), extract.RungFile, maxChars), nil
	case ".html", ".htm":
		text, err := HTMLText(data)
		if err != nil {
			return extract.RawContent{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return extract.TextContent(text, extract.RungFile, maxChars), nil
	case ".pdf":
		text, err := PDFText(data)
		if err != nil {
			return extract.RawContent{}, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return extract.TextContent(text, extract.RungFile, maxChars), nil
	case ".png", ".jpg", ".jpeg":
		if len(data) == 0 {
			return extract.RawContent{}, fmt.Errorf("%s: empty image", path)
		}
		return extract.ImageContent(data, extract.RungFile), nil
	}
	return extract.RawContent{}, fmt.Errorf("%w: %s", ErrUnsupported, path)
}

// PDFText returns the text layer of a PDF, pages in order.
func PDFText(data []byte) (text string, err error) {
	// The parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract pdf text: %w", err)
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(string(out))
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

// blockTags end a line in the extracted text.
const blockTags = "p, div, br, tr, li, h1, h2, h3, h4, h5, h6, table, section, pre"

// HTMLText returns the readable text of an HTML document, one block per line.
func HTMLText(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, head, template").Remove()
	doc.Find(blockTags).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	doc.Find("td, th").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var lines []string
	for _, line := range strings.Split(root.Text(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// Dir ingests every supported document under dir. Subjects are processed
// concurrently; the documents of one subject are merged in name order.
func (in *Ingester) Dir(ctx context.Context, dir string) (*Result, error) {
	groups, order, skipped, err := collect(dir)
	if err != nil {
		return nil, err
	}
	res := &Result{Skipped: skipped}
	var mu sync.Mutex

	acc := merge.NewAccumulator(in.merger)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.opts.Workers)

	for _, id := range order {
		if gctx.Err() != nil {
			break
		}
		docs := groups[id]
		g.Go(func() error {
			files, failed := in.subject(gctx, acc, id, docs)
			mu.Lock()
			res.Files += files
			res.Failed += failed
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	res.Subjects = acc.Len()
	in.logger.Info("ingest finished",
		"subjects", res.Subjects, "files", res.Files, "failed", res.Failed, "skipped", res.Skipped)
	return res, ctx.Err()
}

func (in *Ingester) subject(ctx context.Context, acc *merge.Accumulator, id string, docs []document) (files, failed int) {
	ctx = logging.WithSubjectID(ctx, id)
	sch := in.merger.Schema()

	touched := make(map[string]*merge.SubjectRecord)
	var ids []string
	for _, doc := range docs {
		if ctx.Err() != nil {
			break
		}
		files++

		content, err := Read(doc.path, in.opts.MaxTextChars)
		if err != nil {
			failed++
			in.fail(ctx, id, "read", err)
			continue
		}
		candidate, err := in.model.Infer(ctx, content, sch)
		if err != nil {
			failed++
			in.fail(ctx, id, "infer", err)
			continue
		}
		if content.Kind == extract.KindText {
			extract.ReadVitals(content.Text).Apply(sch, &candidate)
		}
		rec := acc.Add(id, candidate)
		if _, ok := touched[rec.ID]; !ok {
			ids = append(ids, rec.ID)
		}
		touched[rec.ID] = rec
		in.logger.Debug("document merged", "file", filepath.Base(doc.path), "subject_id", rec.ID)
	}

	for _, rid := range ids {
		if err := in.sink.Upsert(ctx, touched[rid]); err != nil {
			in.fail(ctx, rid, "sink", err)
		}
	}
	return files, failed
}

func (in *Ingester) fail(ctx context.Context, id, stage string, err error) {
	in.logger.Warn("document failed", "subject_id", id, "stage", stage, "error", err)
	if ferr := in.sink.RecordFailure(ctx, id, stage, err); ferr != nil {
		in.logger.Error("failed to record failure", "error", ferr)
	}
}
