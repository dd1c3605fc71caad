// Package report renders harvested records as console, markdown, CSV or HTML
// tables.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/jmylchreest/refyne-harvest/internal/merge"
	"github.com/jmylchreest/refyne-harvest/internal/schema"
	"github.com/jmylchreest/refyne-harvest/internal/store"
)

// Format is an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatMarkdown Format = "markdown"
	FormatCSV      Format = "csv"
	FormatHTML     Format = "html"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatMarkdown, FormatCSV, FormatHTML:
		return f, nil
	case "", "console", "text":
		return FormatTable, nil
	case "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unknown report format %q", s)
}

// Options configures Render.
type Options struct {
	Format   Format
	Details  bool // include the details table
	MaxWidth int  // wrap console cells wider than this; 0 disables
}

// Render writes the subjects table, and the details and failures tables when
// requested, to w.
func Render(w io.Writer, sch *schema.Schema, records []*merge.SubjectRecord, failures []store.Failure, opts Options) error {
	subjects, details := store.Tables(sch, records)

	sections := []section{{fmt.Sprintf("%s (%d)", sch.Subject.Name, len(subjects)-1), subjects}}
	if opts.Details {
		sections = append(sections, section{fmt.Sprintf("%s (%d)", sch.Detail.Name, len(details)-1), details})
	}
	if len(failures) > 0 {
		sections = append(sections, section{fmt.Sprintf("failures (%d)", len(failures)), failureRows(failures)})
	}

	for i, s := range sections {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, render(s.title, s.rows, opts)+"\n"); err != nil {
			return err
		}
	}
	return nil
}

type section struct {
	title string
	rows  [][]string
}

func failureRows(failures []store.Failure) [][]string {
	rows := [][]string{{"subject", "stage", "error", "at"}}
	for _, f := range failures {
		rows = append(rows, []string{f.SubjectID, f.Stage, f.Error, f.CreatedAt.Format("2006-01-02 15:04:05")})
	}
	return rows
}

// render lays out one table; rows[0] is the header.
func render(title string, rows [][]string, opts Options) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)

	if len(rows) > 0 {
		t.AppendHeader(toRow(rows[0]))
		for _, r := range rows[1:] {
			t.AppendRow(toRow(r))
		}
		if opts.MaxWidth > 0 {
			configs := make([]table.ColumnConfig, len(rows[0]))
			for i := range configs {
				configs[i] = table.ColumnConfig{Number: i + 1, WidthMax: opts.MaxWidth, WidthMaxEnforcer: text.WrapSoft}
			}
			t.SetColumnConfigs(configs)
		}
	}

	switch opts.Format {
	case FormatCSV:
		return t.RenderCSV()
	case FormatMarkdown:
		t.SetTitle("%s", title)
		return t.RenderMarkdown()
	case FormatHTML:
		t.SetCaption("%s", title)
		t.Style().HTML = table.HTMLOptions{CSSClass: "harvest-table", EscapeText: true, Newline: "<br/>"}
		return t.RenderHTML()
	default:
		t.SetTitle("%s", title)
		return t.Render()
	}
}

func toRow(cells []string) table.Row {
	r := make(table.Row, len(cells))
	for i, c := range cells {
		r[i] = c
	}
	return r
}
