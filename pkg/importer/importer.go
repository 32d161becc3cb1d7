package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	HeaderCheckSuperset = "superset"
	HeaderCheckExact    = "exact"
)

// ErrSchemaMismatch is wrapped by every *SchemaError.
var ErrSchemaMismatch = errors.New("report headers do not match the expected layout")

// Options defines one transformation of a downloaded report into an import file.
type Options struct {
	TemplatePath string
	InputPath    string
	OutputPath   string

	// SourceLabel is replaced by OverrideLabel in the override column on exact match.
	SourceLabel   string
	OverrideLabel string

	Mapping     *MappingConfig // default DefaultMapping()
	HeaderCheck string         // default HeaderCheckSuperset
	MaxSamples  int            // default 20
}

// RowError represents an issue found while reading a single row.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// Summary contains the statistics of one transformation.
type Summary struct {
	RowsRead    int        `json:"rows_read"`
	RowsWritten int        `json:"rows_written"`
	Skipped     int        `json:"skipped"`
	Overridden  int        `json:"overridden"`
	Warnings    int        `json:"warnings"`
	Samples     []RowError `json:"warning_samples,omitempty"`
	Columns     []string   `json:"columns"`
}

// SchemaError lists how the report headers differ from the required set.
type SchemaError struct {
	Mode       string
	Missing    []string
	Unexpected []string
}

func (e *SchemaError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+quoteList(e.Missing))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, "unexpected "+quoteList(e.Unexpected))
	}
	return fmt.Sprintf("%v (%s check): %s", ErrSchemaMismatch, e.Mode, strings.Join(parts, "; "))
}

func (e *SchemaError) Unwrap() error {
	return ErrSchemaMismatch
}

// CheckHeaders compares headers against required. In superset mode every required
// header must be present; in exact mode the two sets must be equal.
func CheckHeaders(headers, required []string, mode string) error {
	if mode == "" {
		mode = HeaderCheckSuperset
	}
	if mode != HeaderCheckSuperset && mode != HeaderCheckExact {
		return fmt.Errorf("unknown header check mode %q", mode)
	}

	have := make(map[string]bool, len(headers))
	for _, h := range headers {
		have[h] = true
	}
	want := make(map[string]bool, len(required))
	for _, h := range required {
		want[h] = true
	}

	serr := &SchemaError{Mode: mode}
	for _, h := range required {
		if !have[h] {
			serr.Missing = append(serr.Missing, h)
		}
	}
	if mode == HeaderCheckExact {
		for _, h := range headers {
			if !want[h] {
				serr.Unexpected = append(serr.Unexpected, h)
			}
		}
	}

	if len(serr.Missing) == 0 && len(serr.Unexpected) == 0 {
		return nil
	}
	sort.Strings(serr.Missing)
	sort.Strings(serr.Unexpected)
	return serr
}

// Transform loads the template and the report, checks the report headers, keeps
// rows with an asset tag, applies the customer label override, projects each row
// onto the template columns and writes the result to opts.OutputPath. Nothing is
// written when any step fails.
func Transform(opts Options) (Summary, error) {
	var summary Summary

	if opts.Mapping == nil {
		opts.Mapping = DefaultMapping()
	}
	if opts.HeaderCheck == "" {
		opts.HeaderCheck = HeaderCheckSuperset
	}
	if opts.MaxSamples == 0 {
		opts.MaxSamples = 20
	}
	if err := opts.Mapping.Validate(); err != nil {
		return summary, fmt.Errorf("invalid mapping: %w", err)
	}

	template, err := ReadTemplate(opts.TemplatePath)
	if err != nil {
		return summary, fmt.Errorf("failed to load template: %w", err)
	}

	data, err := ReadCSV(opts.InputPath)
	if err != nil {
		return summary, fmt.Errorf("failed to load report: %w", err)
	}

	if err := CheckHeaders(data.Headers, opts.Mapping.RequiredHeaders, opts.HeaderCheck); err != nil {
		return summary, err
	}

	summary.Warnings = len(data.Warnings)
	for _, w := range data.Warnings {
		if len(summary.Samples) >= opts.MaxSamples {
			break
		}
		summary.Samples = append(summary.Samples, w)
	}

	columns := OutputColumns(template, opts.Mapping)
	summary.Columns = columns

	rows, counts := project(data, columns, opts)
	summary.RowsRead = len(data.Rows)
	summary.RowsWritten = len(rows)
	summary.Skipped = counts.skipped
	summary.Overridden = counts.overridden

	if err := writeCSV(opts.OutputPath, columns, rows); err != nil {
		return summary, fmt.Errorf("failed to write output: %w", err)
	}
	return summary, nil
}

// OutputColumns is the template's columns in order, followed by any mapped
// target the template does not have, in mapping order.
func OutputColumns(template []string, m *MappingConfig) []string {
	columns := make([]string, 0, len(template)+len(m.Columns)+len(m.Constants))
	seen := make(map[string]bool, len(template))
	for _, c := range template {
		columns = append(columns, c)
		seen[c] = true
	}
	for _, t := range m.Targets() {
		if !seen[t] {
			columns = append(columns, t)
			seen[t] = true
		}
	}
	return columns
}

type projectCounts struct {
	skipped    int
	overridden int
}

func project(data *Dataset, columns []string, opts Options) ([][]string, projectCounts) {
	var counts projectCounts
	m := opts.Mapping

	position := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := position[c]; !dup {
			position[c] = i
		}
	}

	filterIdx, _ := data.Index(m.FilterColumn)
	overrideIdx, hasOverride := data.Index(m.OverrideColumn)
	hasOverride = hasOverride && m.OverrideColumn != ""

	out := make([][]string, 0, len(data.Rows))
	for _, src := range data.Rows {
		if strings.TrimSpace(src[filterIdx]) == "" {
			counts.skipped++
			continue
		}

		overridden := false
		if hasOverride && opts.SourceLabel != "" && src[overrideIdx] == opts.SourceLabel {
			overridden = true
			counts.overridden++
		}

		row := make([]string, len(columns))
		for _, c := range m.Columns {
			idx, _ := data.Index(c.Source)
			value := src[idx]
			if overridden && c.Source == m.OverrideColumn {
				value = opts.OverrideLabel
			}
			row[position[c.Target]] = value
		}
		for _, c := range m.Constants {
			row[position[c.Target]] = c.Value
		}
		out = append(out, row)
	}
	return out, counts
}

// writeCSV writes to a temporary file next to path and renames it into place, so
// path either holds the complete output or is left untouched.
func writeCSV(path string, header []string, rows [][]string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func quoteList(items []string) string {
	q := make([]string, len(items))
	for i, s := range items {
		q[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(q, ", ") + "]"
}
