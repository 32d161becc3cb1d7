package importer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v3"

	"cdw-asset-import/internal/testutil"
)

type fixture struct {
	dir      string
	template string
	input    string
	output   string
}

func newFixture(t *testing.T, headers []string, rows ...map[string]string) fixture {
	t.Helper()
	dir := t.TempDir()
	return fixture{
		dir:      dir,
		template: testutil.WriteFile(t, dir, "template.csv", testutil.CSV(t, testutil.TemplateHeaders)),
		input:    testutil.WriteFile(t, dir, "CDW_Asset_03072024.csv", testutil.CSV(t, headers, rows...)),
		output:   filepath.Join(dir, "output", "assetrecord_03072024.csv"),
	}
}

func (f fixture) options() Options {
	return Options{
		TemplatePath:  f.template,
		InputPath:     f.input,
		OutputPath:    f.output,
		SourceLabel:   "CDW Direct",
		OverrideLabel: "Acme Corp",
	}
}

// outputRows returns the written rows keyed by header.
func outputRows(t *testing.T, path string) []map[string]string {
	t.Helper()
	records := testutil.ReadCSV(t, path)
	require.NotEmpty(t, records)
	header := records[0]
	var out []map[string]string
	for _, rec := range records[1:] {
		row := make(map[string]string, len(header))
		for i, h := range header {
			row[h] = rec[i]
		}
		out = append(out, row)
	}
	return out
}

func TestTransformDropsRowsWithoutAssetTag(t *testing.T) {
	f := newFixture(t, testutil.ReportHeaders,
		testutil.ReportRow("A1001", nil),
		testutil.ReportRow("", nil),
		testutil.ReportRow("A1003", nil),
	)

	summary, err := Transform(f.options())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.RowsRead)
	assert.Equal(t, 2, summary.RowsWritten)
	assert.Equal(t, 1, summary.Skipped)

	rows := outputRows(t, f.output)
	require.Len(t, rows, 2)
	assert.Equal(t, "A1001", rows[0]["Asset Tag"])
	assert.Equal(t, "A1003", rows[1]["Asset Tag"])
}

func TestTransformWhitespaceAssetTag(t *testing.T) {
	f := newFixture(t, testutil.ReportHeaders,
		testutil.ReportRow(" ", nil),
		testutil.ReportRow("\t  ", nil),
		testutil.ReportRow("A2001", nil),
	)

	summary, err := Transform(f.options())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RowsWritten)
	assert.Equal(t, 2, summary.Skipped)

	for _, row := range outputRows(t, f.output) {
		assert.NotEmpty(t, row["Asset Tag"])
	}
}

func TestTransformCustomerOverrideExactMatch(t *testing.T) {
	f := newFixture(t, testutil.ReportHeaders,
		testutil.ReportRow("A1", map[string]string{"Customer Name": "CDW Direct"}),
		testutil.ReportRow("A2", map[string]string{"Customer Name": "CDW Direct "}),
		testutil.ReportRow("A3", map[string]string{"Customer Name": "Other Buyer LLC"}),
	)

	summary, err := Transform(f.options())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Overridden)

	rows := outputRows(t, f.output)
	require.Len(t, rows, 3)
	assert.Equal(t, "Acme Corp", rows[0]["Company"])
	assert.Equal(t, "CDW Direct ", rows[1]["Company"])
	assert.Equal(t, "Other Buyer LLC", rows[2]["Company"])
}

func TestTransformProjection(t *testing.T) {
	f := newFixture(t, testutil.ReportHeaders, testutil.ReportRow("A77", nil))

	summary, err := Transform(f.options())
	require.NoError(t, err)
	assert.Equal(t, append([]string{}, testutil.TemplateHeaders...), summary.Columns)

	records := testutil.ReadCSV(t, f.output)
	assert.Equal(t, testutil.TemplateHeaders, records[0])

	rows := outputRows(t, f.output)
	require.Len(t, rows, 1)
	want := map[string]string{
		"Item Name":      "Lenovo ThinkPad T14 Gen 4, 14\" i7",
		"Model Name":     "Lenovo ThinkPad T14 Gen 4, 14\" i7",
		"Category":       "Laptop",
		"Manufacturer":   "Lenovo",
		"Model Number":   "21HD0041US",
		"Serial":         "SN-A77",
		"Asset Tag":      "A77",
		"Location":       "Springfield",
		"Purchase Date":  "03/06/2024",
		"Purchase Cost":  "1249.99",
		"Company":        "Acme Corp",
		"Order Number":   "ORD-A77",
		"Invoice Number": "INV-A77",
		"Customer PO":    "PO-7781",
		"Purchased By":   "Jane Buyer",
		"Supplier":       "CDW",
		"Status":         "Ready to Deploy",
		"Notes":          "",
	}
	assert.Equal(t, want, rows[0])
}

func TestTransformConstantsOnEveryRow(t *testing.T) {
	f := newFixture(t, testutil.ReportHeaders,
		testutil.ReportRow("A1", nil),
		testutil.ReportRow("A2", map[string]string{"Customer Name": "Someone Else"}),
		testutil.ReportRow("A3", nil),
	)

	_, err := Transform(f.options())
	require.NoError(t, err)

	for _, row := range outputRows(t, f.output) {
		assert.Equal(t, "CDW", row["Supplier"])
		assert.Equal(t, "Ready to Deploy", row["Status"])
	}
}

func TestTransformIdempotent(t *testing.T) {
	f := newFixture(t, testutil.ReportHeaders,
		testutil.ReportRow("A1", nil),
		testutil.ReportRow("", nil),
		testutil.ReportRow("A3", map[string]string{"Item Description": "Dell, \"UltraSharp\" U2723QE"}),
	)

	_, err := Transform(f.options())
	require.NoError(t, err)
	first, err := os.ReadFile(f.output)
	require.NoError(t, err)

	_, err = Transform(f.options())
	require.NoError(t, err)
	second, err := os.ReadFile(f.output)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestTransformSchemaMismatchWritesNothing(t *testing.T) {
	headers := testutil.Without(testutil.ReportHeaders, "Serial Number")
	f := newFixture(t, headers, testutil.ReportRow("A1", nil))

	_, err := Transform(f.options())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchemaMismatch))

	var serr *SchemaError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, []string{"Serial Number"}, serr.Missing)

	_, statErr := os.Stat(f.output)
	assert.True(t, os.IsNotExist(statErr))
	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, "output", e.Name())
	}
}

func TestTransformExtraColumns(t *testing.T) {
	headers := append(append([]string{}, testutil.ReportHeaders...), "Warranty End")

	t.Run("superset accepts", func(t *testing.T) {
		f := newFixture(t, headers, testutil.ReportRow("A1", nil))
		_, err := Transform(f.options())
		assert.NoError(t, err)
	})

	t.Run("exact rejects", func(t *testing.T) {
		f := newFixture(t, headers, testutil.ReportRow("A1", nil))
		opts := f.options()
		opts.HeaderCheck = HeaderCheckExact

		_, err := Transform(opts)
		var serr *SchemaError
		require.True(t, errors.As(err, &serr))
		assert.Equal(t, []string{"Warranty End"}, serr.Unexpected)
		assert.Empty(t, serr.Missing)
	})
}

func TestTransformKeepsPreviousOutputOnFailure(t *testing.T) {
	headers := testutil.Without(testutil.ReportHeaders, "Asset Tag")
	f := newFixture(t, headers, testutil.ReportRow("A1", nil))
	testutil.WriteFile(t, filepath.Dir(f.output), filepath.Base(f.output), []byte("previous"))

	_, err := Transform(f.options())
	require.Error(t, err)

	got, err := os.ReadFile(f.output)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(got))
}

func TestTransformTemplateMissingColumns(t *testing.T) {
	f := newFixture(t, testutil.ReportHeaders, testutil.ReportRow("A1", nil))
	f.template = testutil.WriteFile(t, f.dir, "short.csv", []byte("Asset Tag,Notes,Serial\n"))

	summary, err := Transform(f.options())
	require.NoError(t, err)

	// template columns keep their order; mapped targets it lacks are appended
	assert.Equal(t, []string{"Asset Tag", "Notes", "Serial"}, summary.Columns[:3])
	assert.Equal(t, "Item Name", summary.Columns[3])
	assert.Equal(t, "Status", summary.Columns[len(summary.Columns)-1])
	assert.Len(t, summary.Columns, 3+len(DefaultMapping().Targets())-2)
}

func TestTransformXLSXTemplate(t *testing.T) {
	f := newFixture(t, testutil.ReportHeaders, testutil.ReportRow("A1", nil))

	wb := xlsx.NewFile()
	sheet, err := wb.AddSheet("Template")
	require.NoError(t, err)
	row := sheet.AddRow()
	for _, h := range testutil.TemplateHeaders {
		row.AddCell().SetString(h)
	}
	f.template = filepath.Join(f.dir, "template.xlsx")
	require.NoError(t, wb.Save(f.template))

	summary, err := Transform(f.options())
	require.NoError(t, err)
	assert.Equal(t, testutil.TemplateHeaders, summary.Columns)
	assert.Equal(t, 1, summary.RowsWritten)
}

func TestTransformMissingInputs(t *testing.T) {
	f := newFixture(t, testutil.ReportHeaders, testutil.ReportRow("A1", nil))

	opts := f.options()
	opts.TemplatePath = filepath.Join(f.dir, "absent.csv")
	_, err := Transform(opts)
	assert.ErrorIs(t, err, os.ErrNotExist)

	opts = f.options()
	opts.InputPath = filepath.Join(f.dir, "absent.csv")
	_, err = Transform(opts)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCheckHeaders(t *testing.T) {
	required := []string{"A", "B", "C"}

	tests := []struct {
		name       string
		headers    []string
		mode       string
		missing    []string
		unexpected []string
	}{
		{name: "equal superset", headers: []string{"C", "B", "A"}, mode: HeaderCheckSuperset},
		{name: "equal exact", headers: []string{"A", "B", "C"}, mode: HeaderCheckExact},
		{name: "extra superset", headers: []string{"A", "B", "C", "D"}, mode: HeaderCheckSuperset},
		{name: "extra exact", headers: []string{"A", "B", "C", "D"}, mode: HeaderCheckExact, unexpected: []string{"D"}},
		{name: "missing", headers: []string{"A"}, mode: "", missing: []string{"B", "C"}},
		{name: "case sensitive", headers: []string{"a", "B", "C"}, mode: HeaderCheckSuperset, missing: []string{"A"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckHeaders(tt.headers, required, tt.mode)
			if tt.missing == nil && tt.unexpected == nil {
				assert.NoError(t, err)
				return
			}
			var serr *SchemaError
			require.True(t, errors.As(err, &serr))
			assert.Equal(t, tt.missing, serr.Missing)
			assert.Equal(t, tt.unexpected, serr.Unexpected)
		})
	}

	assert.Error(t, CheckHeaders(required, required, "fuzzy"))
}

func TestSchemaErrorMessage(t *testing.T) {
	err := &SchemaError{Mode: HeaderCheckExact, Missing: []string{"Serial Number"}, Unexpected: []string{"Notes"}}
	assert.Equal(t,
		`report headers do not match the expected layout (exact check): missing ["Serial Number"]; unexpected ["Notes"]`,
		err.Error())
}
