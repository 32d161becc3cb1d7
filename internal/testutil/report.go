package testutil

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
)

// ReportHeaders is the column layout of the CDW asset report.
var ReportHeaders = []string{
	"Order Date", "Order Number", "Invoice Date", "Invoice Number", "Invoice Line Number",
	"Customer PO", "Customer Number", "Customer Name", "Contact", "Item Number",
	"Item Description", "Item Type", "Item Class", "Item Group Major", "Manufacturer Name",
	"Mfg Part Number", "Asset Type", "Quantity", "Unit Price", "SalesDollarAmount",
	"Serial Number", "Asset Tag", "Extended Price", "Ship Date", "Shipped To Customer Name",
	"Shipped To Customer Address 1", "Shipped To Customer Address 2", "Shipped to City",
	"Shipped to State", "Shipped to Zip Code",
}

// TemplateHeaders is a typical asset-management import template.
var TemplateHeaders = []string{
	"Item Name", "Model Name", "Category", "Manufacturer", "Model Number", "Serial",
	"Asset Tag", "Location", "Purchase Date", "Purchase Cost", "Company", "Order Number",
	"Invoice Number", "Customer PO", "Purchased By", "Supplier", "Status", "Notes",
}

// ReportRow returns a fully populated report row; overrides replace individual fields.
func ReportRow(tag string, overrides map[string]string) map[string]string {
	row := map[string]string{
		"Order Date":                    "03/05/2024",
		"Order Number":                  "ORD-" + tag,
		"Invoice Date":                  "03/06/2024",
		"Invoice Number":                "INV-" + tag,
		"Invoice Line Number":           "1",
		"Customer PO":                   "PO-7781",
		"Customer Number":               "1234567",
		"Customer Name":                 "CDW Direct",
		"Contact":                       "Jane Buyer",
		"Item Number":                   "5551234",
		"Item Description":              "Lenovo ThinkPad T14 Gen 4, 14\" i7",
		"Item Type":                     "Laptop",
		"Item Class":                    "Notebooks",
		"Item Group Major":              "Computers",
		"Manufacturer Name":             "Lenovo",
		"Mfg Part Number":               "21HD0041US",
		"Asset Type":                    "Hardware",
		"Quantity":                      "1",
		"Unit Price":                    "1249.99",
		"SalesDollarAmount":             "1249.99",
		"Serial Number":                 "SN-" + tag,
		"Asset Tag":                     tag,
		"Extended Price":                "1249.99",
		"Ship Date":                     "03/06/2024",
		"Shipped To Customer Name":      "Acme Corp",
		"Shipped To Customer Address 1": "100 Main St",
		"Shipped To Customer Address 2": "Suite 4",
		"Shipped to City":               "Springfield",
		"Shipped to State":              "IL",
		"Shipped to Zip Code":           "62701",
	}
	for k, v := range overrides {
		row[k] = v
	}
	return row
}

// CSV renders headers and rows (keyed by header) as CSV text.
func CSV(t *testing.T, headers []string, rows ...map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(headers); err != nil {
		t.Fatalf("write header: %v", err)
	}
	for _, r := range rows {
		record := make([]string, len(headers))
		for i, h := range headers {
			record[i] = r[h]
		}
		if err := w.Write(record); err != nil {
			t.Fatalf("write row: %v", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		t.Fatalf("flush csv: %v", err)
	}
	return buf.Bytes()
}

// WriteFile writes data to dir/name and returns the path.
func WriteFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// ReadCSV parses the CSV file at path into records.
func ReadCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return records
}

// Without returns headers minus the named columns.
func Without(headers []string, drop ...string) []string {
	skip := make(map[string]bool, len(drop))
	for _, d := range drop {
		skip[d] = true
	}
	out := make([]string, 0, len(headers))
	for _, h := range headers {
		if !skip[h] {
			out = append(out, h)
		}
	}
	return out
}
