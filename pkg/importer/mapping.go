package importer

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// MappingConfig describes how a vendor report is turned into template rows.
type MappingConfig struct {
	Version int `yaml:"version"`

	// RequiredHeaders must all be present in the report.
	RequiredHeaders []string `yaml:"required_headers"`

	// FilterColumn drops rows where it is empty or whitespace.
	FilterColumn string `yaml:"filter_column"`

	// OverrideColumn is rewritten from the source customer label to the override label.
	OverrideColumn string `yaml:"override_column"`

	Columns   []ColumnMapping `yaml:"columns"`
	Constants []ConstantField `yaml:"constants"`
}

// ColumnMapping copies the report column Source into the output column Target.
type ColumnMapping struct {
	Target string `yaml:"target"`
	Source string `yaml:"source"`
}

// ConstantField sets the output column Target to Value on every row.
type ConstantField struct {
	Target string `yaml:"target"`
	Value  string `yaml:"value"`
}

// DefaultMapping returns the CDW asset report layout and its mapping onto the
// asset-management import template.
func DefaultMapping() *MappingConfig {
	return &MappingConfig{
		Version: 1,
		RequiredHeaders: []string{
			"Order Date", "Order Number", "Invoice Date", "Invoice Number", "Invoice Line Number",
			"Customer PO", "Customer Number", "Customer Name", "Contact", "Item Number",
			"Item Description", "Item Type", "Item Class", "Item Group Major", "Manufacturer Name",
			"Mfg Part Number", "Asset Type", "Quantity", "Unit Price", "SalesDollarAmount",
			"Serial Number", "Asset Tag", "Extended Price", "Ship Date", "Shipped To Customer Name",
			"Shipped To Customer Address 1", "Shipped To Customer Address 2", "Shipped to City",
			"Shipped to State", "Shipped to Zip Code",
		},
		FilterColumn:   "Asset Tag",
		OverrideColumn: "Customer Name",
		Columns: []ColumnMapping{
			{Target: "Item Name", Source: "Item Description"},
			{Target: "Model Name", Source: "Item Description"},
			{Target: "Category", Source: "Item Type"},
			{Target: "Manufacturer", Source: "Manufacturer Name"},
			{Target: "Model Number", Source: "Mfg Part Number"},
			{Target: "Serial", Source: "Serial Number"},
			{Target: "Asset Tag", Source: "Asset Tag"},
			{Target: "Location", Source: "Shipped to City"},
			{Target: "Purchase Date", Source: "Invoice Date"},
			{Target: "Purchase Cost", Source: "Unit Price"},
			{Target: "Company", Source: "Customer Name"},
			{Target: "Order Number", Source: "Order Number"},
			{Target: "Invoice Number", Source: "Invoice Number"},
			{Target: "Customer PO", Source: "Customer PO"},
			{Target: "Purchased By", Source: "Contact"},
		},
		Constants: []ConstantField{
			{Target: "Supplier", Value: "CDW"},
			{Target: "Status", Value: "Ready to Deploy"},
		},
	}
}

// LoadMappingConfig reads a YAML mapping from path. An empty path yields DefaultMapping.
func LoadMappingConfig(path string) (*MappingConfig, error) {
	if path == "" {
		return DefaultMapping(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m MappingConfig
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to parse mapping config %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mapping config %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks that every column the mapping reads is a required header, so a
// report that passes the header check can always be projected.
func (m *MappingConfig) Validate() error {
	if m == nil {
		return errors.New("mapping is nil")
	}
	if len(m.RequiredHeaders) == 0 {
		return errors.New("required_headers must not be empty")
	}
	if len(m.Columns) == 0 {
		return errors.New("columns must not be empty")
	}

	required := make(map[string]bool, len(m.RequiredHeaders))
	for _, h := range m.RequiredHeaders {
		if strings.TrimSpace(h) == "" {
			return errors.New("required_headers contains an empty name")
		}
		required[h] = true
	}

	if m.FilterColumn == "" {
		return errors.New("filter_column must be set")
	}
	if !required[m.FilterColumn] {
		return fmt.Errorf("filter_column %q is not a required header", m.FilterColumn)
	}
	if m.OverrideColumn != "" && !required[m.OverrideColumn] {
		return fmt.Errorf("override_column %q is not a required header", m.OverrideColumn)
	}

	targets := make(map[string]bool)
	for i, c := range m.Columns {
		if c.Target == "" || c.Source == "" {
			return fmt.Errorf("columns[%d] needs both target and source", i)
		}
		if !required[c.Source] {
			return fmt.Errorf("columns[%d] source %q is not a required header", i, c.Source)
		}
		if targets[c.Target] {
			return fmt.Errorf("target %q is mapped more than once", c.Target)
		}
		targets[c.Target] = true
	}
	for i, c := range m.Constants {
		if c.Target == "" {
			return fmt.Errorf("constants[%d] needs a target", i)
		}
		if targets[c.Target] {
			return fmt.Errorf("target %q is mapped more than once", c.Target)
		}
		targets[c.Target] = true
	}
	return nil
}

// Targets lists every output column the mapping populates, columns first, then constants.
func (m *MappingConfig) Targets() []string {
	out := make([]string, 0, len(m.Columns)+len(m.Constants))
	for _, c := range m.Columns {
		out = append(out, c.Target)
	}
	for _, c := range m.Constants {
		out = append(out, c.Target)
	}
	return out
}
