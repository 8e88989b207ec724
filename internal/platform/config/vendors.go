package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// VendorTable is the routing table operators maintain in YAML:
//
//	fallback: trueid
//	vendors:
//	  - name: docv
//	    percent: 25
//	    prerequisites: [docv_status]
//	prerequisites:
//	  - name: docv_status
//	    url: https://status.docv.example/health
//	  - name: passport_api
//	    url: https://passports.example/status
//	    id_type: passport
type VendorTable struct {
	Override      string          `yaml:"override"`
	Fallback      string          `yaml:"fallback"`
	Vendors       []VendorRollout `yaml:"vendors"`
	Prerequisites []Prerequisite  `yaml:"prerequisites"`
}

// VendorRollout assigns a percentage of traffic to a vendor.
type VendorRollout struct {
	Name          string   `yaml:"name"`
	Percent       float64  `yaml:"percent"`
	Prerequisites []string `yaml:"prerequisites"`
}

// Prerequisite is an external dependency probed before routing. When IDType
// is set the prerequisite gates that id type instead of a vendor.
type Prerequisite struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	IDType string `yaml:"id_type"`
}

// LoadVendorTable reads and validates a routing table file.
func LoadVendorTable(path string) (VendorTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return VendorTable{}, fmt.Errorf("read vendors file: %w", err)
	}
	return ParseVendorTable(raw)
}

// ParseVendorTable decodes and validates a routing table.
func ParseVendorTable(raw []byte) (VendorTable, error) {
	var table VendorTable
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return VendorTable{}, fmt.Errorf("decode vendors file: %w", err)
	}
	if err := table.Validate(); err != nil {
		return VendorTable{}, err
	}
	return table, nil
}

// Validate enforces percentages in [0,100] summing to at most 100 and that
// every referenced prerequisite is declared.
func (t VendorTable) Validate() error {
	declared := make(map[string]struct{}, len(t.Prerequisites))
	for _, p := range t.Prerequisites {
		if p.Name == "" || p.URL == "" {
			return fmt.Errorf("prerequisite requires name and url")
		}
		declared[p.Name] = struct{}{}
	}
	var total float64
	for _, v := range t.Vendors {
		if v.Name == "" {
			return fmt.Errorf("vendor rollout requires a name")
		}
		if v.Percent < 0 || v.Percent > 100 {
			return fmt.Errorf("vendor %s: percent %.2f out of range", v.Name, v.Percent)
		}
		total += v.Percent
		for _, name := range v.Prerequisites {
			if _, ok := declared[name]; !ok {
				return fmt.Errorf("vendor %s: unknown prerequisite %q", v.Name, name)
			}
		}
	}
	if total > 100 {
		return fmt.Errorf("vendor percentages sum to %.2f, must be <= 100", total)
	}
	return nil
}

func (v *VendorsConfig) applyTable(table VendorTable) {
	v.table = table
	if v.Override == "" {
		v.Override = table.Override
	}
	if table.Fallback != "" {
		v.Fallback = table.Fallback
	}
}

// WithTable returns a copy of v with table applied as if loaded from File.
func (v VendorsConfig) WithTable(table VendorTable) VendorsConfig {
	v.applyTable(table)
	return v
}
