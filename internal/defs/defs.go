// Package defs maps the hardware identifiers printers announce over mDNS
// to the machine types the rest of the application works with.
package defs

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed machines.yaml
var builtin []byte

// Definition describes one supported machine type.
type Definition struct {
	ID                      string   `yaml:"id"`
	Name                    string   `yaml:"name"`
	BOMNumbers              []string `yaml:"bom_numbers"`
	SupportsNetwork         bool     `yaml:"supports_network"`
	SupportsMaterialStation bool     `yaml:"supports_material_station"`
}

// Table resolves machine types by id or by announced BOM number.
type Table struct {
	byID  map[string]*Definition
	byBOM map[string]*Definition
}

// Load parses the built-in definition table.
func Load() (*Table, error) {
	return Parse(builtin)
}

// Parse builds a table from YAML definitions.
func Parse(data []byte) (*Table, error) {
	var doc struct {
		Machines []*Definition `yaml:"machines"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse machine definitions: %w", err)
	}

	t := &Table{
		byID:  make(map[string]*Definition, len(doc.Machines)),
		byBOM: make(map[string]*Definition),
	}
	for _, d := range doc.Machines {
		if d.ID == "" {
			return nil, fmt.Errorf("machine definition %q has no id", d.Name)
		}
		t.byID[d.ID] = d
		for _, bom := range d.BOMNumbers {
			if prev, ok := t.byBOM[bom]; ok {
				return nil, fmt.Errorf("BOM %s claimed by both %s and %s", bom, prev.ID, d.ID)
			}
			t.byBOM[bom] = d
		}
	}
	return t, nil
}

// ByID returns the definition for a machine type id.
func (t *Table) ByID(id string) (*Definition, bool) {
	d, ok := t.byID[id]
	return d, ok
}

// ByName resolves a definition by its display name, as reported in the
// system API's variant field.
func (t *Table) ByName(name string) (*Definition, bool) {
	for _, d := range t.byID {
		if strings.EqualFold(d.Name, name) {
			return d, true
		}
	}
	return nil, false
}

// ByMachineValue resolves the mDNS TXT "machine" value, whose leading
// dot-separated token is the BOM number (e.g. "213482.0.0").
func (t *Table) ByMachineValue(value string) (*Definition, bool) {
	bom := value
	if i := strings.IndexByte(value, '.'); i >= 0 {
		bom = value[:i]
	}
	d, ok := t.byBOM[bom]
	return d, ok
}
