package defs

import "testing"

func TestLoadBuiltin(t *testing.T) {
	tbl, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	d, ok := tbl.ByID("corvus_s5")
	if !ok {
		t.Fatal("corvus_s5 missing")
	}
	if d.Name != "Corvus S5" || !d.SupportsNetwork || !d.SupportsMaterialStation {
		t.Errorf("corvus_s5 = %+v", d)
	}
}

func TestByMachineValue(t *testing.T) {
	tbl, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		value  string
		wantID string
		ok     bool
	}{
		{"213482.0.0", "corvus_s3", true},
		{"213482", "corvus_s3", true},
		{"9051.1", "corvus_s5", true},
		{"214475.0", "corvus_s5", true},
		{"999999.0", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		d, ok := tbl.ByMachineValue(tt.value)
		if ok != tt.ok {
			t.Errorf("ByMachineValue(%q) ok = %v, want %v", tt.value, ok, tt.ok)
			continue
		}
		if ok && d.ID != tt.wantID {
			t.Errorf("ByMachineValue(%q) = %s, want %s", tt.value, d.ID, tt.wantID)
		}
	}
}

func TestByName(t *testing.T) {
	tbl, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	d, ok := tbl.ByName("corvus s5")
	if !ok || d.ID != "corvus_s5" {
		t.Errorf("ByName(corvus s5) = %v, %v", d, ok)
	}
	if _, ok := tbl.ByName("unknown model"); ok {
		t.Error("ByName(unknown model) should miss")
	}
}

func TestParseRejectsDuplicateBOM(t *testing.T) {
	_, err := Parse([]byte(`
machines:
  - id: a
    name: A
    bom_numbers: ["1"]
  - id: b
    name: B
    bom_numbers: ["1"]
`))
	if err == nil {
		t.Fatal("duplicate BOM accepted")
	}
}

func TestParseRejectsMissingID(t *testing.T) {
	_, err := Parse([]byte("machines:\n  - name: Nameless\n"))
	if err == nil {
		t.Fatal("definition without id accepted")
	}
}
