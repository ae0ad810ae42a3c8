package models

// ConfigurationMaterial identifies a loaded (or required) material. Two
// materials are the same material iff their GUIDs match.
type ConfigurationMaterial struct {
	GUID     string `json:"guid"`
	Brand    string `json:"brand,omitempty"`
	Color    string `json:"color,omitempty"`
	Material string `json:"material,omitempty"`
}

// Equals reports material identity by GUID.
func (m *ConfigurationMaterial) Equals(other *ConfigurationMaterial) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.GUID == other.GUID
}

// MaterialStationStatus is the reported state of an attached material station.
type MaterialStationStatus string

// MaterialSlot is one bay of a material station. MaterialRemaining is a
// fraction in [0,1], or -1 when the station cannot measure it.
type MaterialSlot struct {
	SlotIndex         int                    `json:"slot_index"`
	ExtruderIndex     int                    `json:"extruder_index"`
	Compatible        bool                   `json:"compatible"`
	MaterialRemaining float64                `json:"material_remaining"`
	MaterialEmpty     bool                   `json:"material_empty"`
	Material          *ConfigurationMaterial `json:"material,omitempty"`
}

// MaterialStation is the optional multi-slot material feeder attached to a
// printer.
type MaterialStation struct {
	Status    MaterialStationStatus `json:"status"`
	Supported bool                  `json:"supported"`
	Slots     []MaterialSlot        `json:"material_slots,omitempty"`
}

// MaterialCatalogEntry describes one material profile in the host's local
// catalog. Version is monotonic; a higher local version than the printer's
// installed copy triggers a re-upload during material sync.
type MaterialCatalogEntry struct {
	ID                string // base-file id, e.g. "generic_pla"
	GUID              string
	Version           int
	FilePath          string
	SignatureFilePath string // empty when no .sig companion exists
}

// ClusterMaterial is a material profile installed on a cluster, as reported
// by the cluster's materials endpoint.
type ClusterMaterial struct {
	GUID     string  `json:"guid"`
	Version  int     `json:"version"`
	Material string  `json:"material,omitempty"`
	Brand    string  `json:"brand,omitempty"`
	Color    string  `json:"color,omitempty"`
	Density  float64 `json:"density,omitempty"`
}

// Credential is the id/key pair issued by a local printer during the
// authentication handshake. It is persisted on the machine record so that
// switching machines never leaks credentials across hosts.
type Credential struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// Valid reports whether both halves of the pair are present.
func (c Credential) Valid() bool {
	return c.ID != "" && c.Key != ""
}
