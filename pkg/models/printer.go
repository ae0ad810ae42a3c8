package models

import "fmt"

// PrinterStatus is the reported state of a single physical printer.
type PrinterStatus string

const (
	PrinterStatusIdle        PrinterStatus = "idle"
	PrinterStatusPrinting    PrinterStatus = "printing"
	PrinterStatusMaintenance PrinterStatus = "maintenance"
	PrinterStatusUnreachable PrinterStatus = "unreachable"
	PrinterStatusDisabled    PrinterStatus = "disabled"
)

// ExtruderConfiguration is one extruder position on a printer. Positions are
// contiguous from 0 within a printer.
type ExtruderConfiguration struct {
	ExtruderIndex int                    `json:"extruder_index"`
	PrintCoreID   string                 `json:"print_core_id,omitempty"`
	Material      *ConfigurationMaterial `json:"material,omitempty"`
}

// Equals compares position, print core, and material identity.
func (e ExtruderConfiguration) Equals(other ExtruderConfiguration) bool {
	return e.ExtruderIndex == other.ExtruderIndex &&
		e.PrintCoreID == other.PrintCoreID &&
		e.Material.Equals(other.Material)
}

// Printer is one physical machine inside a cluster. It is created on first
// sighting, updated field-by-field on every poll, and destroyed when its
// uuid disappears from a printers response.
type Printer struct {
	notifier

	UUID            string                  `json:"uuid"`
	FriendlyName    string                  `json:"friendly_name"`
	UniqueName      string                  `json:"unique_name"`
	MachineVariant  string                  `json:"machine_variant"`
	Status          PrinterStatus           `json:"status"`
	FirmwareVersion string                  `json:"firmware_version"`
	IPAddress       string                  `json:"ip_address"`
	BuildPlateType  string                  `json:"build_plate,omitempty"`
	Configuration   []ExtruderConfiguration `json:"configuration,omitempty"`
	MaterialStation *MaterialStation        `json:"material_station,omitempty"`

	activePrintJob *PrintJob
}

// CameraURL returns the MJPEG stream URL for the printer's camera. The URL
// is handed to the GUI verbatim; the subsystem never fetches it.
func (p *Printer) CameraURL() string {
	if p.IPAddress == "" {
		return ""
	}
	return fmt.Sprintf("http://%s:8080/?action=stream", p.IPAddress)
}

// ActivePrintJob returns the job currently running on this printer, if any.
func (p *Printer) ActivePrintJob() *PrintJob {
	return p.activePrintJob
}

// UpdateStatus sets the printer status, notifying iff it changed.
func (p *Printer) UpdateStatus(s PrinterStatus) bool {
	if p.Status == s {
		return false
	}
	old := p.Status
	p.Status = s
	p.notify(Change{Model: "printer", ID: p.UUID, Field: "status", Old: old, New: s})
	return true
}

// UpdateFriendlyName sets the user-visible name, notifying iff it changed.
func (p *Printer) UpdateFriendlyName(name string) bool {
	if p.FriendlyName == name {
		return false
	}
	old := p.FriendlyName
	p.FriendlyName = name
	p.notify(Change{Model: "printer", ID: p.UUID, Field: "friendly_name", Old: old, New: name})
	return true
}

// UpdateFirmwareVersion sets the firmware version, notifying iff it changed.
func (p *Printer) UpdateFirmwareVersion(v string) bool {
	if p.FirmwareVersion == v {
		return false
	}
	old := p.FirmwareVersion
	p.FirmwareVersion = v
	p.notify(Change{Model: "printer", ID: p.UUID, Field: "firmware_version", Old: old, New: v})
	return true
}

// UpdateIPAddress sets the printer address, notifying iff it changed.
func (p *Printer) UpdateIPAddress(ip string) bool {
	if p.IPAddress == ip {
		return false
	}
	old := p.IPAddress
	p.IPAddress = ip
	p.notify(Change{Model: "printer", ID: p.UUID, Field: "ip_address", Old: old, New: ip})
	return true
}

// UpdateBuildPlateType sets the build plate, notifying iff it changed.
func (p *Printer) UpdateBuildPlateType(t string) bool {
	if p.BuildPlateType == t {
		return false
	}
	old := p.BuildPlateType
	p.BuildPlateType = t
	p.notify(Change{Model: "printer", ID: p.UUID, Field: "build_plate", Old: old, New: t})
	return true
}

// UpdateConfiguration replaces the extruder list only when it differs.
// Order is preserved from the response.
func (p *Printer) UpdateConfiguration(cfg []ExtruderConfiguration) bool {
	if extruderConfigsEqual(p.Configuration, cfg) {
		return false
	}
	p.Configuration = cfg
	p.notify(Change{Model: "printer", ID: p.UUID, Field: "configuration", New: cfg})
	return true
}

// UpdateMaterialStation replaces the material station attachment.
func (p *Printer) UpdateMaterialStation(ms *MaterialStation) bool {
	if materialStationsEqual(p.MaterialStation, ms) {
		return false
	}
	p.MaterialStation = ms
	p.notify(Change{Model: "printer", ID: p.UUID, Field: "material_station", New: ms})
	return true
}

// UpdateActivePrintJob moves the job⇄printer back-reference: the previous
// job's assigned printer is cleared and the new job's is set to this
// printer. Both sides move together or not at all.
func (p *Printer) UpdateActivePrintJob(job *PrintJob) bool {
	if p.activePrintJob == job {
		return false
	}
	if prev := p.activePrintJob; prev != nil {
		prev.assignedPrinter = nil
	}
	p.activePrintJob = job
	if job != nil {
		if other := job.assignedPrinter; other != nil && other != p {
			other.activePrintJob = nil
		}
		job.assignedPrinter = p
	}
	var id string
	if job != nil {
		id = job.UUID
	}
	p.notify(Change{Model: "printer", ID: p.UUID, Field: "active_print_job", New: id})
	return true
}

func extruderConfigsEqual(a, b []ExtruderConfiguration) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equals(b[i]) {
			return false
		}
	}
	return true
}

func materialStationsEqual(a, b *MaterialStation) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Status != b.Status || a.Supported != b.Supported || len(a.Slots) != len(b.Slots) {
		return false
	}
	for i := range a.Slots {
		sa, sb := a.Slots[i], b.Slots[i]
		if sa.SlotIndex != sb.SlotIndex || sa.ExtruderIndex != sb.ExtruderIndex ||
			sa.Compatible != sb.Compatible || sa.MaterialRemaining != sb.MaterialRemaining ||
			sa.MaterialEmpty != sb.MaterialEmpty || !sa.Material.Equals(sb.Material) {
			return false
		}
	}
	return true
}
