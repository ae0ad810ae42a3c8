package models

import "time"

// PrintJobStatus is the lifecycle state of a print job.
type PrintJobStatus string

const (
	PrintJobStatusQueued        PrintJobStatus = "queued"
	PrintJobStatusPrinting      PrintJobStatus = "printing"
	PrintJobStatusPausing       PrintJobStatus = "pausing"
	PrintJobStatusPaused        PrintJobStatus = "paused"
	PrintJobStatusResuming      PrintJobStatus = "resuming"
	PrintJobStatusWaitCleanup   PrintJobStatus = "wait_cleanup"
	PrintJobStatusFinished      PrintJobStatus = "finished"
	PrintJobStatusAborted       PrintJobStatus = "aborted"
	PrintJobStatusError         PrintJobStatus = "error"
	PrintJobStatusFailed        PrintJobStatus = "failed"
	PrintJobStatusNone          PrintJobStatus = "none"
	PrintJobStatusSentToPrinter PrintJobStatus = "sent_to_printer"
	PrintJobStatusPrePrint      PrintJobStatus = "pre_print"
	PrintJobStatusPostPrint     PrintJobStatus = "post_print"
)

// ConfigurationChangeType categorizes what must change on a printer before a
// queued job can run there.
type ConfigurationChangeType string

const (
	ChangeMaterial       ConfigurationChangeType = "material"
	ChangeMaterialInsert ConfigurationChangeType = "material_insert"
	ChangePrintCore      ConfigurationChangeType = "print_core_change"
	ChangeBuildPlate     ConfigurationChangeType = "buildplate_change"
)

// ConfigurationChange is one required change between a job's configuration
// and the printer it would run on.
type ConfigurationChange struct {
	TypeOfChange ConfigurationChangeType `json:"type_of_change"`
	Index        int                     `json:"index"`
	TargetID     string                  `json:"target_id"`
	OriginID     string                  `json:"origin_id"`
	TargetName   string                  `json:"target_name"`
	OriginName   string                  `json:"origin_name"`
}

// CanOverride reports whether the user may force the print despite this
// change. Inserting material or swapping the build plate cannot be forced.
func (c ConfigurationChange) CanOverride() bool {
	return c.TypeOfChange != ChangeMaterialInsert && c.TypeOfChange != ChangeBuildPlate
}

// Impediment is a reason a job cannot start, expressed as a translation key
// for the GUI plus a severity.
type Impediment struct {
	TranslationKey string `json:"translation_key"`
	Severity       string `json:"severity"`
}

// PrintJob is a job in a cluster's queue or running on a printer.
// AssignedPrinterUUID (queued) and PrinterUUID (running) are mutually
// exclusive at steady state.
type PrintJob struct {
	notifier

	UUID                      string                  `json:"uuid"`
	Name                      string                  `json:"name"`
	Owner                     string                  `json:"owner"`
	Status                    PrintJobStatus          `json:"status"`
	TimeTotal                 int                     `json:"time_total"`
	TimeElapsed               int                     `json:"time_elapsed"`
	AssignedPrinterUUID       string                  `json:"assigned_to,omitempty"`
	PrinterUUID               string                  `json:"printer_uuid,omitempty"`
	Configuration             []ExtruderConfiguration `json:"configuration,omitempty"`
	CompatibleMachineFamilies []string                `json:"compatible_machine_families,omitempty"`
	ConfigurationChanges      []ConfigurationChange   `json:"configuration_changes_required,omitempty"`
	Impediments               []Impediment            `json:"impediments_to_printing,omitempty"`
	CreatedAt                 time.Time               `json:"created_at,omitempty"`
	Started                   bool                    `json:"started,omitempty"`

	previewImage    []byte
	assignedPrinter *Printer
}

// Progress returns elapsed/total clamped to [0,1]. A zero total counts as 1
// so a job with no estimate never divides by zero.
func (j *PrintJob) Progress() float64 {
	total := j.TimeTotal
	if total < 1 {
		total = 1
	}
	p := float64(j.TimeElapsed) / float64(total)
	if p > 1 {
		return 1
	}
	return p
}

// InQueue reports whether the job belongs in "queued" lists.
func (j *PrintJob) InQueue() bool {
	return j.Status == PrintJobStatusQueued || j.Status == PrintJobStatusError
}

// Active reports whether the job belongs in "active" lists: bound to a
// printer and past the queue.
func (j *PrintJob) Active() bool {
	return j.PrinterUUID != "" && !j.InQueue()
}

// AssignedPrinter returns the printer this job runs on, when resolved.
func (j *PrintJob) AssignedPrinter() *Printer {
	return j.assignedPrinter
}

// PreviewImage returns the lazily-fetched preview bytes, or nil.
func (j *PrintJob) PreviewImage() []byte {
	return j.previewImage
}

// UpdateStatus sets the job status, notifying iff it changed.
func (j *PrintJob) UpdateStatus(s PrintJobStatus) bool {
	if j.Status == s {
		return false
	}
	old := j.Status
	j.Status = s
	j.notify(Change{Model: "print_job", ID: j.UUID, Field: "status", Old: old, New: s})
	return true
}

// UpdateName sets the job name, notifying iff it changed.
func (j *PrintJob) UpdateName(name string) bool {
	if j.Name == name {
		return false
	}
	old := j.Name
	j.Name = name
	j.notify(Change{Model: "print_job", ID: j.UUID, Field: "name", Old: old, New: name})
	return true
}

// UpdateOwner sets the job owner, notifying iff it changed.
func (j *PrintJob) UpdateOwner(owner string) bool {
	if j.Owner == owner {
		return false
	}
	old := j.Owner
	j.Owner = owner
	j.notify(Change{Model: "print_job", ID: j.UUID, Field: "owner", Old: old, New: owner})
	return true
}

// UpdateTimes sets total and elapsed seconds in one mutation.
func (j *PrintJob) UpdateTimes(total, elapsed int) bool {
	if j.TimeTotal == total && j.TimeElapsed == elapsed {
		return false
	}
	j.TimeTotal = total
	j.TimeElapsed = elapsed
	j.notify(Change{Model: "print_job", ID: j.UUID, Field: "times", New: [2]int{total, elapsed}})
	return true
}

// UpdateAssignment sets the queued-assignment and running-printer uuids in
// one mutation. A running job carries only PrinterUUID.
func (j *PrintJob) UpdateAssignment(assignedTo, printerUUID string) bool {
	if j.AssignedPrinterUUID == assignedTo && j.PrinterUUID == printerUUID {
		return false
	}
	j.AssignedPrinterUUID = assignedTo
	j.PrinterUUID = printerUUID
	j.notify(Change{Model: "print_job", ID: j.UUID, Field: "assignment", New: printerUUID})
	return true
}

// UpdateConfigurationChanges replaces the required-changes list when it
// differs.
func (j *PrintJob) UpdateConfigurationChanges(changes []ConfigurationChange) bool {
	if configurationChangesEqual(j.ConfigurationChanges, changes) {
		return false
	}
	j.ConfigurationChanges = changes
	j.notify(Change{Model: "print_job", ID: j.UUID, Field: "configuration_changes", New: changes})
	return true
}

// UpdateImpediments replaces the impediment list when it differs.
func (j *PrintJob) UpdateImpediments(imps []Impediment) bool {
	if impedimentsEqual(j.Impediments, imps) {
		return false
	}
	j.Impediments = imps
	j.notify(Change{Model: "print_job", ID: j.UUID, Field: "impediments", New: imps})
	return true
}

// UpdatePreviewImage stores fetched preview bytes. An empty slice clears it.
func (j *PrintJob) UpdatePreviewImage(data []byte) bool {
	if len(data) == 0 && j.previewImage == nil {
		return false
	}
	j.previewImage = data
	j.notify(Change{Model: "print_job", ID: j.UUID, Field: "preview_image"})
	return true
}

func configurationChangesEqual(a, b []ConfigurationChange) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func impedimentsEqual(a, b []Impediment) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
