package testutil

import (
	"github.com/google/uuid"

	"github.com/printnest/printnest/pkg/models"
)

// NewPrinter returns a Printer with sensible defaults, suitable for test
// fixtures. Override individual fields after creation as needed.
func NewPrinter(opts ...func(*models.Printer)) *models.Printer {
	p := &models.Printer{
		UUID:            uuid.New().String(),
		FriendlyName:    "test-printer",
		Status:          models.PrinterStatusIdle,
		FirmwareVersion: "6.4.0",
		IPAddress:       "192.168.1.100",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithPrinterUUID sets the printer uuid.
func WithPrinterUUID(id string) func(*models.Printer) {
	return func(p *models.Printer) { p.UUID = id }
}

// WithPrinterStatus sets the printer status.
func WithPrinterStatus(s models.PrinterStatus) func(*models.Printer) {
	return func(p *models.Printer) { p.Status = s }
}

// WithFirmware sets the printer firmware version.
func WithFirmware(v string) func(*models.Printer) {
	return func(p *models.Printer) { p.FirmwareVersion = v }
}

// NewPrintJob returns a queued PrintJob fixture.
func NewPrintJob(opts ...func(*models.PrintJob)) *models.PrintJob {
	j := &models.PrintJob{
		UUID:      uuid.New().String(),
		Name:      "test-job",
		Owner:     "tester",
		Status:    models.PrintJobStatusQueued,
		TimeTotal: 3600,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// WithJobStatus sets the job status.
func WithJobStatus(s models.PrintJobStatus) func(*models.PrintJob) {
	return func(j *models.PrintJob) { j.Status = s }
}

// RunningOn binds the job to a printer uuid as its running host.
func RunningOn(printerUUID string) func(*models.PrintJob) {
	return func(j *models.PrintJob) {
		j.Status = models.PrintJobStatusPrinting
		j.PrinterUUID = printerUUID
	}
}
