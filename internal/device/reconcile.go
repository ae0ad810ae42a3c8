package device

import (
	"context"

	"go.uber.org/zap"

	"github.com/printnest/printnest/pkg/models"
)

// reconcile folds one snapshot into the live model set. Objects are created
// on first sighting, updated field-by-field so observers only fire on real
// changes, and destroyed when their uuid disappears from the response.
func (d *Device) reconcile(ctx context.Context, snap *Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.reconcilePrinters(snap.Printers)
	d.reconcileJobs(snap.PrintJobs)
	d.reconcileAssignments()
}

func (d *Device) reconcilePrinters(incoming []*models.Printer) {
	seen := make(map[string]bool, len(incoming))
	order := make([]string, 0, len(incoming))

	for _, in := range incoming {
		if in.UUID == "" {
			continue
		}
		seen[in.UUID] = true
		order = append(order, in.UUID)

		existing, ok := d.printers[in.UUID]
		if !ok {
			d.printers[in.UUID] = in
			d.unsubscribe["printer:"+in.UUID] = in.OnChange(d.forwardChange)
			d.logger.Debug("printer added", zap.String("uuid", in.UUID))
			d.publish(TopicPrinterAdded, in.UUID)
			continue
		}
		existing.UpdateFriendlyName(in.FriendlyName)
		existing.UpdateStatus(in.Status)
		existing.UpdateFirmwareVersion(in.FirmwareVersion)
		existing.UpdateIPAddress(in.IPAddress)
		existing.UpdateBuildPlateType(in.BuildPlateType)
		existing.UpdateConfiguration(in.Configuration)
		existing.UpdateMaterialStation(in.MaterialStation)
	}

	for uuid, p := range d.printers {
		if seen[uuid] {
			continue
		}
		p.UpdateActivePrintJob(nil)
		if unsub := d.unsubscribe["printer:"+uuid]; unsub != nil {
			unsub()
			delete(d.unsubscribe, "printer:"+uuid)
		}
		delete(d.printers, uuid)
		d.logger.Debug("printer removed", zap.String("uuid", uuid))
		d.publish(TopicPrinterRemoved, uuid)
	}
	d.printerOrder = order
}

func (d *Device) reconcileJobs(incoming []*models.PrintJob) {
	seen := make(map[string]bool, len(incoming))
	order := make([]string, 0, len(incoming))

	for _, in := range incoming {
		if in.UUID == "" {
			continue
		}
		seen[in.UUID] = true
		order = append(order, in.UUID)

		existing, ok := d.jobs[in.UUID]
		if !ok {
			d.jobs[in.UUID] = in
			d.unsubscribe["job:"+in.UUID] = in.OnChange(d.forwardChange)
			d.logger.Debug("print job added", zap.String("uuid", in.UUID))
			d.publish(TopicJobAdded, in.UUID)
			continue
		}
		existing.UpdateName(in.Name)
		existing.UpdateOwner(in.Owner)
		existing.UpdateStatus(in.Status)
		existing.UpdateTimes(in.TimeTotal, in.TimeElapsed)
		existing.UpdateAssignment(in.AssignedPrinterUUID, in.PrinterUUID)
		existing.UpdateConfigurationChanges(in.ConfigurationChanges)
		existing.UpdateImpediments(in.Impediments)
	}

	for uuid, j := range d.jobs {
		if seen[uuid] {
			continue
		}
		if p := j.AssignedPrinter(); p != nil {
			p.UpdateActivePrintJob(nil)
		}
		if unsub := d.unsubscribe["job:"+uuid]; unsub != nil {
			unsub()
			delete(d.unsubscribe, "job:"+uuid)
		}
		delete(d.jobs, uuid)
		d.logger.Debug("print job removed", zap.String("uuid", uuid))
		d.publish(TopicJobRemoved, uuid)
	}
	d.jobOrder = order
}

// reconcileAssignments points each printer at the job running on it. Both
// sides of the back-reference move together inside UpdateActivePrintJob.
func (d *Device) reconcileAssignments() {
	running := make(map[string]*models.PrintJob)
	for _, j := range d.jobs {
		if j.Active() {
			running[j.PrinterUUID] = j
		}
	}
	for uuid, p := range d.printers {
		p.UpdateActivePrintJob(running[uuid])
	}
}

// forwardChange relays a model mutation onto the bus.
func (d *Device) forwardChange(c models.Change) {
	d.publish(TopicModelChanged, c)
}
