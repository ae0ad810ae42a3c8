package device

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/printnest/printnest/internal/metrics"
	"github.com/printnest/printnest/internal/transport"
	"github.com/printnest/printnest/internal/upload"
	"github.com/printnest/printnest/pkg/models"
	"github.com/printnest/printnest/pkg/plugin"
)

// clusterClient is the slice of the LAN API client the device drives.
type clusterClient interface {
	Address() string
	GetPrinters(ctx context.Context) ([]*models.Printer, error)
	GetPrintJobs(ctx context.Context) ([]*models.PrintJob, error)
	GetPreviewImage(ctx context.Context, uuid string) ([]byte, error)
	SetPrintJobState(ctx context.Context, uuid, action string) error
	MovePrintJobToTop(ctx context.Context, uuid string) error
	ForcePrintJob(ctx context.Context, uuid string) error
	DeletePrintJob(ctx context.Context, uuid string) error
}

// UploadJob is the payload handed to an output device for printing.
type UploadJob = upload.Job

// uploader sends print jobs; the device only gates and forwards.
type uploader interface {
	Busy() bool
	Upload(ctx context.Context, job UploadJob, progress transport.ProgressFunc) error
}

// materialSyncer pushes missing material profiles after first contact.
type materialSyncer interface {
	Sync(ctx context.Context) error
}

// LocalDevice is an output device reached directly over the LAN.
type LocalDevice struct {
	*Device
	client clusterClient
	upload uploader
	syncer materialSyncer
}

// LocalOption configures a LocalDevice.
type LocalOption func(*LocalDevice)

// WithUploader attaches the job uploader.
func WithUploader(u uploader) LocalOption {
	return func(d *LocalDevice) { d.upload = u }
}

// WithMaterialSyncer attaches the material syncer, which runs once after
// the first successful poll.
func WithMaterialSyncer(s materialSyncer) LocalOption {
	return func(d *LocalDevice) { d.syncer = s }
}

// WithPollInterval overrides the poll cadence, floored at MinPollInterval.
func WithPollInterval(interval time.Duration) LocalOption {
	return func(d *LocalDevice) {
		if interval > MinPollInterval {
			d.interval = interval
		}
	}
}

// NewLocal creates a device for the cluster host behind client. key is the
// host's network key from discovery.
func NewLocal(key string, client clusterClient, bus plugin.EventBus, logger *zap.Logger, m *metrics.Set, opts ...LocalOption) *LocalDevice {
	d := &LocalDevice{
		Device: newDevice(key, "lan", bus, logger, m, MinPollInterval),
		client: client,
	}
	d.Device.fetch = d.fetchSnapshot
	d.Device.afterPoll = d.fetchMissingPreview
	d.Device.closeOnEmptyPolls = true
	for _, opt := range opts {
		opt(d)
	}
	if d.syncer != nil {
		d.Device.onFirstConnect = func(ctx context.Context) {
			go func() {
				if err := d.syncer.Sync(ctx); err != nil {
					d.logger.Warn("material sync failed", zap.Error(err))
				}
			}()
		}
	}
	return d
}

// Address returns the host address the device polls.
func (d *LocalDevice) Address() string { return d.client.Address() }

func (d *LocalDevice) fetchSnapshot(ctx context.Context) (*Snapshot, error) {
	printers, err := d.client.GetPrinters(ctx)
	if err != nil {
		return nil, err
	}
	jobs, err := d.client.GetPrintJobs(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Printers: printers, PrintJobs: jobs}, nil
}

// fetchMissingPreview backfills at most one job preview per poll so slow
// hosts are never hammered with image requests.
func (d *LocalDevice) fetchMissingPreview(ctx context.Context) {
	for _, j := range d.PrintJobs() {
		if j.PreviewImage() != nil {
			continue
		}
		data, err := d.client.GetPreviewImage(ctx, j.UUID)
		if err != nil {
			d.logger.Debug("preview fetch failed", zap.String("job", j.UUID), zap.Error(err))
			return
		}
		if len(data) > 0 {
			j.UpdatePreviewImage(data)
		}
		return
	}
}

// PausePrintJob pauses a running job.
func (d *LocalDevice) PausePrintJob(ctx context.Context, uuid string) error {
	return d.client.SetPrintJobState(ctx, uuid, "pause")
}

// ResumePrintJob resumes a paused job.
func (d *LocalDevice) ResumePrintJob(ctx context.Context, uuid string) error {
	return d.client.SetPrintJobState(ctx, uuid, "resume")
}

// AbortPrintJob aborts a job.
func (d *LocalDevice) AbortPrintJob(ctx context.Context, uuid string) error {
	return d.client.SetPrintJobState(ctx, uuid, "abort")
}

// MovePrintJobToTop moves a queued job to the front of the queue.
func (d *LocalDevice) MovePrintJobToTop(ctx context.Context, uuid string) error {
	return d.client.MovePrintJobToTop(ctx, uuid)
}

// ForcePrintJob starts a job despite overridable configuration changes.
func (d *LocalDevice) ForcePrintJob(ctx context.Context, uuid string) error {
	return d.client.ForcePrintJob(ctx, uuid)
}

// DeletePrintJob removes a queued job.
func (d *LocalDevice) DeletePrintJob(ctx context.Context, uuid string) error {
	return d.client.DeletePrintJob(ctx, uuid)
}

// UploadPrintJob sends a sliced job to the cluster. Returns upload.ErrBusy
// while another upload is running. The outcome is also announced on the
// bus, and a successful send triggers a material sync.
func (d *LocalDevice) UploadPrintJob(ctx context.Context, job UploadJob, progress transport.ProgressFunc) error {
	err := d.upload.Upload(ctx, job, progress)
	d.reportUpload(job.Name, err)
	if err == nil && d.syncer != nil {
		go func() {
			if serr := d.syncer.Sync(ctx); serr != nil {
				d.logger.Warn("material sync failed", zap.Error(serr))
			}
		}()
	}
	return err
}
