package device

import (
	"context"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/printnest/printnest/internal/cloudapi"
	"github.com/printnest/printnest/internal/metrics"
	"github.com/printnest/printnest/internal/transport"
	"github.com/printnest/printnest/pkg/models"
	"github.com/printnest/printnest/pkg/plugin"
)

// Firmware from this version on accepts job actions through the cloud.
var minActionFirmware = semver.MustParse("5.2.12")

// cloudStatusClient is the slice of the cloud API client the device drives.
type cloudStatusClient interface {
	GetClusterStatus(ctx context.Context, clusterID string) (*cloudapi.ClusterStatus, error)
	DoPrintJobAction(ctx context.Context, clusterID, clusterJobID, action string, data map[string]any) error
}

// CloudDevice is an output device reached through the cloud relay.
type CloudDevice struct {
	*Device
	client  cloudStatusClient
	cluster models.Cluster
	upload  uploader
}

// CloudOption configures a CloudDevice.
type CloudOption func(*CloudDevice)

// WithCloudUploader attaches the two-phase cloud uploader.
func WithCloudUploader(u uploader) CloudOption {
	return func(d *CloudDevice) { d.upload = u }
}

// NewCloud creates a device for one cloud cluster.
func NewCloud(cluster models.Cluster, client cloudStatusClient, bus plugin.EventBus, logger *zap.Logger, m *metrics.Set, opts ...CloudOption) *CloudDevice {
	d := &CloudDevice{
		Device:  newDevice(cluster.ClusterID, "cloud", bus, logger, m, MinPollInterval),
		client:  client,
		cluster: cluster,
	}
	d.Device.fetch = d.fetchSnapshot
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Cluster returns the cloud cluster record this device was built from.
func (d *CloudDevice) Cluster() models.Cluster { return d.cluster }

func (d *CloudDevice) fetchSnapshot(ctx context.Context) (*Snapshot, error) {
	status, err := d.client.GetClusterStatus(ctx, d.cluster.ClusterID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Printers: status.Printers, PrintJobs: status.PrintJobs}, nil
}

// SupportsQueue reports whether the cluster manages a job queue.
func (d *CloudDevice) SupportsQueue() bool {
	return d.cluster.SupportsQueue()
}

// SupportsPrintJobActions reports whether job actions may be sent through
// the cloud: every printer must run firmware new enough to accept them.
func (d *CloudDevice) SupportsPrintJobActions() bool {
	printers := d.Printers()
	if len(printers) == 0 {
		return false
	}
	for _, p := range printers {
		v, err := semver.NewVersion(firmwareCore(p.FirmwareVersion))
		if err != nil {
			d.logger.Debug("unparseable firmware version",
				zap.String("printer", p.UUID),
				zap.String("version", p.FirmwareVersion),
			)
			return false
		}
		if v.LessThan(minActionFirmware) {
			return false
		}
	}
	return true
}

// firmwareCore reduces a printer firmware string to major.minor.patch.
// Printers report a fourth build segment (e.g. "5.8.2.20231115") that
// semver rejects and the capability floor does not care about.
func firmwareCore(version string) string {
	parts := strings.SplitN(version, ".", 4)
	if len(parts) == 4 {
		return strings.Join(parts[:3], ".")
	}
	return version
}

// PausePrintJob pauses a running job.
func (d *CloudDevice) PausePrintJob(ctx context.Context, uuid string) error {
	return d.client.DoPrintJobAction(ctx, d.cluster.ClusterID, uuid, "pause", nil)
}

// ResumePrintJob resumes a paused job.
func (d *CloudDevice) ResumePrintJob(ctx context.Context, uuid string) error {
	return d.client.DoPrintJobAction(ctx, d.cluster.ClusterID, uuid, "print", nil)
}

// AbortPrintJob aborts a job.
func (d *CloudDevice) AbortPrintJob(ctx context.Context, uuid string) error {
	return d.client.DoPrintJobAction(ctx, d.cluster.ClusterID, uuid, "abort", nil)
}

// MovePrintJobToTop moves a queued job to the front of the queue.
func (d *CloudDevice) MovePrintJobToTop(ctx context.Context, uuid string) error {
	return d.client.DoPrintJobAction(ctx, d.cluster.ClusterID, uuid, "move",
		map[string]any{"list": "queued", "to_position": 0})
}

// ForcePrintJob starts a job despite overridable configuration changes.
func (d *CloudDevice) ForcePrintJob(ctx context.Context, uuid string) error {
	return d.client.DoPrintJobAction(ctx, d.cluster.ClusterID, uuid, "force", nil)
}

// DeletePrintJob removes a queued job.
func (d *CloudDevice) DeletePrintJob(ctx context.Context, uuid string) error {
	return d.client.DoPrintJobAction(ctx, d.cluster.ClusterID, uuid, "remove", nil)
}

// UploadPrintJob registers, transfers and queues a job through the cloud.
// The outcome is also announced on the bus.
func (d *CloudDevice) UploadPrintJob(ctx context.Context, job UploadJob, progress transport.ProgressFunc) error {
	err := d.upload.Upload(ctx, job, progress)
	d.reportUpload(job.Name, err)
	return err
}
