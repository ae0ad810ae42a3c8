package upload

import (
	"context"

	"go.uber.org/zap"

	"github.com/printnest/printnest/internal/metrics"
	"github.com/printnest/printnest/internal/transport"
)

// localClient is the slice of the cluster API client the uploader needs.
type localClient interface {
	UploadPrintJob(ctx context.Context, owner, filename string, payload []byte, requirePrinterName string, progress transport.ProgressFunc) error
}

// LocalUploader sends jobs to a LAN cluster host. One uploader per device.
type LocalUploader struct {
	client  localClient
	logger  *zap.Logger
	metrics *metrics.Set
	gate    gate
}

func NewLocal(client localClient, logger *zap.Logger, m *metrics.Set) *LocalUploader {
	if m == nil {
		m = metrics.NewNop()
	}
	return &LocalUploader{client: client, logger: logger, metrics: m}
}

// Busy reports whether an upload is currently in flight.
func (u *LocalUploader) Busy() bool { return u.gate.busy.Load() }

// Upload posts the job to the cluster. It blocks until the transfer
// finishes; cancel via ctx. A concurrent call returns ErrBusy.
func (u *LocalUploader) Upload(ctx context.Context, job Job, progress transport.ProgressFunc) error {
	if !u.gate.acquire() {
		return ErrBusy
	}
	defer u.gate.release()

	u.metrics.UploadsStarted.Inc()
	u.logger.Info("uploading print job",
		zap.String("name", job.Name),
		zap.Int("size", len(job.Payload)),
	)

	err := u.client.UploadPrintJob(ctx, job.Owner, job.Name, job.Payload, job.RequirePrinterName, progress)
	if err != nil {
		if canceled(ctx, err) {
			u.logger.Debug("upload aborted", zap.String("name", job.Name))
			return err
		}
		u.metrics.UploadFailures.Inc()
		u.logger.Warn("upload failed", zap.String("name", job.Name), zap.Error(err))
		return err
	}

	u.logger.Info("upload complete", zap.String("name", job.Name))
	return nil
}
