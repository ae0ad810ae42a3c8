package upload

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/printnest/printnest/internal/cloudapi"
	"github.com/printnest/printnest/internal/metrics"
	"github.com/printnest/printnest/internal/transport"
)

// maxPutRetries bounds the second-phase PUT attempts after the first one.
const maxPutRetries = 10

// cloudClient is the slice of the cloud API client the uploader needs.
type cloudClient interface {
	RequestUpload(ctx context.Context, jobName string, fileSize int, contentType string) (*cloudapi.UploadTarget, error)
	RequestPrint(ctx context.Context, clusterID, jobID string) error
}

// ErrQueueFull is returned when the cluster's queue rejects the finished
// upload. The payload is already stored; only the print registration failed.
var ErrQueueFull = &transport.Error{
	Kind:   transport.KindConflict,
	Detail: "the printer's job queue is full",
}

// CloudUploader sends jobs through the cloud in two phases: register the
// upload to obtain a signed URL, then PUT the payload there and ask the
// cluster to print it.
type CloudUploader struct {
	client    cloudClient
	transport *transport.Client
	clusterID string
	logger    *zap.Logger
	metrics   *metrics.Set
	gate      gate

	// newBackOff builds the retry policy for one transfer; swapped out
	// in tests to avoid real waits.
	newBackOff func() backoff.BackOff
}

func NewCloud(client cloudClient, tr *transport.Client, clusterID string, logger *zap.Logger, m *metrics.Set) *CloudUploader {
	if m == nil {
		m = metrics.NewNop()
	}
	return &CloudUploader{
		client:    client,
		transport: tr,
		clusterID: clusterID,
		logger:    logger,
		metrics:   m,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 500 * time.Millisecond
			bo.MaxInterval = 30 * time.Second
			return bo
		},
	}
}

// Busy reports whether an upload is currently in flight.
func (u *CloudUploader) Busy() bool { return u.gate.busy.Load() }

// Upload registers, transfers and queues one job. Server errors on the PUT
// are retried with exponential backoff up to maxPutRetries times; any other
// failure aborts immediately. A concurrent call returns ErrBusy.
func (u *CloudUploader) Upload(ctx context.Context, job Job, progress transport.ProgressFunc) error {
	if !u.gate.acquire() {
		return ErrBusy
	}
	defer u.gate.release()

	u.metrics.UploadsStarted.Inc()
	u.logger.Info("uploading print job via cloud",
		zap.String("name", job.Name),
		zap.String("cluster", u.clusterID),
		zap.Int("size", len(job.Payload)),
	)

	target, err := u.client.RequestUpload(ctx, job.Name, len(job.Payload), job.ContentType)
	if err != nil {
		return u.fail(ctx, job, fmt.Errorf("request upload: %w", err))
	}

	if err := u.put(ctx, target, job, progress); err != nil {
		return u.fail(ctx, job, err)
	}

	if err := u.client.RequestPrint(ctx, u.clusterID, target.JobID); err != nil {
		if cloudapi.StatusIsQueueFull(err) {
			u.logger.Info("cluster queue full", zap.String("name", job.Name))
			return ErrQueueFull
		}
		return u.fail(ctx, job, fmt.Errorf("request print: %w", err))
	}

	u.logger.Info("upload complete", zap.String("name", job.Name), zap.String("job_id", target.JobID))
	return nil
}

// put transfers the payload to the signed URL. Only transient outcomes
// (connection failures and 5xx server errors) are retried.
func (u *CloudUploader) put(ctx context.Context, target *cloudapi.UploadTarget, job Job, progress transport.ProgressFunc) error {
	attempt := 0
	op := func() error {
		if attempt > 0 {
			u.metrics.UploadRetries.Inc()
			u.logger.Debug("retrying payload transfer",
				zap.String("name", job.Name),
				zap.Int("attempt", attempt),
			)
		}
		attempt++

		_, _, err := u.transport.PutStream(ctx, target.UploadURL, nil, job.Payload, target.ContentType, progress)
		if err == nil {
			return nil
		}
		if transport.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(u.newBackOff(), maxPutRetries), ctx))
	if err != nil {
		return fmt.Errorf("transfer payload: %w", err)
	}
	return nil
}

func (u *CloudUploader) fail(ctx context.Context, job Job, err error) error {
	if canceled(ctx, err) {
		u.logger.Debug("upload aborted", zap.String("name", job.Name))
		return err
	}
	u.metrics.UploadFailures.Inc()
	u.logger.Warn("upload failed", zap.String("name", job.Name), zap.Error(err))
	return err
}
