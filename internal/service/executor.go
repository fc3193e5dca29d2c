package service

import (
	"context"
	"fmt"
	"time"

	"chanrelay/internal/constants"
	"chanrelay/internal/models"
	"chanrelay/internal/retry"
	"chanrelay/internal/tracing"
	"chanrelay/pkg/media"
	"chanrelay/pkg/telegram/types"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// TransferExecutor delivers one queued message to its destination. Mode
// selection, restricted-content fallback, size-based transfer timeouts,
// bounded retries and temp-file cleanup all live here; the queue layer
// never retries a job once Execute returns.
type TransferExecutor struct {
	clients ClientProvider
	store   ConfigStore
	stager  media.Stager
	logger  *logrus.Logger

	maxAttempts int
	retryDelay  time.Duration
}

func NewTransferExecutor(clients ClientProvider, store ConfigStore, stager media.Stager, logger *logrus.Logger) *TransferExecutor {
	return &TransferExecutor{
		clients:     clients,
		store:       store,
		stager:      stager,
		logger:      logger,
		maxAttempts: constants.TransferMaxAttempts,
		retryDelay:  constants.TransferRetryDelay,
	}
}

// Execute delivers the job. A nil return means the job is complete, which
// includes degraded deliveries (caption-only after media failure); an error
// means the job is abandoned. The global forward counter is incremented
// only on full-fidelity delivery.
func (e *TransferExecutor) Execute(ctx context.Context, job *models.TransferJob) error {
	ctx, span := tracing.StartSpan(ctx, "transfer.execute",
		attribute.Int64("user_id", job.UserID),
		attribute.Int64("message_id", job.MessageID),
		attribute.String("mode", string(job.Mode)),
	)
	defer span.End()

	client, err := e.clients.ClientFor(job.UserID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("no gateway client for user %d: %w", job.UserID, err)
	}

	mode := job.Mode
	if job.MessageRef.Restricted && mode == models.ForwardModeForward {
		// Protocol-level forwards are impossible for restricted content.
		e.logger.WithFields(logrus.Fields{
			"user_id":    job.UserID,
			"message_id": job.MessageID,
		}).Info("Content restricted, forcing copy mode")
		mode = models.ForwardModeCopy
	}

	if mode == models.ForwardModeForward {
		if err := client.ForwardMessage(ctx, job.DestinationID, job.MessageRef); err != nil {
			if !types.IsTransferError(err) {
				tracing.RecordError(ctx, err)
				return err
			}
			e.logger.WithFields(logrus.Fields{
				"user_id":    job.UserID,
				"message_id": job.MessageID,
			}).WithError(err).Warn("Forward failed, falling back to copy")
		} else {
			return e.recordSuccess(ctx, job)
		}
	}

	if err := e.copy(ctx, client, job); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	return nil
}

// copy delivers the message as a new send: text directly, media via
// download and re-upload.
func (e *TransferExecutor) copy(ctx context.Context, client types.Client, job *models.TransferJob) error {
	ref := job.MessageRef

	if !ref.HasMedia() {
		if err := client.SendText(ctx, job.DestinationID, ref.Text); err != nil {
			return fmt.Errorf("text send failed: %w", err)
		}
		return e.recordSuccess(ctx, job)
	}

	err := e.copyMedia(ctx, client, job)
	if err == nil {
		return nil
	}
	if types.IsTransferError(err) {
		return err
	}

	// An unexpected non-transfer failure mid-pipeline; try a delivery that
	// reuses the gateway-side media handle before degrading to text.
	e.logger.WithFields(logrus.Fields{
		"user_id":    job.UserID,
		"message_id": job.MessageID,
	}).WithError(err).Warn("Copy pipeline failed unexpectedly, trying direct media reference")

	if refErr := client.SendMediaRef(ctx, job.DestinationID, ref.Text, ref); refErr == nil {
		return e.recordSuccess(ctx, job)
	}

	if ref.Text != "" {
		if textErr := client.SendText(ctx, job.DestinationID, ref.Text); textErr == nil {
			e.logger.WithField("message_id", job.MessageID).Info("Delivered caption only, media lost")
			return nil
		}
	}
	return err
}

// copyMedia runs the download, thumbnail, upload pipeline with guaranteed
// staging cleanup on every exit path.
func (e *TransferExecutor) copyMedia(ctx context.Context, client types.Client, job *models.TransferJob) error {
	ref := job.MessageRef
	info := ref.Media

	if info.Size > e.stager.MaxFileBytes() {
		// Too large to stage locally; the gateway-side reference path in
		// copy() can still deliver it.
		return fmt.Errorf("media size %d exceeds staging limit %d", info.Size, e.stager.MaxFileBytes())
	}

	mediaPath := e.stager.StagingPath(job.MessageID)
	thumbPath := ""
	defer func() {
		e.stager.Remove(mediaPath)
		e.stager.Remove(thumbPath)
	}()

	size := info.Size
	if size <= 0 {
		size = constants.PhotoSizeEstimateBytes
	}

	downloaded, err := e.download(ctx, client, ref, mediaPath, size)
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"user_id":    job.UserID,
			"message_id": job.MessageID,
		}).WithError(err).Error("Media download failed after retries")

		if ref.Text != "" {
			if textErr := client.SendText(ctx, job.DestinationID, ref.Text); textErr == nil {
				e.logger.WithField("message_id", job.MessageID).Info("Delivered caption only, media lost")
				return nil
			}
		}
		return err
	}

	if info.HasThumbnail {
		// Thumbnails are cosmetic; never abort the job over one.
		tp := e.stager.ThumbnailPath(job.MessageID)
		if got, thumbErr := client.DownloadThumbnail(ctx, ref, tp); thumbErr == nil {
			thumbPath = got
		} else {
			e.logger.WithField("message_id", job.MessageID).WithError(thumbErr).Debug("Thumbnail download failed")
		}
	}

	if err := e.upload(ctx, client, job, downloaded, thumbPath, size); err != nil {
		e.logger.WithFields(logrus.Fields{
			"user_id":    job.UserID,
			"message_id": job.MessageID,
		}).WithError(err).Error("Media upload failed after retries")
		return err
	}

	return e.recordSuccess(ctx, job)
}

func (e *TransferExecutor) download(ctx context.Context, client types.Client, ref models.MessageRef, destPath string, size int64) (string, error) {
	timeout := downloadTimeout(size)
	var path string

	err := retry.Fixed(ctx, e.maxAttempts, e.retryDelay, func(attempt int) error {
		if err := e.ensureConnected(ctx, client); err != nil {
			return err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		got, err := client.DownloadMedia(attemptCtx, ref, destPath, nil)
		if err != nil {
			e.logger.WithFields(logrus.Fields{
				"message_id": ref.MessageID,
				"attempt":    attempt,
				"timeout":    timeout.String(),
			}).WithError(err).Warn("Download attempt failed")
			return err
		}
		path = got
		return nil
	})
	return path, err
}

func (e *TransferExecutor) upload(ctx context.Context, client types.Client, job *models.TransferJob, path, thumbPath string, size int64) error {
	timeout := uploadTimeout(size)
	attrs := job.MessageRef.Media.Attributes()

	return retry.Fixed(ctx, e.maxAttempts, e.retryDelay, func(attempt int) error {
		if err := e.ensureConnected(ctx, client); err != nil {
			return err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		err := client.UploadFile(attemptCtx, job.DestinationID, path, job.MessageRef.Text, attrs, thumbPath, nil)
		if err != nil {
			e.logger.WithFields(logrus.Fields{
				"message_id": job.MessageID,
				"attempt":    attempt,
				"timeout":    timeout.String(),
			}).WithError(err).Warn("Upload attempt failed")
		}
		return err
	})
}

// ensureConnected reconnects a session that reported itself disconnected
// before the next transfer attempt.
func (e *TransferExecutor) ensureConnected(ctx context.Context, client types.Client) error {
	if client.Connected() {
		return nil
	}
	if err := client.Reconnect(ctx); err != nil {
		return fmt.Errorf("reconnect failed: %w", err)
	}
	return nil
}

func (e *TransferExecutor) recordSuccess(ctx context.Context, job *models.TransferJob) error {
	if err := e.store.IncrementForwardCount(ctx); err != nil {
		// Delivery succeeded; a bookkeeping failure must not fail the job.
		e.logger.WithError(err).Warn("Failed to increment forward counter")
	}
	e.logger.WithFields(logrus.Fields{
		"user_id":     job.UserID,
		"message_id":  job.MessageID,
		"source":      job.SourceChannelID,
		"destination": job.DestinationID,
	}).Info("Message relayed")
	return nil
}

// downloadTimeout assumes ~1.5 MB/s effective throughput plus a fixed
// buffer, floored so small files still get a generous window. The point is
// to distinguish slow-but-working from genuinely stalled transfers.
func downloadTimeout(sizeBytes int64) time.Duration {
	sizeMB := float64(sizeBytes) / float64(constants.BytesPerMegabyte)
	computed := time.Duration(sizeMB/constants.DownloadThroughputMBPerS*float64(time.Second)) + constants.DownloadTimeoutBuffer
	if computed < constants.DownloadTimeoutMin {
		return constants.DownloadTimeoutMin
	}
	return computed
}

// uploadTimeout is the upload analogue at ~1.0 MB/s.
func uploadTimeout(sizeBytes int64) time.Duration {
	sizeMB := float64(sizeBytes) / float64(constants.BytesPerMegabyte)
	computed := time.Duration(sizeMB/constants.UploadThroughputMBPerS*float64(time.Second)) + constants.UploadTimeoutBuffer
	if computed < constants.UploadTimeoutMin {
		return constants.UploadTimeoutMin
	}
	return computed
}
