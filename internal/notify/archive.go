package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/trigger-engine/internal/types"
)

// LocalArchiver is the part of storage.LocalStorage the archive needs.
type LocalArchiver interface {
	SaveJob(job types.Job) (string, error)
}

// DriveUploader is the part of storage.DriveClient the archive needs.
type DriveUploader interface {
	UploadJob(ctx context.Context, job types.Job) (string, error)
}

// LocalArchive writes every completed job to disk. Failures are not archived.
type LocalArchive struct {
	store  LocalArchiver
	logger *zap.Logger
}

func NewLocalArchive(store LocalArchiver, logger *zap.Logger) *LocalArchive {
	return &LocalArchive{store: store, logger: logger}
}

func (a *LocalArchive) NotifySuccess(_ context.Context, job types.Job) error {
	path, err := a.store.SaveJob(job)
	if err != nil {
		return fmt.Errorf("local archive: %w", err)
	}
	a.logger.Info("job archived locally", zap.String("job_id", job.ID), zap.String("path", path))
	return nil
}

func (a *LocalArchive) NotifyFailure(context.Context, string, string) error { return nil }

// DriveArchive uploads every completed job to Google Drive, retrying with
// quadratic backoff.
type DriveArchive struct {
	drive    DriveUploader
	attempts int
	backoff  time.Duration
	logger   *zap.Logger
}

func NewDriveArchive(drive DriveUploader, logger *zap.Logger) *DriveArchive {
	return &DriveArchive{drive: drive, attempts: 3, backoff: time.Second, logger: logger}
}

func (a *DriveArchive) NotifySuccess(ctx context.Context, job types.Job) error {
	var err error
	for attempt := 1; attempt <= a.attempts; attempt++ {
		var link string
		link, err = a.drive.UploadJob(ctx, job)
		if err == nil {
			a.logger.Info("job archived to google drive", zap.String("job_id", job.ID), zap.String("link", link))
			return nil
		}
		a.logger.Warn("google drive upload failed",
			zap.String("job_id", job.ID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", a.attempts),
			zap.Error(err))
		if attempt < a.attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt*attempt) * a.backoff):
			}
		}
	}
	return fmt.Errorf("google drive archive: %w", err)
}

func (a *DriveArchive) NotifyFailure(context.Context, string, string) error { return nil }
