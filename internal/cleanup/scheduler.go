package cleanup

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Janitor removes downloaded media left behind by interrupted runs. It is
// registered as a cron job.
type Janitor struct {
	mediaDir string
	maxAge   time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewJanitor creates a janitor for mediaDir.
func NewJanitor(mediaDir string, maxAge time.Duration, logger *zap.Logger) *Janitor {
	return &Janitor{
		mediaDir: mediaDir,
		maxAge:   maxAge,
		now:      time.Now,
		logger:   logger,
	}
}

// Run implements cron.Job.
func (j *Janitor) Run() {
	j.CleanOldFiles()
}

// CleanOldFiles removes files older than maxAge from the media directory and
// returns how many were deleted.
func (j *Janitor) CleanOldFiles() int {
	now := j.now()

	var deletedCount int
	var deletedSize int64

	err := filepath.Walk(j.mediaDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip files we can't access
		}
		if info.IsDir() {
			return nil
		}

		age := now.Sub(info.ModTime())
		if age <= j.maxAge {
			return nil
		}
		size := info.Size()
		if err := os.Remove(path); err != nil {
			j.logger.Warn("failed to delete old media file", zap.String("path", path), zap.Error(err))
			return nil
		}
		deletedCount++
		deletedSize += size
		j.logger.Debug("deleted old media file",
			zap.String("file", filepath.Base(path)),
			zap.Duration("age", age.Round(time.Minute)),
			zap.Int64("size_kb", size/1024))
		return nil
	})
	if err != nil {
		j.logger.Error("media cleanup failed", zap.Error(err))
	}

	if deletedCount > 0 {
		j.logger.Info("media cleanup complete",
			zap.Int("files_deleted", deletedCount),
			zap.String("freed", fmt.Sprintf("%.2fMB", float64(deletedSize)/(1024*1024))))
	}
	return deletedCount
}

// EnsureDir creates dir if it doesn't exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}
