package queue

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/trigger-engine/internal/media"
	"github.com/codebuildervaibhav/trigger-engine/internal/provider"
)

// Run outcomes, used as the jobs_total metric label.
const (
	outcomeComplete  = "complete"
	outcomeDuplicate = "duplicate"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped"
)

const maxSummaryLen = 500

// errPanic wraps a recovered panic value.
type errPanic struct {
	value any
}

func (e *errPanic) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// summarize turns a run error into the short text sent to the failure
// notifier.
func summarize(err error) string {
	var fetchErr *media.FetchError
	var extractErr *media.ExtractionError
	var panicErr *errPanic

	var s string
	switch {
	case errors.Is(err, media.ErrNoContent):
		s = "no usable audio in the post"
	case errors.As(err, &panicErr):
		s = "unexpected error: " + err.Error()
	case errors.As(err, &fetchErr):
		s = "media download failed: " + err.Error()
	case errors.As(err, &extractErr):
		s = "audio extraction failed: " + err.Error()
	case provider.Is(err, provider.KindKeysExhausted), provider.Is(err, provider.KindProvidersUnavailable):
		s = "all providers are unavailable: " + err.Error()
	default:
		s = err.Error()
	}
	if len(s) > maxSummaryLen {
		s = s[:maxSummaryLen] + "..."
	}
	return s
}

// cleanupTempFiles removes temporary files
func cleanupTempFiles(paths []string, logger *zap.Logger) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to cleanup temp file", zap.String("path", path), zap.Error(err))
		}
	}
}
