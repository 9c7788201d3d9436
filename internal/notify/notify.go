// Package notify tells collaborators about finished and failed jobs.
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/trigger-engine/internal/types"
)

// Notifier receives job outcomes. Success gets an immutable snapshot of the
// completed job; failure gets the submitted URL and a short error summary.
type Notifier interface {
	NotifySuccess(ctx context.Context, job types.Job) error
	NotifyFailure(ctx context.Context, url, summary string) error
}

// Fanout delivers to every notifier and joins their errors. One failing
// notifier does not stop the others.
type Fanout struct {
	notifiers []Notifier
	logger    *zap.Logger
}

func NewFanout(logger *zap.Logger, notifiers ...Notifier) *Fanout {
	return &Fanout{notifiers: notifiers, logger: logger}
}

// Add appends n.
func (f *Fanout) Add(n Notifier) {
	f.notifiers = append(f.notifiers, n)
}

// Len returns the number of notifiers.
func (f *Fanout) Len() int {
	return len(f.notifiers)
}

func (f *Fanout) NotifySuccess(ctx context.Context, job types.Job) error {
	var errs []error
	for _, n := range f.notifiers {
		if err := n.NotifySuccess(ctx, job.Snapshot()); err != nil {
			f.logger.Warn("success notification failed", zap.String("job_id", job.ID), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) NotifyFailure(ctx context.Context, url, summary string) error {
	var errs []error
	for _, n := range f.notifiers {
		if err := n.NotifyFailure(ctx, url, summary); err != nil {
			f.logger.Warn("failure notification failed", zap.String("url", url), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
