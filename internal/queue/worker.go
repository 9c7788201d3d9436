// Package queue runs submitted jobs in the background.
package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/codebuildervaibhav/trigger-engine/internal/generation"
	"github.com/codebuildervaibhav/trigger-engine/internal/media"
	"github.com/codebuildervaibhav/trigger-engine/internal/metrics"
	"github.com/codebuildervaibhav/trigger-engine/internal/notify"
	"github.com/codebuildervaibhav/trigger-engine/internal/storage"
	"github.com/codebuildervaibhav/trigger-engine/internal/types"
)

// Store is the part of storage.JobStore the executor needs.
type Store interface {
	Get(ctx context.Context, id string) (*types.Job, error)
	Claim(ctx context.Context, id, owner string, now time.Time, ttl time.Duration) (bool, error)
	FindCompleteByFingerprint(ctx context.Context, fingerprint string) (*types.Job, error)
	Complete(ctx context.Context, job *types.Job) error
	DeletePending(ctx context.Context, id string) (bool, error)
}

// Source downloads a URL and extracts its artifact.
type Source interface {
	Prepare(ctx context.Context, url string) (media.Download, error)
}

// Transcriber turns an artifact into a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, artifact types.Artifact) (types.Transcript, error)
}

// Generator derives triggers and a title from an English transcript.
type Generator interface {
	Generate(ctx context.Context, transcript string) (generation.Result, error)
}

// DefaultLeaseTTL is how long a claim survives without renewal.
const DefaultLeaseTTL = time.Minute

// Config tunes the pool. LeaseTTL must stay below the stuck threshold so a
// job whose executor died becomes claimable again by the time it is
// rescheduled.
type Config struct {
	Workers  int
	LeaseTTL time.Duration
}

// WorkerPool executes jobs with bounded concurrency.
type WorkerPool struct {
	store       Store
	source      Source
	transcriber Transcriber
	generator   Generator
	notifier    notify.Notifier
	fingerprint func(types.Artifact) (string, error)

	sem      *semaphore.Weighted
	leaseTTL time.Duration
	poolID   string
	now      func() time.Time
	metrics  *metrics.Metrics
	logger   *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(
	cfg Config,
	store Store,
	source Source,
	transcriber Transcriber,
	generator Generator,
	notifier notify.Notifier,
	m *metrics.Metrics,
	logger *zap.Logger,
) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if m == nil {
		m = metrics.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		store:       store,
		source:      source,
		transcriber: transcriber,
		generator:   generator,
		notifier:    notifier,
		fingerprint: media.Fingerprint,
		sem:         semaphore.NewWeighted(int64(cfg.Workers)),
		leaseTTL:    cfg.LeaseTTL,
		poolID:      uuid.New().String(),
		now:         time.Now,
		metrics:     m,
		logger:      logger,
		baseCtx:     ctx,
		cancel:      cancel,
	}
}

// Schedule runs job id in the background. It never blocks the caller.
func (wp *WorkerPool) Schedule(id string) {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		wp.logger.Warn("dropping job scheduled during shutdown", zap.String("job_id", id))
		return
	}
	wp.wg.Add(1)
	wp.mu.Unlock()

	go func() {
		defer wp.wg.Done()
		if err := wp.Run(wp.baseCtx, id); err != nil && !errors.Is(err, context.Canceled) {
			wp.logger.Error("job run aborted", zap.String("job_id", id), zap.Error(err))
		}
	}()
}

// Run executes job id, waiting for a free slot first. Job failures are
// handled inside the run; the returned error only reports that no run
// happened.
func (wp *WorkerPool) Run(ctx context.Context, id string) error {
	if err := wp.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer wp.sem.Release(1)

	wp.metrics.ActiveJobs.Inc()
	defer wp.metrics.ActiveJobs.Dec()
	start := wp.now()

	outcome := wp.execute(ctx, id)
	wp.metrics.Jobs.WithLabelValues(outcome).Inc()
	if outcome != outcomeSkipped {
		wp.metrics.JobDuration.Observe(wp.now().Sub(start).Seconds())
	}
	return nil
}

// Shutdown stops accepting jobs and waits for in-flight runs. When ctx
// expires first the runs are cancelled.
func (wp *WorkerPool) Shutdown(ctx context.Context) error {
	wp.mu.Lock()
	wp.closed = true
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.cancel()
		return nil
	case <-ctx.Done():
		wp.cancel()
		<-done
		return ctx.Err()
	}
}

// execute runs one claimed job and returns its outcome.
func (wp *WorkerPool) execute(ctx context.Context, id string) (outcome string) {
	owner := wp.poolID + "/" + uuid.New().String()
	logger := wp.logger.With(zap.String("job_id", id))

	claimed, err := wp.store.Claim(ctx, id, owner, wp.now(), wp.leaseTTL)
	if err != nil {
		logger.Error("failed to claim job", zap.Error(err))
		return outcomeSkipped
	}
	if !claimed {
		logger.Debug("job is leased elsewhere or no longer pending")
		return outcomeSkipped
	}

	job, err := wp.store.Get(ctx, id)
	if err != nil {
		logger.Error("failed to load claimed job", zap.Error(err))
		return outcomeSkipped
	}
	logger = logger.With(zap.String("url", job.SourceURL))
	logger.Info("processing job")

	runCtx, stopRenew := context.WithCancel(ctx)
	defer stopRenew()
	go wp.renewLease(runCtx, id, owner, logger)

	var temp []string
	defer func() {
		cleanupTempFiles(temp, logger)
	}()

	err = func() (err error) {
		// Panic recovery
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic while processing job",
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())))
				err = &errPanic{value: r}
			}
		}()
		outcome, err = wp.process(runCtx, job, &temp, logger)
		return err
	}()
	if err == nil {
		return outcome
	}

	wp.fail(ctx, job, err, logger)
	return outcomeFailed
}

// process is the pipeline proper. temp collects files to remove afterwards.
func (wp *WorkerPool) process(ctx context.Context, job *types.Job, temp *[]string, logger *zap.Logger) (string, error) {
	download, err := wp.source.Prepare(ctx, job.SourceURL)
	*temp = append(*temp, download.Temp...)
	if err != nil {
		return "", err
	}
	artifact := download.Artifact

	fingerprint, err := wp.fingerprint(artifact)
	if err != nil {
		return "", fmt.Errorf("fingerprint media: %w", err)
	}

	if done, err := wp.copyDuplicate(ctx, job, fingerprint, logger); done || err != nil {
		return outcomeDuplicate, err
	}

	transcript, err := wp.transcriber.Transcribe(ctx, artifact)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}

	generated, err := wp.generator.Generate(ctx, transcript.English)
	if err != nil {
		return "", err
	}

	processedAt := wp.now().UTC()
	job.Language = transcript.Language
	job.TranscriptNative = transcript.Native
	job.TranscriptEnglish = transcript.English
	job.Triggers = generated.Triggers
	job.Title = generated.Title
	job.ContentFingerprint = fingerprint
	job.ProcessedAt = &processedAt

	err = wp.store.Complete(ctx, job)
	switch {
	case errors.Is(err, storage.ErrConflict):
		// Another job with the same media finished while this one ran.
		done, err := wp.copyDuplicate(ctx, job, fingerprint, logger)
		if err != nil {
			return "", err
		}
		if !done {
			return "", fmt.Errorf("complete job: %w", storage.ErrConflict)
		}
		return outcomeDuplicate, nil
	case errors.Is(err, storage.ErrNotPending):
		logger.Warn("job left pending state while processing; result discarded")
		return outcomeSkipped, nil
	case err != nil:
		return "", err
	}

	logger.Info("job complete",
		zap.String("language", job.Language),
		zap.Int("triggers", len(job.Triggers)),
		zap.String("title", job.Title))

	if err := wp.notifier.NotifySuccess(ctx, job.Snapshot()); err != nil {
		logger.Warn("success notification incomplete", zap.Error(err))
	}
	return outcomeComplete, nil
}

// copyDuplicate completes job from an already complete job with the same
// fingerprint. done is false when there is no such job.
func (wp *WorkerPool) copyDuplicate(ctx context.Context, job *types.Job, fingerprint string, logger *zap.Logger) (bool, error) {
	original, err := wp.store.FindCompleteByFingerprint(ctx, fingerprint)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup fingerprint: %w", err)
	}
	if original.ID == job.ID {
		return true, nil
	}

	processedAt := wp.now().UTC()
	job.CopyResult(original)
	job.ContentFingerprint = ""
	job.ProcessedAt = &processedAt

	if err := wp.store.Complete(ctx, job); err != nil {
		if errors.Is(err, storage.ErrNotPending) {
			return true, nil
		}
		return false, fmt.Errorf("complete duplicate: %w", err)
	}
	logger.Info("same media already processed; result copied", zap.String("original_id", original.ID))
	return true, nil
}

// fail deletes the pending row and sends exactly one failure notification.
func (wp *WorkerPool) fail(ctx context.Context, job *types.Job, cause error, logger *zap.Logger) {
	logger.Error("job failed", zap.Error(cause))

	// The run context may be cancelled; cleanup must still happen.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	deleted, err := wp.store.DeletePending(cleanupCtx, job.ID)
	if err != nil {
		logger.Error("failed to delete failed job", zap.Error(err))
	} else if !deleted {
		logger.Warn("failed job was no longer pending")
	}

	if err := wp.notifier.NotifyFailure(cleanupCtx, job.SourceURL, summarize(cause)); err != nil {
		logger.Warn("failure notification incomplete", zap.Error(err))
	}
}

// renewLease extends the lease until ctx is done so long runs keep it.
func (wp *WorkerPool) renewLease(ctx context.Context, id, owner string, logger *zap.Logger) {
	ticker := time.NewTicker(wp.leaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := wp.store.Claim(ctx, id, owner, wp.now(), wp.leaseTTL)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("failed to renew lease", zap.Error(err))
				continue
			}
			if !ok {
				return
			}
		}
	}
}
