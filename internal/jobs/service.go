// Package jobs accepts submissions and answers polls. It talks to the
// background executor only through the job row and Scheduler.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/trigger-engine/internal/storage"
	"github.com/codebuildervaibhav/trigger-engine/internal/types"
)

var (
	// ErrInvalidURL is returned for URLs outside the allowed hosts.
	ErrInvalidURL = errors.New("invalid url")
	// ErrNotFound is returned when polling an id that does not exist, which
	// includes jobs deleted after a failed run.
	ErrNotFound = errors.New("job not found")
)

// DefaultStuckThreshold is how old a pending job may get before a new
// submission reschedules it.
const DefaultStuckThreshold = 300 * time.Second

// Store is the part of storage.JobStore the service needs.
type Store interface {
	Create(ctx context.Context, job *types.Job) error
	Get(ctx context.Context, id string) (*types.Job, error)
	FindBySourceURL(ctx context.Context, url string) (*types.Job, error)
	FindBySourceID(ctx context.Context, sourceID string) (*types.Job, error)
	ListComplete(ctx context.Context, limit int) ([]types.Job, error)
}

// Scheduler starts background execution of a job id.
type Scheduler interface {
	Schedule(id string)
}

// IDResolver maps a URL to a platform-native id.
type IDResolver interface {
	Resolve(ctx context.Context, url string) (string, error)
}

// Config tunes the service.
type Config struct {
	AllowedHosts   []string
	StuckThreshold time.Duration
}

// Service implements submit and poll.
type Service struct {
	store     Store
	scheduler Scheduler
	resolver  IDResolver
	hosts     []string
	stuck     time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewService builds the service. resolver may be nil to skip source id
// deduplication.
func NewService(store Store, scheduler Scheduler, resolver IDResolver, cfg Config, logger *zap.Logger) *Service {
	if len(cfg.AllowedHosts) == 0 {
		cfg.AllowedHosts = []string{"instagram.com"}
	}
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = DefaultStuckThreshold
	}
	return &Service{
		store:     store,
		scheduler: scheduler,
		resolver:  resolver,
		hosts:     cfg.AllowedHosts,
		stuck:     cfg.StuckThreshold,
		now:       time.Now,
		logger:    logger,
	}
}

// Submit registers rawURL for processing. Submitting the same URL again,
// or another URL for the same post, returns the existing job.
func (s *Service) Submit(ctx context.Context, rawURL string) (*types.SubmitResult, error) {
	sourceURL, err := s.validate(rawURL)
	if err != nil {
		return nil, err
	}

	if res, ok, err := s.existing(ctx, func() (*types.Job, error) {
		return s.store.FindBySourceURL(ctx, sourceURL)
	}); ok || err != nil {
		return res, err
	}

	sourceID := s.resolveID(ctx, sourceURL)
	if sourceID != "" {
		if res, ok, err := s.existing(ctx, func() (*types.Job, error) {
			return s.store.FindBySourceID(ctx, sourceID)
		}); ok || err != nil {
			return res, err
		}
	}

	job := &types.Job{
		ID:        uuid.New().String(),
		SourceURL: sourceURL,
		SourceID:  sourceID,
		Status:    types.StatusPending,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Create(ctx, job); err != nil {
		if !errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("create job: %w", err)
		}
		// A concurrent submission won the insert.
		return s.afterConflict(ctx, sourceURL, sourceID)
	}

	s.logger.Info("job created",
		zap.String("job_id", job.ID),
		zap.String("url", sourceURL),
		zap.String("source_id", sourceID))
	s.scheduler.Schedule(job.ID)
	return &types.SubmitResult{Status: types.OutcomeProcessing, ID: job.ID}, nil
}

func (s *Service) afterConflict(ctx context.Context, sourceURL, sourceID string) (*types.SubmitResult, error) {
	if res, ok, err := s.existing(ctx, func() (*types.Job, error) {
		return s.store.FindBySourceURL(ctx, sourceURL)
	}); ok || err != nil {
		return res, err
	}
	if sourceID != "" {
		if res, ok, err := s.existing(ctx, func() (*types.Job, error) {
			return s.store.FindBySourceID(ctx, sourceID)
		}); ok || err != nil {
			return res, err
		}
	}
	return nil, fmt.Errorf("create job: %w", storage.ErrConflict)
}

// existing answers a submission from a stored job. ok is false when find
// reports no match.
func (s *Service) existing(ctx context.Context, find func() (*types.Job, error)) (*types.SubmitResult, bool, error) {
	job, err := find()
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup job: %w", err)
	}

	if job.Complete() {
		result := job.Snapshot()
		return &types.SubmitResult{Status: types.OutcomeCached, ID: job.ID, Result: &result}, true, nil
	}

	if age := s.now().Sub(job.CreatedAt); age > s.stuck {
		s.logger.Warn("rescheduling stuck job",
			zap.String("job_id", job.ID),
			zap.Duration("age", age.Round(time.Second)))
		s.scheduler.Schedule(job.ID)
	}
	return &types.SubmitResult{Status: types.OutcomeProcessing, ID: job.ID}, true, nil
}

func (s *Service) resolveID(ctx context.Context, sourceURL string) string {
	if s.resolver == nil {
		return ""
	}
	id, err := s.resolver.Resolve(ctx, sourceURL)
	if err != nil {
		s.logger.Debug("could not resolve source id", zap.String("url", sourceURL), zap.Error(err))
		return ""
	}
	return id
}

// validate trims rawURL and checks its scheme and host.
func (s *Service) validate(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	for _, allowed := range s.hosts {
		allowed = strings.ToLower(allowed)
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return trimmed, nil
		}
	}
	return "", fmt.Errorf("%w: host %q is not allowed", ErrInvalidURL, host)
}

// Poll reports the state of job id.
func (s *Service) Poll(ctx context.Context, id string) (*types.PollResult, error) {
	job, err := s.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if !job.Complete() {
		return &types.PollResult{Status: types.OutcomeProcessing, ID: job.ID}, nil
	}
	result := job.Snapshot()
	return &types.PollResult{Status: types.OutcomeComplete, ID: job.ID, Result: &result}, nil
}

// Recent lists up to limit completed jobs, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]types.Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	jobs, err := s.store.ListComplete(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}
