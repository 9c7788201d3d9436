// Package recall picks previously processed insights to resurface.
package recall

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/trigger-engine/internal/types"
)

// Bucket takes up to Take jobs completed within Window of now.
type Bucket struct {
	Window time.Duration
	Take   int
}

// DefaultBuckets favour recent insights.
var DefaultBuckets = []Bucket{
	{Window: 2 * 24 * time.Hour, Take: 3},
	{Window: 7 * 24 * time.Hour, Take: 2},
	{Window: 30 * 24 * time.Hour, Take: 1},
}

// Store lists completed jobs.
type Store interface {
	ListCompleteSince(ctx context.Context, since time.Time) ([]types.Job, error)
}

// Sender delivers a recall selection.
type Sender interface {
	SendRecall(ctx context.Context, jobs []types.Job) error
}

// Selector draws recall selections from the store.
type Selector struct {
	store   Store
	buckets []Bucket
	now     func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

// Option configures a Selector.
type Option func(*Selector)

// WithBuckets replaces DefaultBuckets.
func WithBuckets(b []Bucket) Option {
	return func(s *Selector) { s.buckets = b }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Selector) { s.now = now }
}

// WithRand sets the random source.
func WithRand(r *rand.Rand) Option {
	return func(s *Selector) { s.rnd = r }
}

func NewSelector(store Store, opts ...Option) *Selector {
	s := &Selector{
		store:   store,
		buckets: DefaultBuckets,
		now:     time.Now,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select returns up to limit jobs with triggers. Each bucket contributes up
// to its Take from jobs not already chosen, in random order. limit <= 0
// means no limit beyond the buckets.
func (s *Selector) Select(ctx context.Context, limit int) ([]types.Job, error) {
	if len(s.buckets) == 0 {
		return nil, nil
	}
	now := s.now()

	widest := s.buckets[0].Window
	for _, b := range s.buckets[1:] {
		if b.Window > widest {
			widest = b.Window
		}
	}
	candidates, err := s.store.ListCompleteSince(ctx, now.Add(-widest))
	if err != nil {
		return nil, fmt.Errorf("recall: list jobs: %w", err)
	}

	seen := make(map[string]bool)
	var picked []types.Job
	for _, b := range s.buckets {
		since := now.Add(-b.Window)
		var pool []types.Job
		for _, job := range candidates {
			if seen[job.ID] || len(job.Triggers) == 0 {
				continue
			}
			if job.ProcessedAt == nil || job.ProcessedAt.Before(since) {
				continue
			}
			pool = append(pool, job)
		}

		s.shuffle(pool)
		if len(pool) > b.Take {
			pool = pool[:b.Take]
		}
		for _, job := range pool {
			seen[job.ID] = true
			picked = append(picked, job)
		}
	}

	if limit > 0 && len(picked) > limit {
		picked = picked[:limit]
	}
	return picked, nil
}

func (s *Selector) shuffle(jobs []types.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rnd.Shuffle(len(jobs), func(i, j int) { jobs[i], jobs[j] = jobs[j], jobs[i] })
}

// Mailer is a cron job that sends the daily recall.
type Mailer struct {
	selector *Selector
	sender   Sender
	limit    int
	timeout  time.Duration
	logger   *zap.Logger
}

func NewMailer(selector *Selector, sender Sender, limit int, logger *zap.Logger) *Mailer {
	return &Mailer{
		selector: selector,
		sender:   sender,
		limit:    limit,
		timeout:  2 * time.Minute,
		logger:   logger,
	}
}

// Run implements cron.Job.
func (m *Mailer) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.Send(ctx); err != nil {
		m.logger.Error("daily recall failed", zap.Error(err))
	}
}

// Send selects and delivers one recall.
func (m *Mailer) Send(ctx context.Context) error {
	jobs, err := m.selector.Select(ctx, m.limit)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		m.logger.Info("no insights to recall")
		return nil
	}
	if err := m.sender.SendRecall(ctx, jobs); err != nil {
		return fmt.Errorf("recall: send: %w", err)
	}
	m.logger.Info("daily recall sent", zap.Int("insights", len(jobs)))
	return nil
}
