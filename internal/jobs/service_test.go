package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/trigger-engine/internal/media"
	"github.com/codebuildervaibhav/trigger-engine/internal/storage"
	"github.com/codebuildervaibhav/trigger-engine/internal/types"
)

type recordingScheduler struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingScheduler) Schedule(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func (r *recordingScheduler) scheduled() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

type fixture struct {
	store     *storage.JobStore
	scheduler *recordingScheduler
	svc       *Service
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewJobStore(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store:     store,
		scheduler: &recordingScheduler{},
		now:       time.Date(2026, 5, 17, 8, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(store, f.scheduler, media.NewIDResolver(nil), Config{}, zap.NewNop())
	f.svc.now = func() time.Time { return f.now }
	return f
}

const reelURL = "https://www.instagram.com/reel/ABC123/"

func TestSubmit_NewJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Submit(ctx, "  "+reelURL+" ")
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeProcessing, res.Status)
	assert.NotEmpty(t, res.ID)
	assert.Nil(t, res.Result)
	assert.Equal(t, []string{res.ID}, f.scheduler.scheduled())

	job, err := f.store.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, reelURL, job.SourceURL)
	assert.Equal(t, "ABC123", job.SourceID)
	assert.Equal(t, types.StatusPending, job.Status)
}

func TestSubmit_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Submit(ctx, reelURL)
	require.NoError(t, err)
	f.now = f.now.Add(10 * time.Second)
	second, err := f.svc.Submit(ctx, reelURL)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, types.OutcomeProcessing, second.Status)
	assert.Len(t, f.scheduler.scheduled(), 1, "a young pending job is not rescheduled")
}

func TestSubmit_SameSourceIDDifferentURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Submit(ctx, reelURL)
	require.NoError(t, err)
	second, err := f.svc.Submit(ctx, "https://instagram.com/reels/ABC123/?igsh=xyz")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestSubmit_StuckJobRescheduled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Submit(ctx, reelURL)
	require.NoError(t, err)

	f.now = f.now.Add(301 * time.Second)
	again, err := f.svc.Submit(ctx, reelURL)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, types.OutcomeProcessing, again.Status)
	assert.Equal(t, []string{first.ID, first.ID}, f.scheduler.scheduled())
}

func TestSubmit_CachedResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Submit(ctx, reelURL)
	require.NoError(t, err)

	job, err := f.store.Get(ctx, res.ID)
	require.NoError(t, err)
	processed := f.now
	job.Language = "hi"
	job.Title = "Morning Water"
	job.TranscriptEnglish = "drink water"
	job.Triggers = []string{"drink water after waking"}
	job.ProcessedAt = &processed
	require.NoError(t, f.store.Complete(ctx, job))

	cached, err := f.svc.Submit(ctx, reelURL)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeCached, cached.Status)
	assert.Equal(t, res.ID, cached.ID)
	require.NotNil(t, cached.Result)
	assert.Equal(t, "Morning Water", cached.Result.Title)
	assert.Equal(t, []string{"drink water after waking"}, cached.Result.Triggers)
	assert.Len(t, f.scheduler.scheduled(), 1)

	poll, err := f.svc.Poll(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeComplete, poll.Status)
	require.NotNil(t, poll.Result)
	assert.Equal(t, "hi", poll.Result.Language)

	recent, err := f.svc.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, res.ID, recent[0].ID)
}

func TestSubmit_InvalidURL(t *testing.T) {
	f := newFixture(t)
	for _, u := range []string{
		"",
		"not a url",
		"ftp://instagram.com/reel/A/",
		"https://evil.com/reel/A/",
		"https://notinstagram.com/reel/A/",
	} {
		_, err := f.svc.Submit(context.Background(), u)
		assert.ErrorIs(t, err, ErrInvalidURL, u)
	}
	assert.Empty(t, f.scheduler.scheduled())
}

func TestPoll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Poll(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	res, err := f.svc.Submit(ctx, reelURL)
	require.NoError(t, err)
	poll, err := f.svc.Poll(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeProcessing, poll.Status)
	assert.Nil(t, poll.Result)

	deleted, err := f.store.DeletePending(ctx, res.ID)
	require.NoError(t, err)
	require.True(t, deleted)
	_, err = f.svc.Poll(ctx, res.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

// racingStore simulates a concurrent submission winning the insert.
type racingStore struct {
	*storage.JobStore
	winner *types.Job
}

func (r *racingStore) Create(ctx context.Context, job *types.Job) error {
	if err := r.JobStore.Create(ctx, r.winner); err != nil {
		return err
	}
	return r.JobStore.Create(ctx, job)
}

func TestSubmit_ConflictFallsBackToWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	winner := &types.Job{ID: "winner", SourceURL: reelURL, Status: types.StatusPending, CreatedAt: f.now}
	svc := NewService(&racingStore{JobStore: f.store, winner: winner}, f.scheduler, nil, Config{}, zap.NewNop())
	svc.now = func() time.Time { return f.now }

	res, err := svc.Submit(ctx, reelURL)
	require.NoError(t, err)
	assert.Equal(t, "winner", res.ID)
	assert.Equal(t, types.OutcomeProcessing, res.Status)
	assert.Empty(t, f.scheduler.scheduled())
}

type failingResolver struct{}

func (failingResolver) Resolve(context.Context, string) (string, error) {
	return "", errors.New("yt-dlp not installed")
}

func TestSubmit_ResolverFailureStillCreates(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.store, f.scheduler, failingResolver{}, Config{}, zap.NewNop())

	res, err := svc.Submit(context.Background(), reelURL)
	require.NoError(t, err)
	job, err := f.store.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Empty(t, job.SourceID)
}
