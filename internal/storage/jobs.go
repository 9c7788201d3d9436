package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codebuildervaibhav/trigger-engine/internal/types"
)

var (
	// ErrNotFound is returned when no job matches.
	ErrNotFound = errors.New("storage: job not found")
	// ErrConflict is returned when a write would break a uniqueness rule
	// (source_url, source_id or content_fingerprint).
	ErrConflict = errors.New("storage: unique constraint violated")
	// ErrNotPending is returned when a transition expects a pending job.
	ErrNotPending = errors.New("storage: job is no longer pending")
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	source_url TEXT NOT NULL UNIQUE,
	source_id TEXT UNIQUE,
	content_fingerprint TEXT UNIQUE,
	status TEXT NOT NULL,
	language TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	transcript_native TEXT NOT NULL DEFAULT '',
	transcript_english TEXT NOT NULL DEFAULT '',
	triggers TEXT NOT NULL DEFAULT '[]',
	created_at INTEGER NOT NULL,
	processed_at INTEGER,
	lease_owner TEXT,
	lease_until INTEGER
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_processed ON jobs(status, processed_at);
`

const jobColumns = `id, source_url, source_id, content_fingerprint, status, language, title,
	transcript_native, transcript_english, triggers, created_at, processed_at`

// JobStore persists jobs in SQLite.
type JobStore struct {
	db *sql.DB
}

// NewJobStore opens (or creates) the database at path.
func NewJobStore(path string) (*JobStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return &JobStore{db: db}, nil
}

// Close closes the database connection.
func (s *JobStore) Close() error {
	return s.db.Close()
}

// Create inserts a pending job.
func (s *JobStore) Create(ctx context.Context, job *types.Job) error {
	triggers, err := encodeTriggers(job.Triggers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO jobs (id, source_url, source_id, content_fingerprint, status, triggers, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.SourceURL, nullString(job.SourceID), nullString(job.ContentFingerprint),
		job.Status, triggers, job.CreatedAt.UnixNano())
	if err != nil {
		return classify("create job", err)
	}
	return nil
}

// Get returns the job with id.
func (s *JobStore) Get(ctx context.Context, id string) (*types.Job, error) {
	return s.findOne(ctx, "id = ?", id)
}

// FindBySourceURL returns the job for a submitted URL.
func (s *JobStore) FindBySourceURL(ctx context.Context, url string) (*types.Job, error) {
	return s.findOne(ctx, "source_url = ?", url)
}

// FindBySourceID returns the job for a platform-native id.
func (s *JobStore) FindBySourceID(ctx context.Context, sourceID string) (*types.Job, error) {
	return s.findOne(ctx, "source_id = ?", sourceID)
}

// FindCompleteByFingerprint returns the complete job whose artifact hashed to
// fingerprint.
func (s *JobStore) FindCompleteByFingerprint(ctx context.Context, fingerprint string) (*types.Job, error) {
	return s.findOne(ctx, "content_fingerprint = ? AND status = 'complete'", fingerprint)
}

// SetSourceID records the platform-native id on a job that has none yet.
func (s *JobStore) SetSourceID(ctx context.Context, id, sourceID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET source_id = ? WHERE id = ? AND source_id IS NULL`, sourceID, id)
	if err != nil {
		return classify("set source id", err)
	}
	return nil
}

// Claim takes the execution lease on a pending job. It fails when another
// owner holds a lease that has not expired yet or the job is not pending.
func (s *JobStore) Claim(ctx context.Context, id, owner string, now time.Time, ttl time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
	UPDATE jobs SET lease_owner = ?, lease_until = ?
	WHERE id = ? AND status = 'pending'
	  AND (lease_owner IS NULL OR lease_owner = ? OR lease_until <= ?)`,
		owner, now.Add(ttl).UnixNano(), id, owner, now.UnixNano())
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return n == 1, nil
}

// Complete writes the result fields and marks a pending job complete. An
// empty fingerprint is stored as NULL.
func (s *JobStore) Complete(ctx context.Context, job *types.Job) error {
	triggers, err := encodeTriggers(job.Triggers)
	if err != nil {
		return err
	}
	var processedAt sql.NullInt64
	if job.ProcessedAt != nil {
		processedAt = sql.NullInt64{Int64: job.ProcessedAt.UnixNano(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
	UPDATE jobs SET status = 'complete', language = ?, title = ?, transcript_native = ?,
		transcript_english = ?, triggers = ?, content_fingerprint = ?, processed_at = ?,
		lease_owner = NULL, lease_until = NULL
	WHERE id = ? AND status = 'pending'`,
		job.Language, job.Title, job.TranscriptNative, job.TranscriptEnglish, triggers,
		nullString(job.ContentFingerprint), processedAt, job.ID)
	if err != nil {
		return classify("complete job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if n == 0 {
		return ErrNotPending
	}
	job.Status = types.StatusComplete
	return nil
}

// DeletePending removes a job that never completed. It reports whether a row
// was deleted.
func (s *JobStore) DeletePending(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	return n == 1, nil
}

// ListComplete returns the most recently processed jobs first.
func (s *JobStore) ListComplete(ctx context.Context, limit int) ([]types.Job, error) {
	return s.findMany(ctx, `status = 'complete' ORDER BY processed_at DESC LIMIT ?`, limit)
}

// ListCompleteSince returns complete jobs processed at or after since.
func (s *JobStore) ListCompleteSince(ctx context.Context, since time.Time) ([]types.Job, error) {
	return s.findMany(ctx, `status = 'complete' AND processed_at >= ? ORDER BY processed_at DESC`, since.UnixNano())
}

func (s *JobStore) findOne(ctx context.Context, where string, args ...any) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE "+where, args...)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (s *JobStore) findMany(ctx context.Context, where string, args ...any) ([]types.Job, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []types.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (*types.Job, error) {
	var (
		job                   types.Job
		sourceID, fingerprint sql.NullString
		triggers              string
		createdAt             int64
		processedAt           sql.NullInt64
	)
	err := sc.Scan(&job.ID, &job.SourceURL, &sourceID, &fingerprint, &job.Status,
		&job.Language, &job.Title, &job.TranscriptNative, &job.TranscriptEnglish,
		&triggers, &createdAt, &processedAt)
	if err != nil {
		return nil, err
	}

	job.SourceID = sourceID.String
	job.ContentFingerprint = fingerprint.String
	job.CreatedAt = time.Unix(0, createdAt).UTC()
	if processedAt.Valid {
		t := time.Unix(0, processedAt.Int64).UTC()
		job.ProcessedAt = &t
	}
	if err := json.Unmarshal([]byte(triggers), &job.Triggers); err != nil {
		return nil, fmt.Errorf("decode triggers: %w", err)
	}
	if job.Triggers == nil {
		job.Triggers = []string{}
	}
	return &job, nil
}

func encodeTriggers(triggers []string) (string, error) {
	if triggers == nil {
		triggers = []string{}
	}
	b, err := json.Marshal(triggers)
	if err != nil {
		return "", fmt.Errorf("encode triggers: %w", err)
	}
	return string(b), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func classify(op string, err error) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
