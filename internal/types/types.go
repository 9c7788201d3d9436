package types

import "time"

// Job status constants
const (
	StatusPending  = "pending"
	StatusComplete = "complete"
)

// Submission outcome constants
const (
	OutcomeCached     = "cached"
	OutcomeProcessing = "processing"
	OutcomeComplete   = "complete"
)

// Artifact kind constants
const (
	ArtifactAudio  = "audio"
	ArtifactImages = "images"
)

// DefaultTitle is used when no title could be generated for a finished job.
const DefaultTitle = "New Reel Processed"

// Job is one submitted post and, once complete, its extracted insight.
type Job struct {
	ID                 string     `json:"id"`
	SourceURL          string     `json:"source_url"`
	SourceID           string     `json:"source_id,omitempty"`
	ContentFingerprint string     `json:"content_fingerprint,omitempty"`
	Status             string     `json:"status"`
	Language           string     `json:"language"`
	Title              string     `json:"title"`
	TranscriptNative   string     `json:"transcript_native"`
	TranscriptEnglish  string     `json:"transcript_english"`
	Triggers           []string   `json:"triggers"`
	CreatedAt          time.Time  `json:"created_at"`
	ProcessedAt        *time.Time `json:"processed_at,omitempty"`
}

// Complete reports whether the job has reached its final state.
func (j *Job) Complete() bool {
	return j.Status == StatusComplete
}

// Snapshot returns a copy that shares no mutable state with j.
func (j *Job) Snapshot() Job {
	s := *j
	if j.Triggers != nil {
		s.Triggers = append([]string(nil), j.Triggers...)
	}
	if j.ProcessedAt != nil {
		t := *j.ProcessedAt
		s.ProcessedAt = &t
	}
	return s
}

// CopyResult copies the result fields of src onto j.
func (j *Job) CopyResult(src *Job) {
	j.Language = src.Language
	j.Title = src.Title
	j.TranscriptNative = src.TranscriptNative
	j.TranscriptEnglish = src.TranscriptEnglish
	j.Triggers = append([]string(nil), src.Triggers...)
}

// Artifact is the analyzable content extracted from downloaded media.
type Artifact struct {
	Kind  string
	Paths []string
}

// Transcript is what a transcription provider returns.
type Transcript struct {
	Language string `json:"language"`
	Native   string `json:"transcript_native"`
	English  string `json:"transcript_english"`
}

// SubmitResult is returned by a submission.
type SubmitResult struct {
	Status string `json:"status"`
	ID     string `json:"id"`
	Result *Job   `json:"result,omitempty"`
}

// PollResult is returned when polling a job.
type PollResult struct {
	Status string `json:"status"`
	ID     string `json:"id"`
	Result *Job   `json:"result,omitempty"`
}
