package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codebuildervaibhav/trigger-engine/internal/types"
)

// LocalStorage archives completed jobs on the local filesystem.
type LocalStorage struct {
	outputDir string
}

// NewLocalStorage creates a new local storage handler
func NewLocalStorage(outputDir string) *LocalStorage {
	return &LocalStorage{
		outputDir: outputDir,
	}
}

// archiveMeta is the sidecar JSON written next to each transcript.
type archiveMeta struct {
	JobID       string     `json:"job_id"`
	SourceURL   string     `json:"source_url"`
	SourceID    string     `json:"source_id,omitempty"`
	Title       string     `json:"title"`
	Language    string     `json:"language"`
	Triggers    []string   `json:"triggers"`
	WordCount   int        `json:"word_count"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	LocalPath   string     `json:"local_path,omitempty"`
}

func newArchiveMeta(job types.Job) archiveMeta {
	return archiveMeta{
		JobID:       job.ID,
		SourceURL:   job.SourceURL,
		SourceID:    job.SourceID,
		Title:       job.Title,
		Language:    job.Language,
		Triggers:    job.Triggers,
		WordCount:   len(strings.Fields(job.TranscriptEnglish)),
		ProcessedAt: job.ProcessedAt,
	}
}

// transcriptText renders the archived transcript: title, native text,
// English text and triggers.
func transcriptText(job types.Job) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n%s\n\n", job.Title, job.SourceURL)
	if job.TranscriptNative != job.TranscriptEnglish {
		fmt.Fprintf(&sb, "[%s]\n%s\n\n", job.Language, job.TranscriptNative)
	}
	fmt.Fprintf(&sb, "[en]\n%s\n", job.TranscriptEnglish)
	if len(job.Triggers) > 0 {
		sb.WriteString("\nTriggers:\n")
		for _, t := range job.Triggers {
			fmt.Fprintf(&sb, "- %s\n", t)
		}
	}
	return sb.String()
}

// archiveName is the file stem for a job, e.g. 20250123_143022_Drink_Water.
func archiveName(job types.Job, now time.Time) string {
	name := job.Title
	if name == "" {
		name = job.ID
	}
	return fmt.Sprintf("%s_%s", now.Format("20060102_150405"), sanitizeFilename(name))
}

// SaveJob writes the transcript and metadata of a completed job under a dated
// directory and returns the transcript path.
func (ls *LocalStorage) SaveJob(job types.Job) (string, error) {
	// Create dated directory structure: outputs/2025/01/23/
	now := time.Now()
	if job.ProcessedAt != nil {
		now = *job.ProcessedAt
	}
	dateDir := filepath.Join(ls.outputDir,
		fmt.Sprintf("%d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()))

	if err := os.MkdirAll(dateDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create date directory: %w", err)
	}

	baseFilename := archiveName(job, now)
	txtPath := filepath.Join(dateDir, baseFilename+".txt")
	metaPath := filepath.Join(dateDir, baseFilename+"_meta.json")

	if err := os.WriteFile(txtPath, []byte(transcriptText(job)), 0644); err != nil {
		return "", fmt.Errorf("failed to save transcript: %w", err)
	}

	meta := newArchiveMeta(job)
	meta.LocalPath = txtPath
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, metaJSON, 0644); err != nil {
		return "", fmt.Errorf("failed to save metadata: %w", err)
	}

	return txtPath, nil
}

// sanitizeFilename replaces characters that are invalid in file names.
func sanitizeFilename(name string) string {
	result := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if r := []rune(result); len(r) > 100 {
		result = string(r[:100]) // Limit length
	}
	return result
}
