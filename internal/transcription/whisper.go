package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/trigger-engine/internal/provider"
	"github.com/codebuildervaibhav/trigger-engine/internal/types"
)

const whisperName = "whisper"

// WhisperConfig configures the local Whisper fallback.
type WhisperConfig struct {
	// Command runs the whisper module, e.g. "python".
	Command string
	// Model is a model name or a path containing one (tiny, base, small, medium, large).
	Model string
	// Language forces a language. Empty lets Whisper detect it.
	Language string
	TempDir  string
}

// WhisperTranscriber wraps the openai-whisper CLI. It runs one transcription
// at a time and only handles audio.
type WhisperTranscriber struct {
	modelName string
	command   string
	language  string
	tempDir   string
	logger    *zap.Logger
	mu        sync.Mutex
}

// NewWhisperTranscriber creates a transcriber. Availability of the CLI is
// checked on first use.
func NewWhisperTranscriber(cfg WhisperConfig, logger *zap.Logger) *WhisperTranscriber {
	command := cfg.Command
	if command == "" {
		command = "python"
	}
	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &WhisperTranscriber{
		modelName: whisperModel(cfg.Model),
		command:   command,
		language:  cfg.Language,
		tempDir:   tempDir,
		logger:    logger.With(zap.String("provider", whisperName)),
	}
}

// whisperModel extracts the model size from a name or path like
// "models/ggml-small.bin". Unknown values fall back to small.
func whisperModel(s string) string {
	s = strings.ToLower(s)
	for _, m := range []string{"tiny", "base", "small", "medium", "large"} {
		if strings.Contains(s, m) {
			return m
		}
	}
	return "small"
}

func (wt *WhisperTranscriber) Name() string { return whisperName }

// Transcribe implements Provider.
func (wt *WhisperTranscriber) Transcribe(ctx context.Context, artifact types.Artifact) (types.Transcript, error) {
	if artifact.Kind != types.ArtifactAudio || len(artifact.Paths) == 0 {
		return types.Transcript{}, provider.Errorf(provider.KindUnsupported, whisperName, "artifact kind %q", artifact.Kind)
	}

	wt.mu.Lock()
	defer wt.mu.Unlock()

	audioPath, err := filepath.Abs(artifact.Paths[0])
	if err != nil {
		return types.Transcript{}, provider.Wrap(provider.KindFatal, whisperName, err)
	}

	outDir, err := os.MkdirTemp(wt.tempDir, "whisper-")
	if err != nil {
		return types.Transcript{}, provider.Wrap(provider.KindFatal, whisperName, err)
	}
	defer os.RemoveAll(outDir)

	args := []string{"-m", "whisper", audioPath,
		"--model", wt.modelName,
		"--output_dir", outDir,
		"--output_format", "json",
		"--fp16", "False",
	}
	if wt.language != "" {
		args = append(args, "--language", wt.language)
	}

	wt.logger.Info("whisper transcription started", zap.String("model", wt.modelName))
	out, err := exec.CommandContext(ctx, wt.command, args...).CombinedOutput()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return types.Transcript{}, provider.Wrap(provider.KindTransient, whisperName, err)
		}
		return types.Transcript{}, provider.Wrap(provider.KindFatal, whisperName,
			fmt.Errorf("whisper failed: %w: %s", err, truncate(string(out), 500)))
	}

	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	data, err := os.ReadFile(filepath.Join(outDir, base+".json"))
	if err != nil {
		return types.Transcript{}, provider.Wrap(provider.KindFatal, whisperName, fmt.Errorf("read whisper output: %w", err))
	}

	var result whisperOutput
	if err := json.Unmarshal(data, &result); err != nil {
		return types.Transcript{}, &provider.Error{Kind: provider.KindMalformed, Provider: whisperName, Msg: "invalid whisper output", Err: err}
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return types.Transcript{}, provider.Errorf(provider.KindFatal, whisperName, "no speech detected")
	}

	wt.logger.Info("whisper transcription completed",
		zap.Int("segments", len(result.Segments)),
		zap.Float64("duration_seconds", result.duration()))

	// Whisper transcribes without translating, so the English field repeats
	// the native text.
	return types.Transcript{
		Language: normalizeLanguage(result.Language, false),
		Native:   text,
		English:  text,
	}, nil
}

// whisperOutput matches the CLI's JSON output.
type whisperOutput struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []whisperSegment `json:"segments"`
}

type whisperSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

func (o whisperOutput) duration() float64 {
	if len(o.Segments) == 0 {
		return 0
	}
	return o.Segments[len(o.Segments)-1].End
}
