package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/codebuildervaibhav/trigger-engine/internal/types"
)

// FFmpegConfig configures audio extraction.
type FFmpegConfig struct {
	Binary        string
	MaxSeconds    int
	MinAudioBytes int64
}

// FFmpeg extracts a 16kHz mono WAV track from downloaded video.
type FFmpeg struct {
	binary     string
	maxSeconds int
	minBytes   int64
	run        Runner
}

func NewFFmpeg(cfg FFmpegConfig) *FFmpeg {
	binary := cfg.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	maxSeconds := cfg.MaxSeconds
	if maxSeconds <= 0 {
		maxSeconds = 60
	}
	return &FFmpeg{binary: binary, maxSeconds: maxSeconds, minBytes: cfg.MinAudioBytes, run: execRunner}
}

// Extract writes <video>.wav next to videoPath. Audio smaller than the
// configured minimum yields ErrNoContent; the WAV is still returned so the
// caller can remove it.
func (f *FFmpeg) Extract(ctx context.Context, videoPath string) (types.Artifact, error) {
	outputPath := strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + ".wav"
	artifact := types.Artifact{Kind: types.ArtifactAudio, Paths: []string{outputPath}}

	out, err := f.run(ctx, f.binary,
		"-y",
		"-i", videoPath,
		"-vn",
		"-ar", "16000", // 16kHz sample rate
		"-ac", "1", // Mono
		"-c:a", "pcm_s16le", // 16-bit PCM
		"-t", strconv.Itoa(f.maxSeconds),
		outputPath,
	)
	if err != nil {
		return artifact, &ExtractionError{Path: filepath.Base(videoPath), Err: fmt.Errorf("ffmpeg failed: %w: %s", err, tail(out, 500))}
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return artifact, &ExtractionError{Path: filepath.Base(videoPath), Err: err}
	}
	if info.Size() < f.minBytes {
		return artifact, fmt.Errorf("%w: audio track is %d bytes", ErrNoContent, info.Size())
	}
	return artifact, nil
}
