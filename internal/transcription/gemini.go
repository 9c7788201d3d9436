package transcription

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/trigger-engine/internal/gemini"
	"github.com/codebuildervaibhav/trigger-engine/internal/provider"
	"github.com/codebuildervaibhav/trigger-engine/internal/types"
)

const audioPrompt = `You are a speech-to-text engine.

Rules:
- Detect the spoken language (Hindi, Marathi, or English)
- If Hindi or Marathi, write the transcript in Devanagari script only
- Preserve English words if spoken
- Also provide a clean English translation
- Do not explain anything

Output strict JSON only:
{"language": "hi|mr|en", "transcript_native": "...", "transcript_english": "..."}`

const imagePrompt = `You are an OCR and language normalization engine.

Read all provided images and extract the meaningful text.
Ignore decorative symbols, watermarks and UI elements.

Output strict JSON only:
{"language": "hi|mr|en|mixed", "transcript_native": "combined text in original script", "transcript_english": "natural English translation"}`

type transcriptJSON struct {
	Language string `json:"language"`
	Native   string `json:"transcript_native"`
	English  string `json:"transcript_english"`
}

// GeminiTranscriber sends audio or post images inline to Gemini with keys
// drawn from a shared pool.
type GeminiTranscriber struct {
	pool   provider.KeyPool[*gemini.Client]
	model  string
	invoke provider.InvokeConfig
	logger *zap.Logger
}

// NewGeminiTranscriber builds the Gemini provider.
func NewGeminiTranscriber(pool provider.KeyPool[*gemini.Client], model string, invoke provider.InvokeConfig, logger *zap.Logger) *GeminiTranscriber {
	return &GeminiTranscriber{
		pool:   pool,
		model:  model,
		invoke: invoke,
		logger: logger.With(zap.String("provider", gemini.Name)),
	}
}

func (g *GeminiTranscriber) Name() string { return gemini.Name }

// Transcribe implements Provider.
func (g *GeminiTranscriber) Transcribe(ctx context.Context, artifact types.Artifact) (types.Transcript, error) {
	var (
		prompt     string
		images     bool
		emptyError string
	)
	switch artifact.Kind {
	case types.ArtifactAudio:
		prompt, emptyError = audioPrompt, "no speech detected in audio"
	case types.ArtifactImages:
		prompt, emptyError, images = imagePrompt, "no readable text in post images", true
	default:
		return types.Transcript{}, provider.Errorf(provider.KindUnsupported, gemini.Name, "artifact kind %q", artifact.Kind)
	}
	if len(artifact.Paths) == 0 {
		return types.Transcript{}, provider.Errorf(provider.KindFatal, gemini.Name, "artifact has no files")
	}

	parts := make([]*gemini.Part, 0, len(artifact.Paths)+1)
	for _, path := range artifact.Paths {
		p, err := gemini.FilePart(path, "")
		if err != nil {
			return types.Transcript{}, provider.Wrap(provider.KindFatal, gemini.Name, err)
		}
		parts = append(parts, p)
	}
	parts = append(parts, gemini.TextPart(prompt))

	g.logger.Info("gemini transcription started",
		zap.String("kind", artifact.Kind),
		zap.Int("files", len(artifact.Paths)))

	return provider.Invoke(ctx, g.pool, g.invoke, func(ctx context.Context, c *gemini.Client) (types.Transcript, error) {
		text, err := c.Generate(ctx, gemini.Request{Model: g.model, Parts: parts, JSON: true})
		if err != nil {
			return types.Transcript{}, err
		}

		var out transcriptJSON
		if err := gemini.DecodeObject(text, &out); err != nil {
			g.logger.Warn("gemini returned non-JSON transcript", zap.Int("length", len(text)))
			return types.Transcript{}, err
		}

		english := strings.TrimSpace(out.English)
		if english == "" {
			return types.Transcript{}, provider.Errorf(provider.KindFatal, gemini.Name, "%s", emptyError)
		}
		native := strings.TrimSpace(out.Native)
		if native == "" {
			native = english
		}
		return types.Transcript{
			Language: normalizeLanguage(out.Language, images),
			Native:   native,
			English:  english,
		}, nil
	})
}
