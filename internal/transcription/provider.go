// Package transcription turns an extracted artifact into a native-language
// transcript and its English translation, failing over between providers.
package transcription

import (
	"context"
	"strings"

	"github.com/codebuildervaibhav/trigger-engine/internal/provider"
	"github.com/codebuildervaibhav/trigger-engine/internal/types"
)

// Provider transcribes one artifact. Providers that cannot handle the
// artifact kind return a provider.KindUnsupported error.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, artifact types.Artifact) (types.Transcript, error)
}

// Service runs the transcription engine.
type Service struct {
	engine *provider.Engine[Provider]
}

// NewService wraps an engine built over providers in priority order.
func NewService(engine *provider.Engine[Provider]) *Service {
	return &Service{engine: engine}
}

// Transcribe asks providers in order until one returns a transcript.
func (s *Service) Transcribe(ctx context.Context, artifact types.Artifact) (types.Transcript, error) {
	return provider.Execute(ctx, s.engine, func(ctx context.Context, p Provider) (types.Transcript, error) {
		return p.Transcribe(ctx, artifact)
	})
}

// Health reports the engine's provider cooldowns.
func (s *Service) Health() []provider.Health {
	return s.engine.Snapshot()
}

// normalizeLanguage folds a detected language code onto hi, mr or en.
// Image posts may also report mixed.
func normalizeLanguage(code string, allowMixed bool) string {
	code = strings.ToLower(strings.TrimSpace(code))
	switch {
	case strings.HasPrefix(code, "hi"):
		return "hi"
	case strings.HasPrefix(code, "mr"), strings.HasPrefix(code, "marathi"):
		return "mr"
	case allowMixed && code == "mixed":
		return "mixed"
	default:
		return "en"
	}
}
