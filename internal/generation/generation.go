// Package generation derives behaviour triggers and a short title from an
// English transcript.
package generation

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/trigger-engine/internal/gemini"
	"github.com/codebuildervaibhav/trigger-engine/internal/provider"
	"github.com/codebuildervaibhav/trigger-engine/internal/types"
)

// Provider generates text from a transcript.
type Provider interface {
	Name() string
	Triggers(ctx context.Context, transcript string) ([]string, error)
	Title(ctx context.Context, transcript string) (string, error)
}

// Result is what a job stores after generation.
type Result struct {
	Triggers []string
	Title    string
}

// Service runs the generation engine.
type Service struct {
	engine *provider.Engine[Provider]
	logger *zap.Logger
}

func NewService(engine *provider.Engine[Provider], logger *zap.Logger) *Service {
	return &Service{engine: engine, logger: logger}
}

// Generate returns triggers and a title for transcript. Trigger failures are
// returned. A title that cannot be produced because every provider is
// unavailable, or that comes back empty, becomes types.DefaultTitle.
func (s *Service) Generate(ctx context.Context, transcript string) (Result, error) {
	triggers, err := provider.Execute(ctx, s.engine, func(ctx context.Context, p Provider) ([]string, error) {
		return p.Triggers(ctx, transcript)
	})
	if err != nil {
		return Result{}, fmt.Errorf("generate triggers: %w", err)
	}
	if triggers == nil {
		triggers = []string{}
	}

	title, err := provider.Execute(ctx, s.engine, func(ctx context.Context, p Provider) (string, error) {
		return p.Title(ctx, transcript)
	})
	switch {
	case provider.Is(err, provider.KindProvidersUnavailable):
		s.logger.Warn("title generation unavailable, using default", zap.Error(err))
		title = types.DefaultTitle
	case err != nil:
		return Result{}, fmt.Errorf("generate title: %w", err)
	case title == "":
		title = types.DefaultTitle
	}
	return Result{Triggers: triggers, Title: title}, nil
}

// Health reports the engine's provider cooldowns.
func (s *Service) Health() []provider.Health {
	return s.engine.Snapshot()
}

const triggerPrompt = `You are a behavioral coaching system.

Extract clear, actionable behavior triggers from the text below.
Each trigger must be short, concrete, and usable in daily life.

Output rules:
- One trigger per line
- No numbering
- No explanations

TEXT:
%s`

const titlePrompt = `Create a catchy, ultra-concise title (max 5-6 words) for an Instagram reel based on this content.
Output ONLY the title string, no quotes or intro.

CONTENT:
%s`

// GeminiGenerator asks Gemini for triggers and titles with keys from the
// shared pool.
type GeminiGenerator struct {
	pool   provider.KeyPool[*gemini.Client]
	model  string
	invoke provider.InvokeConfig
}

func NewGeminiGenerator(pool provider.KeyPool[*gemini.Client], model string, invoke provider.InvokeConfig) *GeminiGenerator {
	return &GeminiGenerator{pool: pool, model: model, invoke: invoke}
}

func (g *GeminiGenerator) Name() string { return gemini.Name }

// Triggers returns one trigger per non-empty output line. Empty output means
// no triggers.
func (g *GeminiGenerator) Triggers(ctx context.Context, transcript string) ([]string, error) {
	text, err := g.generate(ctx, fmt.Sprintf(triggerPrompt, transcript))
	if err != nil {
		return nil, err
	}
	return splitTriggers(text), nil
}

// Title returns the model's title with surrounding quotes removed.
func (g *GeminiGenerator) Title(ctx context.Context, transcript string) (string, error) {
	text, err := g.generate(ctx, fmt.Sprintf(titlePrompt, transcript))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(text), `"'`)), nil
}

func (g *GeminiGenerator) generate(ctx context.Context, prompt string) (string, error) {
	return provider.Invoke(ctx, g.pool, g.invoke, func(ctx context.Context, c *gemini.Client) (string, error) {
		return c.Generate(ctx, gemini.Request{Model: g.model, Parts: []*gemini.Part{gemini.TextPart(prompt)}})
	})
}

var listMarker = regexp.MustCompile(`^(?:[-*•]+|\d+[.)])\s*`)

func splitTriggers(text string) []string {
	out := []string{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(strings.TrimSpace(line), ""))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
