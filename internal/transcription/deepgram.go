package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/trigger-engine/internal/gemini"
	"github.com/codebuildervaibhav/trigger-engine/internal/provider"
	"github.com/codebuildervaibhav/trigger-engine/internal/types"
)

const (
	deepgramName     = "deepgram"
	deepgramEndpoint = "https://api.deepgram.com/v1/listen"
)

// DeepgramConfig configures the Deepgram REST provider.
type DeepgramConfig struct {
	Endpoint string
	Model    string
	Language string
}

// DeepgramTranscriber posts audio to Deepgram's pre-recorded endpoint. The
// pool's client handle is the API key itself.
type DeepgramTranscriber struct {
	pool   provider.KeyPool[string]
	cfg    DeepgramConfig
	invoke provider.InvokeConfig
	http   *http.Client
	logger *zap.Logger
}

// KeyFactory is the credentials factory for providers whose client is the key.
func KeyFactory(key string) (string, error) { return key, nil }

// NewDeepgramTranscriber builds the Deepgram provider.
func NewDeepgramTranscriber(pool provider.KeyPool[string], cfg DeepgramConfig, invoke provider.InvokeConfig, logger *zap.Logger) *DeepgramTranscriber {
	if cfg.Endpoint == "" {
		cfg.Endpoint = deepgramEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "multi"
	}
	return &DeepgramTranscriber{
		pool:   pool,
		cfg:    cfg,
		invoke: invoke,
		http:   &http.Client{},
		logger: logger.With(zap.String("provider", deepgramName)),
	}
}

func (d *DeepgramTranscriber) Name() string { return deepgramName }

type deepgramResponse struct {
	Metadata struct {
		Language string `json:"language"`
	} `json:"metadata"`
	Results struct {
		Metadata struct {
			Language string `json:"language"`
		} `json:"metadata"`
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe implements Provider. Only audio artifacts are supported.
func (d *DeepgramTranscriber) Transcribe(ctx context.Context, artifact types.Artifact) (types.Transcript, error) {
	if artifact.Kind != types.ArtifactAudio {
		return types.Transcript{}, provider.Errorf(provider.KindUnsupported, deepgramName, "artifact kind %q", artifact.Kind)
	}
	if len(artifact.Paths) == 0 {
		return types.Transcript{}, provider.Errorf(provider.KindFatal, deepgramName, "audio file not found")
	}
	path := artifact.Paths[0]

	d.logger.Info("deepgram transcription started")
	return provider.Invoke(ctx, d.pool, d.invoke, func(ctx context.Context, key string) (types.Transcript, error) {
		return d.listen(ctx, key, path)
	})
}

func (d *DeepgramTranscriber) listen(ctx context.Context, key, path string) (types.Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.Transcript{}, provider.Wrap(provider.KindFatal, deepgramName, err)
	}
	defer f.Close()

	q := url.Values{}
	q.Set("model", d.cfg.Model)
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	q.Set("language", d.cfg.Language)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.Endpoint+"?"+q.Encode(), f)
	if err != nil {
		return types.Transcript{}, provider.Wrap(provider.KindFatal, deepgramName, err)
	}
	req.Header.Set("Authorization", "Token "+key)
	req.Header.Set("Content-Type", gemini.MimeType(path))

	resp, err := d.http.Do(req)
	if err != nil {
		if gemini.IsTransport(err) {
			return types.Transcript{}, provider.Wrap(provider.KindTransient, deepgramName, err)
		}
		return types.Transcript{}, provider.Wrap(provider.KindFatal, deepgramName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return types.Transcript{}, provider.Wrap(provider.KindTransient, deepgramName, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.Transcript{}, provider.Errorf(provider.KindQuota, deepgramName, "quota exceeded")
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return types.Transcript{}, provider.Errorf(provider.KindInvalidCredential, deepgramName, "status %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return types.Transcript{}, provider.Errorf(provider.KindUnavailable, deepgramName, "server error %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return types.Transcript{}, provider.Errorf(provider.KindFatal, deepgramName, "status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var payload deepgramResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return types.Transcript{}, &provider.Error{Kind: provider.KindMalformed, Provider: deepgramName, Msg: "invalid response", Err: err}
	}
	if len(payload.Results.Channels) == 0 || len(payload.Results.Channels[0].Alternatives) == 0 {
		return types.Transcript{}, provider.Errorf(provider.KindMalformed, deepgramName, "response has no alternatives")
	}

	ch := payload.Results.Channels[0]
	text := strings.TrimSpace(ch.Alternatives[0].Transcript)
	if text == "" {
		return types.Transcript{}, provider.Errorf(provider.KindFatal, deepgramName, "no speech detected")
	}

	lang := ch.DetectedLanguage
	if lang == "" {
		lang = payload.Results.Metadata.Language
	}
	if lang == "" {
		lang = payload.Metadata.Language
	}
	return types.Transcript{
		Language: normalizeLanguage(lang, false),
		Native:   text,
		English:  text,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
