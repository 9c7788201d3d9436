// Package gemini wraps the Generative Language REST API for one API key and
// maps its failures onto provider error kinds.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"google.golang.org/api/googleapi"

	"github.com/codebuildervaibhav/trigger-engine/internal/credentials"
	"github.com/codebuildervaibhav/trigger-engine/internal/provider"
)

// Name is the provider name used in logs, errors and config lists.
const Name = "gemini"

// DefaultEndpoint is the public v1beta API root.
const DefaultEndpoint = "https://generativelanguage.googleapis.com/v1beta/"

// Client is bound to a single API key.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewFactory returns the pool factory building one Client per key. An empty
// endpoint uses the public API.
func NewFactory(endpoint string) credentials.Factory[*Client] {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	base := strings.TrimRight(endpoint, "/") + "/"
	httpClient := &http.Client{}
	return func(key string) (*Client, error) {
		if strings.TrimSpace(key) == "" {
			return nil, errors.New("gemini: empty api key")
		}
		return &Client{baseURL: base, apiKey: key, httpClient: httpClient}, nil
	}
}

// Part is one piece of a prompt: text or inline data.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// Blob is base64 encoded inline media.
type Blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type content struct {
	Role  string  `json:"role,omitempty"`
	Parts []*Part `json:"parts"`
}

type generationConfig struct {
	ResponseMimeType string `json:"responseMimeType,omitempty"`
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content *content `json:"content"`
	} `json:"candidates"`
}

// Request is one single-turn generation call.
type Request struct {
	Model string
	Parts []*Part
	// JSON asks the model for an application/json response.
	JSON bool
}

// Generate runs req and returns the concatenated text of the first
// candidate, trimmed. An empty answer is not an error.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	body := generateRequest{
		Contents: []content{{Role: "user", Parts: req.Parts}},
	}
	if req.JSON {
		body.GenerationConfig = &generationConfig{ResponseMimeType: "application/json"}
	}

	var resp generateResponse
	if err := c.invoke(ctx, modelName(req.Model)+":generateContent", body, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return strings.TrimSpace(sb.String()), nil
}

func (c *Client) invoke(ctx context.Context, path string, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return provider.Wrap(provider.KindFatal, Name, fmt.Errorf("marshal request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return provider.Wrap(provider.KindFatal, Name, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	// The header keeps the key out of URLs echoed in transport errors.
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Classify(err)
	}
	defer resp.Body.Close()

	if err := googleapi.CheckResponse(resp); err != nil {
		return Classify(err)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if IsTransport(err) {
			return Classify(err)
		}
		return &provider.Error{Kind: provider.KindMalformed, Provider: Name, Msg: "decode response", Err: err}
	}
	return nil
}

// TextPart builds a prompt part.
func TextPart(text string) *Part {
	return &Part{Text: text}
}

// FilePart inlines the file at path, guessing its MIME type from the
// extension when mimeType is empty.
func FilePart(path, mimeType string) (*Part, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if mimeType == "" {
		mimeType = MimeType(path)
	}
	return &Part{
		InlineData: &Blob{
			MimeType: mimeType,
			Data:     base64.StdEncoding.EncodeToString(data),
		},
	}, nil
}

// MimeType guesses a media type for path.
func MimeType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	}
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func modelName(model string) string {
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

// Classify maps an API or transport error onto a provider error kind. Server
// side failures (5xx) are fatal; only timeouts and connection failures are
// transient.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		text := strings.ToLower(gerr.Message + " " + gerr.Body)
		for _, item := range gerr.Errors {
			text += " " + strings.ToLower(item.Reason+" "+item.Message)
		}
		switch {
		case strings.Contains(text, "api_key_invalid"), strings.Contains(text, "api key not valid"),
			gerr.Code == http.StatusUnauthorized:
			return provider.Wrap(provider.KindInvalidCredential, Name, err)
		case gerr.Code == http.StatusTooManyRequests,
			strings.Contains(text, "resource_exhausted"), strings.Contains(text, "quota"):
			return provider.Wrap(provider.KindQuota, Name, err)
		case gerr.Code == http.StatusForbidden:
			return provider.Wrap(provider.KindInvalidCredential, Name, err)
		default:
			return provider.Wrap(provider.KindFatal, Name, err)
		}
	}

	if IsTransport(err) {
		return provider.Wrap(provider.KindTransient, Name, err)
	}
	return provider.Wrap(provider.KindFatal, Name, err)
}

// IsTransport reports timeouts and connection failures.
func IsTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	var operr *net.OpError
	return errors.As(err, &operr)
}
