package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/trigger-engine/internal/provider"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewFactory(srv.URL + "/")("test-key")
	require.NoError(t, err)
	return c
}

func writeError(w http.ResponseWriter, code int, status, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "status": status, "message": message},
	})
}

func TestGenerate_ReturnsCandidateText(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/gemini-2.5-flash-lite:generateContent"), r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.Empty(t, r.URL.Query().Get("key"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"  drink water \n"},{"text":"walk"}]}}]}`)
	})

	got, err := c.Generate(context.Background(), Request{
		Model: "gemini-2.5-flash-lite",
		Parts: []*Part{TextPart("hello")},
		JSON:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, "drink water \nwalk", got)

	cfg, ok := body["generationConfig"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "application/json", cfg["responseMimeType"])
}

func TestGenerate_NoCandidates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[]}`)
	})

	got, err := c.Generate(context.Background(), Request{Model: "models/x", Parts: []*Part{TextPart("hi")}})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGenerate_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		status  string
		message string
		want    provider.Kind
	}{
		{"quota", http.StatusTooManyRequests, "RESOURCE_EXHAUSTED", "Quota exceeded for metric", provider.KindQuota},
		{"invalid key", http.StatusBadRequest, "INVALID_ARGUMENT", "API key not valid. Please pass a valid API key.", provider.KindInvalidCredential},
		{"forbidden", http.StatusForbidden, "PERMISSION_DENIED", "Permission denied.", provider.KindInvalidCredential},
		{"overloaded", http.StatusServiceUnavailable, "UNAVAILABLE", "The model is overloaded.", provider.KindFatal},
		{"server error", http.StatusInternalServerError, "INTERNAL", "An internal error has occurred.", provider.KindFatal},
		{"bad request", http.StatusBadRequest, "INVALID_ARGUMENT", "Request contains an invalid argument.", provider.KindFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeError(w, tt.code, tt.status, tt.message)
			})
			_, err := c.Generate(context.Background(), Request{Model: "m", Parts: []*Part{TextPart("hi")}})
			require.Error(t, err)
			assert.Equal(t, tt.want, provider.KindOf(err))
		})
	}
}

func TestGenerate_MalformedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[`)
	})
	_, err := c.Generate(context.Background(), Request{Model: "m", Parts: []*Part{TextPart("hi")}})
	assert.Equal(t, provider.KindMalformed, provider.KindOf(err))
}

func TestGenerate_ConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewFactory(url)("test-key")
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), Request{Model: "m", Parts: []*Part{TextPart("hi")}})
	assert.Equal(t, provider.KindTransient, provider.KindOf(err))
}

func TestClassify_Transport(t *testing.T) {
	err := Classify(context.DeadlineExceeded)
	assert.Equal(t, provider.KindTransient, provider.KindOf(err))
	assert.Nil(t, Classify(nil))
}

func TestNewFactory_EmptyKey(t *testing.T) {
	_, err := NewFactory("")(" ")
	assert.Error(t, err)
}

func TestFilePart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o644))

	p, err := FilePart(path, "")
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", p.InlineData.MimeType)
	assert.Equal(t, "UklGRg==", p.InlineData.Data)

	_, err = FilePart(filepath.Join(t.TempDir(), "missing.jpg"), "")
	assert.Error(t, err)
}

func TestMimeType(t *testing.T) {
	assert.Equal(t, "image/jpeg", MimeType("a/b/photo.JPG"))
	assert.Equal(t, "image/webp", MimeType("x.webp"))
	assert.Equal(t, "application/octet-stream", MimeType("noext"))
}
