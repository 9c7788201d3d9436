package generation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/trigger-engine/internal/credentials"
	"github.com/codebuildervaibhav/trigger-engine/internal/gemini"
	"github.com/codebuildervaibhav/trigger-engine/internal/provider"
	"github.com/codebuildervaibhav/trigger-engine/internal/types"
)

type fake struct {
	triggers    []string
	triggerErr  error
	title       string
	titleErr    error
	titleCalled int
}

func (f *fake) Name() string { return "fake" }

func (f *fake) Triggers(context.Context, string) ([]string, error) {
	return f.triggers, f.triggerErr
}

func (f *fake) Title(context.Context, string) (string, error) {
	f.titleCalled++
	return f.title, f.titleErr
}

func newService(t *testing.T, p Provider) *Service {
	t.Helper()
	engine, err := provider.NewEngine("generation", []Provider{p})
	require.NoError(t, err)
	return NewService(engine, zap.NewNop())
}

func TestGenerate(t *testing.T) {
	svc := newService(t, &fake{triggers: []string{"walk after lunch"}, title: "Move More"})

	got, err := svc.Generate(context.Background(), "transcript")
	require.NoError(t, err)
	assert.Equal(t, Result{Triggers: []string{"walk after lunch"}, Title: "Move More"}, got)
}

func TestGenerate_EmptyOutputs(t *testing.T) {
	svc := newService(t, &fake{})

	got, err := svc.Generate(context.Background(), "transcript")
	require.NoError(t, err)
	assert.Equal(t, []string{}, got.Triggers)
	assert.Equal(t, types.DefaultTitle, got.Title)
}

func TestGenerate_TitleUnavailableUsesDefault(t *testing.T) {
	f := &fake{triggers: []string{"x"}, titleErr: &provider.Error{Kind: provider.KindKeysExhausted, Provider: "fake"}}
	svc := newService(t, f)

	got, err := svc.Generate(context.Background(), "transcript")
	require.NoError(t, err)
	assert.Equal(t, types.DefaultTitle, got.Title)
	assert.Equal(t, 1, f.titleCalled)
}

func TestGenerate_TitleFatalFails(t *testing.T) {
	svc := newService(t, &fake{titleErr: provider.Errorf(provider.KindFatal, "fake", "bad request")})

	_, err := svc.Generate(context.Background(), "transcript")
	assert.Equal(t, provider.KindFatal, provider.KindOf(err))
}

func TestGenerate_TriggerFailureFails(t *testing.T) {
	f := &fake{triggerErr: provider.Errorf(provider.KindQuota, "fake", "429")}
	svc := newService(t, f)

	_, err := svc.Generate(context.Background(), "transcript")
	assert.Equal(t, provider.KindProvidersUnavailable, provider.KindOf(err))
	assert.Zero(t, f.titleCalled)
}

func TestGeminiGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		reply := `"Small Habits, Big Wins"`
		if strings.Contains(string(raw), "behavioral coaching") {
			reply = "- Drink water after waking\n\n2. Walk after lunch\n"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"parts": []any{map[string]any{"text": reply}}},
			}},
		})
	}))
	t.Cleanup(srv.Close)

	pool, err := credentials.NewPool("gemini", []string{"k1"}, gemini.NewFactory(srv.URL+"/"))
	require.NoError(t, err)
	g := NewGeminiGenerator(pool, "models/gemini-2.5-flash-lite", provider.InvokeConfig{KeyCooldown: time.Hour, CallTimeout: 5 * time.Second})

	triggers, err := g.Triggers(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []string{"Drink water after waking", "Walk after lunch"}, triggers)

	title, err := g.Title(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, "Small Habits, Big Wins", title)
}

func TestSplitTriggers(t *testing.T) {
	assert.Equal(t, []string{}, splitTriggers(""))
	assert.Equal(t, []string{"a", "b", "c"}, splitTriggers("* a\n• b\n3) c"))
}
