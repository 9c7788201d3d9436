package gemini

import (
	"encoding/json"
	"strings"

	"github.com/codebuildervaibhav/trigger-engine/internal/provider"
)

// DecodeObject parses a JSON object out of model output. Markdown code fences
// and prose around the object are tolerated. Empty or unparseable output is
// reported as KindMalformed.
func DecodeObject(text string, v any) error {
	text = stripFences(strings.TrimSpace(text))
	if text == "" {
		return provider.Errorf(provider.KindMalformed, Name, "empty response")
	}
	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return provider.Errorf(provider.KindMalformed, Name, "response is not a JSON object: %.80q", text)
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
		return &provider.Error{Kind: provider.KindMalformed, Provider: Name, Msg: "invalid JSON object", Err: err}
	}
	return nil
}

func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	lines = lines[1:]
	if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) == "```" {
		lines = lines[:n-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
