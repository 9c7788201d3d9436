package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/trigger-engine/internal/provider"
)

type transcriptJSON struct {
	Language string `json:"language"`
	English  string `json:"transcript_english"`
}

func TestDecodeObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"plain", `{"language":"hi","transcript_english":"hello"}`},
		{"fenced", "```json\n{\"language\":\"hi\",\"transcript_english\":\"hello\"}\n```"},
		{"prose around", "Sure! Here it is: {\"language\":\"hi\",\"transcript_english\":\"hello\"} Hope this helps."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got transcriptJSON
			require.NoError(t, DecodeObject(tt.in, &got))
			assert.Equal(t, transcriptJSON{Language: "hi", English: "hello"}, got)
		})
	}
}

func TestDecodeObject_Malformed(t *testing.T) {
	for _, in := range []string{"", "   ", "no json here", "{broken", "```\n```"} {
		var got transcriptJSON
		err := DecodeObject(in, &got)
		require.Error(t, err, in)
		assert.Equal(t, provider.KindMalformed, provider.KindOf(err), in)
	}
}
