package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"random-chat-be/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiChatMapsRolesAndSystemInstruction(t *testing.T) {
	var captured geminiRequest
	var path, apiKey string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		apiKey = r.Header.Get("x-goog-api-key")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"lol "},{"text":"no, are you?"}]}}]}`))
	}))
	defer srv.Close()

	p := NewGeminiProvider("secret", "gemini-2.5-flash")
	p.BaseURL = srv.URL

	reply, err := p.Chat(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "be casual"},
		{Role: llm.RoleUser, Content: "are you a bot?"},
		{Role: llm.RoleAssistant, Content: "what?"},
		{Role: llm.RoleUser, Content: "answer"},
	})
	require.NoError(t, err)

	assert.Equal(t, "lol no, are you?", reply)
	assert.Equal(t, "/models/gemini-2.5-flash:generateContent", path)
	assert.Equal(t, "secret", apiKey)
	require.NotNil(t, captured.SystemInstruction)
	assert.Equal(t, "be casual", captured.SystemInstruction.Parts[0].Text)
	require.Len(t, captured.Contents, 3)
	assert.Equal(t, "user", captured.Contents[0].Role)
	assert.Equal(t, "model", captured.Contents[1].Role)
	assert.Equal(t, "user", captured.Contents[2].Role)
}

func TestGeminiChatErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "non 200", status: http.StatusTooManyRequests, body: `{"error":"quota"}`},
		{name: "no candidates", status: http.StatusOK, body: `{"candidates":[]}`},
		{name: "malformed", status: http.StatusOK, body: `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewGeminiProvider("k", "m")
			p.BaseURL = srv.URL

			_, err := p.Generate(context.Background(), "hi")
			assert.Error(t, err)
		})
	}
}
