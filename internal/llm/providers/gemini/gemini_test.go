package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baobabted/AI-Coding-Tutor/internal/llm"
)

func testConfig(baseURL string) llm.Config {
	return llm.Config{
		APIKey:          "test-key",
		BaseURL:         baseURL,
		Model:           "gemini-2.0-flash",
		Timeout:         5 * time.Second,
		MaxRetries:      1,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		Multiplier:      2.0,
	}
}

func TestBuildRequestBody(t *testing.T) {
	t.Parallel()

	p := &Provider{config: testConfig("http://localhost")}

	t.Run("AssistantRoleBecomesModel", func(t *testing.T) {
		t.Parallel()
		body, err := p.buildRequestBody(&llm.ChatRequest{
			System: "You are a tutor.",
			Messages: []llm.Message{
				llm.TextMessage(llm.RoleUser, "hi"),
				llm.TextMessage(llm.RoleAssistant, "hello"),
			},
		})
		require.NoError(t, err)

		var req generateContentRequest
		require.NoError(t, json.Unmarshal(body, &req))
		require.Len(t, req.Contents, 2)
		assert.Equal(t, "user", req.Contents[0].Role)
		assert.Equal(t, "model", req.Contents[1].Role)
		require.NotNil(t, req.SystemInstruction)
		assert.Equal(t, "You are a tutor.", req.SystemInstruction.Parts[0].Text)
	})

	t.Run("ImagePartsBecomeInlineData", func(t *testing.T) {
		t.Parallel()
		body, err := p.buildRequestBody(&llm.ChatRequest{
			Messages: []llm.Message{{
				Role: llm.RoleUser,
				Parts: []llm.ContentPart{
					{Type: llm.PartImage, MediaType: "image/png", Data: "aGVsbG8="},
				},
			}},
		})
		require.NoError(t, err)

		var req generateContentRequest
		require.NoError(t, json.Unmarshal(body, &req))
		require.Len(t, req.Contents, 1)
		require.Len(t, req.Contents[0].Parts, 1)
		require.NotNil(t, req.Contents[0].Parts[0].InlineData)
		assert.Equal(t, "image/png", req.Contents[0].Parts[0].InlineData.MimeType)
	})

	t.Run("GenerationConfigOmittedWhenUnset", func(t *testing.T) {
		t.Parallel()
		body, err := p.buildRequestBody(&llm.ChatRequest{
			Messages: []llm.Message{llm.TextMessage(llm.RoleUser, "hi")},
		})
		require.NoError(t, err)
		assert.NotContains(t, string(body), "generationConfig")
	})
}

func TestChat(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.Equal(t, "/models/gemini-2.0-flash:generateContent", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"parts": [{"text": "Hello"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 6, "candidatesTokenCount": 2, "totalTokenCount": 8}
		}`))
	}))
	defer server.Close()

	p, err := New(testConfig(server.URL))
	require.NoError(t, err)

	resp, err := p.Chat(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{llm.TextMessage(llm.RoleUser, "hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, "STOP", resp.FinishReason)
	assert.Equal(t, 8, resp.Usage.TotalTokens)
}

func TestChatStream(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		_, _ = io.WriteString(w, `data: {"candidates":[{"content":{"parts":[{"text":"Hel"}]}}]}

data: {"candidates":[{"content":{"parts":[{"text":"lo"}]}}],"usageMetadata":{"promptTokenCount":6,"candidatesTokenCount":2,"totalTokenCount":8}}

`)
	}))
	defer server.Close()

	p, err := New(testConfig(server.URL))
	require.NoError(t, err)

	events, err := p.ChatStream(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{llm.TextMessage(llm.RoleUser, "hi")},
	})
	require.NoError(t, err)

	var content string
	var done bool
	var usage *llm.Usage
	for ev := range events {
		require.NoError(t, ev.Error)
		content += ev.Delta
		if ev.Done {
			done = true
			usage = ev.Usage
		}
	}

	// EOF completes the stream; there is no end sentinel.
	assert.Equal(t, "Hello", content)
	assert.True(t, done)
	require.NotNil(t, usage)
	assert.Equal(t, 8, usage.TotalTokens)
}
