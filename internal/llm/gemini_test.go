package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiGenerate_StripsProviderPrefix(t *testing.T) {
	t.Parallel()

	var gotPath, gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read request body: %v", err)
		}
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Errorf("unmarshal request body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [
				{"content": {"role": "model", "parts": [{"text": "## Data profile"}]}}
			]
		}`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewGemini(context.Background(), Config{
		Model:       "gemini/gemini-2.5-flash",
		APIKey:      "AIza-test",
		BaseURL:     srv.URL,
		Temperature: 0.7,
	}, srv.Client())
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash", client.Model())

	resp, err := client.Generate(context.Background(), Request{System: "You are an analyst.", Prompt: "Profile the data."})
	require.NoError(t, err)
	assert.Equal(t, "## Data profile", resp.Text)

	assert.True(t, strings.HasSuffix(gotPath, "/models/gemini-2.5-flash:generateContent"), "path = %q", gotPath)
	assert.Equal(t, "AIza-test", gotKey)
	assert.Contains(t, gotBody, "systemInstruction")
	cfg, ok := gotBody["generationConfig"].(map[string]any)
	require.True(t, ok, "generationConfig missing: %v", gotBody)
	assert.InDelta(t, 0.7, cfg["temperature"], 1e-6)
}

func TestNewGemini_RequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewGemini(context.Background(), Config{Model: "gemini-2.5-flash"}, nil)
	require.Error(t, err)
}

func TestNew_UnknownProvider(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{Provider: "mystery", Model: "m", APIKey: "k"}, nil)
	require.Error(t, err)
}
