package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_RewritesModelAndBuffersNonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "llama3:latest", body["model"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"model": "llama3:latest", "done": true})
	}))
	defer srv.Close()

	c := NewClient()
	resp, err := c.Do(context.Background(), Request{
		BackendURL: srv.URL,
		Path:       "/api/chat",
		Method:     http.MethodPost,
		Body:       []byte(`{"model":"llama3","stream":false}`),
	}, "llama3:latest")

	require.NoError(t, err)
	assert.Nil(t, resp.Stream)
	assert.Contains(t, string(resp.Body), `"done":true`)
}

func TestBackendPath(t *testing.T) {
	p, err := BackendPath("chat")
	require.NoError(t, err)
	assert.Equal(t, "/api/chat", p)

	_, err = BackendPath("unknown")
	assert.Error(t, err)
}

func TestIsStreamingRequested_DefaultsTrue(t *testing.T) {
	assert.True(t, IsStreamingRequested([]byte(`{}`)))
	assert.False(t, IsStreamingRequested([]byte(`{"stream":false}`)))
}
