package translate

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamWriter_NDJSON_StableIDAndCreated(t *testing.T) {
	var buf bytes.Buffer
	sw := NewStreamWriter(&buf, nil, false)

	require.NoError(t, sw.WriteChunk([]byte(`{"model":"llama3:latest","created_at":"2024-01-01T00:00:00.000000Z","message":{"role":"assistant","content":"hel"},"done":false}`)))
	require.NoError(t, sw.WriteChunk([]byte(`{"model":"llama3:latest","created_at":"2024-06-01T00:00:00.000000Z","message":{"content":"lo"},"done":true,"eval_count":2,"prompt_eval_count":1}`)))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first, second OpenAICompletionMessage
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Created, second.Created)
	assert.Equal(t, "chat.completion.chunk", second.Object)
	assert.NotNil(t, second.Usage)
}

func TestStreamWriter_ErrorPassthroughVerbatim(t *testing.T) {
	var buf bytes.Buffer
	sw := NewStreamWriter(&buf, nil, false)

	require.NoError(t, sw.WriteChunk([]byte(`{"error":"backend exploded"}`)))

	assert.Equal(t, `{"error":"backend exploded"}`, strings.TrimSpace(buf.String()))
}

func TestStreamWriter_SSEFraming(t *testing.T) {
	var buf bytes.Buffer
	sw := NewStreamWriter(&buf, nil, true)

	require.NoError(t, sw.WriteChunk([]byte(`{"model":"llama3:latest","message":{"content":"hi"},"done":false}`)))
	require.NoError(t, sw.Close())

	out := buf.String()
	assert.True(t, strings.Contains(out, "data: "))
	assert.True(t, strings.HasSuffix(out, "\n\n"))
	assert.True(t, strings.Contains(out, "data: [DONE]"))
}
