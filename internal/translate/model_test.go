package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertModelName_RoundTrip(t *testing.T) {
	openaiName, err := ConvertModelName("llama3:8b", OpenAI)
	require.NoError(t, err)
	assert.Equal(t, "llama3/8b", openaiName)

	ollamaName, err := ConvertModelName(openaiName, Ollama)
	require.NoError(t, err)
	assert.Equal(t, "llama3:8b", ollamaName)
}

func TestConvertModelName_NoVersion(t *testing.T) {
	name, err := ConvertModelName("llama3", Ollama)
	require.NoError(t, err)
	assert.Equal(t, "llama3", name)
}

func TestConvertModelName_Invalid(t *testing.T) {
	_, err := ConvertModelName("bad name!", Ollama)
	assert.Error(t, err)
}
