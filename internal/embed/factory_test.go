package embed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkhound/chunkhound/internal/chunkerr"
)

func TestParseProvider_RecognizesAllKnownNames(t *testing.T) {
	assert.Equal(t, ProviderOpenAI, ParseProvider("openai"))
	assert.Equal(t, ProviderOpenAICompatible, ParseProvider("openai-compatible"))
	assert.Equal(t, ProviderTEI, ParseProvider("tei"))
	assert.Equal(t, ProviderBGEInICL, ParseProvider("bge-in-icl"))
	assert.Equal(t, ProviderOpenAI, ParseProvider("unknown-thing"))
}

func TestNewEmbedder_OpenAIRequiresAPIKey(t *testing.T) {
	// Given: an openai config with no api key
	_, err := NewEmbedder(ProviderOpenAI, HTTPConfig{Model: "text-embedding-3-small"})

	// Then: it is rejected as a contract violation, not attempted
	require.Error(t, err)
	assert.Equal(t, chunkerr.CategoryContract, chunkerr.CategoryOf(err))
}

func TestNewEmbedder_CompatibleRequiresBaseURL(t *testing.T) {
	_, err := NewEmbedder(ProviderOpenAICompatible, HTTPConfig{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, chunkerr.CategoryContract, chunkerr.CategoryOf(err))
}

func TestNewEmbedder_RequiresModel(t *testing.T) {
	_, err := NewEmbedder(ProviderTEI, HTTPConfig{BaseURL: "http://localhost:8081"})
	require.Error(t, err)
}

func TestNewEmbedder_BGEInICLSetsInstructionPrefix(t *testing.T) {
	// Given: a valid bge-in-icl config
	e, err := NewEmbedder(ProviderBGEInICL, HTTPConfig{BaseURL: "http://localhost:8081", Model: "bge-icl"})
	require.NoError(t, err)

	// Then: the underlying HTTP embedder carries the ICL instruction prefix
	httpE, ok := e.(*HTTPEmbedder)
	require.True(t, ok)
	assert.Equal(t, bgeICLInstruction, httpE.cfg.InstructionPrefix)
}

func TestNewEmbedder_TEINeedsNoAPIKey(t *testing.T) {
	_, err := NewEmbedder(ProviderTEI, HTTPConfig{BaseURL: "http://localhost:8081", Model: "bge-small"})
	require.NoError(t, err)
}
