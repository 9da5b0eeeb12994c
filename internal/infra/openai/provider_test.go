package openai

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderRequiresAPIKey(t *testing.T) {
	_, err := NewProvider("")
	require.ErrorIs(t, err, ErrAPIKeyNotSet)
}

func TestNewProviderOptionsOverrideDefaults(t *testing.T) {
	provider, err := NewProvider("dummy-key",
		WithModel("custom-model"),
		WithEmbeddingModel("custom-embed"),
		WithEmbeddingDimension(42),
		WithTimeout(5*time.Second),
	)
	require.NoError(t, err)

	assert.Equal(t, "custom-model", provider.ModelName())
	assert.Equal(t, "custom-embed", provider.embedModel)
	assert.Equal(t, 42, provider.Dimension())
	assert.Equal(t, 5*time.Second, provider.timeout)
}

func TestIsRateLimitError(t *testing.T) {
	assert.False(t, isRateLimitError(nil))
	assert.False(t, isRateLimitError(errors.New("plain error")))
}

func TestTrimWithoutEncodingIsIdentity(t *testing.T) {
	p := &Provider{}
	assert.Equal(t, "some text", p.trimToTokenLimit("some text", 1))
}
