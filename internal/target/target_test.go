package target

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBaseTarget_FallbacksRoundTrip(t *testing.T) {
	primary := NewHTTPPostback("http://primary", "", nil, 0)
	fallback := NewHTTPPostback("http://fallback", "", nil, 0)
	primary.SetFallbacks([]Target{fallback})

	assert.Len(t, primary.Fallbacks(), 1)
	assert.Equal(t, fallback, primary.Fallbacks()[0])
}

func TestBaseTarget_ValidZeroValue(t *testing.T) {
	var b baseTarget
	assert.False(t, b.IsValid())
	assert.Empty(t, b.ErrorMessage())
	assert.Empty(t, b.Fallbacks())
}
