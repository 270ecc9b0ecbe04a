package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModelAppliesOptions(t *testing.T) {
	m := NewModel(func(o *Options) {
		o.APIKey = "sk-test"
		o.Model = "gpt-4o"
	})

	require.NotNil(t, m)
	assert.Equal(t, "gpt-4o", m.Info().Name)
	assert.Equal(t, "sk-test", m.opts.APIKey)
}
