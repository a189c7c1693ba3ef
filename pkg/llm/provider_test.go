package llm

import (
	"testing"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrimPairs(t *testing.T) {
	history := []string{"u1", "a1", "u2", "a2", "u3", "a3"}

	assert.Len(t, trimPairs(history, 0), 6)
	assert.Len(t, trimPairs(history, 10), 6)

	trimmed := trimPairs(history, 4)
	assert.Equal(t, []string{"u2", "a2", "u3", "a3"}, trimmed)

	// Odd limit still removes whole pairs.
	trimmed = trimPairs(history, 3)
	assert.Equal(t, []string{"u3", "a3"}, trimmed)
}

func TestSentenceComplete(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"", false},
		{"   ", false},
		{"I just miss her", false},
		{"I just miss her.", true},
		{"Why him?", true},
		{"Leave me alone!", true},
		{"I keep thinking... ", false},
		{"他走了。", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sentenceComplete(tt.text), "text=%q", tt.text)
	}
}

func TestNewOpenAIProviderValidation(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{})
	assert.Error(t, err)

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, "gpt-4o-mini", p.cfg.Model)
	assert.Equal(t, 20, p.cfg.MaxHistory)
}

func TestOpenAIProviderHistory(t *testing.T) {
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", MaxHistory: 4})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		p.addToHistory(openai.UserMessage("hi"))
	}
	assert.Equal(t, 4, p.HistoryLength())

	p.ClearHistory()
	assert.Equal(t, 0, p.HistoryLength())
}
