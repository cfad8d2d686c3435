package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/normanking/converse/internal/llm"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 100, EstimateTokens(strings.Repeat("x", 400)))
}

func TestAccountTokens_PlainChat(t *testing.T) {
	// 400-char prompt estimates to 100 tokens; the remaining 200 of the
	// reported 300 prompt tokens is system overhead.
	prompt := strings.Repeat("x", 400)
	usage := &llm.Usage{PromptTokens: 300, CompletionTokens: 50}

	counts := AccountTokens(usage, prompt, false)

	assert.Equal(t, 100, counts.Input)
	assert.Equal(t, 50, counts.Output)
	assert.Equal(t, 200, counts.System)
}

func TestAccountTokens_ToolUsed(t *testing.T) {
	usage := &llm.Usage{PromptTokens: 500, CompletionTokens: 70}

	counts := AccountTokens(usage, "short prompt", true)

	assert.Equal(t, 500, counts.Input)
	assert.Equal(t, 70, counts.Output)
	assert.Equal(t, 0, counts.System)
}

func TestAccountTokens_NilUsage(t *testing.T) {
	counts := AccountTokens(nil, strings.Repeat("x", 40), false)

	assert.Equal(t, 10, counts.Input)
	assert.Equal(t, 0, counts.Output)
	assert.Equal(t, 0, counts.System)
}

func TestAccountTokens_SystemNeverNegative(t *testing.T) {
	// Reported prompt tokens below the local estimate clamp to zero.
	usage := &llm.Usage{PromptTokens: 2, CompletionTokens: 1}

	counts := AccountTokens(usage, strings.Repeat("x", 400), false)

	assert.Equal(t, 100, counts.Input)
	assert.Equal(t, 0, counts.System)
}
