package orchestrator

import (
	"github.com/normanking/converse/internal/llm"
)

// CharsPerToken is the cheap local estimate ratio.
const CharsPerToken = 4

// EstimateTokens approximates the token count of text as ceil(len/4).
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + CharsPerToken - 1) / CharsPerToken
}

// TokenCounts is what the caller sees for a settled turn.
type TokenCounts struct {
	Input  int
	Output int
	System int
}

// AccountTokens computes displayed counts from model usage. When a tool,
// attachment, or web search inflated the prompt the full prompt cost is
// shown; plain chat shows the estimated user-prompt cost and attributes the
// history/system overhead to System.
func AccountTokens(usage *llm.Usage, promptText string, toolWasUsed bool) TokenCounts {
	estimated := EstimateTokens(promptText)
	if usage == nil {
		return TokenCounts{Input: estimated}
	}

	if toolWasUsed {
		return TokenCounts{
			Input:  usage.PromptTokens,
			Output: usage.CompletionTokens,
		}
	}

	system := usage.PromptTokens - estimated
	if system < 0 {
		system = 0
	}
	return TokenCounts{
		Input:  estimated,
		Output: usage.CompletionTokens,
		System: system,
	}
}
