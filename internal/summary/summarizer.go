// Package summary maintains periodic conversation summaries, generated in
// the background every 20 messages.
package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/normanking/converse/internal/chat"
	"github.com/normanking/converse/internal/llm"
)

const (
	// Interval is the message-count period between summary batches.
	Interval = 20

	summarizeTimeout = 60 * time.Second

	summarizePrompt = `You summarize chat history. For each numbered exchange below, write one concise summary sentence capturing what was asked and answered. Respond with ONLY a JSON object:

{"summaries": ["<summary of exchange 1>", "<summary of exchange 2>", ...]}

Return exactly one summary per exchange, in order.`
)

// Summarizer condenses the most recent messages into summary records.
type Summarizer struct {
	provider llm.Provider
	model    string
}

// New creates a Summarizer.
func New(provider llm.Provider, model string) *Summarizer {
	return &Summarizer{provider: provider, model: model}
}

// Due reports whether a conversation of the given length needs a summary
// batch: only when the length is a positive multiple of the interval.
func Due(messageCount int) bool {
	return messageCount > 0 && messageCount%Interval == 0
}

// Run generates summaries for the most recent window and appends them to
// the conversation. A no-op when no batch is due. Returns how many
// summaries were added.
func (s *Summarizer) Run(ctx context.Context, conv *chat.Conversation) (int, error) {
	msgs := conv.Messages()
	if !Due(len(msgs)) {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, summarizeTimeout)
	defer cancel()

	window := msgs[len(msgs)-Interval:]
	pairs := pairUp(window)
	if len(pairs) == 0 {
		return 0, nil
	}

	texts, err := s.summarize(ctx, pairs)
	if err != nil {
		return 0, err
	}

	// Serial numbering continues from what the conversation already holds.
	startSerial := len(conv.Summaries()) + 1
	now := time.Now()
	added := make([]chat.Summary, 0, len(texts))
	for i, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		added = append(added, chat.Summary{
			Serial:    startSerial + i,
			Content:   text,
			CreatedAt: now,
		})
	}
	conv.AddSummaries(added)
	return len(added), nil
}

// exchangePair is one (user, model) tuple from the window.
type exchangePair struct {
	User  string
	Model string
}

// pairUp walks the window in order, joining each user message with the
// model message that follows it.
func pairUp(window []chat.Message) []exchangePair {
	var pairs []exchangePair
	for i := 0; i < len(window); i++ {
		if window[i].Role != chat.RoleUser {
			continue
		}
		pair := exchangePair{User: window[i].Content}
		if i+1 < len(window) && window[i+1].Role == chat.RoleModel {
			pair.Model = window[i+1].Content
			i++
		}
		pairs = append(pairs, pair)
	}
	return pairs
}

func (s *Summarizer) summarize(ctx context.Context, pairs []exchangePair) ([]string, error) {
	var sb strings.Builder
	for i, p := range pairs {
		fmt.Fprintf(&sb, "Exchange %d:\nUser: %s\nAssistant: %s\n\n", i+1, p.User, p.Model)
	}

	raw, err := s.provider.Complete(ctx, &llm.Request{
		Model:             s.model,
		SystemInstruction: summarizePrompt,
		Messages:          []llm.Message{llm.TextMessage("user", sb.String())},
		JSONMode:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}

	var out struct {
		Summaries []string `json:"summaries"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("parse summaries: %w", err)
	}
	return out.Summaries, nil
}
