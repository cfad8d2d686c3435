package snippets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/normanking/converse/internal/llm"
)

const (
	matchTimeout = 10 * time.Second

	matchPrompt = `You select stored code snippets relevant to a user's request. Given the request and the snippet catalog, respond with ONLY a JSON object:

{"ids": ["<id of each relevant snippet>"]}

Return an empty array when nothing is relevant. Never invent ids.`
)

// Matcher finds stored snippets relevant to a prompt.
type Matcher struct {
	provider llm.Provider
	model    string
	store    *Store
}

// NewMatcher creates a relevance matcher.
func NewMatcher(provider llm.Provider, model string, store *Store) *Matcher {
	return &Matcher{provider: provider, model: model, store: store}
}

// PromptContext returns a system-instruction fragment carrying the snippets
// relevant to prompt, or "" when none match. Failures degrade to "" — code
// context is an enrichment, never a blocker.
func (m *Matcher) PromptContext(ctx context.Context, prompt string) string {
	descriptors, err := m.store.Descriptors()
	if err != nil || len(descriptors) == 0 {
		return ""
	}

	ids, err := m.match(ctx, prompt, descriptors)
	if err != nil {
		log.Debug().Err(err).Msg("snippet matching failed")
		return ""
	}
	if len(ids) == 0 {
		return ""
	}

	known := make(map[string]bool, len(descriptors))
	for _, d := range descriptors {
		known[d.ID] = true
	}

	var sb strings.Builder
	sb.WriteString("Code the user has worked with before:\n")
	found := false
	for _, id := range ids {
		if !known[id] {
			continue
		}
		sn, err := m.store.Get(id)
		if err != nil {
			continue
		}
		found = true
		fmt.Fprintf(&sb, "\n%s\n```%s\n%s\n```\n", sn.Description, sn.Language, sn.Code)
	}
	if !found {
		return ""
	}
	return sb.String()
}

func (m *Matcher) match(ctx context.Context, prompt string, descriptors []Descriptor) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, matchTimeout)
	defer cancel()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Request: %s\n\nSnippet catalog:\n", prompt)
	for _, d := range descriptors {
		fmt.Fprintf(&sb, "- id=%s language=%s: %s\n", d.ID, d.Language, d.Description)
	}

	raw, err := m.provider.Complete(ctx, &llm.Request{
		Model:             m.model,
		SystemInstruction: matchPrompt,
		Messages:          []llm.Message{llm.TextMessage("user", sb.String())},
		JSONMode:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("match snippets: %w", err)
	}

	var out struct {
		IDs []string `json:"ids"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("parse match result: %w", err)
	}
	return out.IDs, nil
}
