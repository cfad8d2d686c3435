package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/normanking/converse/internal/chat"
	"github.com/normanking/converse/internal/llm"
)

const (
	// DefaultClassifyTimeout bounds the classification call. A slow planner
	// must never hold up the turn longer than this.
	DefaultClassifyTimeout = 10 * time.Second

	classifyPrompt = `You are a request classifier for a chat assistant. Analyze the user's request and respond with ONLY a JSON object, no other text:

{
  "needs_web_search": <true if the request needs current or factual information from the web>,
  "is_url_read_request": <true if the user is asking about the content of a specific URL>,
  "is_creator_request": <true if the user asks who made or built this assistant>,
  "is_capabilities_request": <true if the user asks what this assistant can do>,
  "is_molecule_request": <true if the user asks to see or visualize a chemical compound or molecule>,
  "molecule_name": "<the compound name if is_molecule_request, else empty>",
  "needs_thinking": <true if the request needs careful multi-step reasoning>,
  "needs_code_context": <true if the request relates to code the user may have shared before>,
  "thoughts": [{"title": "<short step>", "detail": "<one sentence>"}],
  "search_plan": [{"title": "<short step>", "detail": "<one sentence>"}]
}

Populate "thoughts" only when needs_thinking is true and "search_plan" only when needs_web_search is true; otherwise use empty arrays.`
)

// Planner classifies prompts via a lightweight model call.
type Planner struct {
	provider llm.Provider
	model    string
	timeout  time.Duration
}

// Option configures a Planner.
type Option func(*Planner)

// WithTimeout sets a custom classification timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Planner) { p.timeout = d }
}

// New creates a Planner that classifies with the given model.
func New(provider llm.Provider, model string, opts ...Option) *Planner {
	p := &Planner{
		provider: provider,
		model:    model,
		timeout:  DefaultClassifyTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan classifies the prompt. Classification failures are absorbed: any
// error from the underlying call yields the fallback plan, never an error.
func (p *Planner) Plan(ctx context.Context, prompt string, atts chat.Attachments) Plan {
	plan, err := p.classify(ctx, prompt, atts)
	if err != nil {
		log.Debug().Err(err).Msg("classification failed, using fallback plan")
		return FallbackPlan()
	}
	plan.Normalize()
	return plan
}

func (p *Planner) classify(ctx context.Context, prompt string, atts chat.Attachments) (Plan, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var sb strings.Builder
	sb.WriteString(prompt)
	if len(atts.Images) > 0 {
		fmt.Fprintf(&sb, "\n\n[User attached %d image(s)]", len(atts.Images))
	}
	if atts.File != nil {
		fmt.Fprintf(&sb, "\n\n[User attached file: %s]", atts.File.Name)
	}
	if atts.URL != "" {
		fmt.Fprintf(&sb, "\n\n[User supplied URL: %s]", atts.URL)
	}

	raw, err := p.provider.Complete(ctx, &llm.Request{
		Model:             p.model,
		SystemInstruction: classifyPrompt,
		Messages:          []llm.Message{llm.TextMessage("user", sb.String())},
		JSONMode:          true,
	})
	if err != nil {
		return Plan{}, fmt.Errorf("classify: %w", err)
	}

	var plan Plan
	if err := json.Unmarshal([]byte(extractJSON(raw)), &plan); err != nil {
		return Plan{}, fmt.Errorf("parse classification: %w", err)
	}
	return plan, nil
}

// extractJSON strips markdown fences some models wrap around JSON output.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	}
	return strings.TrimSpace(raw)
}
