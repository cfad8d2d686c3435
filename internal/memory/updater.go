package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/normanking/converse/internal/llm"
)

const (
	extractTimeout = 30 * time.Second

	extractPrompt = `You maintain long-term memory about a user based on their conversations. Given the current memory and the latest exchange, respond with ONLY a JSON object:

{
  "new_facts": ["<durable fact about the user worth remembering>"],
  "fact_updates": [{"old": "<existing fact, verbatim>", "new": "<corrected fact>"}],
  "profile_name": "<the user's name if they stated it, else empty>"
}

Only record durable facts (preferences, background, ongoing projects), never transient conversation details. Use fact_updates only when an existing fact is now wrong. Use empty arrays when there is nothing to record.`
)

// Exchange is the last user/model pair handed to extraction.
type Exchange struct {
	UserPrompt    string
	ModelResponse string
}

// extraction is the model's verdict on what to remember.
type extraction struct {
	NewFacts    []string `json:"new_facts"`
	FactUpdates []struct {
		Old string `json:"old"`
		New string `json:"new"`
	} `json:"fact_updates"`
	ProfileName string `json:"profile_name"`
}

// Updater enriches stored memory after a turn. It is invoked fire-and-forget;
// failures are the caller's to log, never to surface.
type Updater struct {
	provider llm.Provider
	model    string
	store    *Store
}

// NewUpdater creates a memory updater.
func NewUpdater(provider llm.Provider, model string, store *Store) *Updater {
	return &Updater{provider: provider, model: model, store: store}
}

// Update runs extraction for one settled exchange and persists any changes.
// Returns true only if memory actually changed.
func (u *Updater) Update(ctx context.Context, ex Exchange) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	mem, err := u.store.Load()
	if err != nil {
		return false, fmt.Errorf("load memory: %w", err)
	}

	ext, err := u.extract(ctx, ex, mem)
	if err != nil {
		return false, err
	}

	changed := false
	for _, upd := range ext.FactUpdates {
		if mem.ReplaceFact(upd.Old, upd.New) {
			changed = true
		}
	}
	for _, fact := range ext.NewFacts {
		if mem.AddFact(fact, "llm_inferred") {
			changed = true
		}
	}
	if name := strings.TrimSpace(ext.ProfileName); name != "" && name != mem.Name {
		mem.Name = name
		changed = true
	}

	if !changed {
		return false, nil
	}
	if err := u.store.Save(mem); err != nil {
		return false, fmt.Errorf("save memory: %w", err)
	}
	return true, nil
}

func (u *Updater) extract(ctx context.Context, ex Exchange, mem *UserMemory) (*extraction, error) {
	var sb strings.Builder
	sb.WriteString("Current memory:\n")
	if mem.Name != "" {
		fmt.Fprintf(&sb, "Name: %s\n", mem.Name)
	}
	if len(mem.Facts) == 0 {
		sb.WriteString("(no facts yet)\n")
	}
	for _, f := range mem.Facts {
		fmt.Fprintf(&sb, "- %s\n", f.Fact)
	}
	fmt.Fprintf(&sb, "\nLatest exchange:\nUser: %s\nAssistant: %s\n", ex.UserPrompt, ex.ModelResponse)

	raw, err := u.provider.Complete(ctx, &llm.Request{
		Model:             u.model,
		SystemInstruction: extractPrompt,
		Messages:          []llm.Message{llm.TextMessage("user", sb.String())},
		JSONMode:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("extract memory: %w", err)
	}

	var ext extraction
	if err := json.Unmarshal([]byte(raw), &ext); err != nil {
		return nil, fmt.Errorf("parse extraction: %w", err)
	}
	return &ext, nil
}
