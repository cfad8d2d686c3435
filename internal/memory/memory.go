// Package memory implements long-term user memory: a profile plus learned
// facts, enriched after each turn by a background extraction pass.
package memory

import (
	"fmt"
	"strings"
	"time"
)

// UserMemory is the always-in-context view of what we know about the user.
type UserMemory struct {
	// Name is the user's name, if they have shared one.
	Name string `json:"name,omitempty"`

	// Facts learned from conversations, oldest first.
	Facts []UserFact `json:"facts,omitempty"`
}

// UserFact is one learned fact about the user.
type UserFact struct {
	Fact      string    `json:"fact"`
	Source    string    `json:"source"` // "user_stated" or "llm_inferred"
	CreatedAt time.Time `json:"created_at"`
}

// AddFact appends a fact unless an identical one already exists.
// Returns true if the fact was added.
func (m *UserMemory) AddFact(fact, source string) bool {
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return false
	}
	for _, f := range m.Facts {
		if f.Fact == fact {
			return false
		}
	}
	m.Facts = append(m.Facts, UserFact{
		Fact:      fact,
		Source:    source,
		CreatedAt: time.Now(),
	})
	return true
}

// ReplaceFact rewrites an existing fact in place. Returns true if a fact
// matched old.
func (m *UserMemory) ReplaceFact(old, new string) bool {
	new = strings.TrimSpace(new)
	if new == "" {
		return false
	}
	for i := range m.Facts {
		if m.Facts[i].Fact == old {
			m.Facts[i].Fact = new
			return true
		}
	}
	return false
}

// FactTexts returns the bare fact strings.
func (m *UserMemory) FactTexts() []string {
	out := make([]string, len(m.Facts))
	for i, f := range m.Facts {
		out[i] = f.Fact
	}
	return out
}

// PromptContext renders the memory for inclusion in a system instruction.
// Returns "" when nothing is known.
func (m *UserMemory) PromptContext() string {
	if m.Name == "" && len(m.Facts) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("What you know about the user:\n")
	if m.Name != "" {
		fmt.Fprintf(&sb, "- Their name is %s\n", m.Name)
	}
	for _, f := range m.Facts {
		fmt.Fprintf(&sb, "- %s\n", f.Fact)
	}
	return sb.String()
}
