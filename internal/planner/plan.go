// Package planner classifies a user prompt into a structured intent
// before any tool or model call is made.
package planner

import (
	"github.com/normanking/converse/internal/chat"
)

// Plan is the structured intent for one turn. It is produced once by the
// Planner and immutable afterwards except for manual tool overrides.
type Plan struct {
	NeedsWebSearch        bool   `json:"needs_web_search"`
	IsURLReadRequest      bool   `json:"is_url_read_request"`
	IsCreatorRequest      bool   `json:"is_creator_request"`
	IsCapabilitiesRequest bool   `json:"is_capabilities_request"`
	IsMoleculeRequest     bool   `json:"is_molecule_request"`
	MoleculeName          string `json:"molecule_name,omitempty"`
	NeedsThinking         bool   `json:"needs_thinking"`
	NeedsCodeContext      bool   `json:"needs_code_context"`

	Thoughts   []chat.ThoughtStep `json:"thoughts,omitempty"`
	SearchPlan []chat.ThoughtStep `json:"search_plan,omitempty"`
}

// FallbackPlan is the plan used when classification fails: prefer a safe,
// search-grounded answer over blocking the turn. Every other flag stays off.
func FallbackPlan() Plan {
	return Plan{NeedsWebSearch: true}
}

// HasTool reports whether any side-channel tool flag is set.
func (p Plan) HasTool() bool {
	return p.NeedsWebSearch || p.IsURLReadRequest || p.IsMoleculeRequest
}

// Normalize enforces the thinking/tool exclusion: a turn performs at most
// one of thinking or tool use, and tool execution itself signals intent.
func (p *Plan) Normalize() {
	if p.HasTool() {
		p.NeedsThinking = false
	}
}

// ApplyManualOverride applies an explicit tool selection on top of the
// classified plan. Manual selection always wins on the mutually exclusive
// tool dimension.
func (p *Plan) ApplyManualOverride(tool chat.Tool) {
	switch tool {
	case chat.ToolURLReader:
		p.IsURLReadRequest = true
		p.NeedsWebSearch = false
		p.NeedsThinking = false
	case chat.ToolWebSearch:
		p.NeedsWebSearch = true
		p.NeedsThinking = false
		p.IsURLReadRequest = false
		p.IsMoleculeRequest = false
	case chat.ToolThinking:
		p.NeedsThinking = true
		p.NeedsWebSearch = false
		p.IsURLReadRequest = false
	case chat.ToolChemistry:
		p.IsMoleculeRequest = true
		p.NeedsWebSearch = false
		p.NeedsThinking = false
	}
	p.Normalize()
}
