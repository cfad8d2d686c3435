package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/normanking/converse/internal/chat"
	"github.com/normanking/converse/internal/planner"
)

// ===========================================================================
// TOOL ROUTER
// ===========================================================================

// ErrNoURL is returned when the URL reader is selected but the turn carries
// no URL. No network call is attempted.
var ErrNoURL = errors.New("url reader requires a url")

// MoleculeError is a terminal lookup failure naming the compound.
type MoleculeError struct {
	Name string
	Err  error
}

func (e *MoleculeError) Error() string {
	return fmt.Sprintf("molecule lookup for %q: %v", e.Name, e.Err)
}

func (e *MoleculeError) Unwrap() error { return e.Err }

// moleculeCaptionPrompt is the fixed instruction sent instead of the user's
// prompt when a molecule is being displayed.
const moleculeCaptionPrompt = "A 3-D model of %s is being displayed to the user. Write a short, friendly caption (2-3 sentences) describing this molecule: what it is, where it occurs, and one interesting fact. Do not describe the visualization itself."

// Execution is the outcome of tool routing for one turn.
type Execution struct {
	// Plan is the normalized plan after manual overrides and attachment
	// rules were applied.
	Plan planner.Plan

	// EffectivePrompt is what the model receives; equal to the user prompt
	// when no tool rewrote it.
	EffectivePrompt string

	// ToolInUse identifies the active tool for display; ToolAuto when none.
	ToolInUse chat.Tool

	// Molecule carries resolved structure data for the chemistry flow.
	Molecule *chat.MoleculeData

	// AnalyzingImage and AnalyzingFile mark attachment analysis in progress.
	AnalyzingImage bool
	AnalyzingFile  bool
}

// Router applies manual overrides to a plan and executes at most one
// side-channel capability.
type Router struct {
	urlReader *URLReaderTool
	chemistry *ChemistryTool
}

// NewRouter creates a tool router.
func NewRouter(urlReader *URLReaderTool, chemistry *ChemistryTool) *Router {
	return &Router{urlReader: urlReader, chemistry: chemistry}
}

// Execute routes one turn. Tool failures are terminal for the turn: the
// caller must not proceed to streaming when an error is returned.
func (r *Router) Execute(ctx context.Context, plan planner.Plan, prompt string, manual chat.Tool, atts chat.Attachments) (*Execution, error) {
	plan.ApplyManualOverride(manual)

	exec := &Execution{
		EffectivePrompt: prompt,
		ToolInUse:       chat.ToolAuto,
	}

	// Attachment analysis is itself a thinking substitute.
	if len(atts.Images) > 0 {
		plan.NeedsThinking = false
		exec.AnalyzingImage = true
	}
	if atts.File != nil {
		plan.NeedsThinking = false
		exec.AnalyzingFile = true
	}

	switch {
	case plan.IsURLReadRequest:
		if strings.TrimSpace(atts.URL) == "" {
			return nil, ErrNoURL
		}
		content, err := r.urlReader.Fetch(ctx, atts.URL)
		if err != nil {
			return nil, fmt.Errorf("url read: %w", err)
		}
		exec.ToolInUse = chat.ToolURLReader
		exec.EffectivePrompt = fmt.Sprintf("[URL: %s]\n\n[EXTRACTED CONTENT]:\n%s\n\n[QUESTION]:\n%s",
			atts.URL, content, prompt)

	case plan.IsMoleculeRequest:
		name := strings.TrimSpace(plan.MoleculeName)
		if name == "" {
			name = strings.TrimSpace(prompt)
		}
		mol, err := r.chemistry.Resolve(ctx, name)
		if err != nil {
			log.Warn().Err(err).Str("compound", name).Msg("molecule lookup failed")
			return nil, &MoleculeError{Name: name, Err: err}
		}
		exec.ToolInUse = chat.ToolChemistry
		exec.Molecule = mol
		exec.EffectivePrompt = fmt.Sprintf(moleculeCaptionPrompt, mol.Name)
		plan.NeedsWebSearch = false
		plan.NeedsThinking = false

	case plan.NeedsWebSearch:
		// Search grounding rides on the generation call itself; routing
		// only marks the tool for display.
		exec.ToolInUse = chat.ToolWebSearch
	}

	plan.Normalize()
	exec.Plan = plan
	return exec, nil
}
