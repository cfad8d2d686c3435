// Package chat defines the conversation data model for Converse.
// A Conversation is an ordered, append-only-with-replace log of Messages;
// all mutation goes through update-by-predicate methods so the foreground
// stream and background writers can never corrupt list structure, only
// overwrite fields.
package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Tool identifies a side-channel capability selectable for a turn.
// ToolAuto defers the choice to the planner.
type Tool string

const (
	ToolAuto      Tool = "auto"
	ToolWebSearch Tool = "web_search"
	ToolURLReader Tool = "url_reader"
	ToolThinking  Tool = "thinking"
	ToolChemistry Tool = "chemistry"
)

// ThoughtStep is a single display step from the planner (reasoning or
// search-plan entry).
type ThoughtStep struct {
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

// Source is a grounding citation attached to a model message.
type Source struct {
	Title string `json:"title,omitempty"`
	URI   string `json:"uri"`
}

// MoleculeData is the structured 3-D model payload attached by the
// chemistry tool.
type MoleculeData struct {
	Name      string  `json:"name"`
	Formula   string  `json:"formula,omitempty"`
	Weight    float64 `json:"weight,omitempty"`
	IUPACName string  `json:"iupac_name,omitempty"`
	Atoms     []Atom  `json:"atoms"`
	Bonds     []Bond  `json:"bonds"`
}

// Atom is a single atom position in a molecule model.
type Atom struct {
	Element string  `json:"element"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Z       float64 `json:"z"`
}

// Bond connects two atoms by index.
type Bond struct {
	From  int `json:"from"`
	To    int `json:"to"`
	Order int `json:"order"`
}

// Attachments carries the optional payloads of a turn. At this layer the
// kinds are not mutually exclusive; the presentation layer enforces that.
type Attachments struct {
	Images   []ImageAttachment `json:"images,omitempty"`
	File     *FileAttachment   `json:"file,omitempty"`
	URL      string            `json:"url,omitempty"`
}

// ImageAttachment is one inline image.
type ImageAttachment struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// FileAttachment is one inline text file.
type FileAttachment struct {
	Name    string `json:"name"`
	Content string `json:"-"`
}

// HasAny reports whether any attachment is present.
func (a Attachments) HasAny() bool {
	return len(a.Images) > 0 || a.File != nil || a.URL != ""
}

// Message is one entry in a conversation. A model message passes through
// transient sub-states (planning, tool-in-use, streaming) before settling;
// transient fields must be stripped before the message is considered settled.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Attachments are kept on user messages so a retry can re-send them.
	Attachments Attachments `json:"attachments,omitempty"`

	// Transient fields, present only while a turn is in flight.
	IsPlanning       bool          `json:"is_planning,omitempty"`
	ToolInUse        Tool          `json:"tool_in_use,omitempty"`
	Thoughts         []ThoughtStep `json:"thoughts,omitempty"`
	SearchPlan       []ThoughtStep `json:"search_plan,omitempty"`
	IsAnalyzingImage bool          `json:"is_analyzing_image,omitempty"`
	IsAnalyzingFile  bool          `json:"is_analyzing_file,omitempty"`
	IsLongToolUse    bool          `json:"is_long_tool_use,omitempty"`
	ThinkingDuration time.Duration `json:"thinking_duration,omitempty"`

	// Settled fields.
	InputTokens    int           `json:"input_tokens,omitempty"`
	OutputTokens   int           `json:"output_tokens,omitempty"`
	SystemTokens   int           `json:"system_tokens,omitempty"`
	GenerationTime time.Duration `json:"generation_time,omitempty"`
	Sources        []Source      `json:"sources,omitempty"`
	MemoryUpdated  bool          `json:"memory_updated,omitempty"`
	Molecule       *MoleculeData `json:"molecule,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewMessage creates a message with a fresh ID.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// ClearTransient strips every in-flight field. Called on settlement,
// cancellation and error; no exit path may leave a transient flag set.
func (m *Message) ClearTransient() {
	m.IsPlanning = false
	m.ToolInUse = ""
	m.Thoughts = nil
	m.SearchPlan = nil
	m.IsAnalyzingImage = false
	m.IsAnalyzingFile = false
	m.IsLongToolUse = false
	m.ThinkingDuration = 0
}

// HasTransient reports whether any transient flag is still set.
func (m *Message) HasTransient() bool {
	return m.IsPlanning || m.ToolInUse != "" || m.IsAnalyzingImage ||
		m.IsAnalyzingFile || m.IsLongToolUse
}

// Summary is one periodic conversation summary entry.
type Summary struct {
	Serial    int       `json:"serial"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
