// Package llm provides the Gemini transport used for conversational turns,
// planning, and background generation.
package llm

import (
	"context"
	"io"
)

// Security limits to prevent unbounded memory usage
const (
	// MaxErrorBodySize limits how much error response body we read (1MB)
	MaxErrorBodySize = 1 * 1024 * 1024

	// MaxStreamedResponseSize limits total streamed response size (50MB)
	MaxStreamedResponseSize = 50 * 1024 * 1024
)

// readLimitedBody reads up to maxBytes from r, returning the bytes read.
func readLimitedBody(r io.Reader, maxBytes int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxBytes))
}

// Message is one turn of model input history.
type Message struct {
	Role  string `json:"role"` // "user" or "model"
	Parts []Part `json:"parts"`
}

// Part is a single content part: text or inline binary data.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// Blob carries inline binary content such as an attached image.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// TextMessage builds a single-part text message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Parts: []Part{{Text: text}}}
}

// Request is a generation request, streaming or not.
type Request struct {
	// Model overrides the provider's default model when set.
	Model string

	// SystemInstruction sets the model's behavior.
	SystemInstruction string

	// Messages is the conversation history, oldest first.
	Messages []Message

	// MaxOutputTokens limits response length; 0 uses the provider default.
	MaxOutputTokens int

	// Temperature controls randomness.
	Temperature float64

	// EnableSearch turns on search grounding for this request.
	EnableSearch bool

	// EnableThinking requests extended reasoning for this request.
	EnableThinking bool

	// JSONMode forces an application/json response.
	JSONMode bool
}

// Usage reports token consumption for a completed generation.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Chunk is one streamed increment. TextDelta may be empty on chunks that
// only carry usage or grounding updates. Usage is cumulative; the last
// non-nil value observed is authoritative.
type Chunk struct {
	TextDelta string
	Sources   []string
	Usage     *Usage
}

// Provider is a text-generation backend.
type Provider interface {
	// Complete runs a request to completion and returns the full text.
	Complete(ctx context.Context, req *Request) (string, error)

	// Name returns the provider identifier.
	Name() string

	// Available returns true if the provider is configured.
	Available() bool
}

// StreamingProvider extends Provider with incremental delivery.
// Both returned channels are closed when the stream ends; at most one
// error is sent. Consumers must drain contentChan fully or cancel ctx.
type StreamingProvider interface {
	Provider
	Stream(ctx context.Context, req *Request) (<-chan Chunk, <-chan error)
}
