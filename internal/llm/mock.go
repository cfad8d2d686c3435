package llm

import (
	"context"
	"sync"
	"time"
)

// MockProvider is a scriptable provider for development and tests.
// Chunks are replayed in order with an optional delay between them.
type MockProvider struct {
	mu sync.Mutex

	// Response is returned by Complete.
	Response string

	// Chunks are replayed by Stream.
	Chunks []Chunk

	// ChunkDelay spaces out replayed chunks.
	ChunkDelay time.Duration

	// Err, when set, is returned instead of content.
	Err error

	// Requests records everything sent, newest last.
	Requests []*Request
}

// Name returns the provider identifier.
func (m *MockProvider) Name() string { return "mock" }

// Available always returns true.
func (m *MockProvider) Available() bool { return true }

// LastRequest returns the most recent request, or nil.
func (m *MockProvider) LastRequest() *Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return nil
	}
	return m.Requests[len(m.Requests)-1]
}

func (m *MockProvider) record(req *Request) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()
}

// Complete returns the scripted response.
func (m *MockProvider) Complete(ctx context.Context, req *Request) (string, error) {
	m.record(req)
	if m.Err != nil {
		return "", m.Err
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return m.Response, nil
}

// Stream replays the scripted chunks.
func (m *MockProvider) Stream(ctx context.Context, req *Request) (<-chan Chunk, <-chan error) {
	m.record(req)
	chunkChan := make(chan Chunk, len(m.Chunks)+1)
	errChan := make(chan error, 1)

	go func() {
		defer close(chunkChan)
		defer close(errChan)

		for _, chunk := range m.Chunks {
			if m.ChunkDelay > 0 {
				select {
				case <-time.After(m.ChunkDelay):
				case <-ctx.Done():
					errChan <- ctx.Err()
					return
				}
			}
			select {
			case chunkChan <- chunk:
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}
		}
		if m.Err != nil {
			errChan <- m.Err
		}
	}()

	return chunkChan, errChan
}

// TextChunks builds a chunk sequence from plain text deltas, attaching the
// given usage to the final chunk.
func TextChunks(usage *Usage, deltas ...string) []Chunk {
	chunks := make([]Chunk, 0, len(deltas))
	for _, d := range deltas {
		chunks = append(chunks, Chunk{TextDelta: d})
	}
	if usage != nil {
		if len(chunks) == 0 {
			return []Chunk{{Usage: usage}}
		}
		chunks[len(chunks)-1].Usage = usage
	}
	return chunks
}

var _ StreamingProvider = (*MockProvider)(nil)
var _ StreamingProvider = (*GeminiProvider)(nil)
