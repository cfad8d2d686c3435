package orchestrator

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/normanking/converse/internal/chat"
	"github.com/normanking/converse/internal/llm"
)

// titlePrefix marks the first line of a first-turn response carrying the
// conversation title.
const titlePrefix = "TITLE:"

// StreamResult is what one stream run produced.
type StreamResult struct {
	// Text is the accumulated response with any title line stripped.
	Text string

	// Usage is the last usage metadata observed, nil if none arrived.
	Usage *llm.Usage

	// Sources are deduplicated grounding URIs in arrival order.
	Sources []chat.Source

	// Cancelled is true when the loop stopped on the cancellation flag.
	Cancelled bool
}

// StreamConsumer consumes one model stream, maintaining the single in-flight
// message as chunks arrive. One-shot per turn.
type StreamConsumer struct {
	provider llm.StreamingProvider
}

// NewStreamConsumer creates a stream consumer.
func NewStreamConsumer(provider llm.StreamingProvider) *StreamConsumer {
	return &StreamConsumer{provider: provider}
}

// Run drives the stream to completion. After every chunk the in-flight
// message's content is overwritten (never appended) through the
// conversation's predicate API. The cancellation flag is checked once per
// chunk; text already written stays written.
//
// On the conversation's first turn the accumulated text is watched for a
// leading "TITLE:" line: the title commits the moment the line completes,
// and the line never reaches displayed content.
func (s *StreamConsumer) Run(ctx context.Context, req *llm.Request, conv *chat.Conversation, msgID string, firstTurn bool, cancelled *atomic.Bool) (*StreamResult, error) {
	chunks, errs := s.provider.Stream(ctx, req)

	result := &StreamResult{}
	var accumulated strings.Builder
	seenSource := make(map[string]bool)
	titleDone := !firstTurn

	for chunk := range chunks {
		if cancelled.Load() {
			result.Cancelled = true
			break
		}

		accumulated.WriteString(chunk.TextDelta)
		if chunk.Usage != nil {
			result.Usage = chunk.Usage
		}
		for _, uri := range chunk.Sources {
			if !seenSource[uri] {
				seenSource[uri] = true
				result.Sources = append(result.Sources, chat.Source{URI: uri})
			}
		}

		text := accumulated.String()
		if !titleDone {
			var title string
			title, titleDone = extractTitle(text)
			if title != "" {
				conv.SetTitle(title)
			}
		}
		display := stripTitleLine(text, firstTurn)

		result.Text = display
		conv.UpdateByID(msgID, func(m *chat.Message) {
			m.Content = display
			m.Sources = result.Sources
		})
	}

	if result.Cancelled {
		// Drain so the producer can exit; the context is being cancelled
		// by the controller.
		go func() {
			for range chunks {
			}
		}()
		return result, nil
	}

	if err := <-errs; err != nil {
		if cancelled.Load() {
			result.Cancelled = true
			return result, nil
		}
		return result, err
	}
	return result, nil
}

// extractTitle looks for a completed "TITLE: ..." first line. It returns
// the title (if one was found) and whether extraction is finished: once any
// newline has appeared, no further attempts are made.
func extractTitle(text string) (string, bool) {
	idx := strings.IndexByte(text, '\n')
	if strings.HasPrefix(text, titlePrefix) {
		if idx < 0 {
			// Title line still streaming.
			return "", false
		}
		return strings.TrimSpace(text[len(titlePrefix):idx]), true
	}
	// Not a title response; stop looking once the first line closed or it
	// clearly cannot be the prefix anymore.
	if idx >= 0 || !strings.HasPrefix(titlePrefix, text) && len(text) >= len(titlePrefix) {
		return "", true
	}
	return "", false
}

// stripTitleLine removes the leading title line from displayed text.
func stripTitleLine(text string, firstTurn bool) string {
	if !firstTurn || !strings.HasPrefix(text, titlePrefix) {
		return text
	}
	idx := strings.IndexByte(text, '\n')
	if idx < 0 {
		// The whole buffer so far is the title line.
		return ""
	}
	return strings.TrimLeft(text[idx+1:], "\n")
}
