package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/converse/internal/chat"
	"github.com/normanking/converse/internal/llm"
)

func newStreamFixture(chunks []llm.Chunk) (*StreamConsumer, *chat.Conversation, string) {
	provider := &llm.MockProvider{Chunks: chunks}
	conv := chat.NewConversation()
	msgID := conv.Append(chat.NewMessage(chat.RoleModel, ""))
	return NewStreamConsumer(provider), conv, msgID
}

func TestStreamRun_AccumulatesText(t *testing.T) {
	usage := &llm.Usage{PromptTokens: 10, CompletionTokens: 3}
	consumer, conv, msgID := newStreamFixture(llm.TextChunks(usage, "Hel", "lo ", "world"))

	var cancelled atomic.Bool
	result, err := consumer.Run(context.Background(), &llm.Request{}, conv, msgID, false, &cancelled)
	require.NoError(t, err)

	assert.Equal(t, "Hello world", result.Text)
	assert.False(t, result.Cancelled)
	require.NotNil(t, result.Usage)
	assert.Equal(t, 3, result.Usage.CompletionTokens)

	last, ok := conv.Last()
	require.True(t, ok)
	assert.Equal(t, "Hello world", last.Content)
}

func TestStreamRun_DeduplicatesSources(t *testing.T) {
	chunks := []llm.Chunk{
		{TextDelta: "a", Sources: []string{"https://one.example", "https://two.example"}},
		{TextDelta: "b", Sources: []string{"https://one.example"}},
	}
	consumer, conv, msgID := newStreamFixture(chunks)

	var cancelled atomic.Bool
	result, err := consumer.Run(context.Background(), &llm.Request{}, conv, msgID, false, &cancelled)
	require.NoError(t, err)

	require.Len(t, result.Sources, 2)
	assert.Equal(t, "https://one.example", result.Sources[0].URI)
	assert.Equal(t, "https://two.example", result.Sources[1].URI)
}

func TestStreamRun_TitleCommitsMidStream(t *testing.T) {
	// The title line arrives split across chunks and commits the moment it
	// completes, while later chunks are still streaming.
	chunks := []llm.Chunk{
		{TextDelta: "TIT"},
		{TextDelta: "LE: Go Gen"},
		{TextDelta: "erics\nHere"},
		{TextDelta: " we go"},
	}
	consumer, conv, msgID := newStreamFixture(chunks)

	var cancelled atomic.Bool
	result, err := consumer.Run(context.Background(), &llm.Request{}, conv, msgID, true, &cancelled)
	require.NoError(t, err)

	assert.Equal(t, "Go Generics", conv.Title())
	assert.Equal(t, "Here we go", result.Text)
	assert.NotContains(t, result.Text, "TITLE:")
}

func TestStreamRun_NoTitleResponse(t *testing.T) {
	consumer, conv, msgID := newStreamFixture(llm.TextChunks(nil, "Just an ", "answer."))

	var cancelled atomic.Bool
	result, err := consumer.Run(context.Background(), &llm.Request{}, conv, msgID, true, &cancelled)
	require.NoError(t, err)

	assert.Equal(t, "", conv.Title())
	assert.Equal(t, "Just an answer.", result.Text)
}

func TestStreamRun_TitleIgnoredAfterFirstTurn(t *testing.T) {
	consumer, conv, msgID := newStreamFixture(llm.TextChunks(nil, "TITLE: Not A Title\nBody"))
	conv.SetTitle("Existing")

	var cancelled atomic.Bool
	result, err := consumer.Run(context.Background(), &llm.Request{}, conv, msgID, false, &cancelled)
	require.NoError(t, err)

	assert.Equal(t, "Existing", conv.Title())
	assert.Equal(t, "TITLE: Not A Title\nBody", result.Text)
}

func TestStreamRun_CancelledFlagStopsConsumption(t *testing.T) {
	consumer, conv, msgID := newStreamFixture(llm.TextChunks(nil, "never", " shown"))

	var cancelled atomic.Bool
	cancelled.Store(true)
	result, err := consumer.Run(context.Background(), &llm.Request{}, conv, msgID, false, &cancelled)
	require.NoError(t, err)

	assert.True(t, result.Cancelled)
	assert.Equal(t, "", result.Text)
}

func TestStreamRun_ContextErrorWhileCancelledIsNotFailure(t *testing.T) {
	provider := &llm.MockProvider{Err: context.Canceled}
	conv := chat.NewConversation()
	msgID := conv.Append(chat.NewMessage(chat.RoleModel, ""))
	consumer := NewStreamConsumer(provider)

	var cancelled atomic.Bool
	cancelled.Store(true)
	result, err := consumer.Run(context.Background(), &llm.Request{}, conv, msgID, false, &cancelled)

	require.NoError(t, err)
	assert.True(t, result.Cancelled)
}

func TestStreamRun_ProviderError(t *testing.T) {
	provider := &llm.MockProvider{Err: assert.AnError}
	conv := chat.NewConversation()
	msgID := conv.Append(chat.NewMessage(chat.RoleModel, ""))
	consumer := NewStreamConsumer(provider)

	var cancelled atomic.Bool
	_, err := consumer.Run(context.Background(), &llm.Request{}, conv, msgID, false, &cancelled)
	assert.Error(t, err)
}

func TestExtractTitle(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		title string
		done  bool
	}{
		{"partial prefix", "TIT", "", false},
		{"title line still open", "TITLE: Go Basics", "", false},
		{"title line complete", "TITLE: Go Basics\nBody", "Go Basics", true},
		{"not a title", "Here is an answer", "", true},
		{"newline without title", "Hi\nTITLE: nope", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, done := extractTitle(tt.text)
			assert.Equal(t, tt.title, title)
			assert.Equal(t, tt.done, done)
		})
	}
}

func TestStripTitleLine(t *testing.T) {
	assert.Equal(t, "", stripTitleLine("TITLE: partial", true))
	assert.Equal(t, "Body", stripTitleLine("TITLE: Done\nBody", true))
	assert.Equal(t, "Body", stripTitleLine("TITLE: Done\n\nBody", true))
	assert.Equal(t, "plain text", stripTitleLine("plain text", true))
	assert.Equal(t, "TITLE: Done\nBody", stripTitleLine("TITLE: Done\nBody", false))
}
