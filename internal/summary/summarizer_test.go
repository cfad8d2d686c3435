package summary

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/converse/internal/chat"
	"github.com/normanking/converse/internal/llm"
)

func fillConversation(conv *chat.Conversation, exchanges int) {
	for i := 0; i < exchanges; i++ {
		conv.Append(chat.NewMessage(chat.RoleUser, fmt.Sprintf("question %d", i+1)))
		conv.Append(chat.NewMessage(chat.RoleModel, fmt.Sprintf("answer %d", i+1)))
	}
}

func TestDue(t *testing.T) {
	assert.False(t, Due(0))
	assert.False(t, Due(19))
	assert.True(t, Due(20))
	assert.False(t, Due(21))
	assert.True(t, Due(40))
}

func TestRun_NotDue(t *testing.T) {
	conv := chat.NewConversation()
	fillConversation(conv, 9) // 18 messages

	mock := &llm.MockProvider{Response: `{"summaries":["x"]}`}
	added, err := New(mock, "fast-model").Run(context.Background(), conv)
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Nil(t, mock.LastRequest(), "no call when no batch is due")
}

func TestRun_SummarizesLastWindow(t *testing.T) {
	conv := chat.NewConversation()
	fillConversation(conv, 10) // exactly 20 messages

	mock := &llm.MockProvider{
		Response: `{"summaries":["s1","s2","s3","s4","s5","s6","s7","s8","s9","s10"]}`,
	}
	added, err := New(mock, "fast-model").Run(context.Background(), conv)
	require.NoError(t, err)
	assert.Equal(t, 10, added)

	sums := conv.Summaries()
	require.Len(t, sums, 10)
	assert.Equal(t, 1, sums[0].Serial)
	assert.Equal(t, 10, sums[9].Serial)
	assert.Equal(t, "s1", sums[0].Content)

	sent := mock.LastRequest().Messages[0].Parts[0].Text
	assert.Contains(t, sent, "question 1")
	assert.Contains(t, sent, "answer 10")
}

func TestRun_SerialsContinue(t *testing.T) {
	conv := chat.NewConversation()
	conv.AddSummaries([]chat.Summary{{Serial: 1, Content: "old"}, {Serial: 2, Content: "older"}})
	fillConversation(conv, 10)

	mock := &llm.MockProvider{Response: `{"summaries":["a","b"]}`}
	added, err := New(mock, "fast-model").Run(context.Background(), conv)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	sums := conv.Summaries()
	require.Len(t, sums, 4)
	assert.Equal(t, 3, sums[2].Serial)
	assert.Equal(t, 4, sums[3].Serial)
}

func TestRun_ProviderFailure(t *testing.T) {
	conv := chat.NewConversation()
	fillConversation(conv, 10)

	mock := &llm.MockProvider{Err: errors.New("boom")}
	added, err := New(mock, "fast-model").Run(context.Background(), conv)
	require.Error(t, err)
	assert.Zero(t, added)
	assert.Empty(t, conv.Summaries())
}

func TestPairUp(t *testing.T) {
	window := []chat.Message{
		{Role: chat.RoleUser, Content: "q1"},
		{Role: chat.RoleModel, Content: "a1"},
		{Role: chat.RoleUser, Content: "q2"},
		// Model reply missing: pair still produced with empty answer.
	}
	pairs := pairUp(window)
	require.Len(t, pairs, 2)
	assert.Equal(t, "a1", pairs[0].Model)
	assert.Equal(t, "q2", pairs[1].User)
	assert.Empty(t, pairs[1].Model)
}
