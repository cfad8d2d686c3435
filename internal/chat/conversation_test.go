package chat

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	msg := NewMessage(RoleUser, "hello")

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, RoleUser, msg.Role)
	assert.Equal(t, "hello", msg.Content)
	assert.False(t, msg.CreatedAt.IsZero())

	other := NewMessage(RoleUser, "hello")
	assert.NotEqual(t, msg.ID, other.ID, "IDs must be unique")
}

func TestClearTransient(t *testing.T) {
	msg := NewMessage(RoleModel, "answer")
	msg.IsPlanning = true
	msg.ToolInUse = ToolWebSearch
	msg.Thoughts = []ThoughtStep{{Title: "Considering"}}
	msg.SearchPlan = []ThoughtStep{{Title: "look things up"}}
	msg.IsAnalyzingImage = true
	msg.IsAnalyzingFile = true
	msg.IsLongToolUse = true
	msg.InputTokens = 12
	msg.Sources = []Source{{URI: "https://example.com"}}

	require.True(t, msg.HasTransient())
	msg.ClearTransient()

	assert.False(t, msg.HasTransient())
	assert.False(t, msg.IsPlanning)
	assert.Equal(t, ToolAuto, msg.ToolInUse)
	assert.Nil(t, msg.Thoughts)
	assert.Empty(t, msg.SearchPlan)
	assert.False(t, msg.IsAnalyzingImage)
	assert.False(t, msg.IsAnalyzingFile)
	assert.False(t, msg.IsLongToolUse)

	// Settled fields survive.
	assert.Equal(t, 12, msg.InputTokens)
	assert.Len(t, msg.Sources, 1)
}

func TestConversation_AppendAndMessages(t *testing.T) {
	conv := NewConversation()
	assert.Equal(t, 0, conv.Len())

	id := conv.Append(NewMessage(RoleUser, "first"))
	conv.Append(NewMessage(RoleModel, "second"))

	assert.Equal(t, 2, conv.Len())
	msgs := conv.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, "first", msgs[0].Content)

	// Messages returns a copy; mutating it must not touch the log.
	msgs[0].Content = "mutated"
	assert.Equal(t, "first", conv.Messages()[0].Content)
}

func TestConversation_UpdateByID(t *testing.T) {
	conv := NewConversation()
	id := conv.Append(NewMessage(RoleModel, ""))

	ok := conv.UpdateByID(id, func(m *Message) {
		m.Content = "streamed"
	})
	require.True(t, ok)
	assert.Equal(t, "streamed", conv.Messages()[0].Content)

	assert.False(t, conv.UpdateByID("no-such-id", func(m *Message) {}))
}

func TestConversation_UpdateLastOfRole(t *testing.T) {
	conv := NewConversation()
	conv.Append(NewMessage(RoleUser, "question"))
	conv.Append(NewMessage(RoleModel, "draft"))
	conv.Append(NewMessage(RoleUser, "followup"))

	ok := conv.UpdateLastOfRole(RoleModel, func(m *Message) {
		m.Content = "final"
	})
	require.True(t, ok)
	assert.Equal(t, "final", conv.Messages()[1].Content)

	empty := NewConversation()
	assert.False(t, empty.UpdateLastOfRole(RoleModel, func(m *Message) {}))
}

func TestConversation_TruncateFromLastModel(t *testing.T) {
	conv := NewConversation()
	conv.Append(NewMessage(RoleUser, "q1"))
	conv.Append(NewMessage(RoleModel, "a1"))
	conv.Append(NewMessage(RoleUser, "q2"))
	conv.Append(NewMessage(RoleModel, "a2"))

	prior, ok := conv.TruncateFromLastModel()
	require.True(t, ok)
	assert.Equal(t, "q2", prior.Content)
	assert.Equal(t, RoleUser, prior.Role)
	assert.Equal(t, 3, conv.Len())

	// A second truncate removes the earlier pair's model reply.
	prior, ok = conv.TruncateFromLastModel()
	require.True(t, ok)
	assert.Equal(t, "q1", prior.Content)
	assert.Equal(t, 1, conv.Len())

	// Nothing left to retry.
	_, ok = conv.TruncateFromLastModel()
	assert.False(t, ok)
}

func TestConversation_TruncateFromLastModel_NoModel(t *testing.T) {
	conv := NewConversation()
	conv.Append(NewMessage(RoleUser, "q1"))

	_, ok := conv.TruncateFromLastModel()
	assert.False(t, ok)
}

func TestConversation_Title(t *testing.T) {
	conv := NewConversation()
	assert.Empty(t, conv.Title())
	conv.SetTitle("Thermodynamics Basics")
	assert.Equal(t, "Thermodynamics Basics", conv.Title())
}

func TestConversation_Summaries(t *testing.T) {
	conv := NewConversation()
	conv.AddSummaries([]Summary{{Serial: 1, Content: "intro"}})
	conv.AddSummaries([]Summary{{Serial: 2, Content: "details"}})

	sums := conv.Summaries()
	require.Len(t, sums, 2)
	assert.Equal(t, 1, sums[0].Serial)
	assert.Equal(t, 2, sums[1].Serial)
}

func TestConversation_ConcurrentAccess(t *testing.T) {
	conv := NewConversation()
	id := conv.Append(NewMessage(RoleModel, ""))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				conv.UpdateByID(id, func(m *Message) {
					m.OutputTokens++
				})
				conv.Messages()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, conv.Messages()[0].OutputTokens)
}

func TestAttachments_HasAny(t *testing.T) {
	assert.False(t, (Attachments{}).HasAny())
	assert.True(t, (Attachments{URL: "https://example.com"}).HasAny())
	assert.True(t, (Attachments{File: &FileAttachment{Name: "notes.txt"}}).HasAny())
	assert.True(t, (Attachments{Images: []ImageAttachment{{MIMEType: "image/png"}}}).HasAny())
}
