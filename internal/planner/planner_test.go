package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/converse/internal/chat"
	"github.com/normanking/converse/internal/llm"
)

func TestPlan_Classifies(t *testing.T) {
	mock := &llm.MockProvider{
		Response: `{"needs_web_search":true,"search_plan":[{"title":"Find sources","detail":"Look up recent articles."}]}`,
	}
	p := New(mock, "fast-model")

	plan := p.Plan(context.Background(), "what happened in the news today", chat.Attachments{})

	assert.True(t, plan.NeedsWebSearch)
	assert.False(t, plan.NeedsThinking)
	require.Len(t, plan.SearchPlan, 1)
	assert.Equal(t, "Find sources", plan.SearchPlan[0].Title)

	req := mock.LastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "fast-model", req.Model)
	assert.True(t, req.JSONMode)
}

func TestPlan_FencedJSON(t *testing.T) {
	mock := &llm.MockProvider{
		Response: "```json\n{\"is_molecule_request\":true,\"molecule_name\":\"caffeine\"}\n```",
	}
	p := New(mock, "fast-model")

	plan := p.Plan(context.Background(), "show me caffeine", chat.Attachments{})
	assert.True(t, plan.IsMoleculeRequest)
	assert.Equal(t, "caffeine", plan.MoleculeName)
}

func TestPlan_FallbackOnError(t *testing.T) {
	mock := &llm.MockProvider{Err: errors.New("timeout")}
	p := New(mock, "fast-model")

	plan := p.Plan(context.Background(), "anything", chat.Attachments{})

	assert.Equal(t, FallbackPlan(), plan)
	assert.True(t, plan.NeedsWebSearch)
	assert.False(t, plan.IsURLReadRequest)
	assert.False(t, plan.IsCreatorRequest)
	assert.False(t, plan.IsCapabilitiesRequest)
	assert.False(t, plan.IsMoleculeRequest)
	assert.False(t, plan.NeedsThinking)
	assert.False(t, plan.NeedsCodeContext)
	assert.Empty(t, plan.Thoughts)
	assert.Empty(t, plan.SearchPlan)
}

func TestPlan_FallbackOnMalformedResponse(t *testing.T) {
	mock := &llm.MockProvider{Response: "sure, here is the classification:"}
	p := New(mock, "fast-model")

	plan := p.Plan(context.Background(), "anything", chat.Attachments{})
	assert.Equal(t, FallbackPlan(), plan)
}

func TestPlan_NormalizeForcesThinkingOff(t *testing.T) {
	mock := &llm.MockProvider{
		Response: `{"needs_web_search":true,"needs_thinking":true}`,
	}
	p := New(mock, "fast-model")

	plan := p.Plan(context.Background(), "deep question about current events", chat.Attachments{})
	assert.True(t, plan.NeedsWebSearch)
	assert.False(t, plan.NeedsThinking, "tool flags suppress thinking")
}

func TestPlan_AttachmentDescriptors(t *testing.T) {
	mock := &llm.MockProvider{Response: `{}`}
	p := New(mock, "fast-model")

	p.Plan(context.Background(), "describe this", chat.Attachments{
		Images: []chat.ImageAttachment{{MIMEType: "image/png"}},
		File:   &chat.FileAttachment{Name: "report.txt"},
	})

	req := mock.LastRequest()
	require.NotNil(t, req)
	require.Len(t, req.Messages, 1)
	sent := req.Messages[0].Parts[0].Text
	assert.Contains(t, sent, "1 image(s)")
	assert.Contains(t, sent, "report.txt")
}

func TestApplyManualOverride(t *testing.T) {
	tests := []struct {
		name string
		tool chat.Tool
		in   Plan
		want Plan
	}{
		{
			name: "url reader clears search and thinking",
			tool: chat.ToolURLReader,
			in:   Plan{NeedsWebSearch: true, NeedsThinking: true},
			want: Plan{IsURLReadRequest: true},
		},
		{
			name: "web search clears url and molecule",
			tool: chat.ToolWebSearch,
			in:   Plan{IsURLReadRequest: true, IsMoleculeRequest: true, NeedsThinking: true},
			want: Plan{NeedsWebSearch: true},
		},
		{
			name: "thinking clears search and url",
			tool: chat.ToolThinking,
			in:   Plan{NeedsWebSearch: true, IsURLReadRequest: true},
			want: Plan{NeedsThinking: true},
		},
		{
			name: "chemistry clears search and thinking",
			tool: chat.ToolChemistry,
			in:   Plan{NeedsWebSearch: true, NeedsThinking: true, MoleculeName: "water"},
			want: Plan{IsMoleculeRequest: true, MoleculeName: "water"},
		},
		{
			name: "auto leaves plan untouched",
			tool: chat.ToolAuto,
			in:   Plan{NeedsThinking: true},
			want: Plan{NeedsThinking: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in
			got.ApplyManualOverride(tt.tool)
			assert.Equal(t, tt.want, got)
		})
	}
}
