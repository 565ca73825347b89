package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/famlabs/agentnode/pkg/memory"
)

// ToolLister exposes the registered tool set, implemented by the tool
// registry.
type ToolLister interface {
	Count() int
	Names() []string
}

// CheckinReplier answers inbound skills_checkin envelopes with a short
// LLM-generated summary of this node's capabilities. A replier without a
// client degrades to a non-protocol-failure error payload.
type CheckinReplier struct {
	client      *Client
	profileName string
	tools       ToolLister
	messages    *memory.MessageLog
	usage       *memory.UsageStore
}

// NewCheckinReplier builds a replier. client may be nil.
func NewCheckinReplier(client *Client, profileName string, tools ToolLister, messages *memory.MessageLog, usage *memory.UsageStore) *CheckinReplier {
	return &CheckinReplier{
		client:      client,
		profileName: profileName,
		tools:       tools,
		messages:    messages,
		usage:       usage,
	}
}

// Reply produces the skills_checkin_reply payload. LLM absence or failure is
// reported inside the payload; the envelope exchange itself still succeeds.
func (r *CheckinReplier) Reply(ctx context.Context, sourceProfile string, payload map[string]any) map[string]any {
	if r.client == nil {
		return map[string]any{
			"kind":       "skills_checkin_reply",
			"ok":         false,
			"error":      "LLM key missing on target node",
			"new_skills": []any{},
		}
	}

	toolNames := r.tools.Names()
	question, _ := payload["question"].(string)
	if question == "" {
		question = "Do you have any cool new skills today?"
	}

	messages := []Message{
		{
			Role: "system",
			Content: "You are an AI family agent responding to another agent. " +
				"Answer briefly and concretely. " +
				"If there are no new skills, say so clearly. " +
				"If there are potentially useful capabilities, mention 1-3 with simple names.",
		},
		{
			Role: "user",
			Content: fmt.Sprintf("Source agent: %s\nTarget agent: %s\nQuestion: %s\nCurrent tools: %s\nRecent interop activity:\n- %s",
				sourceProfile, r.profileName, question,
				strings.Join(toolNames, ", "), r.recentActivity(ctx)),
		},
	}

	text, usage, err := r.client.Complete(ctx, messages, 220)
	if err != nil {
		return map[string]any{
			"kind":             "skills_checkin_reply",
			"ok":               false,
			"error":            err.Error(),
			"tools_registered": r.tools.Count(),
			"tools":            toolNames,
		}
	}

	if r.usage != nil {
		// Best effort; the reply does not depend on the accounting row.
		_ = r.usage.Record(ctx, r.profileName, "checkin", r.client.Model(),
			usage.PromptTokens, usage.CompletionTokens)
	}

	return map[string]any{
		"kind":             "skills_checkin_reply",
		"ok":               true,
		"model":            r.client.Model(),
		"message":          text,
		"tools_registered": r.tools.Count(),
		"tools":            toolNames,
		"usage": map[string]any{
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
			"total_tokens":      usage.TotalTokens,
		},
	}
}

func (r *CheckinReplier) recentActivity(ctx context.Context) string {
	if r.messages == nil {
		return "none"
	}
	recent, err := r.messages.Recent(ctx, 12)
	if err != nil || len(recent) == 0 {
		return "none"
	}
	lines := make([]string, 0, len(recent))
	for _, msg := range recent {
		lines = append(lines, fmt.Sprintf("%s %s->%s task=%s status=%s",
			msg.Direction, msg.Source, msg.Target, msg.TaskType, msg.Status))
	}
	return strings.Join(lines, "\n- ")
}
