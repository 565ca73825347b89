package tools

import (
	"context"
	"strings"

	"github.com/famlabs/agentnode/pkg/policy"
)

// RequestEmailTool queues an outbound email request. Tier 1, so the registry
// parks every call in the approval queue before this body runs.
type RequestEmailTool struct{}

func (RequestEmailTool) Name() string      { return "request_email" }
func (RequestEmailTool) Tier() policy.Tier { return policy.Tier1 }

func (RequestEmailTool) Execute(_ context.Context, payload map[string]any) Result {
	to := payloadString(payload, "to")
	subject := strings.TrimSpace(payloadString(payload, "subject"))
	body := strings.TrimSpace(payloadString(payload, "body"))
	if to == "" {
		return errResult("Missing 'to' address")
	}
	preview := body
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	return Result{OK: true, Output: map[string]any{
		"message":      "Email request queued for approval",
		"to":           to,
		"subject":      subject,
		"body_preview": preview,
	}}
}
