package tools

import (
	"context"
	"strings"

	"github.com/famlabs/agentnode/pkg/policy"
)

// TaskSender sends a task envelope to a peer node and returns the send
// descriptor. Implemented by the interop bridge.
type TaskSender interface {
	SendTask(ctx context.Context, target, taskType string, payload map[string]any) (map[string]any, error)
}

// DelegateNodeTaskTool forwards a bounded task to another node. Tier 2.
type DelegateNodeTaskTool struct {
	sender TaskSender
}

// NewDelegateNodeTaskTool binds the delegation tool to a sender.
func NewDelegateNodeTaskTool(sender TaskSender) *DelegateNodeTaskTool {
	return &DelegateNodeTaskTool{sender: sender}
}

func (*DelegateNodeTaskTool) Name() string      { return "delegate_node_task" }
func (*DelegateNodeTaskTool) Tier() policy.Tier { return policy.Tier2 }

func (t *DelegateNodeTaskTool) Execute(ctx context.Context, payload map[string]any) Result {
	target := strings.TrimSpace(payloadString(payload, "target_profile"))
	taskType := strings.TrimSpace(payloadString(payload, "task_type"))
	taskPayload, isObject := payload["task_payload"].(map[string]any)
	if target == "" {
		return errResult("Missing target_profile")
	}
	if taskType == "" {
		return errResult("Missing task_type")
	}
	if !isObject {
		return errResult("task_payload must be an object")
	}

	out, err := t.sender.SendTask(ctx, target, taskType, taskPayload)
	if err != nil {
		return errResult("%s", err)
	}
	return Result{OK: true, Output: out}
}
