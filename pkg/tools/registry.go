// Package tools holds the tool registry and the builtin tool set. Every
// invocation is policy-gated; tier1/tier2 tools run only after approval.
package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/famlabs/agentnode/pkg/approval"
	"github.com/famlabs/agentnode/pkg/memory"
	"github.com/famlabs/agentnode/pkg/policy"
)

// Result is a tool invocation outcome.
type Result struct {
	OK     bool           `json:"ok"`
	Output map[string]any `json:"output"`
}

func errResult(format string, args ...any) Result {
	return Result{OK: false, Output: map[string]any{"error": fmt.Sprintf(format, args...)}}
}

// Tool is one registered capability. Execute must tolerate retries; duplicate
// external effects on retry are the tool's concern, not the registry's.
type Tool interface {
	Name() string
	Tier() policy.Tier
	Execute(ctx context.Context, payload map[string]any) Result
}

// Registry maps tool names to tools and runs the policy/approval pipeline
// around every call.
type Registry struct {
	policy      *policy.Engine
	queue       *approval.Queue
	episodic    *memory.EpisodicStore
	profileName string
	tools       map[string]Tool
}

// NewRegistry builds an empty registry bound to the active profile.
func NewRegistry(pol *policy.Engine, queue *approval.Queue, episodic *memory.EpisodicStore, profileName string) *Registry {
	return &Registry{
		policy:      pol,
		queue:       queue,
		episodic:    episodic,
		profileName: profileName,
		tools:       map[string]Tool{},
	}
}

// Register adds a tool, replacing any previous tool with the same name.
func (r *Registry) Register(tool Tool) {
	r.tools[tool.Name()] = tool
}

// Count returns the number of registered tools.
func (r *Registry) Count() int { return len(r.tools) }

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs the named tool through the policy gate. Denials and approval
// enqueues come back as non-OK results, not errors; errors are reserved for
// storage failures.
func (r *Registry) Execute(ctx context.Context, toolName string, payload map[string]any) (Result, error) {
	tool, ok := r.tools[toolName]
	if !ok {
		return errResult("Unknown tool: %s", toolName), nil
	}

	verdict := r.policy.Check(toolName, tool.Tier())
	switch verdict.Decision {
	case policy.Deny:
		_, err := r.episodic.Record(ctx, "tool_denied",
			map[string]any{"tool_name": toolName, "reason": verdict.Reason, "payload": payload},
			toolName, string(verdict.Decision))
		if err != nil {
			return Result{}, err
		}
		return Result{OK: false, Output: map[string]any{"error": verdict.Reason}}, nil

	case policy.RequireApproval:
		approvalID, err := r.queue.Enqueue(ctx, r.profileName, toolName, string(tool.Tier()), payload)
		if err != nil {
			return Result{}, fmt.Errorf("queue %s for approval: %w", toolName, err)
		}
		_, err = r.episodic.Record(ctx, "tool_queued_for_approval",
			map[string]any{"approval_id": approvalID, "tool_name": toolName, "payload": payload},
			toolName, string(verdict.Decision))
		if err != nil {
			return Result{}, err
		}
		return Result{OK: false, Output: map[string]any{
			"approval_required": true,
			"approval_id":       approvalID,
			"reason":            verdict.Reason,
		}}, nil
	}

	result := tool.Execute(ctx, payload)
	_, err := r.episodic.Record(ctx, "tool_executed",
		map[string]any{"tool_name": toolName, "payload": payload, "output": result.Output},
		toolName, string(policy.Allow))
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// ExecuteApproved runs the tool behind an approved queue record. Re-invoking
// an executed approval short-circuits with already_executed instead of running
// the tool again.
func (r *Registry) ExecuteApproved(ctx context.Context, approvalID int64) (Result, error) {
	rec, err := r.queue.Get(ctx, approvalID)
	if err != nil {
		return Result{}, err
	}
	if rec == nil {
		return errResult("Approval not found"), nil
	}
	if rec.Status != approval.StatusApproved {
		return errResult("Approval %d is not approved", approvalID), nil
	}
	if rec.ExecutionStatus == approval.ExecutionExecuted {
		result := rec.ExecutionResult
		if result == nil {
			result = map[string]any{}
		}
		return Result{OK: true, Output: map[string]any{
			"already_executed": true,
			"approval_id":      approvalID,
			"execution_result": result,
		}}, nil
	}

	tool, ok := r.tools[rec.ToolName]
	if !ok {
		return errResult("Unknown tool: %s", rec.ToolName), nil
	}

	result := tool.Execute(ctx, rec.Payload)
	persisted, err := r.queue.MarkExecuted(ctx, approvalID, map[string]any{
		"ok":     result.OK,
		"output": result.Output,
	})
	if err != nil {
		return Result{}, err
	}
	_, err = r.episodic.Record(ctx, "tool_executed_after_approval",
		map[string]any{
			"approval_id":                approvalID,
			"tool_name":                  rec.ToolName,
			"payload":                    rec.Payload,
			"result":                     result.Output,
			"execution_status_persisted": persisted,
		},
		rec.ToolName, string(policy.Allow))
	if err != nil {
		return Result{}, err
	}
	return result, nil
}
