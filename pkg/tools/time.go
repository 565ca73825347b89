package tools

import (
	"context"
	"time"

	"github.com/famlabs/agentnode/pkg/policy"
)

// GetTimeTool reports the current time. Read-only.
type GetTimeTool struct {
	now func() time.Time
}

// NewGetTimeTool returns the time tool; now is overridable for tests.
func NewGetTimeTool(now func() time.Time) *GetTimeTool {
	if now == nil {
		now = time.Now
	}
	return &GetTimeTool{now: now}
}

func (*GetTimeTool) Name() string      { return "get_time" }
func (*GetTimeTool) Tier() policy.Tier { return policy.Tier0 }

func (t *GetTimeTool) Execute(_ context.Context, _ map[string]any) Result {
	now := t.now().UTC()
	return Result{OK: true, Output: map[string]any{
		"epoch_seconds": now.Unix(),
		"iso8601":       now.Format("2006-01-02T15:04:05Z"),
	}}
}
