package tools

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/famlabs/agentnode/pkg/policy"
)

// RuntimeDiagnosticsTool reports process and host basics. Read-only.
type RuntimeDiagnosticsTool struct {
	profileName string
}

// NewRuntimeDiagnosticsTool binds diagnostics to the active profile name.
func NewRuntimeDiagnosticsTool(profileName string) *RuntimeDiagnosticsTool {
	return &RuntimeDiagnosticsTool{profileName: profileName}
}

func (*RuntimeDiagnosticsTool) Name() string      { return "runtime_diagnostics" }
func (*RuntimeDiagnosticsTool) Tier() policy.Tier { return policy.Tier0 }

func (t *RuntimeDiagnosticsTool) Execute(_ context.Context, _ map[string]any) Result {
	hostname, _ := os.Hostname()
	cwd, _ := os.Getwd()
	return Result{OK: true, Output: map[string]any{
		"profile":    t.profileName,
		"host":       hostname,
		"platform":   runtime.GOOS + "/" + runtime.GOARCH,
		"go_version": runtime.Version(),
		"goroutines": runtime.NumGoroutine(),
		"cwd":        cwd,
		"timestamp":  time.Now().Unix(),
	}}
}
