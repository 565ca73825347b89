package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheck_TierTable(t *testing.T) {
	full := NewEngine([]string{"tier0", "tier1", "tier2"})
	restricted := NewEngine([]string{"tier0"})

	tests := []struct {
		name     string
		engine   *Engine
		tier     Tier
		decision Decision
		reason   string
	}{
		{"t0 allowed", full, Tier0, Allow, "math is Tier 0"},
		{"t0 denied", NewEngine(nil), Tier0, Deny, "Tier 0 is not permitted for this profile"},
		{"t1 allowed", full, Tier1, RequireApproval, "math requires human approval (Tier 1)"},
		{"t1 denied", restricted, Tier1, Deny, "Tier 1 is not permitted for this profile"},
		{"t2 allowed", full, Tier2, RequireApproval, "math requires owner-node approval (Tier 2)"},
		{"t2 denied", restricted, Tier2, Deny, "Tier 2 is restricted to the owner node"},
		{"unknown tier", full, Tier("tier9"), Deny, "Unknown tool tier"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := tc.engine.Check("math", tc.tier)
			assert.Equal(t, tc.decision, res.Decision)
			assert.Equal(t, tc.reason, res.Reason)
		})
	}
}

func TestCheckSkillPermissions(t *testing.T) {
	e := NewEngine([]string{"tier0", "tier1"})

	res := e.CheckSkillPermissions([]string{"clipboard", "", "notifications"})
	assert.Equal(t, Allow, res.Decision)
	assert.Equal(t, "No risky skill permissions requested", res.Reason)

	res = e.CheckSkillPermissions([]string{"screen", "clipboard", "filesystem_write", "screen"})
	assert.Equal(t, RequireApproval, res.Decision)
	assert.Equal(t, "Skill permissions require approval: filesystem_write, screen", res.Reason)
}
