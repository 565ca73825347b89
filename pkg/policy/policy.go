// Package policy maps (tool name, tier) onto allow / require_approval / deny
// decisions against the active profile's permitted tier set.
package policy

import (
	"sort"
	"strings"
)

// Tier labels the privilege level a tool declares.
type Tier string

// Tool tiers, least to most privileged.
const (
	Tier0 Tier = "tier0"
	Tier1 Tier = "tier1"
	Tier2 Tier = "tier2"
)

// Decision is the policy outcome for a tool call.
type Decision string

// Policy decisions.
const (
	Allow           Decision = "allow"
	RequireApproval Decision = "require_approval"
	Deny            Decision = "deny"
)

// Result pairs a decision with its human-readable reason. Reasons travel on
// the wire and in the episodic record, so their wording is stable.
type Result struct {
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason"`
}

// riskySkillPermissions always escalate to approval when a skill requests them.
var riskySkillPermissions = map[string]bool{
	"screen":           true,
	"filesystem_write": true,
	"network_external": true,
	"secrets_access":   true,
}

// Engine evaluates tool calls against one profile's permitted tiers. It is
// stateless after construction and safe for concurrent use.
type Engine struct {
	allowed map[Tier]bool
}

// NewEngine builds an engine from the profile's permitted tier list.
func NewEngine(allowedTiers []string) *Engine {
	allowed := make(map[Tier]bool, len(allowedTiers))
	for _, t := range allowedTiers {
		allowed[Tier(t)] = true
	}
	return &Engine{allowed: allowed}
}

// Check returns the decision for running toolName at the given tier.
func (e *Engine) Check(toolName string, tier Tier) Result {
	switch tier {
	case Tier0:
		if e.allowed[Tier0] {
			return Result{Allow, toolName + " is Tier 0"}
		}
		return Result{Deny, "Tier 0 is not permitted for this profile"}
	case Tier1:
		if e.allowed[Tier1] {
			return Result{RequireApproval, toolName + " requires human approval (Tier 1)"}
		}
		return Result{Deny, "Tier 1 is not permitted for this profile"}
	case Tier2:
		if e.allowed[Tier2] {
			return Result{RequireApproval, toolName + " requires owner-node approval (Tier 2)"}
		}
		return Result{Deny, "Tier 2 is restricted to the owner node"}
	default:
		return Result{Deny, "Unknown tool tier"}
	}
}

// CheckSkillPermissions escalates to approval when any requested permission is
// in the risky set. Empty strings in the request are ignored.
func (e *Engine) CheckSkillPermissions(requested []string) Result {
	var risky []string
	seen := map[string]bool{}
	for _, perm := range requested {
		if perm == "" || !riskySkillPermissions[perm] || seen[perm] {
			continue
		}
		seen[perm] = true
		risky = append(risky, perm)
	}
	if len(risky) == 0 {
		return Result{Allow, "No risky skill permissions requested"}
	}
	sort.Strings(risky)
	return Result{RequireApproval, "Skill permissions require approval: " + strings.Join(risky, ", ")}
}
