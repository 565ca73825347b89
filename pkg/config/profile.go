// Package config loads node profiles and secrets. A profile selects the node's
// identity, permitted tool tiers, network port, and on-disk data layout.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile is the immutable per-process node configuration.
type Profile struct {
	Name                       string   `yaml:"name"`
	DisplayName                string   `yaml:"display_name"`
	PolicyTier                 string   `yaml:"policy_tier"`
	AllowedToolTiers           []string `yaml:"allowed_tool_tiers"`
	HealthPort                 int      `yaml:"health_port"`
	LLMDefaultModel            string   `yaml:"llm_default_model"`
	PublicReadonlyMode         bool     `yaml:"public_readonly_mode"`
	PublicReadonlyGetEndpoints []string `yaml:"public_readonly_get_endpoints"`

	Paths Paths `yaml:"-"`
}

// Paths is the resolved per-profile data directory layout.
type Paths struct {
	BaseDataDir string
	DBPath      string
	LogsDir     string
	SecretsDir  string
	SandboxDir  string
}

// DataPaths resolves the standard data layout for a profile under root
// (typically $HOME/agentdata).
func DataPaths(root, profileName string) Paths {
	base := filepath.Join(root, profileName)
	return Paths{
		BaseDataDir: base,
		DBPath:      filepath.Join(base, "memory.db"),
		LogsDir:     filepath.Join(base, "logs"),
		SecretsDir:  filepath.Join(base, "secrets"),
		SandboxDir:  filepath.Join(base, "sandbox"),
	}
}

// LoadProfile reads and validates config/profiles/<name>.yaml under repoRoot,
// resolving data paths under dataRoot.
func LoadProfile(repoRoot, dataRoot, name string) (*Profile, error) {
	path := filepath.Join(repoRoot, "config", "profiles", name+".yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}

	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}

	if p.Name == "" || p.DisplayName == "" || p.PolicyTier == "" {
		return nil, fmt.Errorf("profile %q: name, display_name and policy_tier are required", name)
	}
	if p.Name != name {
		return nil, fmt.Errorf("profile filename/name mismatch: expected %q, got %q", name, p.Name)
	}
	if len(p.AllowedToolTiers) == 0 {
		return nil, fmt.Errorf("profile %q: allowed_tool_tiers must be a non-empty list", name)
	}

	if p.HealthPort == 0 {
		p.HealthPort = 8600
	}
	p.LLMDefaultModel = strings.TrimSpace(p.LLMDefaultModel)
	if p.LLMDefaultModel == "" {
		p.LLMDefaultModel = "gpt-4o-mini"
	}
	if len(p.PublicReadonlyGetEndpoints) == 0 {
		p.PublicReadonlyGetEndpoints = []string{"/health", "/status", "/api-usage", "/backup/status"}
	}

	p.Paths = DataPaths(dataRoot, name)
	return &p, nil
}

// EnsureDirectories creates the profile data layout without touching existing
// content.
func EnsureDirectories(paths Paths) error {
	for _, dir := range []string{paths.BaseDataDir, paths.LogsDir, paths.SecretsDir, paths.SandboxDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
