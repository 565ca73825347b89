// Package skills manages the local skills manifest: the YAML inventory of
// installed skills that nodes exchange during check-ins.
package skills

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Skill is one manifest entry.
type Skill struct {
	SkillID              string   `yaml:"skill_id" json:"skill_id"`
	Name                 string   `yaml:"name" json:"name"`
	Version              string   `yaml:"version" json:"version"`
	Description          string   `yaml:"description" json:"description"`
	Entrypoints          []string `yaml:"entrypoints" json:"entrypoints"`
	Dependencies         []string `yaml:"dependencies" json:"dependencies"`
	PermissionsRequested []string `yaml:"permissions_requested" json:"permissions_requested"`
	Checksum             string   `yaml:"checksum" json:"checksum"`
	SignedBy             string   `yaml:"signed_by,omitempty" json:"signed_by,omitempty"`
}

type manifestFile struct {
	Skills []Skill `yaml:"skills"`
}

// Diff summarizes how a remote manifest differs from the local one.
type Diff struct {
	Added   []Skill        `json:"added"`
	Updated []VersionDelta `json:"updated"`
	Removed []VersionDelta `json:"removed"`
}

// VersionDelta records a version change for one skill.
type VersionDelta struct {
	SkillID     string `json:"skill_id"`
	FromVersion string `json:"from_version,omitempty"`
	ToVersion   string `json:"to_version,omitempty"`
	Version     string `json:"version,omitempty"`
}

// Manager owns the manifest file, creating an empty one on first use.
type Manager struct {
	path string
}

// NewManager returns a manager for path, creating the file if absent.
func NewManager(path string) (*Manager, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create manifest dir: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte("skills: []\n"), 0o644); err != nil {
			return nil, fmt.Errorf("init manifest: %w", err)
		}
	}
	return &Manager{path: path}, nil
}

// DefaultPath returns the conventional manifest location under home.
func DefaultPath(home string) string {
	return filepath.Join(home, "agent_skills", "manifest.yaml")
}

// Path returns the manifest file location.
func (m *Manager) Path() string { return m.path }

// Load reads the manifest. A missing file reads as empty.
func (m *Manager) Load() ([]Skill, error) {
	raw, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var file manifestFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", m.path, err)
	}
	return file.Skills, nil
}

// Save writes the full skill list back.
func (m *Manager) Save(skills []Skill) error {
	raw, err := yaml.Marshal(manifestFile{Skills: skills})
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(m.path, raw, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Upsert validates skill and inserts or replaces it by skill_id.
func (m *Manager) Upsert(skill Skill) error {
	if err := validate(skill); err != nil {
		return err
	}
	skills, err := m.Load()
	if err != nil {
		return err
	}
	replaced := false
	for i := range skills {
		if skills[i].SkillID == skill.SkillID {
			skills[i] = skill
			replaced = true
			break
		}
	}
	if !replaced {
		skills = append(skills, skill)
	}
	return m.Save(skills)
}

// ListIDs returns the set of installed skill ids.
func (m *Manager) ListIDs() (map[string]bool, error) {
	skills, err := m.Load()
	if err != nil {
		return nil, err
	}
	ids := map[string]bool{}
	for _, s := range skills {
		if id := strings.TrimSpace(s.SkillID); id != "" {
			ids[id] = true
		}
	}
	return ids, nil
}

// DiffRemote compares a peer's manifest to the local one.
func (m *Manager) DiffRemote(remote []Skill) (Diff, error) {
	local, err := m.Load()
	if err != nil {
		return Diff{}, err
	}
	localByID := map[string]Skill{}
	for _, s := range local {
		if s.SkillID != "" {
			localByID[s.SkillID] = s
		}
	}
	remoteByID := map[string]Skill{}
	for _, s := range remote {
		if s.SkillID != "" {
			remoteByID[s.SkillID] = s
		}
	}

	var diff Diff
	for _, id := range sortedKeys(remoteByID) {
		remoteSkill := remoteByID[id]
		localSkill, exists := localByID[id]
		if !exists {
			diff.Added = append(diff.Added, remoteSkill)
			continue
		}
		if localSkill.Version != remoteSkill.Version || localSkill.Checksum != remoteSkill.Checksum {
			diff.Updated = append(diff.Updated, VersionDelta{
				SkillID:     id,
				FromVersion: localSkill.Version,
				ToVersion:   remoteSkill.Version,
			})
		}
	}
	for _, id := range sortedKeys(localByID) {
		if _, exists := remoteByID[id]; !exists {
			diff.Removed = append(diff.Removed, VersionDelta{SkillID: id, Version: localByID[id].Version})
		}
	}
	return diff, nil
}

// AsPayload renders the manifest in the wire shape check-in envelopes carry.
func (m *Manager) AsPayload() []map[string]any {
	skills, err := m.Load()
	if err != nil {
		return nil
	}
	out := make([]map[string]any, 0, len(skills))
	for _, s := range skills {
		out = append(out, map[string]any{
			"skill_id":              s.SkillID,
			"name":                  s.Name,
			"version":               s.Version,
			"description":           s.Description,
			"entrypoints":           s.Entrypoints,
			"dependencies":          s.Dependencies,
			"permissions_requested": s.PermissionsRequested,
			"checksum":              s.Checksum,
		})
	}
	return out
}

func validate(skill Skill) error {
	var missing []string
	for field, value := range map[string]string{
		"skill_id":    skill.SkillID,
		"name":        skill.Name,
		"version":     skill.Version,
		"description": skill.Description,
		"checksum":    skill.Checksum,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("skill manifest item missing required fields: %s", strings.Join(missing, ", "))
	}
	if _, err := semver.NewVersion(skill.Version); err != nil {
		return fmt.Errorf("skill %s has invalid version %q: %w", skill.SkillID, skill.Version, err)
	}
	return nil
}

func sortedKeys(m map[string]Skill) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SHA256File returns the hex SHA-256 of the file at path, the checksum format
// skill bundles use.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
