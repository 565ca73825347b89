// Package sandbox confines tool file access to a per-profile directory.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathError reports a path that violates sandbox boundaries.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Path)
}

// Sandbox resolves and polices paths under a single root. Absolute inputs are
// allowed but must still land inside the root.
type Sandbox struct {
	root        string
	profileRoot string
}

// New builds a sandbox rooted at root. profileRoot is the profile's data
// directory, used to block cross-profile access under the shared data tree.
func New(root, profileRoot string) (*Sandbox, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	absProfile, err := filepath.Abs(profileRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve profile root: %w", err)
	}
	return &Sandbox{root: absRoot, profileRoot: absProfile}, nil
}

// Root returns the sandbox root directory.
func (s *Sandbox) Root() string { return s.root }

// Ensure creates the sandbox directory if missing.
func (s *Sandbox) Ensure() error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create sandbox dir: %w", err)
	}
	return nil
}

// ResolvePath resolves a relative or absolute path and guarantees it stays
// inside the sandbox root.
func (s *Sandbox) ResolvePath(p string) (string, error) {
	var resolved string
	if filepath.IsAbs(p) {
		resolved = filepath.Clean(p)
	} else {
		resolved = filepath.Clean(filepath.Join(s.root, p))
	}
	if err := s.assertAllowed(resolved); err != nil {
		return "", err
	}
	return resolved, nil
}

func (s *Sandbox) assertAllowed(target string) error {
	if !within(s.root, target) {
		return &PathError{Path: target, Reason: "path escapes sandbox"}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		protected := []string{
			filepath.Join(home, ".ssh"),
			filepath.Join(home, ".gnupg"),
		}
		for _, prefix := range protected {
			if within(prefix, target) {
				return &PathError{Path: target, Reason: "path targets protected location"}
			}
		}

		// Under the shared data tree, only this profile's subtree is reachable.
		dataRoot := filepath.Join(home, "agentdata")
		if within(dataRoot, target) && target != dataRoot && !within(s.profileRoot, target) {
			return &PathError{Path: target, Reason: "path targets another profile"}
		}
	}
	return nil
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..")
}
