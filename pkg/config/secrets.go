package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadSecret reads a single-line secret file from secretsDir, tolerating a
// trailing newline. It returns "" when the file is absent.
func ReadSecret(secretsDir, name string) string {
	raw, err := os.ReadFile(filepath.Join(secretsDir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

// IdentityMode controls how inbound Ed25519 identity signatures are enforced.
type IdentityMode string

const (
	// IdentityCompat accepts envelopes regardless of identity signature state.
	IdentityCompat IdentityMode = "compat"
	// IdentityProvenance rejects envelopes carrying an invalid identity
	// signature but accepts envelopes without one.
	IdentityProvenance IdentityMode = "provenance"
	// IdentityStrict rejects envelopes without a valid identity signature.
	IdentityStrict IdentityMode = "strict"
)

const identityModeFile = "interop_identity_mode.txt"

// LoadIdentityMode reads the identity mode from secretsDir. A missing file
// defaults to compat; any unrecognized content is a configuration error.
func LoadIdentityMode(secretsDir string) (IdentityMode, error) {
	raw, err := os.ReadFile(filepath.Join(secretsDir, identityModeFile))
	if os.IsNotExist(err) {
		return IdentityCompat, nil
	}
	if err != nil {
		return "", fmt.Errorf("read identity mode: %w", err)
	}
	mode := IdentityMode(strings.TrimSpace(string(raw)))
	switch mode {
	case IdentityCompat, IdentityProvenance, IdentityStrict:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown interop identity mode %q", string(mode))
	}
}

// SharedKey loads the interop shared HMAC key. The key must exist and be
// non-empty.
func SharedKey(secretsDir string) ([]byte, error) {
	path := filepath.Join(secretsDir, "interop_shared_key.txt")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("missing shared interop key %s: %w", path, err)
	}
	key := strings.TrimSpace(string(raw))
	if key == "" {
		return nil, fmt.Errorf("empty shared interop key: %s", path)
	}
	return []byte(key), nil
}
