package interop

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Node is one peer entry from the node directory.
type Node struct {
	ID               string
	Profile          string
	Host             string
	User             string
	SigningPublicKey string
}

type nodeSpec struct {
	Host             string `yaml:"host"`
	Profile          string `yaml:"profile"`
	User             string `yaml:"user"`
	SigningPublicKey string `yaml:"signing_public_key"`
}

type directoryFile struct {
	Routing struct {
		HubProfile string `yaml:"hub_profile"`
	} `yaml:"routing"`
	Nodes map[string]nodeSpec `yaml:"nodes"`
}

// Directory resolves peer profiles to hosts and identity public keys. The
// YAML file is re-read on each lookup so edits take effect without a restart.
type Directory struct {
	path        string
	selfProfile string
}

// NewDirectory returns a directory reading path, excluding selfProfile from
// target lookups.
func NewDirectory(path, selfProfile string) *Directory {
	return &Directory{path: path, selfProfile: selfProfile}
}

func (d *Directory) load() (*directoryFile, error) {
	raw, err := os.ReadFile(d.path)
	if os.IsNotExist(err) {
		return &directoryFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read node directory: %w", err)
	}
	var file directoryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse node directory %s: %w", d.path, err)
	}
	return &file, nil
}

// ConfiguredTargets returns the peers this node may send to, keyed by profile.
// A peer counts as configured when its host is set and not a ".TBD"
// placeholder; the local profile is never a target.
func (d *Directory) ConfiguredTargets() (map[string]Node, error) {
	file, err := d.load()
	if err != nil {
		return nil, err
	}
	targets := map[string]Node{}
	for id, spec := range file.Nodes {
		profile := spec.Profile
		if profile == "" {
			profile = id
		}
		if profile == d.selfProfile || !hostConfigured(spec.Host) {
			continue
		}
		targets[profile] = Node{
			ID:               id,
			Profile:          profile,
			Host:             spec.Host,
			User:             spec.User,
			SigningPublicKey: spec.SigningPublicKey,
		}
	}
	return targets, nil
}

// HubProfile returns the designated routing hub, or "" when none is
// configured. Only an explicit routing.hub_profile entry designates a hub.
func (d *Directory) HubProfile() (string, error) {
	file, err := d.load()
	if err != nil {
		return "", err
	}
	return file.Routing.HubProfile, nil
}

// PublicKeyFor returns the base64 signing public key published for profile,
// or "" when the profile is unknown or has no key.
func (d *Directory) PublicKeyFor(profile string) (string, error) {
	file, err := d.load()
	if err != nil {
		return "", err
	}
	for id, spec := range file.Nodes {
		p := spec.Profile
		if p == "" {
			p = id
		}
		if p == profile {
			return spec.SigningPublicKey, nil
		}
	}
	return "", nil
}

func hostConfigured(host string) bool {
	return host != "" && !strings.HasSuffix(host, ".TBD")
}
