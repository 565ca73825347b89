// Package fleet implements the control plane: per-peer health reporting and
// deploy orchestration via the external deploy script.
package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	deployTimeout  = 900 * time.Second
	outputTailSize = 12000
)

// NodeInfo describes one fleet member from the node directory.
type NodeInfo struct {
	NodeID     string `json:"node_id"`
	Profile    string `json:"profile"`
	Host       string `json:"host"`
	User       string `json:"user,omitempty"`
	Configured bool   `json:"configured"`
}

// NodeHealth is NodeInfo plus the outcome of a health probe.
type NodeHealth struct {
	NodeInfo
	Reachable bool           `json:"reachable"`
	Status    string         `json:"status"`
	LastSeen  int64          `json:"last_seen,omitempty"`
	Health    map[string]any `json:"health,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// HealthReport is one full fleet sweep.
type HealthReport struct {
	CheckedAt int64        `json:"checked_at"`
	Nodes     []NodeHealth `json:"nodes"`
}

// DeployResult is the outcome of running the deploy script.
type DeployResult struct {
	OK         bool   `json:"ok"`
	ReturnCode int    `json:"returncode"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ControlPlane reads the fleet layout from the repo's node directory and
// probes or deploys the members.
type ControlPlane struct {
	repoRoot   string
	healthPort int
	client     *http.Client
	now        func() time.Time
}

// NewControlPlane builds a control plane rooted at repoRoot.
func NewControlPlane(repoRoot string, healthPort int) *ControlPlane {
	return &ControlPlane{
		repoRoot:   repoRoot,
		healthPort: healthPort,
		client:     &http.Client{Timeout: 2 * time.Second},
		now:        time.Now,
	}
}

type nodesFile struct {
	Nodes map[string]struct {
		Host    string `yaml:"host"`
		Profile string `yaml:"profile"`
		User    string `yaml:"user"`
	} `yaml:"nodes"`
}

// ListNodes returns every node directory entry, configured or not.
func (c *ControlPlane) ListNodes() ([]NodeInfo, error) {
	path := filepath.Join(c.repoRoot, "config", "nodes.yaml")
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read nodes file: %w", err)
	}
	var file nodesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse nodes file %s: %w", path, err)
	}

	nodes := make([]NodeInfo, 0, len(file.Nodes))
	for id, spec := range file.Nodes {
		profile := spec.Profile
		if profile == "" {
			profile = id
		}
		nodes = append(nodes, NodeInfo{
			NodeID:     id,
			Profile:    profile,
			Host:       spec.Host,
			User:       spec.User,
			Configured: spec.Host != "" && !strings.HasSuffix(spec.Host, ".TBD"),
		})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].NodeID < nodes[j].NodeID })
	return nodes, nil
}

// HealthReport probes every configured node's /health endpoint.
func (c *ControlPlane) HealthReport(ctx context.Context) (HealthReport, error) {
	nodes, err := c.ListNodes()
	if err != nil {
		return HealthReport{}, err
	}

	report := HealthReport{CheckedAt: c.now().Unix()}
	for _, node := range nodes {
		entry := NodeHealth{NodeInfo: node}
		if !node.Configured {
			entry.Status = "unconfigured"
			entry.Error = "host not configured"
			report.Nodes = append(report.Nodes, entry)
			continue
		}
		health, err := c.probe(ctx, node.Host)
		if err != nil {
			entry.Status = "down"
			entry.Error = err.Error()
			report.Nodes = append(report.Nodes, entry)
			continue
		}
		entry.Reachable = true
		entry.LastSeen = c.now().Unix()
		entry.Health = health
		entry.Status = "unknown"
		if s, ok := health["status"].(string); ok {
			entry.Status = s
		}
		report.Nodes = append(report.Nodes, entry)
	}
	return report, nil
}

func (c *ControlPlane) probe(ctx context.Context, host string) (map[string]any, error) {
	url := fmt.Sprintf("http://%s:%d/health", host, c.healthPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health probe status %d", resp.StatusCode)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	return decoded, nil
}

// DeployAll runs scripts/deploy_all.sh with a bounded timeout and returns its
// outcome with bounded output tails.
func (c *ControlPlane) DeployAll(ctx context.Context) DeployResult {
	script := filepath.Join(c.repoRoot, "scripts", "deploy_all.sh")
	if _, err := os.Stat(script); err != nil {
		return DeployResult{OK: false, Error: fmt.Sprintf("Missing script: %s", script)}
	}

	ctx, cancel := context.WithTimeout(ctx, deployTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, script)
	cmd.Dir = c.repoRoot
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := DeployResult{
		OK:     err == nil,
		Stdout: tail(stdout.String()),
		Stderr: tail(stderr.String()),
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ReturnCode = exitErr.ExitCode()
	} else if err != nil {
		result.ReturnCode = -1
		result.Error = err.Error()
	}
	return result
}

func tail(s string) string {
	if len(s) > outputTailSize {
		return s[len(s)-outputTailSize:]
	}
	return s
}
