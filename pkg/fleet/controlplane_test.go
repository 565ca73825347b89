package fleet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeNodesFile(t *testing.T, repoRoot, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(repoRoot, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repoRoot, "config", "nodes.yaml"), []byte(content), 0o644))
}

func TestListNodes(t *testing.T) {
	repoRoot := t.TempDir()
	writeNodesFile(t, repoRoot, `
nodes:
  jason-core:
    host: hub.local
    profile: jason
    user: jason
  vex-node:
    host: vex.TBD
    profile: vex
`)

	cp := NewControlPlane(repoRoot, 8600)
	nodes, err := cp.ListNodes()
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.True(t, nodes[0].Configured)
	assert.Equal(t, "jason", nodes[0].Profile)
	assert.False(t, nodes[1].Configured)
}

func TestListNodes_MissingFile(t *testing.T) {
	cp := NewControlPlane(t.TempDir(), 8600)
	nodes, err := cp.ListNodes()
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestHealthReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"status": "ok", "uptime_seconds": 12}`))
	}))
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	repoRoot := t.TempDir()
	writeNodesFile(t, repoRoot, `
nodes:
  up-node:
    host: 127.0.0.1
    profile: kiera
  pending-node:
    host: new.TBD
    profile: vex
`)

	cp := NewControlPlane(repoRoot, port)
	report, err := cp.HealthReport(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Nodes, 2)
	assert.Positive(t, report.CheckedAt)

	assert.Equal(t, "unconfigured", report.Nodes[0].Status)
	assert.False(t, report.Nodes[0].Reachable)

	assert.True(t, report.Nodes[1].Reachable)
	assert.Equal(t, "ok", report.Nodes[1].Status)
	assert.Equal(t, float64(12), report.Nodes[1].Health["uptime_seconds"])
}

func TestDeployAll(t *testing.T) {
	repoRoot := t.TempDir()
	cp := NewControlPlane(repoRoot, 8600)

	// No script yet.
	result := cp.DeployAll(context.Background())
	assert.False(t, result.OK)
	assert.Contains(t, result.Error, "Missing script")

	scriptsDir := filepath.Join(repoRoot, "scripts")
	require.NoError(t, os.MkdirAll(scriptsDir, 0o755))
	script := filepath.Join(scriptsDir, "deploy_all.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho deployed\n"), 0o755))

	result = cp.DeployAll(context.Background())
	assert.True(t, result.OK)
	assert.Equal(t, 0, result.ReturnCode)
	assert.Contains(t, result.Stdout, "deployed")

	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho broken >&2\nexit 3\n"), 0o755))
	result = cp.DeployAll(context.Background())
	assert.False(t, result.OK)
	assert.Equal(t, 3, result.ReturnCode)
	assert.Contains(t, result.Stderr, "broken")
}
