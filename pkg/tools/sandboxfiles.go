package tools

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/famlabs/agentnode/pkg/policy"
	"github.com/famlabs/agentnode/pkg/sandbox"
)

const maxReadPreviewChars = 4000

// SandboxListTool lists directory entries inside the sandbox.
type SandboxListTool struct {
	sandbox *sandbox.Sandbox
}

// NewSandboxListTool binds the list tool to a sandbox.
func NewSandboxListTool(sb *sandbox.Sandbox) *SandboxListTool {
	return &SandboxListTool{sandbox: sb}
}

func (*SandboxListTool) Name() string      { return "sandbox_list" }
func (*SandboxListTool) Tier() policy.Tier { return policy.Tier0 }

func (t *SandboxListTool) Execute(_ context.Context, payload map[string]any) Result {
	subpath := payloadString(payload, "subpath")
	if subpath == "" {
		subpath = "."
	}
	maxEntries := payloadInt(payload, "max_entries", 100)
	if maxEntries < 1 {
		maxEntries = 1
	}
	if maxEntries > 500 {
		maxEntries = 500
	}

	target, err := t.sandbox.ResolvePath(subpath)
	if err != nil {
		return errResult("%s", err)
	}
	info, err := os.Stat(target)
	if os.IsNotExist(err) {
		return errResult("Path does not exist: %s", target)
	}
	if err != nil {
		return errResult("%s", err)
	}
	if !info.IsDir() {
		return errResult("Not a directory: %s", target)
	}

	children, err := os.ReadDir(target)
	if err != nil {
		return errResult("%s", err)
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name() < children[j].Name() })
	if len(children) > maxEntries {
		children = children[:maxEntries]
	}

	entries := make([]map[string]any, 0, len(children))
	for _, child := range children {
		full := filepath.Join(target, child.Name())
		rel, _ := filepath.Rel(t.sandbox.Root(), full)
		entry := map[string]any{
			"name":          child.Name(),
			"relative_path": rel,
			"kind":          "file",
			"size_bytes":    nil,
		}
		if child.IsDir() {
			entry["kind"] = "dir"
		} else if fi, err := child.Info(); err == nil {
			entry["size_bytes"] = fi.Size()
		}
		entries = append(entries, entry)
	}

	return Result{OK: true, Output: map[string]any{
		"root":    t.sandbox.Root(),
		"target":  target,
		"count":   len(entries),
		"entries": entries,
	}}
}

// SandboxReadTextTool reads a UTF-8 text file from the sandbox with a bounded
// preview.
type SandboxReadTextTool struct {
	sandbox *sandbox.Sandbox
}

// NewSandboxReadTextTool binds the read tool to a sandbox.
func NewSandboxReadTextTool(sb *sandbox.Sandbox) *SandboxReadTextTool {
	return &SandboxReadTextTool{sandbox: sb}
}

func (*SandboxReadTextTool) Name() string      { return "sandbox_read_text" }
func (*SandboxReadTextTool) Tier() policy.Tier { return policy.Tier0 }

func (t *SandboxReadTextTool) Execute(_ context.Context, payload map[string]any) Result {
	path := strings.TrimSpace(payloadString(payload, "path"))
	if path == "" {
		return errResult("Missing 'path'")
	}
	target, err := t.sandbox.ResolvePath(path)
	if err != nil {
		return errResult("%s", err)
	}
	info, err := os.Stat(target)
	if os.IsNotExist(err) {
		return errResult("Path does not exist: %s", target)
	}
	if err != nil {
		return errResult("%s", err)
	}
	if info.IsDir() {
		return errResult("Not a file: %s", target)
	}

	raw, err := os.ReadFile(target)
	if err != nil {
		return errResult("%s", err)
	}
	if !utf8.Valid(raw) {
		return errResult("File is not UTF-8 text")
	}

	text := string(raw)
	runes := []rune(text)
	preview := text
	truncated := false
	if len(runes) > maxReadPreviewChars {
		preview = string(runes[:maxReadPreviewChars])
		truncated = true
	}
	return Result{OK: true, Output: map[string]any{
		"path":      target,
		"chars":     len(runes),
		"truncated": truncated,
		"preview":   preview,
	}}
}

func payloadInt(payload map[string]any, key string, def int) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}
