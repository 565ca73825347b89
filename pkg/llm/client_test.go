package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famlabs/agentnode/pkg/memory"
)

func completionServer(t *testing.T, reply string, usage Usage) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": reply}},
			},
			"usage": usage,
		})
	}))
}

func TestComplete(t *testing.T) {
	srv := completionServer(t, "  all good  ", Usage{PromptTokens: 10, CompletionTokens: 4, TotalTokens: 14})
	defer srv.Close()

	c := NewClient("test-key", srv.URL, "gpt-4o-mini", "")
	text, usage, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, 64)
	require.NoError(t, err)
	assert.Equal(t, "all good", text)
	assert.Equal(t, 14, usage.TotalTokens)
}

func TestComplete_TruncatesLongContent(t *testing.T) {
	srv := completionServer(t, strings.Repeat("x", 5000), Usage{})
	defer srv.Close()

	c := NewClient("test-key", srv.URL, "gpt-4o-mini", "")
	text, _, err := c.Complete(context.Background(), nil, 64)
	require.NoError(t, err)
	assert.Len(t, text, 4096)
	assert.True(t, strings.HasSuffix(text, "..."))
}

func TestComplete_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL, "gpt-4o-mini", "")
	_, _, err := c.Complete(context.Background(), nil, 64)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 429")
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3}}},
		})
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL, "gpt-4o-mini", "")
	emb, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, memory.Embedding{0.1, 0.2, 0.3}, emb)
}

func TestNewClientFromSecrets(t *testing.T) {
	secretsDir := t.TempDir()

	assert.Nil(t, NewClientFromSecrets(secretsDir, "gpt-4o-mini"))

	require.NoError(t, os.WriteFile(filepath.Join(secretsDir, "llm_api_key.txt"), []byte("sk-test\n"), 0o600))
	c := NewClientFromSecrets(secretsDir, "gpt-4o-mini")
	require.NotNil(t, c)
	assert.Equal(t, "gpt-4o-mini", c.Model())

	require.NoError(t, os.WriteFile(filepath.Join(secretsDir, "llm_model.txt"), []byte("gpt-4o\n"), 0o644))
	c = NewClientFromSecrets(secretsDir, "gpt-4o-mini")
	assert.Equal(t, "gpt-4o", c.Model())
}

type staticTools struct{ names []string }

func (s staticTools) Count() int      { return len(s.names) }
func (s staticTools) Names() []string { return s.names }

func TestCheckinReplier_DegradesWithoutKey(t *testing.T) {
	r := NewCheckinReplier(nil, "scarlet", staticTools{}, nil, nil)
	reply := r.Reply(context.Background(), "jason", map[string]any{"question": "hi"})
	assert.Equal(t, false, reply["ok"])
	assert.Equal(t, "LLM key missing on target node", reply["error"])
	assert.Equal(t, "skills_checkin_reply", reply["kind"])
}

func TestCheckinReplier_RecordsUsage(t *testing.T) {
	srv := completionServer(t, "No new skills today.", Usage{PromptTokens: 30, CompletionTokens: 8, TotalTokens: 38})
	defer srv.Close()

	store, err := memory.Open(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	usageStore := memory.NewUsageStore(store)

	c := NewClient("test-key", srv.URL, "gpt-4o-mini", "")
	r := NewCheckinReplier(c, "scarlet", staticTools{names: []string{"math", "get_time"}}, memory.NewMessageLog(store), usageStore)

	reply := r.Reply(context.Background(), "jason", map[string]any{"question": "hi"})
	assert.Equal(t, true, reply["ok"])
	assert.Equal(t, "No new skills today.", reply["message"])
	assert.Equal(t, 2, reply["tools_registered"])

	sum, err := usageStore.Summary(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.TotalCalls)
	assert.Equal(t, int64(38), sum.TotalTokens)
}
