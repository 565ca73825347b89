package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMigrate_Rerunnable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Re-opening an already-migrated database must not fail on the ALTERs.
	s, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestEpisodic_RecordAndLatest(t *testing.T) {
	s := openTestStore(t)
	ep := NewEpisodicStore(s)
	ctx := context.Background()

	id1, err := ep.Record(ctx, "agent_boot", map[string]any{"profile": "scarlet"}, "", "allow")
	require.NoError(t, err)
	id2, err := ep.Record(ctx, "tool_denied", map[string]any{"reason": "nope"}, "math", "deny")
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	events, err := ep.Latest(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "tool_denied", events[0].EventType)
	assert.Equal(t, "math", events[0].ToolName)
	assert.Equal(t, "deny", events[0].Decision)
	assert.Equal(t, "nope", events[0].Payload["reason"])
}

func TestFacts_UpsertAndDelete(t *testing.T) {
	s := openTestStore(t)
	facts := NewFactStore(s)
	ctx := context.Background()

	require.NoError(t, facts.Set(ctx, "runtime_profile", "scarlet"))
	require.NoError(t, facts.Set(ctx, "runtime_profile", "kiera"))

	v, ok, err := facts.Get(ctx, "runtime_profile")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "kiera", v)

	all, err := facts.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	deleted, err := facts.Delete(ctx, "runtime_profile")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok, err = facts.Get(ctx, "runtime_profile")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProjects_Lifecycle(t *testing.T) {
	s := openTestStore(t)
	projects := NewProjectStore(s)
	ctx := context.Background()

	id, err := projects.Create(ctx, "Node initialization", "Initial runtime bootstrap marker.", "completed")
	require.NoError(t, err)

	title := "Node bootstrap"
	ok, err := projects.Update(ctx, id, ProjectUpdate{Title: &title})
	require.NoError(t, err)
	assert.True(t, ok)

	proj, err := projects.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, proj)
	assert.Equal(t, "Node bootstrap", proj.Title)
	assert.Equal(t, "completed", proj.Status)

	found, err := projects.SearchLike(ctx, "bootstrap", 10)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	none, err := projects.Update(ctx, id, ProjectUpdate{})
	require.NoError(t, err)
	assert.False(t, none)

	missing, err := projects.Get(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMessageLog_InboundAtomicity(t *testing.T) {
	s := openTestStore(t)
	log := NewMessageLog(s)
	ctx := context.Background()

	msg := Message{
		Source:   "jason",
		Target:   "scarlet",
		TaskType: "skills_checkin",
		Payload:  map[string]any{"question": "hi"},
		Nonce:    "aabbccddeeff00112233445566778899",
		Status:   "received",
	}

	id, err := log.RecordInbound(ctx, msg)
	require.NoError(t, err)
	assert.Positive(t, id)

	seen, err := log.SeenNonce(ctx, msg.Nonce)
	require.NoError(t, err)
	assert.True(t, seen)

	// Same nonce again: no new message row may appear.
	_, err = log.RecordInbound(ctx, msg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNonceExists))

	msgs, err := log.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestMessageLog_MonotonicIDsAndLastSent(t *testing.T) {
	s := openTestStore(t)
	log := NewMessageLog(s)
	ctx := context.Background()

	var last int64
	for i := 0; i < 3; i++ {
		id, err := log.Append(ctx, Message{
			Direction: DirectionOutbox,
			Source:    "scarlet",
			Target:    "kiera",
			TaskType:  "skills_checkin",
			Payload:   map[string]any{},
			Nonce:     "nonce",
			Status:    "sent",
		})
		require.NoError(t, err)
		assert.Greater(t, id, last)
		last = id
	}

	ts, ok, err := log.LastOutboxSent(ctx, "kiera", "skills_checkin")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Positive(t, ts)

	_, ok, err = log.LastOutboxSent(ctx, "kiera", "skill_request")
	require.NoError(t, err)
	assert.False(t, ok)

	// Failed sends must not count as "sent".
	_, err = log.Append(ctx, Message{
		Direction: DirectionOutbox, Source: "scarlet", Target: "vex",
		TaskType: "skills_checkin", Payload: map[string]any{}, Nonce: "n", Status: "failed:dial",
	})
	require.NoError(t, err)
	_, ok, err = log.LastOutboxSent(ctx, "vex", "skills_checkin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUsage_Summary(t *testing.T) {
	s := openTestStore(t)
	usage := NewUsageStore(s)
	ctx := context.Background()

	require.NoError(t, usage.Record(ctx, "scarlet", "telegram", "gpt-4o-mini", 100, 40))
	require.NoError(t, usage.Record(ctx, "scarlet", "checkin", "gpt-4o-mini", 50, 10))

	sum, err := usage.Summary(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum.TotalCalls)
	assert.Equal(t, int64(150), sum.TotalPromptTokens)
	assert.Equal(t, int64(200), sum.TotalTokens)

	windowed, err := usage.Summary(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(2), windowed.TotalCalls)
	assert.Equal(t, 7, windowed.WindowDays)
}

func TestVectors_CosineSearch(t *testing.T) {
	s := openTestStore(t)
	vectors := NewVectorStore(s)
	ctx := context.Background()

	_, err := vectors.Add(ctx, "east", Embedding{1, 0})
	require.NoError(t, err)
	_, err = vectors.Add(ctx, "north", Embedding{0, 1})
	require.NoError(t, err)
	_, err = vectors.Add(ctx, "northeast", Embedding{1, 1})
	require.NoError(t, err)

	hits, err := vectors.Search(ctx, Embedding{1, 0.1}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "east", hits[0].Text)
	assert.Equal(t, "northeast", hits[1].Text)
}
