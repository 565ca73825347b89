package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famlabs/agentnode/pkg/config"
	"github.com/famlabs/agentnode/pkg/interop"
	"github.com/famlabs/agentnode/pkg/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSupervisor_CleanShutdown(t *testing.T) {
	s := NewSupervisor(discardLogger())
	started := make(chan struct{})
	s.Add("blocker", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	<-started
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}

func TestSupervisor_TaskFailureCancelsSiblings(t *testing.T) {
	s := NewSupervisor(discardLogger())
	boom := errors.New("boom")
	s.Add("failing", func(ctx context.Context) error { return boom })
	s.Add("sibling", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestSupervisor_Server(t *testing.T) {
	srv := &http.Server{
		Addr: "127.0.0.1:0",
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	}
	// Addr :0 picks a free port but ListenAndServe hides it, so bind a known
	// free port first.
	port := freePort(t)
	srv.Addr = fmt.Sprintf("127.0.0.1:%d", port)

	s := NewSupervisor(discardLogger())
	s.AddServer("control", srv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/", port))
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server task did not stop")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestCheckinLoop_RecordsSweepOutcomes(t *testing.T) {
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/interop/inbox", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer peer.Close()
	u, err := url.Parse(peer.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	dirPath := filepath.Join(t.TempDir(), "nodes.yaml")
	require.NoError(t, os.WriteFile(dirPath, []byte(`
nodes:
  jason-core:
    host: 127.0.0.1
    profile: jason
`), 0o644))

	store, err := memory.OpenInMemory()
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	messages := memory.NewMessageLog(store)
	events := memory.NewEpisodicStore(store)

	directory := interop.NewDirectory(dirPath, "scarlet")
	bridge := interop.NewBridge(interop.BridgeConfig{
		ProfileName:  "scarlet",
		HealthPort:   port,
		Directory:    directory,
		Codec:        interop.NewCodec([]byte("shared-test-key"), nil, directory),
		IdentityMode: config.IdentityCompat,
		Messages:     messages,
		Logger:       discardLogger(),
	})

	loop := NewCheckinLoop(bridge, events, discardLogger(), time.Hour, 24*time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		latest, err := events.Latest(context.Background(), 5)
		if err != nil {
			return false
		}
		for _, ev := range latest {
			if ev.EventType == "daily_checkin_sent" && ev.Payload["target"] == "jason" {
				return true
			}
		}
		return false
	}, 3*time.Second, 25*time.Millisecond)

	cancel()
	<-done

	// The outbox gates the next sweep; nothing further goes out inside the window.
	results := bridge.SendDailySkillsCheckins(context.Background(), 24*time.Hour)
	assert.Empty(t, results)
}
