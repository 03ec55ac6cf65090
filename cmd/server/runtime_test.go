package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"levelverse.io/internal/accounts"
	"levelverse.io/internal/config"
	plog "levelverse.io/internal/persistence/log"
	"levelverse.io/internal/protocol"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.Store = config.StoreConfig{Backend: config.BackendSQLite, Path: filepath.Join(cfg.DataDir, "levels.sqlite")}
	require.NoError(t, cfg.Validate())
	return cfg
}

func get(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func readType(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m map[string]any
	require.NoError(t, conn.ReadJSON(&m))
	typ, _ := m["type"].(string)
	return typ
}

func countLines(t *testing.T, dir, prefix string) int {
	t.Helper()
	segs, err := plog.Segments(dir, prefix)
	require.NoError(t, err)
	n := 0
	for _, s := range segs {
		require.NoError(t, plog.ReadSegment(s, func(json.RawMessage) error { n++; return nil }))
	}
	return n
}

func TestRuntime_EndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	rt, err := buildRuntime(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	closed := false
	t.Cleanup(func() {
		if !closed {
			rt.Close()
		}
	})

	hs := httptest.NewServer(rt.routes())
	defer hs.Close()

	require.Equal(t, "ok", get(t, hs.URL+"/healthz"))
	require.Contains(t, get(t, hs.URL+"/metrics"), "levelverse_levels 1\n")

	_, token, err := rt.accounts.CreateUser(ctx, accounts.CreateUserOptions{Username: "carol"})
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(hs.URL, "http")+"/v1/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "HELLO", "protocol_version": protocol.Version, "token": token}))
	require.Equal(t, protocol.TypeWelcome, readType(t, conn))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "SUB", "id": "c", "name": protocol.SubCurrentLevel}))
	require.Equal(t, protocol.TypeAdded, readType(t, conn))
	require.Equal(t, protocol.TypeReady, readType(t, conn))

	metrics := get(t, hs.URL+"/metrics")
	require.Contains(t, metrics, `levelverse_presence_sessions{level="lvl_default"} 1`)
	require.Contains(t, metrics, "levelverse_ws_connections 1\n")

	// Shutdown fires the leave hook before the activity log is closed.
	rt.Close()
	closed = true
	require.Equal(t, 0, rt.presence.ActiveCount())

	require.Equal(t, 2, countLines(t, filepath.Join(cfg.DataDir, "activity"), "activity"))
	require.Equal(t, 1, countLines(t, filepath.Join(cfg.DataDir, "analytics"), "analytics"))
}

func TestRuntime_RejectsBadMirrorConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mirror = config.MirrorConfig{Enabled: true, Endpoint: "r2.example", Bucket: "logs"}
	_, err := buildRuntime(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
}
