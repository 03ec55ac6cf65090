package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	plog "levelverse.io/internal/persistence/log"
)

func runCmd(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(args, &out, &errOut)
	return out.String(), errOut.String(), code
}

func TestAdmin_LevelLifecycle(t *testing.T) {
	db := filepath.Join(t.TempDir(), "levels.sqlite")

	out, stderr, code := runCmd(t, "create-user", "-db", db, "-username", "dana", "-token", "tok")
	require.Equal(t, 0, code, stderr)
	fields := strings.Split(strings.TrimSpace(out), "\t")
	require.Len(t, fields, 2)
	userID := fields[0]
	assert.Equal(t, "tok", fields[1])

	out, stderr, code = runCmd(t, "create", "-db", db, "-user", userID, "-name", "Garden")
	require.Equal(t, 0, code, stderr)
	gardenID := strings.TrimSpace(out)
	require.NotEmpty(t, gardenID)

	out, stderr, code = runCmd(t, "create", "-db", db, "-user", userID, "-template", gardenID, "-name", "Copy")
	require.Equal(t, 0, code, stderr)
	copyID := strings.TrimSpace(out)

	out, _, code = runCmd(t, "list", "-db", db)
	require.Equal(t, 0, code)
	assert.Contains(t, out, gardenID+"\tGarden\tvisits=0\tcreatedBy="+userID)
	assert.Contains(t, out, copyID+"\tCopy")

	out, _, code = runCmd(t, "templates", "-db", db)
	require.Equal(t, 0, code)
	assert.Empty(t, out)

	out, _, code = runCmd(t, "editors", "-db", db, gardenID)
	require.Equal(t, 0, code)
	assert.Empty(t, strings.TrimSpace(out))

	out, _, code = runCmd(t, "db", "-db", db, "-level", copyID, "zones")
	require.Equal(t, 0, code)
	assert.Equal(t, 1, strings.Count(out, "\n"), out)

	out, _, code = runCmd(t, "db", "-db", db, "users")
	require.Equal(t, 0, code)
	assert.Contains(t, out, `"username":"dana"`)
	assert.NotContains(t, out, "tokenHash")

	snap := filepath.Join(t.TempDir(), "store.snap.zst")
	out, stderr, code = runCmd(t, "export", "-db", db, "-out", snap)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "levels=2")

	restored := filepath.Join(t.TempDir(), "restored.sqlite")
	out, stderr, code = runCmd(t, "import", "-db", restored, "-in", snap)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "levels=2")
	assert.Contains(t, out, "users=1")
	assert.Contains(t, out, "skipped=0")

	out, _, code = runCmd(t, "list", "-db", restored)
	require.Equal(t, 0, code)
	assert.Contains(t, out, gardenID+"\tGarden")

	out, stderr, code = runCmd(t, "delete", "-db", db, copyID)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "deleted "+copyID+"\n", out)

	_, stderr, code = runCmd(t, "delete", "-db", db, gardenID)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Can not delete last level")
}

func TestAdmin_Usage(t *testing.T) {
	_, stderr, code := runCmd(t)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "usage: admin")

	_, _, code = runCmd(t, "nope")
	assert.Equal(t, 2, code)

	_, stderr, code = runCmd(t, "create", "-db", filepath.Join(t.TempDir(), "x.sqlite"))
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "missing -user")

	_, _, code = runCmd(t, "delete")
	assert.Equal(t, 2, code)
}

func TestAdmin_Events(t *testing.T) {
	dataDir := t.TempDir()
	w := plog.NewJSONLZstdWriter(filepath.Join(dataDir, "activity"), "activity", plog.WriterOptions{})
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Write(map[string]any{"n": i}))
	}
	require.NoError(t, w.Close())

	out, _, code := runCmd(t, "events", "-data", dataDir)
	require.Equal(t, 0, code)
	assert.Equal(t, "{\"n\":0}\n{\"n\":1}\n{\"n\":2}\n", out)

	out, _, code = runCmd(t, "events", "-data", dataDir, "-limit", "2")
	require.Equal(t, 0, code)
	assert.Equal(t, 2, strings.Count(out, "\n"))

	out, _, code = runCmd(t, "events", "-data", dataDir, "-kind", "analytics")
	require.Equal(t, 0, code)
	assert.Empty(t, out)

	_, _, code = runCmd(t, "events", "-kind", "secrets")
	assert.Equal(t, 2, code)
}

func TestAdmin_Metrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/metrics", r.URL.Path)
		_, _ = w.Write([]byte("levelverse_levels 3\n"))
	}))
	defer srv.Close()

	out, _, code := runCmd(t, "metrics", "-url", srv.URL+"/")
	require.Equal(t, 0, code)
	assert.Equal(t, "levelverse_levels 3\n", out)
}
