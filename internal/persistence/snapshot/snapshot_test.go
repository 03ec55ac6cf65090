package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"levelverse.io/internal/store"
	"levelverse.io/internal/store/memstore"
	"levelverse.io/internal/store/sqlitestore"
)

func seed(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()
	docs := map[string][]store.Doc{
		store.Levels: {
			{store.IDField: "lvl_a", "name": "A", "spawn": map[string]any{"x": 1.0, "y": 2.0}},
			{store.IDField: "lvl_b", "name": "B", "editorUserIds": []any{"usr_1"}},
		},
		store.Zones: {{store.IDField: "zon_1", "levelId": "lvl_a", "name": "Exit"}},
		store.Users: {{store.IDField: "usr_1", "profile": map[string]any{"levelId": "lvl_a"}}},
	}
	for coll, list := range docs {
		for _, d := range list {
			_, err := st.Collection(coll).Insert(ctx, d)
			require.NoError(t, err)
		}
	}
}

func TestWriteRestore(t *testing.T) {
	ctx := context.Background()
	src := memstore.New()
	seed(t, src)

	path := filepath.Join(t.TempDir(), "backups", "store.snap.zst")
	h, err := Write(ctx, path, src, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, h.Collections[store.Levels])
	assert.Equal(t, 0, h.Collections[store.Tiles])

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	read, err := ReadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, Version, read.Version)
	assert.Equal(t, h.Collections, read.Collections)

	dst, err := sqlitestore.Open(filepath.Join(t.TempDir(), "dst.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dst.Close() })

	res, err := Restore(ctx, path, dst)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{store.Levels: 2, store.Zones: 1, store.Users: 1}, res.Inserted)
	assert.Zero(t, res.Skipped)

	for _, coll := range store.Collections {
		want, err := src.Collection(coll).Find(ctx, store.Selector{}, store.FindOptions{})
		require.NoError(t, err)
		got, err := dst.Collection(coll).Find(ctx, store.Selector{}, store.FindOptions{})
		require.NoError(t, err)
		assert.Equal(t, want, got, coll)
	}

	res, err = Restore(ctx, path, dst)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Skipped)
	assert.Empty(t, res.Inserted)
}

func TestWriteSubset(t *testing.T) {
	ctx := context.Background()
	src := memstore.New()
	seed(t, src)

	path := filepath.Join(t.TempDir(), "levels.snap.zst")
	h, err := Write(ctx, path, src, []string{store.Levels})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{store.Levels: 2}, h.Collections)

	dst := memstore.New()
	res, err := Restore(ctx, path, dst)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{store.Levels: 2}, res.Inserted)
	n, err := dst.Collection(store.Users).Count(ctx, store.Selector{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRestoreRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.snap.zst")
	require.NoError(t, os.WriteFile(path, []byte("not zstd"), 0o644))
	_, err := Restore(context.Background(), path, memstore.New())
	assert.Error(t, err)

	_, err = ReadHeader(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
