package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"levelverse.io/internal/store"
	"levelverse.io/internal/store/storetest"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "levels.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openTemp(t) })
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "levels.sqlite")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Collection(store.Tiles).Insert(ctx, store.Doc{"_id": "til_1", "levelId": "lvl_1", "x": 3})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Collection(store.Tiles).Find(ctx, store.Selector{"levelId": "lvl_1"}, store.FindOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, float64(3), got[0]["x"])
}

func TestSQLiteStore_RejectsBadCollectionName(t *testing.T) {
	s := openTemp(t)
	_, err := s.Collection("levels; DROP TABLE levels").Insert(context.Background(), store.Doc{"_id": "x"})
	require.Error(t, err)
}
