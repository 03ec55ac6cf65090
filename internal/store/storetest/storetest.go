// Package storetest holds the behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"levelverse.io/internal/store"
)

// Run exercises a backend. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("InsertFind", func(t *testing.T) { testInsertFind(t, newStore(t)) })
	t.Run("UpdateOperators", func(t *testing.T) { testUpdateOperators(t, newStore(t)) })
	t.Run("UpdateMulti", func(t *testing.T) { testUpdateMulti(t, newStore(t)) })
	t.Run("Remove", func(t *testing.T) { testRemove(t, newStore(t)) })
	t.Run("Transaction", func(t *testing.T) { testTransaction(t, newStore(t)) })
}

func testInsertFind(t *testing.T, s store.Store) {
	ctx := context.Background()
	levels := s.Collection(store.Levels)

	id, err := levels.Insert(ctx, store.Doc{"_id": "lvl_1", "name": "one", "spawn": map[string]any{"x": 200, "y": 200}})
	require.NoError(t, err)
	assert.Equal(t, "lvl_1", id)

	_, err = levels.Insert(ctx, store.Doc{"_id": "lvl_1"})
	require.ErrorIs(t, err, store.ErrDuplicateID)
	_, err = levels.Insert(ctx, store.Doc{"name": "anonymous"})
	require.ErrorIs(t, err, store.ErrMissingID)

	got, err := levels.FindOne(ctx, store.ByID("lvl_1"), store.FindOptions{})
	require.NoError(t, err)
	x, _ := got.Get("spawn.x")
	assert.Equal(t, float64(200), x)

	_, err = levels.FindOne(ctx, store.ByID("missing"), store.FindOptions{})
	require.ErrorIs(t, err, store.ErrNotFound)

	// Returned documents are copies.
	got.Set("name", "mutated")
	again, err := levels.FindOne(ctx, store.ByID("lvl_1"), store.FindOptions{Fields: []string{"name"}})
	require.NoError(t, err)
	assert.Equal(t, store.Doc{"_id": "lvl_1", "name": "one"}, again)

	n, err := levels.Count(ctx, store.Selector{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testUpdateOperators(t *testing.T, s store.Store) {
	ctx := context.Background()
	levels := s.Collection(store.Levels)
	_, err := levels.Insert(ctx, store.Doc{"_id": "lvl_1", "createdBy": "usr_a", "visit": 0})
	require.NoError(t, err)

	n, err := levels.Update(ctx, store.Selector{"_id": "lvl_1", "createdBy": map[string]any{"$ne": "usr_a"}}, store.Update{Inc: map[string]float64{"visit": 1}}, store.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = levels.Update(ctx, store.Selector{"_id": "lvl_1", "createdBy": map[string]any{"$ne": "usr_b"}}, store.Update{
		Inc:      map[string]float64{"visit": 1},
		AddToSet: map[string][]any{"editorUserIds": {"usr_b"}},
		Set:      map[string]any{"hide": true},
	}, store.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := levels.FindOne(ctx, store.ByID("lvl_1"), store.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, float64(1), got["visit"])
	assert.Equal(t, []any{"usr_b"}, got["editorUserIds"])
	assert.Equal(t, true, got["hide"])

	_, err = levels.Update(ctx, store.ByID("lvl_1"), store.Update{Pull: map[string]any{"editorUserIds": "usr_b"}, Unset: []string{"hide"}}, store.UpdateOptions{})
	require.NoError(t, err)
	got, err = levels.FindOne(ctx, store.ByID("lvl_1"), store.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, []any{}, got["editorUserIds"])
	_, hasHide := got["hide"]
	assert.False(t, hasHide)

	_, err = levels.Update(ctx, store.ByID("lvl_1"), store.Update{Inc: map[string]float64{"createdBy": 1}}, store.UpdateOptions{})
	require.ErrorIs(t, err, store.ErrBadUpdate)
}

func testUpdateMulti(t *testing.T, s store.Store) {
	ctx := context.Background()
	users := s.Collection(store.Users)
	for _, id := range []string{"usr_1", "usr_2", "usr_3"} {
		level := "lvl_gone"
		if id == "usr_3" {
			level = "lvl_other"
		}
		_, err := users.Insert(ctx, store.Doc{"_id": id, "profile": map[string]any{"levelId": level}})
		require.NoError(t, err)
	}

	sel := store.Selector{"profile.levelId": "lvl_gone"}
	upd := store.Update{Set: map[string]any{"profile.levelId": "lvl_default"}}

	n, err := users.Update(ctx, sel, upd, store.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = users.Update(ctx, sel, upd, store.UpdateOptions{Multi: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = users.Count(ctx, store.Selector{"profile.levelId": "lvl_default"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func testRemove(t *testing.T, s store.Store) {
	ctx := context.Background()
	zones := s.Collection(store.Zones)
	for _, z := range []store.Doc{
		{"_id": "zon_1", "levelId": "lvl_1"},
		{"_id": "zon_2", "levelId": "lvl_1"},
		{"_id": "zon_3", "levelId": "lvl_2"},
	} {
		_, err := zones.Insert(ctx, z)
		require.NoError(t, err)
	}

	n, err := zones.Remove(ctx, store.Selector{"levelId": "lvl_1"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, err := zones.Find(ctx, store.Selector{}, store.FindOptions{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "zon_3", left[0].ID())
}

func testTransaction(t *testing.T, s store.Store) {
	tx, ok := s.(store.Transactor)
	if !ok {
		t.Skip("backend has no transactions")
	}
	ctx := context.Background()
	_, err := s.Collection(store.Levels).Insert(ctx, store.Doc{"_id": "lvl_keep"})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = tx.InTransaction(ctx, func(view store.Store) error {
		if _, err := view.Collection(store.Levels).Insert(ctx, store.Doc{"_id": "lvl_new"}); err != nil {
			return err
		}
		if _, err := view.Collection(store.Levels).Remove(ctx, store.ByID("lvl_keep")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	ids := levelIDs(t, s)
	assert.Equal(t, []string{"lvl_keep"}, ids)

	err = tx.InTransaction(ctx, func(view store.Store) error {
		_, err := view.Collection(store.Levels).Insert(ctx, store.Doc{"_id": "lvl_new"})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"lvl_keep", "lvl_new"}, levelIDs(t, s))
}

func levelIDs(t *testing.T, s store.Store) []string {
	t.Helper()
	docs, err := s.Collection(store.Levels).Find(context.Background(), store.Selector{}, store.FindOptions{})
	require.NoError(t, err)
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID())
	}
	return ids
}
