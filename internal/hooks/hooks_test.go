package hooks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	plog "levelverse.io/internal/persistence/log"
	"levelverse.io/internal/store"
)

func TestRegistry_RunsHandlersInOrderAndSurvivesPanics(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	var calls []string

	r.On(UserEnteredLevel, func(ctx context.Context, level store.Doc, act Activity) {
		calls = append(calls, "first:"+level.ID()+":"+act.UserID)
	})
	r.On(UserEnteredLevel, func(context.Context, store.Doc, Activity) { panic("bad hook") })
	r.On(UserEnteredLevel, func(ctx context.Context, level store.Doc, act Activity) {
		calls = append(calls, "third:"+act.Meta.Name)
	})
	r.On(UserLeavedLevel, func(context.Context, store.Doc, Activity) {
		calls = append(calls, "leave")
	})

	r.CallHooks(context.Background(), store.Doc{"_id": "lvl_1"}, UserEnteredLevel, Activity{UserID: "usr_1", Meta: Meta{Name: "ann"}})
	assert.Equal(t, []string{"first:lvl_1:usr_1", "third:ann"}, calls)
}

func TestActivityLog_WritesRecords(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	al := NewActivityLog(dir, plog.WriterOptions{Now: func() time.Time { return at }}, zerolog.Nop())

	r := NewRegistry(zerolog.Nop())
	al.Register(r)
	level := store.Doc{"_id": "lvl_1", "name": "Lobby"}
	r.CallHooks(context.Background(), level, UserEnteredLevel, Activity{UserID: "usr_1", Meta: Meta{Name: "ann"}})
	r.CallHooks(context.Background(), level, UserLeavedLevel, Activity{UserID: "usr_1", Meta: Meta{Name: "ann"}})
	require.NoError(t, al.Close())

	segs, err := plog.Segments(al.Dir(), "activity")
	require.NoError(t, err)
	require.Len(t, segs, 1)

	var recs []ActivityRecord
	require.NoError(t, plog.ReadSegment(segs[0], func(line json.RawMessage) error {
		var rec ActivityRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		recs = append(recs, rec)
		return nil
	}))
	require.Len(t, recs, 2)
	assert.Equal(t, UserEnteredLevel, recs[0].Kind)
	assert.Equal(t, UserLeavedLevel, recs[1].Kind)
	assert.Equal(t, "Lobby", recs[0].LevelName)
	assert.Equal(t, "usr_1", recs[1].UserID)
	assert.True(t, at.Equal(recs[0].At))
}
