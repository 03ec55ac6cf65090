package levels

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"levelverse.io/internal/store"
	"levelverse.io/internal/store/memstore"
)

func TestDeleteLevel_CascadesAndRelocatesUsers(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, open(t))
			ctx := context.Background()
			f.addUser(t, "usr_ann", "Ann", defaultLevelID)
			seedTemplate(t, func(coll string, d store.Doc) { f.insert(t, coll, d) })

			id, err := f.svc.CreateLevel(ctx, "usr_ann", CreateOptions{TemplateID: "lvl_tpl"})
			require.NoError(t, err)
			f.addUser(t, "usr_b", "B", id)
			f.addUser(t, "usr_c", "C", id)
			f.addUser(t, "usr_d", "D", "lvl_tpl")

			require.NoError(t, f.svc.DeleteLevel(ctx, id))

			for _, coll := range []string{store.Zones, store.Tiles, store.Entities} {
				assert.Empty(t, f.find(t, coll, store.Selector{"levelId": id}), coll)
				assert.NotEmpty(t, f.find(t, coll, store.Selector{"levelId": "lvl_tpl"}), coll)
			}
			_, err = f.svc.Level(ctx, id)
			require.ErrorIs(t, err, ErrInvalidLevel)

			for _, u := range []string{"usr_b", "usr_c"} {
				assert.Equal(t, defaultLevelID, f.get(t, store.Users, u).String("profile.levelId"), u)
			}
			assert.Equal(t, "lvl_tpl", f.get(t, store.Users, "usr_d").String("profile.levelId"))
			assert.Contains(t, f.notifier.ids, id)
		})
	}
}

func TestDeleteLevel_NeverDeletesLastLevel(t *testing.T) {
	st := memstore.New()
	_, err := st.Collection(store.Levels).Insert(context.Background(), store.Doc{"_id": "lvl_only", "name": "Only"})
	require.NoError(t, err)
	_, err = st.Collection(store.Zones).Insert(context.Background(), store.Doc{"_id": "zon_1", "levelId": "lvl_only"})
	require.NoError(t, err)

	svc := NewService(Config{DefaultLevelID: defaultLevelID}, st, nil, zerolog.Nop())
	err = svc.DeleteLevel(context.Background(), "lvl_only")
	require.ErrorIs(t, err, ErrNotAllowed)

	n, err := st.Collection(store.Levels).Count(context.Background(), store.Selector{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = st.Collection(store.Zones).Count(context.Background(), store.Selector{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDeleteLevel_Refusals(t *testing.T) {
	f := newFixture(t, memstore.New())
	ctx := context.Background()
	f.insert(t, store.Levels, store.Doc{"_id": "lvl_other", "name": "Other"})
	before := f.snapshot(t)

	require.ErrorIs(t, f.svc.DeleteLevel(ctx, defaultLevelID), ErrNotAllowed)
	require.ErrorIs(t, f.svc.DeleteLevel(ctx, "lvl_missing"), ErrInvalidLevel)
	require.ErrorIs(t, f.svc.DeleteLevel(ctx, ""), ErrBadRequest)
	assert.Equal(t, before, f.snapshot(t))
	assert.Empty(t, f.notifier.ids)
}

func TestDeleteLevel_DownToOneLevel(t *testing.T) {
	f := newFixture(t, memstore.New())
	ctx := context.Background()
	f.insert(t, store.Levels, store.Doc{"_id": "lvl_a", "name": "A"})
	f.insert(t, store.Levels, store.Doc{"_id": "lvl_b", "name": "B"})

	require.NoError(t, f.svc.DeleteLevel(ctx, "lvl_a"))
	require.NoError(t, f.svc.DeleteLevel(ctx, "lvl_b"))
	assert.Len(t, f.find(t, store.Levels, store.Selector{}), 1)
}
