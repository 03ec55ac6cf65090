package store_test

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"levelverse.io/internal/store"
)

func TestSelectorMatch(t *testing.T) {
	d := store.Doc{
		"_id":           "lvl_1",
		"createdBy":     "usr_a",
		"editorUserIds": []any{"usr_b", "usr_c"},
		"visit":         float64(3),
		"profile":       map[string]any{"levelId": "lvl_0"},
	}

	cases := []struct {
		name string
		sel  store.Selector
		want bool
	}{
		{"empty", store.Selector{}, true},
		{"equal", store.Selector{"createdBy": "usr_a"}, true},
		{"not equal", store.Selector{"createdBy": "usr_x"}, false},
		{"array membership", store.Selector{"editorUserIds": "usr_c"}, true},
		{"array miss", store.Selector{"editorUserIds": "usr_a"}, false},
		{"dotted", store.Selector{"profile.levelId": "lvl_0"}, true},
		{"numeric int vs float", store.Selector{"visit": 3}, true},
		{"ne", store.Selector{"createdBy": map[string]any{"$ne": "usr_a"}}, false},
		{"ne missing field", store.Selector{"hide": map[string]any{"$ne": true}}, true},
		{"exists false", store.Selector{"hide": map[string]any{"$exists": false}}, true},
		{"exists true", store.Selector{"visit": map[string]any{"$exists": true}}, true},
		{"in", store.Selector{"createdBy": map[string]any{"$in": []string{"usr_z", "usr_a"}}}, true},
		{"unknown operator", store.Selector{"visit": map[string]any{"$gt": 1}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.sel.Match(d))
		})
	}
}

func TestUpdateApply(t *testing.T) {
	d := store.Doc{"_id": "lvl_1", "editorUserIds": []any{"usr_b"}, "hide": true}

	err := store.Update{
		Set:      map[string]any{"name": "home", "spawn": map[string]int{"x": 1, "y": 2}},
		Unset:    []string{"hide"},
		Inc:      map[string]float64{"visit": 1},
		AddToSet: map[string][]any{"editorUserIds": {"usr_b", "usr_c"}},
	}.Apply(d)
	require.NoError(t, err)

	assert.Equal(t, "home", d.String("name"))
	x, _ := d.Get("spawn.x")
	assert.Equal(t, float64(1), x)
	_, hasHide := d["hide"]
	assert.False(t, hasHide)
	assert.Equal(t, float64(1), d["visit"])
	assert.Equal(t, []any{"usr_b", "usr_c"}, d["editorUserIds"])

	require.NoError(t, store.Update{Inc: map[string]float64{"visit": 1}, Pull: map[string]any{"editorUserIds": "usr_b"}}.Apply(d))
	assert.Equal(t, float64(2), d["visit"])
	assert.Equal(t, []any{"usr_c"}, d["editorUserIds"])
}

func TestUpdateApplyRejects(t *testing.T) {
	err := store.Update{Set: map[string]any{"_id": "other"}}.Apply(store.Doc{"_id": "a"})
	require.ErrorIs(t, err, store.ErrBadUpdate)

	err = store.Update{Inc: map[string]float64{"name": 1}}.Apply(store.Doc{"_id": "a", "name": "x"})
	require.ErrorIs(t, err, store.ErrBadUpdate)

	err = store.Update{AddToSet: map[string][]any{"name": {"x"}}}.Apply(store.Doc{"_id": "a", "name": "x"})
	require.ErrorIs(t, err, store.ErrBadUpdate)
}

func TestStoreErrorsAreOops(t *testing.T) {
	err := store.Update{Inc: map[string]float64{"name": 1}}.Apply(store.Doc{"_id": "a", "name": "x"})
	_, ok := oops.AsOops(err)
	assert.True(t, ok)
	assert.Contains(t, err.Error(), "$inc non-numeric field name")

	var v struct{ N int }
	err = store.Decode(store.Doc{"N": "not a number"}, &v)
	require.Error(t, err)
	_, ok = oops.AsOops(err)
	assert.True(t, ok)
}

func TestSelectProjectsAndOrders(t *testing.T) {
	docs := []store.Doc{
		{"_id": "b", "name": "B", "secret": 1},
		{"_id": "a", "name": "A", "secret": 2},
		{"_id": "c", "name": "C", "template": true},
	}
	out := store.Select(docs, store.Selector{"template": map[string]any{"$exists": false}}, store.FindOptions{Fields: []string{"name"}})
	require.Len(t, out, 2)
	assert.Equal(t, store.Doc{"_id": "a", "name": "A"}, out[0])
	assert.Equal(t, store.Doc{"_id": "b", "name": "B"}, out[1])

	limited := store.Select(docs, store.Selector{}, store.FindOptions{Limit: 1})
	require.Len(t, limited, 1)
	assert.Equal(t, "a", limited[0].ID())
}

func TestDocCloneIsDeep(t *testing.T) {
	d := store.Doc{"_id": "a", "profile": map[string]any{"x": 1.0}, "tags": []any{"t"}}
	cp := d.Clone()
	cp.Set("profile.x", 2.0)
	cp["tags"].([]any)[0] = "u"

	x, _ := d.Get("profile.x")
	assert.Equal(t, 1.0, x)
	assert.Equal(t, "t", d["tags"].([]any)[0])
}
