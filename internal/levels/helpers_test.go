package levels

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"levelverse.io/internal/store"
	"levelverse.io/internal/store/memstore"
	"levelverse.io/internal/store/sqlitestore"
)

const defaultLevelID = "lvl_default"

var backends = map[string]func(t *testing.T) store.Store{
	"memory": func(t *testing.T) store.Store { return memstore.New() },
	"sqlite": func(t *testing.T) store.Store {
		s, err := sqlitestore.Open(filepath.Join(t.TempDir(), "levels.sqlite"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	},
}

type tracked struct {
	UserID string
	Event  string
	Props  map[string]any
}

type trackRecorder struct {
	mu     sync.Mutex
	events []tracked
}

func (r *trackRecorder) Track(userID, event string, props map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, tracked{UserID: userID, Event: event, Props: props})
}

type notifyRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (n *notifyRecorder) LevelChanged(ctx context.Context, levelID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, levelID)
}

type fixture struct {
	svc      *Service
	store    store.Store
	tracker  *trackRecorder
	notifier *notifyRecorder
}

func newFixture(t *testing.T, st store.Store) *fixture {
	t.Helper()
	f := &fixture{store: st, tracker: &trackRecorder{}, notifier: &notifyRecorder{}}
	f.svc = NewService(Config{DefaultLevelID: defaultLevelID, TransactionalCascades: true}, st, f.tracker, zerolog.Nop())
	f.svc.SetNotifier(f.notifier)
	f.insert(t, store.Levels, store.Doc{"_id": defaultLevelID, "name": "Lobby", "spawn": map[string]any{"x": 50, "y": 60}, "createdBy": "usr_admin"})
	return f
}

func (f *fixture) insert(t *testing.T, coll string, d store.Doc) {
	t.Helper()
	_, err := f.store.Collection(coll).Insert(context.Background(), d)
	require.NoError(t, err)
}

func (f *fixture) addUser(t *testing.T, id, name, levelID string) {
	t.Helper()
	profile := map[string]any{"name": name}
	if levelID != "" {
		profile["levelId"] = levelID
	}
	f.insert(t, store.Users, store.Doc{"_id": id, "username": id + "_login", "profile": profile})
}

func (f *fixture) find(t *testing.T, coll string, sel store.Selector) []store.Doc {
	t.Helper()
	docs, err := f.store.Collection(coll).Find(context.Background(), sel, store.FindOptions{})
	require.NoError(t, err)
	return docs
}

func (f *fixture) get(t *testing.T, coll, id string) store.Doc {
	t.Helper()
	d, err := f.store.Collection(coll).FindOne(context.Background(), store.ByID(id), store.FindOptions{})
	require.NoError(t, err)
	return d
}

// snapshot captures every collection for before/after comparisons.
func (f *fixture) snapshot(t *testing.T) map[string][]store.Doc {
	t.Helper()
	out := map[string][]store.Doc{}
	for _, c := range store.Collections {
		out[c] = f.find(t, c, store.Selector{})
	}
	return out
}

var errInjected = errors.New("injected failure")

// faultyStore fails every insert into one collection.
type faultyStore struct {
	*memstore.Store
	fail string
}

func (s faultyStore) Collection(name string) store.Collection {
	return wrapFaulty(s.Store.Collection(name), name == s.fail)
}

func (s faultyStore) InTransaction(ctx context.Context, fn func(store.Store) error) error {
	return s.Store.InTransaction(ctx, func(view store.Store) error {
		return fn(faultyView{view: view, fail: s.fail})
	})
}

type faultyView struct {
	view store.Store
	fail string
}

func (v faultyView) Collection(name string) store.Collection {
	return wrapFaulty(v.view.Collection(name), name == v.fail)
}

type faultyCollection struct {
	store.Collection
}

func wrapFaulty(c store.Collection, fail bool) store.Collection {
	if !fail {
		return c
	}
	return faultyCollection{c}
}

func (faultyCollection) Insert(context.Context, store.Doc) (string, error) {
	return "", errInjected
}

// nonTx hides the Transactor capability of a store.
type nonTx struct{ store.Store }

func zeroLogger() zerolog.Logger { return zerolog.Nop() }
