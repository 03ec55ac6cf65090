// Package memstore is an in-process store.Store used by tests and by the
// server's "memory" backend.
package memstore

import (
	"context"
	"sync"

	"levelverse.io/internal/store"
)

type Store struct {
	mu   sync.Mutex
	data map[string]map[string]store.Doc
}

func New() *Store {
	s := &Store{data: map[string]map[string]store.Doc{}}
	for _, name := range store.Collections {
		s.data[name] = map[string]store.Doc{}
	}
	return s
}

func (s *Store) Collection(name string) store.Collection {
	return &collection{s: s, name: name, lock: true}
}

// InTransaction holds the store lock for the whole of fn and restores a
// copy taken on entry if fn fails.
func (s *Store) InTransaction(ctx context.Context, fn func(store.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	backup := make(map[string]map[string]store.Doc, len(s.data))
	for name, docs := range s.data {
		cp := make(map[string]store.Doc, len(docs))
		for id, d := range docs {
			cp[id] = d.Clone()
		}
		backup[name] = cp
	}
	if err := fn(txView{s: s}); err != nil {
		s.data = backup
		return err
	}
	return nil
}

type txView struct{ s *Store }

func (v txView) Collection(name string) store.Collection {
	return &collection{s: v.s, name: name, lock: false}
}

type collection struct {
	s    *Store
	name string
	lock bool
}

func (c *collection) acquire() func() {
	if !c.lock {
		return func() {}
	}
	c.s.mu.Lock()
	return c.s.mu.Unlock
}

func (c *collection) docs() map[string]store.Doc {
	m, ok := c.s.data[c.name]
	if !ok {
		m = map[string]store.Doc{}
		c.s.data[c.name] = m
	}
	return m
}

func (c *collection) candidates(sel store.Selector) []store.Doc {
	docs := c.docs()
	if id, ok := sel.EqualString(store.IDField); ok {
		if d, ok := docs[id]; ok {
			return []store.Doc{d}
		}
		return nil
	}
	out := make([]store.Doc, 0, len(docs))
	for _, d := range docs {
		out = append(out, d)
	}
	return out
}

func (c *collection) Insert(ctx context.Context, doc store.Doc) (string, error) {
	d, err := store.Normalize(doc)
	if err != nil {
		return "", err
	}
	id := d.ID()
	if id == "" {
		return "", store.ErrMissingID
	}
	defer c.acquire()()
	docs := c.docs()
	if _, exists := docs[id]; exists {
		return "", store.ErrDuplicateID
	}
	docs[id] = d
	return id, nil
}

func (c *collection) Update(ctx context.Context, sel store.Selector, upd store.Update, opts store.UpdateOptions) (int, error) {
	defer c.acquire()()
	matches := store.Select(c.candidates(sel), sel, store.FindOptions{})
	if !opts.Multi && len(matches) > 1 {
		matches = matches[:1]
	}
	// Apply to copies first so a failing operator leaves nothing half-written.
	updated := make([]store.Doc, 0, len(matches))
	for _, d := range matches {
		cp := d.Clone()
		if err := upd.Apply(cp); err != nil {
			return 0, err
		}
		updated = append(updated, cp)
	}
	docs := c.docs()
	for _, d := range updated {
		docs[d.ID()] = d
	}
	return len(updated), nil
}

func (c *collection) Remove(ctx context.Context, sel store.Selector) (int, error) {
	defer c.acquire()()
	matches := store.Select(c.candidates(sel), sel, store.FindOptions{})
	docs := c.docs()
	for _, d := range matches {
		delete(docs, d.ID())
	}
	return len(matches), nil
}

func (c *collection) Find(ctx context.Context, sel store.Selector, opts store.FindOptions) ([]store.Doc, error) {
	defer c.acquire()()
	matches := store.Select(c.candidates(sel), sel, opts)
	out := make([]store.Doc, len(matches))
	for i, d := range matches {
		out[i] = d.Clone()
	}
	return out, nil
}

func (c *collection) FindOne(ctx context.Context, sel store.Selector, opts store.FindOptions) (store.Doc, error) {
	opts.Limit = 1
	docs, err := c.Find(ctx, sel, opts)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, store.ErrNotFound
	}
	return docs[0], nil
}

func (c *collection) Count(ctx context.Context, sel store.Selector) (int, error) {
	defer c.acquire()()
	return len(store.Select(c.candidates(sel), sel, store.FindOptions{})), nil
}
