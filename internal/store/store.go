// Package store defines the document-store protocol used by the level
// services: CRUD, filtered find and atomic field update operators over a
// handful of named collections.
package store

import (
	"context"
	"errors"
)

// Collection names.
const (
	Levels   = "levels"
	Zones    = "zones"
	Tiles    = "tiles"
	Entities = "entities"
	Users    = "users"
)

// Collections lists every collection a backend must provision up front.
var Collections = []string{Levels, Zones, Tiles, Entities, Users}

var (
	ErrNotFound    = errors.New("store: not found")
	ErrMissingID   = errors.New("store: document has no _id")
	ErrDuplicateID = errors.New("store: duplicate _id")
)

type FindOptions struct {
	// Fields restricts returned documents to _id plus these paths.
	Fields []string
	Limit  int
}

type UpdateOptions struct {
	// Multi applies the update to every match instead of the first one.
	Multi bool
}

type Collection interface {
	Insert(ctx context.Context, doc Doc) (string, error)
	// Update returns the number of documents modified.
	Update(ctx context.Context, sel Selector, upd Update, opts UpdateOptions) (int, error)
	// Remove returns the number of documents removed.
	Remove(ctx context.Context, sel Selector) (int, error)
	Find(ctx context.Context, sel Selector, opts FindOptions) ([]Doc, error)
	// FindOne returns ErrNotFound when nothing matches.
	FindOne(ctx context.Context, sel Selector, opts FindOptions) (Doc, error)
	Count(ctx context.Context, sel Selector) (int, error)
}

type Store interface {
	Collection(name string) Collection
}

// Transactor is implemented by stores that can run a group of mutations
// atomically. Any error returned by fn rolls back every mutation it made.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(Store) error) error
}

// RunAtomic runs fn inside a transaction when s supports one and atomic is
// set; otherwise fn runs directly against s.
func RunAtomic(ctx context.Context, s Store, atomic bool, fn func(Store) error) error {
	if tx, ok := s.(Transactor); ok && atomic {
		return tx.InTransaction(ctx, fn)
	}
	return fn(s)
}
