// Package sqlitestore persists store collections in a single SQLite file.
// Each collection is a table of JSON documents; selectors are evaluated in Go
// after an indexed pre-filter on _id or levelId.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/samber/oops"
	_ "modernc.org/sqlite"

	"levelverse.io/internal/store"
)

var tableName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

type Store struct {
	db *sql.DB

	mu     sync.Mutex
	tables map[string]bool
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, oops.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: every statement group is serialised, which is what
	// makes read-modify-write updates atomic per document.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db, tables: map[string]bool{}}
	for _, name := range store.Collections {
		if err := s.ensureTable(context.Background(), db, name); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

// ensureTable creates the table for a collection on first use. q must be the
// caller's transaction when one is open: the pool has a single connection.
func (s *Store) ensureTable(ctx context.Context, q querier, name string) error {
	if !tableName.MatchString(name) {
		return oops.Errorf("invalid collection name %q", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[name] {
		return nil
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			level_id TEXT,
			doc TEXT NOT NULL
		);`, name),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_level_id ON %s(level_id);`, name, name),
	}
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	s.tables[name] = true
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Collection(name string) store.Collection {
	return &collection{s: s, name: name}
}

// InTransaction runs fn against a view bound to one SQL transaction.
func (s *Store) InTransaction(ctx context.Context, fn func(store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return oops.Wrapf(err, "begin transaction")
	}
	if err := fn(txView{s: s, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return oops.Wrapf(err, "commit transaction")
	}
	return nil
}

type txView struct {
	s  *Store
	tx *sql.Tx
}

func (v txView) Collection(name string) store.Collection {
	return &collection{s: v.s, name: name, tx: v.tx}
}

type collection struct {
	s    *Store
	name string
	// tx is set when the collection belongs to a transactional view.
	tx *sql.Tx
}

// within runs fn on the view's transaction, or on a fresh one.
func (c *collection) within(ctx context.Context, fn func(q querier) error) error {
	if c.tx != nil {
		if err := c.s.ensureTable(ctx, c.tx, c.name); err != nil {
			return err
		}
		return fn(c.tx)
	}
	tx, err := c.s.db.BeginTx(ctx, nil)
	if err != nil {
		return oops.Wrapf(err, "begin %s", c.name)
	}
	defer func() { _ = tx.Rollback() }()
	if err := c.s.ensureTable(ctx, tx, c.name); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *collection) load(ctx context.Context, q querier, sel store.Selector) ([]store.Doc, error) {
	query := fmt.Sprintf(`SELECT doc FROM %s`, c.name)
	var (
		where []string
		args  []any
	)
	if id, ok := sel.EqualString(store.IDField); ok {
		where = append(where, "id = ?")
		args = append(args, id)
	}
	if levelID, ok := sel.EqualString("levelId"); ok {
		where = append(where, "level_id = ?")
		args = append(args, levelID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, oops.Wrapf(err, "query %s", c.name)
	}
	defer rows.Close()

	var out []store.Doc
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, oops.Wrapf(err, "scan %s", c.name)
		}
		var d store.Doc
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, oops.Wrapf(err, "decode %s row", c.name)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func levelIDColumn(d store.Doc) any {
	if v, ok := d["levelId"].(string); ok {
		return v
	}
	return nil
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
	raw, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	err = c.within(ctx, func(q querier) error {
		_, err := q.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s(id, level_id, doc) VALUES(?,?,?)`, c.name), id, levelIDColumn(d), string(raw))
		return err
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return "", store.ErrDuplicateID
		}
		return "", oops.Wrapf(err, "insert %s %s", c.name, id)
	}
	return id, nil
}

func (c *collection) Update(ctx context.Context, sel store.Selector, upd store.Update, opts store.UpdateOptions) (int, error) {
	n := 0
	err := c.within(ctx, func(q querier) error {
		docs, err := c.load(ctx, q, sel)
		if err != nil {
			return err
		}
		matches := store.Select(docs, sel, store.FindOptions{})
		if !opts.Multi && len(matches) > 1 {
			matches = matches[:1]
		}
		stmt := fmt.Sprintf(`UPDATE %s SET level_id = ?, doc = ? WHERE id = ?`, c.name)
		for _, d := range matches {
			if err := upd.Apply(d); err != nil {
				return err
			}
			raw, err := json.Marshal(d)
			if err != nil {
				return err
			}
			if _, err := q.ExecContext(ctx, stmt, levelIDColumn(d), string(raw), d.ID()); err != nil {
				return oops.Wrapf(err, "update %s %s", c.name, d.ID())
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (c *collection) Remove(ctx context.Context, sel store.Selector) (int, error) {
	n := 0
	err := c.within(ctx, func(q querier) error {
		docs, err := c.load(ctx, q, sel)
		if err != nil {
			return err
		}
		stmt := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, c.name)
		for _, d := range store.Select(docs, sel, store.FindOptions{}) {
			if _, err := q.ExecContext(ctx, stmt, d.ID()); err != nil {
				return oops.Wrapf(err, "remove %s %s", c.name, d.ID())
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (c *collection) Find(ctx context.Context, sel store.Selector, opts store.FindOptions) ([]store.Doc, error) {
	var out []store.Doc
	err := c.read(ctx, func(q querier) error {
		docs, err := c.load(ctx, q, sel)
		if err != nil {
			return err
		}
		out = store.Select(docs, sel, opts)
		return nil
	})
	return out, err
}

func (c *collection) read(ctx context.Context, fn func(q querier) error) error {
	var q querier = c.s.db
	if c.tx != nil {
		q = c.tx
	}
	if err := c.s.ensureTable(ctx, q, c.name); err != nil {
		return err
	}
	return fn(q)
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
	docs, err := c.Find(ctx, sel, store.FindOptions{})
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}
