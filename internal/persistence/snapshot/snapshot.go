// Package snapshot exports every store collection to one zstd-compressed
// file and restores it. The first line is a JSON header; each following line
// is one document tagged with its collection.
package snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/samber/oops"

	"levelverse.io/internal/store"
)

const Version = 1

type Header struct {
	Version     int            `json:"version"`
	CreatedAt   time.Time      `json:"created_at"`
	Collections map[string]int `json:"collections"`
}

type record struct {
	Collection string    `json:"c"`
	Doc        store.Doc `json:"doc"`
}

// Write dumps the given collections (store.Collections when nil) to path.
func Write(ctx context.Context, path string, st store.Store, collections []string) (Header, error) {
	if collections == nil {
		collections = store.Collections
	}
	h := Header{Version: Version, CreatedAt: time.Now().UTC(), Collections: map[string]int{}}

	docs := make(map[string][]store.Doc, len(collections))
	for _, name := range collections {
		found, err := st.Collection(name).Find(ctx, store.Selector{}, store.FindOptions{})
		if err != nil {
			return h, oops.Wrapf(err, "read %s", name)
		}
		docs[name] = found
		h.Collections[name] = len(found)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return h, err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return h, err
	}
	if err := encode(f, h, collections, docs); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return h, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return h, err
	}
	return h, os.Rename(tmp, path)
}

func encode(f *os.File, h Header, order []string, docs map[string][]store.Doc) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)
	je := json.NewEncoder(bw)
	if err := je.Encode(h); err != nil {
		return err
	}
	for _, name := range order {
		for _, d := range docs[name] {
			if err := je.Encode(record{Collection: name, Doc: d}); err != nil {
				return oops.Wrapf(err, "encode %s %s", name, d.ID())
			}
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

// ReadHeader returns the header of a snapshot without reading documents.
func ReadHeader(path string) (Header, error) {
	var h Header
	err := read(path, func(hdr Header) error {
		h = hdr
		return errStop
	}, nil)
	if errors.Is(err, errStop) {
		err = nil
	}
	return h, err
}

var errStop = errors.New("stop")

func read(path string, onHeader func(Header) error, onRecord func(record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	jd := json.NewDecoder(bufio.NewReaderSize(dec, 256*1024))
	var h Header
	if err := jd.Decode(&h); err != nil {
		return oops.Wrapf(err, "decode header")
	}
	if h.Version != Version {
		return oops.Errorf("unsupported snapshot version %d", h.Version)
	}
	if err := onHeader(h); err != nil {
		return err
	}
	for jd.More() {
		var r record
		if err := jd.Decode(&r); err != nil {
			return oops.Wrapf(err, "decode record")
		}
		if err := onRecord(r); err != nil {
			return err
		}
	}
	return nil
}

type RestoreResult struct {
	Header   Header
	Inserted map[string]int
	// Skipped counts documents whose id already existed.
	Skipped int
}

// Restore inserts every document of the snapshot into st, atomically when st
// supports transactions. Existing ids are left untouched.
func Restore(ctx context.Context, path string, st store.Store) (RestoreResult, error) {
	res := RestoreResult{Inserted: map[string]int{}}
	err := store.RunAtomic(ctx, st, true, func(tx store.Store) error {
		return read(path,
			func(h Header) error {
				res.Header = h
				return nil
			},
			func(r record) error {
				if r.Collection == "" || r.Doc.ID() == "" {
					return oops.Errorf("record without collection or id")
				}
				_, err := tx.Collection(r.Collection).Insert(ctx, r.Doc)
				if errors.Is(err, store.ErrDuplicateID) {
					res.Skipped++
					return nil
				}
				if err != nil {
					return oops.Wrapf(err, "insert %s %s", r.Collection, r.Doc.ID())
				}
				res.Inserted[r.Collection]++
				return nil
			})
	})
	return res, err
}
