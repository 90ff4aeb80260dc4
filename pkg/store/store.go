// Package store is an embedded document collection store on top of bbolt. It
// supplies the two external collaborators the pipeline engine needs: forward
// cursors over stored documents (with projection pushdown) and writable sinks
// for the out stage. One bucket per collection; documents are stored as
// canonical JSON under monotonically allocated keys.
package store

import (
	"encoding/binary"
	"time"

	"github.com/go-logr/logr"
	bolt "go.etcd.io/bbolt"

	"github.com/l7mp/docpipe/pkg/value"
)

type Store struct {
	db  *bolt.DB
	log logr.Logger
}

// Open opens (or creates) the store file.
func Open(path string, log logr.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, NewStoreError("open", err)
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Insert appends documents to a collection, creating it on first use.
func (s *Store) Insert(collection string, docs ...*value.Document) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return err
		}
		for _, d := range docs {
			data, err := d.MarshalJSON()
			if err != nil {
				return err
			}
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			var key [8]byte
			binary.BigEndian.PutUint64(key[:], seq)
			if err := b.Put(key[:], data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return NewStoreError(collection, err)
	}
	s.log.V(4).Info("insert ready", "collection", collection, "count", len(docs))
	return nil
}

// Drop removes a collection if it exists.
func (s *Store) Drop(collection string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(collection)) == nil {
			return nil
		}
		return tx.DeleteBucket([]byte(collection))
	})
	if err != nil {
		return NewStoreError(collection, err)
	}
	return nil
}

// Find opens a cursor over a collection. The cursor holds a read transaction
// (the read lock) until it is closed; Close is the only early release.
func (s *Store) Find(collection string) (*Cursor, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, NewStoreError(collection, err)
	}
	c := newCursor(s, tx, collection)
	s.log.V(4).Info("cursor opened", "collection", collection, "cursor-id", c.ID())
	return c, nil
}

// Writer prepares a collection as an output sink, replacing previous content.
// Each written document goes to the store in its own transaction so writes
// land as documents flow.
func (s *Store) Writer(collection string) (*Writer, error) {
	if err := s.Drop(collection); err != nil {
		return nil, err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(collection))
		return err
	})
	if err != nil {
		return nil, NewStoreError(collection, err)
	}
	return &Writer{store: s, collection: collection}, nil
}

// Writer writes pipeline output documents into a collection.
type Writer struct {
	store      *Store
	collection string
	n          int
}

func (w *Writer) Write(doc *value.Document) error {
	if err := w.store.Insert(w.collection, doc); err != nil {
		return err
	}
	w.n++
	return nil
}

// Close finishes the sink; per-document transactions leave nothing to flush.
func (w *Writer) Close() error {
	w.store.log.V(2).Info("writer closed", "collection", w.collection, "written", w.n)
	return nil
}
