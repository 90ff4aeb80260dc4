package store

import (
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/l7mp/docpipe/pkg/fieldpath"
	"github.com/l7mp/docpipe/pkg/value"
)

// Cursor is a forward iterator over one collection. It pins a bbolt read
// transaction for its whole lifetime, so overlapping writers are isolated from
// it; Close rolls the transaction back and releases the lock.
type Cursor struct {
	id         uuid.UUID
	store      *Store
	tx         *bolt.Tx
	collection string
	cur        *bolt.Cursor
	started    bool
	closed     bool
	paths      []fieldpath.Path
	includeID  bool
	projecting bool
}

func newCursor(s *Store, tx *bolt.Tx, collection string) *Cursor {
	return &Cursor{id: uuid.New(), store: s, tx: tx, collection: collection}
}

// ID identifies the cursor in logs.
func (c *Cursor) ID() string { return c.id.String() }

// SetProjection restricts the fields the cursor materializes to the given
// paths; the id field is kept only when includeID is set. At most one
// projection may be pushed down.
func (c *Cursor) SetProjection(paths []fieldpath.Path, includeID bool) {
	c.paths = paths
	c.includeID = includeID
	c.projecting = true
}

// Next returns the next stored document, or ok=false at the end of the
// collection.
func (c *Cursor) Next() (*value.Document, bool, error) {
	if c.closed {
		return nil, false, nil
	}

	var k, v []byte
	if !c.started {
		c.started = true
		b := c.tx.Bucket([]byte(c.collection))
		if b == nil {
			return nil, false, nil
		}
		c.cur = b.Cursor()
		k, v = c.cur.First()
	} else {
		if c.cur == nil {
			return nil, false, nil
		}
		k, v = c.cur.Next()
	}
	if k == nil {
		return nil, false, nil
	}

	doc, err := value.ParseDocument(v)
	if err != nil {
		return nil, false, NewStoreError(c.collection, err)
	}
	if c.projecting {
		doc = retainPaths(doc, c.paths, c.includeID)
	}
	return doc, true, nil
}

// Close releases the read transaction. Idempotent.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.cur = nil
	c.store.log.V(4).Info("cursor closed", "collection", c.collection, "cursor-id", c.ID())
	return c.tx.Rollback()
}

// retainPaths keeps only the fields reachable along the projected paths,
// preserving the stored field order and sharing retained subtrees. The
// top-level _id is kept only when includeID is set; an _id field inside a
// retained sub-document is always kept.
func retainPaths(d *value.Document, paths []fieldpath.Path, includeID bool) *value.Document {
	b := value.NewDocBuilder(d.Len())
	for _, f := range d.Fields() {
		if f.Name == "_id" {
			if includeID {
				_ = b.Add(f.Name, f.Value)
			}
			continue
		}
		keep, children := pathsUnder(paths, f.Name)
		if !keep {
			continue
		}
		if len(children) == 0 {
			_ = b.Add(f.Name, f.Value)
			continue
		}
		if sub, ok := f.Value.Document(); ok {
			_ = b.Add(f.Name, value.Doc(retainPaths(sub, children, true)))
		} else {
			_ = b.Add(f.Name, f.Value)
		}
	}
	return b.Build()
}

// pathsUnder selects the paths rooted at the given field. A path ending at the
// field keeps the whole subtree, signalled by an empty child list.
func pathsUnder(paths []fieldpath.Path, name string) (bool, []fieldpath.Path) {
	keep := false
	var children []fieldpath.Path
	whole := false
	for _, p := range paths {
		if p.Head() != name {
			continue
		}
		keep = true
		if len(p) == 1 {
			whole = true
			continue
		}
		children = append(children, p.Tail())
	}
	if whole {
		return true, nil
	}
	return keep, children
}
