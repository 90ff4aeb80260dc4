// Package fieldpath implements dotted field paths over ordered documents:
// navigation, prefix handling and the partial deep clone the unwind stage uses
// to replace a nested field while sharing every untouched subtree.
package fieldpath

import (
	"errors"
	"fmt"
	"strings"

	"github.com/l7mp/docpipe/pkg/value"
)

// Path is a non-empty sequence of field-name segments.
type Path []string

// Parse splits a dotted path. Empty paths and empty segments are rejected.
func Parse(s string) (Path, error) {
	if s == "" {
		return nil, errors.New("empty field path")
	}
	segments := strings.Split(s, ".")
	for _, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("empty segment in field path %q", s)
		}
	}
	return Path(segments), nil
}

// ParseRef parses a "$a.b.c" field reference.
func ParseRef(s string) (Path, error) {
	if !strings.HasPrefix(s, "$") {
		return nil, fmt.Errorf("field reference %q must start with '$'", s)
	}
	return Parse(s[1:])
}

// MustParse is Parse that panics. Test fixtures only.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Path) String() string { return strings.Join(p, ".") }

// Ref renders the path as a "$"-prefixed field reference.
func (p Path) Ref() string { return "$" + p.String() }

func (p Path) Head() string { return p[0] }
func (p Path) Tail() Path   { return p[1:] }

// Child extends the path by one segment, cloning the backing storage so the
// receiver stays valid.
func (p Path) Child(segment string) Path {
	child := make(Path, len(p), len(p)+1)
	copy(child, p)
	return append(child, segment)
}

// HasPrefix reports whether prefix is a (non-strict) leading subpath of p.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Get navigates the path through nested documents. Any absent hop, or a hop
// through a non-document value, yields Missing.
func (p Path) Get(d *value.Document) value.Value {
	cur := value.Doc(d)
	for _, seg := range p {
		doc, ok := cur.Document()
		if !ok {
			return value.Missing()
		}
		cur = doc.Get(seg)
	}
	return cur
}

// CloneWithValue produces a partial deep clone of d: every document along the
// path is copied fresh, the final field is replaced with v, and all subtrees
// off the path are shared with the input. The full path must resolve to an
// existing field of nested documents.
func (p Path) CloneWithValue(d *value.Document, v value.Value) (*value.Document, error) {
	if len(p) == 0 {
		return nil, errors.New("empty field path")
	}
	b := value.NewDocBuilder(d.Len())
	found := false
	for _, f := range d.Fields() {
		if f.Name != p.Head() {
			if err := b.Add(f.Name, f.Value); err != nil {
				return nil, err
			}
			continue
		}
		found = true
		if len(p) == 1 {
			if err := b.Add(f.Name, v); err != nil {
				return nil, err
			}
			continue
		}
		sub, ok := f.Value.Document()
		if !ok {
			return nil, fmt.Errorf("field %q along path %q is not a document",
				f.Name, p.String())
		}
		cloned, err := p.Tail().CloneWithValue(sub, v)
		if err != nil {
			return nil, err
		}
		if err := b.Add(f.Name, value.Doc(cloned)); err != nil {
			return nil, err
		}
	}
	if !found {
		return nil, fmt.Errorf("path %q not present in document", p.String())
	}
	return b.Build(), nil
}
