package pipeline

import (
	"sort"

	"github.com/l7mp/docpipe/pkg/fieldpath"
)

// Tracker collects the set of field paths the pipeline still needs during the
// tail-to-head dependency walk. The set is unbounded until a stage that fully
// defines its output (project, group) replaces it with a bounded set; only a
// bounded, authoritative tracker permits projection pushdown into the leading
// cursor.
type Tracker struct {
	paths            map[string]fieldpath.Path
	bounded          bool
	nonAuthoritative bool
}

func NewTracker() *Tracker {
	return &Tracker{paths: make(map[string]fieldpath.Path)}
}

// Add records a path some stage consumes.
func (t *Tracker) Add(p fieldpath.Path) {
	t.paths[p.String()] = p
}

// ReplaceBound installs a bounded dependency set: everything downstream of the
// calling stage is produced by it, so previously collected paths no longer
// name source fields.
func (t *Tracker) ReplaceBound(paths []fieldpath.Path) {
	t.paths = make(map[string]fieldpath.Path, len(paths))
	for _, p := range paths {
		t.Add(p)
	}
	t.bounded = true
}

// SetNonAuthoritative marks that some stage could not enumerate its
// dependencies; pushdown is suppressed.
func (t *Tracker) SetNonAuthoritative() { t.nonAuthoritative = true }

// Authoritative reports whether the collected set is a safe pushdown basis.
func (t *Tracker) Authoritative() bool { return t.bounded && !t.nonAuthoritative }

// NeedsID reports whether the id field survives in the dependency set.
func (t *Tracker) NeedsID() bool {
	for _, p := range t.paths {
		if p.Head() == "_id" {
			return true
		}
	}
	return false
}

// Paths returns the surviving dependency set, pruned (a path covered by a
// shorter recorded prefix is dropped) and sorted for determinism. The id
// field is reported through NeedsID instead.
func (t *Tracker) Paths() []fieldpath.Path {
	keys := make([]string, 0, len(t.paths))
	for k := range t.paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []fieldpath.Path
	for _, k := range keys {
		p := t.paths[k]
		if p.Head() == "_id" {
			continue
		}
		covered := false
		for _, q := range out {
			if p.HasPrefix(q) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, p)
		}
	}
	return out
}
