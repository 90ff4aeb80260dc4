package pipeline

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/l7mp/docpipe/pkg/expression"
	"github.com/l7mp/docpipe/pkg/fieldpath"
	"github.com/l7mp/docpipe/pkg/value"
)

const projectName = "project"

type directiveKind int

const (
	dirInclude directiveKind = iota
	dirExclude
	dirCompute
)

// directive is one ordered projection action over a field path.
type directive struct {
	kind directiveKind
	path fieldpath.Path
	expr expression.Expression
}

// Project reshapes documents with an ordered directive list: includes copy
// input subtrees, computes evaluate expressions, and a pure-exclusion
// projection passes everything but the named fields. The id field is included
// by default and removable with `_id: 0`.
type Project struct {
	streamStage
	directives    []directive
	excludeID     bool
	exclusionMode bool
	in            sourceIter
}

// NewProject parses a projection document into a stage.
func NewProject(arg value.Value, log logr.Logger) (*Project, error) {
	d, ok := arg.Document()
	if !ok || d.Len() == 0 {
		return nil, NewSpecError(arg.String(), fmt.Errorf("projection must be a non-empty document"))
	}

	p := &Project{streamStage: streamStage{baseStage: newBaseStage(projectName, log)}}
	sawInclude, sawExclude := false, false

	for _, f := range d.Fields() {
		path, err := fieldpath.Parse(f.Name)
		if err != nil {
			return nil, NewSpecError(arg.String(), err)
		}

		if f.Name == "_id" {
			if isExcludeFlag(f.Value) {
				p.excludeID = true
			}
			// `_id: 1` restates the default
			continue
		}

		switch {
		case isIncludeFlag(f.Value):
			sawInclude = true
			p.directives = append(p.directives, directive{kind: dirInclude, path: path})
		case isExcludeFlag(f.Value):
			sawExclude = true
			p.directives = append(p.directives, directive{kind: dirExclude, path: path})
		default:
			expr, err := expression.Parse(f.Value)
			if err != nil {
				return nil, NewSpecError(arg.String(), err)
			}
			sawInclude = true
			p.directives = append(p.directives, directive{kind: dirCompute, path: path, expr: expr})
		}
	}

	if sawInclude && sawExclude {
		return nil, NewSpecError(arg.String(), ErrInconsistentProjection)
	}
	p.exclusionMode = sawExclude

	p.in = sourceIter{owner: &p.baseStage}
	p.gen = p.next
	return p, nil
}

func isIncludeFlag(v value.Value) bool {
	if b, ok := v.Bool(); ok {
		return b
	}
	if i, ok := v.Int64(); ok {
		return i != 0
	}
	if f, ok := v.Double(); ok {
		return f != 0
	}
	return false
}

func isExcludeFlag(v value.Value) bool {
	if b, ok := v.Bool(); ok {
		return !b
	}
	if i, ok := v.Int64(); ok {
		return i == 0
	}
	if f, ok := v.Double(); ok {
		return f == 0
	}
	return false
}

// IsSimple reports whether the projection is include/exclude only, the form a
// cursor can apply natively.
func (p *Project) IsSimple() bool {
	for _, d := range p.directives {
		if d.kind == dirCompute {
			return false
		}
	}
	return true
}

func (p *Project) next() (*value.Document, error) {
	in, err := p.in.next()
	if err != nil || in == nil {
		return nil, err
	}
	if p.exclusionMode {
		return p.applyExclusion(in), nil
	}
	return p.applyInclusion(in)
}

func (p *Project) applyInclusion(in *value.Document) (*value.Document, error) {
	b := value.NewDocBuilder(len(p.directives) + 1)
	if !p.excludeID {
		_ = b.Add("_id", in.Get("_id"))
	}
	for _, d := range p.directives {
		switch d.kind {
		case dirInclude:
			if v := d.path.Get(in); !v.IsMissing() {
				setAtPath(b, d.path, v)
			}
		case dirCompute:
			v, err := d.expr.Evaluate(expression.EvalCtx{Doc: in, Log: p.log})
			if err != nil {
				return nil, NewStageError(projectName, err)
			}
			if !v.IsMissing() {
				setAtPath(b, d.path, v)
			}
		}
	}
	return b.Build(), nil
}

// setAtPath writes a value into the output under a possibly nested path,
// creating intermediate sub-documents on demand and merging with ones earlier
// directives produced.
func setAtPath(b *value.DocBuilder, p fieldpath.Path, v value.Value) {
	if len(p) == 1 {
		b.Set(p.Head(), v)
		return
	}
	sub := value.NewDocBuilder(1)
	if existing, ok := b.Peek(p.Head()).Document(); ok {
		for _, f := range existing.Fields() {
			sub.Set(f.Name, f.Value)
		}
	}
	setAtPath(sub, p.Tail(), v)
	b.Set(p.Head(), value.Doc(sub.Build()))
}

func (p *Project) applyExclusion(in *value.Document) *value.Document {
	paths := make([]fieldpath.Path, 0, len(p.directives))
	for _, d := range p.directives {
		paths = append(paths, d.path)
	}
	return excludePaths(in, paths, p.excludeID)
}

func excludePaths(d *value.Document, paths []fieldpath.Path, excludeID bool) *value.Document {
	b := value.NewDocBuilder(d.Len())
	for _, f := range d.Fields() {
		if excludeID && f.Name == "_id" {
			continue
		}
		exact, children := excludedUnder(paths, f.Name)
		if exact {
			continue
		}
		if len(children) > 0 {
			if sub, ok := f.Value.Document(); ok {
				_ = b.Add(f.Name, value.Doc(excludePaths(sub, children, false)))
				continue
			}
		}
		_ = b.Add(f.Name, f.Value)
	}
	return b.Build()
}

func excludedUnder(paths []fieldpath.Path, name string) (bool, []fieldpath.Path) {
	var children []fieldpath.Path
	for _, p := range paths {
		if p.Head() != name {
			continue
		}
		if len(p) == 1 {
			return true, nil
		}
		children = append(children, p.Tail())
	}
	return false, children
}

func (p *Project) Optimize() {
	for i := range p.directives {
		if p.directives[i].kind == dirCompute {
			p.directives[i].expr = p.directives[i].expr.Optimize()
		}
	}
}

// ManageDependencies bounds the tracker: everything downstream is produced by
// this projection, so the surviving source dependencies are exactly the
// projection's own inputs. A pure-exclusion projection passes unknown fields
// through and cannot bound the set.
func (p *Project) ManageDependencies(t *Tracker) {
	if p.exclusionMode {
		return
	}
	var deps []fieldpath.Path
	if !p.excludeID {
		deps = append(deps, fieldpath.Path{"_id"})
	}
	for _, d := range p.directives {
		switch d.kind {
		case dirInclude:
			deps = append(deps, d.path)
		case dirCompute:
			d.expr.AddDependencies(func(q fieldpath.Path) { deps = append(deps, q) })
		}
	}
	t.ReplaceBound(deps)
}

// survives reports whether a predicate over the given path reads the same
// values before and after this projection; used to decide whether a match
// stage may move upstream past it.
func (p *Project) survives(path fieldpath.Path) bool {
	if !p.IsSimple() {
		return false
	}
	if path.Head() == "_id" {
		return !p.excludeID
	}
	if p.exclusionMode {
		for _, d := range p.directives {
			if path.HasPrefix(d.path) || d.path.HasPrefix(path) {
				return false
			}
		}
		return true
	}
	for _, d := range p.directives {
		if path.HasPrefix(d.path) {
			return true
		}
	}
	return false
}

func (p *Project) ShardSource() Stage  { return p }
func (p *Project) RouterSource() Stage { return nil }

func (p *Project) Serialize(explain bool) *value.Document {
	b := value.NewDocBuilder(len(p.directives) + 1)
	if p.excludeID {
		_ = b.Add("_id", value.Int64(0))
	}
	for _, d := range p.directives {
		switch d.kind {
		case dirInclude:
			b.Set(d.path.String(), value.Int64(1))
		case dirExclude:
			b.Set(d.path.String(), value.Int64(0))
		case dirCompute:
			b.Set(d.path.String(), d.expr.Serialize())
		}
	}
	return serializeStage(projectName, value.Doc(b.Build()), explain, p.nOut)
}
