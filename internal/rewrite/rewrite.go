// Package rewrite runs the single pass that replaces matching method
// bodies in a parsed DEX file.
package rewrite

import (
	"context"
	"fmt"
	"strconv"

	"paccer/internal/catalog"
	"paccer/internal/dex"
	"paccer/internal/match"
	"paccer/internal/synth"
	"paccer/internal/trace"
)

// Match is one replaced method and the target that claimed it.
type Match struct {
	Method  dex.MethodID
	Static  bool
	Target  catalog.Target
	Pattern synth.Pattern
}

// Result summarizes a pass.
type Result struct {
	Record   Record
	Matches  []Match
	Visited  int
	Replaced int
}

// cancelEvery is how many visits pass between context checks.
const cancelEvery = 1024

type pass struct {
	ctx     context.Context
	tracer  trace.Tracer
	parent  uint64
	targets []catalog.Target
	synth   *synth.Synthesizer
	res     Result
	class   string
	inClass int
}

// Run visits every method implementation of f once and replaces the body
// of each method that satisfies one of spec's targets. The first target
// in spec order wins. f is modified in place; on error it may be
// partially rewritten.
func Run(ctx context.Context, f *dex.File, spec catalog.Spec) (Result, error) {
	p := &pass{
		ctx:     ctx,
		tracer:  trace.FromContext(ctx),
		parent:  trace.ParentID(ctx),
		targets: spec.Targets,
		synth:   synth.New(),
	}
	replaced, err := f.RewriteImplementations(p)
	p.flushClass()
	p.res.Replaced = replaced
	return p.res, err
}

func (p *pass) RewriteImplementation(id dex.MethodID, access uint32, code *dex.Code) (*dex.Code, error) {
	p.res.Visited++
	if p.res.Visited%cancelEvery == 0 {
		if err := p.ctx.Err(); err != nil {
			return nil, err
		}
	}
	if id.Class != p.class {
		p.flushClass()
		p.class = id.Class
	}
	i, ok := match.First(id, p.targets)
	if !ok {
		trace.Point(p.tracer, trace.ScopeMethod, "visit", id.String(), p.parent)
		return code, nil
	}
	t := p.targets[i]
	static := access&dex.AccStatic != 0
	repl, err := p.synth.Replacement(t.Pattern, id, static)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", t.Name, err)
	}
	p.res.Record.add(t.Name)
	p.res.Matches = append(p.res.Matches, Match{Method: id, Static: static, Target: t, Pattern: t.Pattern})
	p.inClass++
	trace.Point(p.tracer, trace.ScopeMethod, "replace", id.String()+" -> "+t.Pattern.String(), p.parent)
	return repl, nil
}

// flushClass emits one class-scope event for a class that had matches.
func (p *pass) flushClass() {
	if p.inClass > 0 {
		trace.Point(p.tracer, trace.ScopeClass, p.class, strconv.Itoa(p.inClass)+" replaced", p.parent)
	}
	p.inClass = 0
}
