package revset

import (
	"context"

	"github.com/antgroup/mergevcs/index"
)

// Walk is revset's lazy position sequence: like index.RevWalk, but with an
// error-returning Next so that a failed store read (needed by Filter and
// Latest) can surface through the walk instead of panicking mid-iteration
// (spec.md §4.D, "Lazy set nodes").
type Walk interface {
	Next(ctx context.Context) (index.Position, bool, error)
	Clone() Walk
}

// eagerWalk replays a precomputed, strictly-descending position slice.
// Used by every node that must fully materialize its operand before it can
// answer (Heads, Roots, Latest) or that starts from a literal set (Commits).
type eagerWalk struct {
	positions []index.Position
	i         int
}

func (w *eagerWalk) Next(ctx context.Context) (index.Position, bool, error) {
	if w.i >= len(w.positions) {
		return 0, false, nil
	}
	p := w.positions[w.i]
	w.i++
	return p, true, nil
}

func (w *eagerWalk) Clone() Walk {
	return &eagerWalk{positions: w.positions, i: w.i}
}

// indexWalk adapts an index.RevWalk (infallible Next) into a Walk.
type indexWalk struct{ w index.RevWalk }

func adapt(w index.RevWalk) Walk { return &indexWalk{w: w} }

func (a *indexWalk) Next(ctx context.Context) (index.Position, bool, error) {
	p, ok := a.w.Next()
	return p, ok, nil
}

func (a *indexWalk) Clone() Walk { return &indexWalk{w: a.w.Clone()} }

// peek lets the sort-merge combinators look at a walk's next element
// without consuming it.
type peek struct {
	w    Walk
	buf  index.Position
	has  bool
}

func newPeek(w Walk) *peek { return &peek{w: w} }

func (p *peek) peekv(ctx context.Context) (index.Position, bool, error) {
	if !p.has {
		v, ok, err := p.w.Next(ctx)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			return 0, false, nil
		}
		p.buf, p.has = v, true
	}
	return p.buf, true, nil
}

func (p *peek) pop(ctx context.Context) (index.Position, bool, error) {
	v, ok, err := p.peekv(ctx)
	if err != nil || !ok {
		return v, ok, err
	}
	p.has = false
	return v, true, nil
}

func (p *peek) clone() *peek {
	return &peek{w: p.w.Clone(), buf: p.buf, has: p.has}
}

// unionWalk merges two strictly-descending walks, emitting shared positions
// once (spec.md §4.D "Union keeps the strictly-greater element; on a tie,
// advance both and emit once").
type unionWalk struct{ a, b *peek }

func (u *unionWalk) Next(ctx context.Context) (index.Position, bool, error) {
	pa, hasA, err := u.a.peekv(ctx)
	if err != nil {
		return 0, false, err
	}
	pb, hasB, err := u.b.peekv(ctx)
	if err != nil {
		return 0, false, err
	}
	switch {
	case !hasA && !hasB:
		return 0, false, nil
	case !hasB || (hasA && pa > pb):
		u.a.pop(ctx)
		return pa, true, nil
	case !hasA || (hasB && pb > pa):
		u.b.pop(ctx)
		return pb, true, nil
	default:
		u.a.pop(ctx)
		u.b.pop(ctx)
		return pa, true, nil
	}
}

func (u *unionWalk) Clone() Walk { return &unionWalk{a: u.a.clone(), b: u.b.clone()} }

// intersectionWalk advances whichever side is ahead until both agree
// (spec.md §4.D "Intersection advances both sides while the heads differ,
// emitting only on equality").
type intersectionWalk struct{ a, b *peek }

func (x *intersectionWalk) Next(ctx context.Context) (index.Position, bool, error) {
	for {
		pa, hasA, err := x.a.peekv(ctx)
		if err != nil {
			return 0, false, err
		}
		if !hasA {
			return 0, false, nil
		}
		pb, hasB, err := x.b.peekv(ctx)
		if err != nil {
			return 0, false, err
		}
		if !hasB {
			return 0, false, nil
		}
		switch {
		case pa == pb:
			x.a.pop(ctx)
			x.b.pop(ctx)
			return pa, true, nil
		case pa > pb:
			x.a.pop(ctx)
		default:
			x.b.pop(ctx)
		}
	}
}

func (x *intersectionWalk) Clone() Walk { return &intersectionWalk{a: x.a.clone(), b: x.b.clone()} }

// differenceWalk emits a's elements that b does not contain, advancing b
// past a's current head before deciding (spec.md §4.D "Difference advances
// walk2 past walk1's head, emitting walk1 when strictly greater").
type differenceWalk struct{ a, b *peek }

func (d *differenceWalk) Next(ctx context.Context) (index.Position, bool, error) {
	for {
		pa, hasA, err := d.a.peekv(ctx)
		if err != nil {
			return 0, false, err
		}
		if !hasA {
			return 0, false, nil
		}
		pb, hasB, err := d.b.peekv(ctx)
		if err != nil {
			return 0, false, err
		}
		if !hasB || pa > pb {
			d.a.pop(ctx)
			return pa, true, nil
		}
		if pa == pb {
			d.a.pop(ctx)
			d.b.pop(ctx)
			continue
		}
		d.b.pop(ctx)
	}
}

func (d *differenceWalk) Clone() Walk { return &differenceWalk{a: d.a.clone(), b: d.b.clone()} }

// filterWalk re-evaluates pred against each element of inner on demand as
// the walk is consumed, per spec.md §4.D's on-demand filter evaluation
// contract (no eager materialization, so a caller that only peeks the first
// few elements only pays for those).
type filterWalk struct {
	inner Walk
	pred  FilterPredicate
	env   *env
}

func (f *filterWalk) Next(ctx context.Context) (index.Position, bool, error) {
	for {
		p, ok, err := f.inner.Next(ctx)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			return 0, false, nil
		}
		matched, err := f.pred.matches(ctx, f.env, p)
		if err != nil {
			return 0, false, err
		}
		if matched {
			return p, true, nil
		}
	}
}

func (f *filterWalk) Clone() Walk {
	return &filterWalk{inner: f.inner.Clone(), pred: f.pred, env: f.env}
}
