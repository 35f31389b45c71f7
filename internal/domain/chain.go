package domain

import (
	"strconv"

	m "gooze.dev/pkg/schemata/internal/model"
)

type emitFunc func(w *lineWriter)

// foldChain builds "if c1 {b1} else if c2 {b2} ... else {otherwise}" by
// folding the branches from the right. conds and bodies have equal length.
func foldChain(conds []string, bodies []emitFunc, otherwise emitFunc) emitFunc {
	acc := func(w *lineWriter) {
		w.synthetic("{")
		otherwise(w)
		w.synthetic("}")
	}

	for i := len(conds) - 1; i >= 0; i-- {
		cond, body, rest := conds[i], bodies[i], acc

		acc = func(w *lineWriter) {
			w.synthetic("if " + cond + " {")
			body(w)
			w.synthetic("} else ")
			rest(w)
		}
	}

	return acc
}

func activationCond(id string) string {
	return importAlias + ".Getenv(" + strconv.Quote(ActivationEnv) + ") == " + strconv.Quote(id)
}

// renderer emits a file with every instrumented block replaced by its chain.
// Blocks are sorted by start offset and properly nested.
type renderer struct {
	w      *lineWriter
	blocks []m.BlockHandle
	chains map[m.BlockHandle][]m.MutationSite
	lines  map[string]int
}

// region writes src[lo:hi], replacing instrumented blocks by their chains
// and applying edit when it falls inside the region. A block covered by the
// edit is written as the edit's text.
func (r *renderer) region(lo, hi int, edit *m.MutationSite) {
	cur := lo

	for _, child := range r.children(lo, hi) {
		if edit != nil && edit.Start <= child.Start && child.End < edit.End {
			continue
		}

		r.plain(cur, child.Start, edit)
		r.block(child)
		cur = child.End + 1
	}

	r.plain(cur, hi, edit)
}

func (r *renderer) plain(a, b int, edit *m.MutationSite) {
	if edit == nil || edit.Start < a || edit.End > b || a >= b {
		r.w.copy(a, b)
		return
	}

	r.w.copy(a, edit.Start)
	r.lines[edit.ID] = r.w.line()
	r.w.synthetic(edit.Mutated)
	r.w.copy(edit.End, b)
}

func (r *renderer) block(b m.BlockHandle) {
	sites := r.chains[b]
	conds := make([]string, 0, len(sites))
	bodies := make([]emitFunc, 0, len(sites))

	for _, site := range sites {
		conds = append(conds, activationCond(site.ID))
		bodies = append(bodies, func(*lineWriter) {
			r.region(b.Start+1, b.End, &site)
		})
	}

	r.w.copy(b.Start, b.Start+1)
	foldChain(conds, bodies, func(*lineWriter) {
		r.region(b.Start+1, b.End, nil)
	})(r.w)
	r.w.copy(b.End, b.End+1)
}

// children returns the outermost instrumented blocks inside [lo, hi).
func (r *renderer) children(lo, hi int) []m.BlockHandle {
	var out []m.BlockHandle

	for _, b := range r.blocks {
		if b.Start < lo || b.End >= hi {
			continue
		}

		if len(out) > 0 && out[len(out)-1].Contains(b) {
			continue
		}

		out = append(out, b)
	}

	return out
}
