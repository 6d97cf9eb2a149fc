package qe

import (
	"qsat/internal/expr"
)

// block is one segment of the hoisted prefix.
type block struct {
	forall bool
	vars   []expr.Expr
}

// hoister pulls the quantifier prefix out of a formula, renaming bound
// constants apart when they collide. The result is a prefix in source
// order and a quantifier-free matrix.
type hoister struct {
	m      *expr.Manager
	blocks []block
	seen   map[expr.Expr]bool
}

func newHoister(m *expr.Manager) *hoister {
	return &hoister{m: m, seen: make(map[expr.Expr]bool)}
}

func (h *hoister) hasQuantifier(e expr.Expr) bool {
	switch h.m.Kind(e) {
	case expr.KForall, expr.KExists:
		return true
	}
	for _, a := range h.m.Args(e) {
		if h.hasQuantifier(a) {
			return true
		}
	}
	return false
}

// hoist returns the matrix of e under the given polarity, extending
// h.blocks with the pulled prefix.
func (h *hoister) hoist(e expr.Expr, neg bool) expr.Expr {
	m := h.m
	switch m.Kind(e) {
	case expr.KNot:
		return h.hoist(m.Arg(e, 0), !neg)
	case expr.KAnd, expr.KOr:
		args := m.Args(e)
		out := make([]expr.Expr, len(args))
		for i, a := range args {
			out[i] = h.hoist(a, neg)
		}
		conj := m.Kind(e) == expr.KAnd
		if neg {
			conj = !conj
		}
		if conj {
			return m.And(out...)
		}
		return m.Or(out...)
	case expr.KImplies:
		a := h.hoist(m.Arg(e, 0), !neg)
		b := h.hoist(m.Arg(e, 1), neg)
		if neg {
			return m.And(a, b)
		}
		return m.Or(a, b)
	case expr.KIff:
		if h.hasQuantifier(e) {
			a, b := m.Arg(e, 0), m.Arg(e, 1)
			return h.hoist(m.And(m.Implies(a, b), m.Implies(b, a)), neg)
		}
	case expr.KIte:
		if m.Sort(e) == expr.SortBool && h.hasQuantifier(e) {
			c, t, f := m.Arg(e, 0), m.Arg(e, 1), m.Arg(e, 2)
			return h.hoist(m.And(m.Implies(c, t), m.Implies(m.Not(c), f)), neg)
		}
	case expr.KForall, expr.KExists:
		vars := append([]expr.Expr(nil), m.BoundVars(e)...)
		body := m.Body(e)
		sub := make(map[expr.Expr]expr.Expr)
		for i, v := range vars {
			if h.seen[v] {
				fresh := m.FreshConst(m.Name(v), m.Sort(v))
				sub[v] = fresh
				vars[i] = fresh
			}
			h.seen[vars[i]] = true
		}
		if len(sub) > 0 {
			body = m.Substitute(body, sub)
		}
		forall := m.Kind(e) == expr.KForall
		if neg {
			forall = !forall
		}
		h.blocks = append(h.blocks, block{forall: forall, vars: vars})
		return h.hoist(body, neg)
	}
	if neg {
		return m.Not(e)
	}
	return e
}

// hoistPrefix hoists fml into an alternating prefix and matrix. The
// first entry carries the free constants together with any leading
// existential block; a trailing empty block closes the prefix.
func hoistPrefix(m *expr.Manager, fml expr.Expr) (prefix [][]expr.Expr, matrix expr.Expr) {
	h := newHoister(m)
	matrix = h.hoist(fml, false)

	bound := make(map[expr.Expr]bool)
	for _, b := range h.blocks {
		for _, v := range b.vars {
			bound[v] = true
		}
	}
	free := m.Consts(matrix, bound)

	// Even blocks are existential, odd blocks universal; adjacent source
	// blocks of the same quantifier merge.
	prefix = append(prefix, append([]expr.Expr(nil), free...))
	for _, b := range h.blocks {
		if len(b.vars) == 0 {
			continue
		}
		last := len(prefix) - 1
		if b.forall == (last%2 == 1) {
			prefix[last] = append(prefix[last], b.vars...)
		} else {
			prefix = append(prefix, append([]expr.Expr(nil), b.vars...))
		}
	}
	prefix = append(prefix, nil)
	return prefix, matrix
}
