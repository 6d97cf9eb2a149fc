package rewrite

import (
	"sort"

	"qsat/internal/expr"
)

// Rewriter normalizes literals and formulas. It is idempotent and
// preserves theory semantics. Arithmetic atoms are flattened to the form
// t <= 0, t < 0 or t = 0 with sorted monomials; with gcd rounding
// enabled, integer inequalities are divided by the gcd of their
// coefficients and the constant is tightened.
type Rewriter struct {
	m           *expr.Manager
	gcdRounding bool
}

func NewRewriter(m *expr.Manager, gcdRounding bool) *Rewriter {
	return &Rewriter{m: m, gcdRounding: gcdRounding}
}

// linForm is a linear combination of opaque monomials plus a constant.
type linForm struct {
	coeffs map[expr.Expr]expr.Rat
	k      expr.Rat
	sort   expr.Sort
}

func newLin(s expr.Sort) *linForm {
	return &linForm{coeffs: make(map[expr.Expr]expr.Rat), k: expr.IntRat(0), sort: s}
}

func (lf *linForm) add(t expr.Expr, c expr.Rat) {
	if old, ok := lf.coeffs[t]; ok {
		c = c.Add(old)
	}
	if c.IsZero() {
		delete(lf.coeffs, t)
		return
	}
	lf.coeffs[t] = c
}

func (lf *linForm) monomials() []expr.Expr {
	ts := make([]expr.Expr, 0, len(lf.coeffs))
	for t := range lf.coeffs {
		ts = append(ts, t)
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
	return ts
}

func (rw *Rewriter) Rewrite(e expr.Expr) expr.Expr {
	m := rw.m
	switch m.Kind(e) {
	case expr.KTrue, expr.KFalse, expr.KNum, expr.KConst:
		return e
	case expr.KApp:
		args := make([]expr.Expr, len(m.Args(e)))
		for i, a := range m.Args(e) {
			args[i] = rw.Rewrite(a)
		}
		return m.App(m.Name(e), m.Sort(e), args...)
	case expr.KNot:
		return rw.rewriteNot(m.Arg(e, 0))
	case expr.KAnd:
		args := make([]expr.Expr, len(m.Args(e)))
		for i, a := range m.Args(e) {
			args[i] = rw.Rewrite(a)
		}
		return m.And(args...)
	case expr.KOr:
		args := make([]expr.Expr, len(m.Args(e)))
		for i, a := range m.Args(e) {
			args[i] = rw.Rewrite(a)
		}
		return m.Or(args...)
	case expr.KImplies:
		a := rw.Rewrite(m.Arg(e, 0))
		b := rw.Rewrite(m.Arg(e, 1))
		switch {
		case m.Kind(a) == expr.KFalse || m.Kind(b) == expr.KTrue:
			return m.True()
		case m.Kind(a) == expr.KTrue:
			return b
		case m.Kind(b) == expr.KFalse:
			return m.Not(a)
		}
		return m.Implies(a, b)
	case expr.KIff:
		a := rw.Rewrite(m.Arg(e, 0))
		b := rw.Rewrite(m.Arg(e, 1))
		switch {
		case m.Kind(a) == expr.KTrue:
			return b
		case m.Kind(b) == expr.KTrue:
			return a
		case m.Kind(a) == expr.KFalse:
			return m.Not(b)
		case m.Kind(b) == expr.KFalse:
			return m.Not(a)
		}
		return m.Iff(a, b)
	case expr.KIte:
		c := rw.Rewrite(m.Arg(e, 0))
		switch m.Kind(c) {
		case expr.KTrue:
			return rw.Rewrite(m.Arg(e, 1))
		case expr.KFalse:
			return rw.Rewrite(m.Arg(e, 2))
		}
		return m.Ite(c, rw.Rewrite(m.Arg(e, 1)), rw.Rewrite(m.Arg(e, 2)))
	case expr.KEq:
		return rw.rewriteEq(m.Arg(e, 0), m.Arg(e, 1))
	case expr.KLe, expr.KLt:
		return rw.rewriteCmp(m.Kind(e), m.Arg(e, 0), m.Arg(e, 1))
	case expr.KForall:
		return m.Forall(m.BoundVars(e), rw.Rewrite(m.Body(e)))
	case expr.KExists:
		return m.Exists(m.BoundVars(e), rw.Rewrite(m.Body(e)))
	}
	return e
}

func (rw *Rewriter) rewriteNot(e expr.Expr) expr.Expr {
	m := rw.m
	switch m.Kind(e) {
	case expr.KLe:
		// not (a <= b)  <=>  b < a
		return rw.rewriteCmp(expr.KLt, m.Arg(e, 1), m.Arg(e, 0))
	case expr.KLt:
		return rw.rewriteCmp(expr.KLe, m.Arg(e, 1), m.Arg(e, 0))
	}
	return m.Not(rw.Rewrite(e))
}

func (rw *Rewriter) rewriteEq(a, b expr.Expr) expr.Expr {
	m := rw.m
	if m.Sort(a) == expr.SortBool {
		return rw.Rewrite(m.Iff(a, b))
	}
	if !m.Sort(a).IsArith() {
		a, b = rw.Rewrite(a), rw.Rewrite(b)
		if a == b {
			return m.True()
		}
		if a > b {
			a, b = b, a
		}
		return m.Eq(a, b)
	}
	// Divisibility: (t mod k) = v.
	if d, t, v, ok := rw.matchModEq(a, b); ok {
		return rw.rewriteDivides(d, t, v)
	}
	return rw.rewriteCmp(expr.KEq, a, b)
}

func (rw *Rewriter) matchModEq(a, b expr.Expr) (expr.Rat, expr.Expr, expr.Rat, bool) {
	m := rw.m
	if m.Kind(a) == expr.KNum {
		a, b = b, a
	}
	if m.Kind(a) != expr.KMod || m.Kind(b) != expr.KNum {
		return expr.Rat{}, expr.Nil, expr.Rat{}, false
	}
	k, ok := m.IsNum(m.Arg(a, 1))
	if !ok || !k.IsPos() || !k.IsInt() {
		return expr.Rat{}, expr.Nil, expr.Rat{}, false
	}
	return k, m.Arg(a, 0), m.Num(b), true
}

// rewriteDivides normalizes (t mod d) = v into a canonical divisibility
// literal d | (t - v), reducing coefficients modulo d.
func (rw *Rewriter) rewriteDivides(d expr.Rat, t expr.Expr, v expr.Rat) expr.Expr {
	m := rw.m
	if v.IsNeg() || v.Cmp(d) >= 0 || !v.IsInt() {
		return m.False()
	}
	lf := newLin(expr.SortInt)
	rw.linearize(t, expr.IntRat(1), lf)
	lf.k = lf.k.Sub(v)
	// Reduce modulo the divisor.
	for _, mono := range lf.monomials() {
		lf.coeffs[mono] = lf.coeffs[mono].Mod(d)
		if lf.coeffs[mono].IsZero() {
			delete(lf.coeffs, mono)
		}
	}
	lf.k = lf.k.Mod(d)
	if len(lf.coeffs) == 0 {
		return m.Bool(lf.k.IsZero())
	}
	if d.IsOne() {
		return m.True()
	}
	// Divide out the common factor shared with the divisor.
	g := d
	for _, mono := range lf.monomials() {
		g = g.Gcd(lf.coeffs[mono])
	}
	if !g.IsOne() {
		if !lf.k.Mod(g).IsZero() {
			return m.False()
		}
		for _, mono := range lf.monomials() {
			lf.coeffs[mono] = lf.coeffs[mono].Div(g)
		}
		lf.k = lf.k.Div(g)
		d = d.Div(g)
		if d.IsOne() {
			return m.True()
		}
	}
	return m.Eq(m.Mod(rw.buildTerm(lf), m.NumRat(d, expr.SortInt)), m.IntNum(0))
}

func (rw *Rewriter) rewriteCmp(kind expr.Kind, a, b expr.Expr) expr.Expr {
	m := rw.m
	lf := newLin(m.Sort(a))
	rw.linearize(a, expr.IntRat(1), lf)
	rw.linearize(b, expr.IntRat(-1), lf)
	if len(lf.coeffs) == 0 {
		switch kind {
		case expr.KLe:
			return m.Bool(!lf.k.IsPos())
		case expr.KLt:
			return m.Bool(lf.k.IsNeg())
		default:
			return m.Bool(lf.k.IsZero())
		}
	}
	isInt := lf.sort == expr.SortInt
	if isInt && kind == expr.KLt {
		// t < 0  <=>  t + 1 <= 0 on integers.
		lf.k = lf.k.Add(expr.IntRat(1))
		kind = expr.KLe
	}
	monos := lf.monomials()
	if isInt && rw.gcdRounding {
		g := expr.IntRat(0)
		for _, mono := range monos {
			g = g.Gcd(lf.coeffs[mono])
		}
		if !g.IsOne() && !g.IsZero() {
			if kind == expr.KEq && !lf.k.Mod(g).IsZero() {
				return m.False()
			}
			for _, mono := range monos {
				lf.coeffs[mono] = lf.coeffs[mono].Div(g)
			}
			if kind == expr.KEq {
				lf.k = lf.k.Div(g)
			} else {
				lf.k = lf.k.Div(g).Ceil()
			}
		}
	}
	if !isInt {
		// Scale so the first monomial has unit coefficient magnitude.
		s := lf.coeffs[monos[0]].Abs()
		if !s.IsOne() {
			for _, mono := range monos {
				lf.coeffs[mono] = lf.coeffs[mono].Div(s)
			}
			lf.k = lf.k.Div(s)
		}
	}
	if kind == expr.KEq && lf.coeffs[monos[0]].IsNeg() {
		for _, mono := range monos {
			lf.coeffs[mono] = lf.coeffs[mono].Neg()
		}
		lf.k = lf.k.Neg()
	}
	t := rw.buildTerm(lf)
	z := m.NumRat(expr.IntRat(0), lf.sort)
	switch kind {
	case expr.KLe:
		return m.Le(t, z)
	case expr.KLt:
		return m.Lt(t, z)
	default:
		return m.Eq(t, z)
	}
}

// linearize folds mul*e into lf.
func (rw *Rewriter) linearize(e expr.Expr, mul expr.Rat, lf *linForm) {
	m := rw.m
	switch m.Kind(e) {
	case expr.KNum:
		lf.k = lf.k.Add(mul.Mul(m.Num(e)))
	case expr.KAdd:
		for _, a := range m.Args(e) {
			rw.linearize(a, mul, lf)
		}
	case expr.KSub:
		rw.linearize(m.Arg(e, 0), mul, lf)
		rw.linearize(m.Arg(e, 1), mul.Neg(), lf)
	case expr.KNeg:
		rw.linearize(m.Arg(e, 0), mul.Neg(), lf)
	case expr.KMul:
		c := expr.IntRat(1)
		var rest []expr.Expr
		for _, a := range m.Args(e) {
			if r, ok := m.IsNum(a); ok {
				c = c.Mul(r)
			} else {
				rest = append(rest, a)
			}
		}
		switch len(rest) {
		case 0:
			lf.k = lf.k.Add(mul.Mul(c))
		case 1:
			rw.linearize(rest[0], mul.Mul(c), lf)
		default:
			// Nonlinear monomial; keep it opaque.
			lf.add(e, mul)
		}
	case expr.KMod:
		rw.linearizeMod(e, mul, lf)
	default:
		lf.add(e, mul)
	}
}

func (rw *Rewriter) linearizeMod(e expr.Expr, mul expr.Rat, lf *linForm) {
	m := rw.m
	k, ok := m.IsNum(m.Arg(e, 1))
	if !ok || !k.IsPos() || !k.IsInt() {
		lf.add(e, mul)
		return
	}
	inner := newLin(expr.SortInt)
	rw.linearize(m.Arg(e, 0), expr.IntRat(1), inner)
	for _, mono := range inner.monomials() {
		inner.coeffs[mono] = inner.coeffs[mono].Mod(k)
		if inner.coeffs[mono].IsZero() {
			delete(inner.coeffs, mono)
		}
	}
	inner.k = inner.k.Mod(k)
	if len(inner.coeffs) == 0 {
		lf.k = lf.k.Add(mul.Mul(inner.k))
		return
	}
	lf.add(m.Mod(rw.buildTerm(inner), m.NumRat(k, expr.SortInt)), mul)
}

func (rw *Rewriter) buildTerm(lf *linForm) expr.Expr {
	m := rw.m
	monos := lf.monomials()
	parts := make([]expr.Expr, 0, len(monos)+1)
	for _, mono := range monos {
		parts = append(parts, m.Mul(lf.coeffs[mono], mono))
	}
	if !lf.k.IsZero() || len(parts) == 0 {
		parts = append(parts, m.NumRat(lf.k, lf.sort))
	}
	return m.Add(parts...)
}
