package qe

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"qsat/internal/expr"
	"qsat/internal/model"
	"qsat/internal/rewrite"
)

// errCantProject signals that a literal is outside the linear fragment
// for the current variable. The driver recovers by retaining the
// variable.
var errCantProject = errors.New("cannot project variable")

// Projector eliminates arithmetic variables from conjunctions of
// literals, guided by a model. The emitted conjunction is satisfied by
// the model and entailed by the existential closure of the input.
type Projector struct {
	m  *expr.Manager
	rw *rewrite.Rewriter
}

func NewProjector(m *expr.Manager) *Projector {
	return &Projector{m: m, rw: rewrite.NewRewriter(m, true)}
}

// Project eliminates vars from lits one variable at a time. Variables
// whose literals fall outside the linear fragment are returned as
// retained. The model is extended in place when a divisibility
// substitution reinterprets a variable.
func (p *Projector) Project(mdl *model.Model, vars []expr.Expr, lits []expr.Expr) (retained []expr.Expr, out []expr.Expr) {
	out = append([]expr.Expr(nil), lits...)
	for _, v := range vars {
		if !p.m.Sort(v).IsArith() {
			retained = append(retained, v)
			continue
		}
		vp := &varProjector{m: p.m, rw: p.rw, mdl: mdl, x: v, isInt: p.m.Sort(v) == expr.SortInt}
		res, err := vp.project(out)
		if err != nil {
			log.Debugf("project: retaining %s: %v", p.m.Name(v), err)
			retained = append(retained, v)
			continue
		}
		out = res
	}
	return retained, out
}

type varProjector struct {
	m     *expr.Manager
	rw    *rewrite.Rewriter
	mdl   *model.Model
	x     expr.Expr
	isInt bool

	ineqCoeffs []expr.Rat
	ineqTerms  []expr.Expr
	ineqStrict []bool
	divCoeffs  []expr.Rat
	divTerms   []expr.Expr
	divisors   []expr.Rat
	newLits    []expr.Expr
	delta      expr.Rat
	u          expr.Rat
}

func (vp *varProjector) num(r expr.Rat) expr.Expr {
	return vp.m.NumRat(r, vp.m.Sort(vp.x))
}

func (vp *varProjector) sum(ts []expr.Expr) expr.Expr {
	if len(ts) == 0 {
		return vp.num(expr.IntRat(0))
	}
	return vp.m.Add(ts...)
}

// isLinearTerm accumulates mul*t into the coefficient of x and the
// x-free parts.
func (vp *varProjector) isLinearTerm(mul expr.Rat, t expr.Expr, c *expr.Rat, ts *[]expr.Expr) error {
	m := vp.m
	if t == vp.x {
		*c = c.Add(mul)
		return nil
	}
	switch m.Kind(t) {
	case expr.KMul:
		coeff := expr.IntRat(1)
		var rest []expr.Expr
		for _, a := range m.Args(t) {
			if r, ok := m.IsNum(a); ok {
				coeff = coeff.Mul(r)
			} else {
				rest = append(rest, a)
			}
		}
		if len(rest) == 1 {
			return vp.isLinearTerm(mul.Mul(coeff), rest[0], c, ts)
		}
		if len(rest) == 0 {
			*ts = append(*ts, vp.num(mul.Mul(coeff)))
			return nil
		}
	case expr.KAdd:
		for _, a := range m.Args(t) {
			if err := vp.isLinearTerm(mul, a, c, ts); err != nil {
				return err
			}
		}
		return nil
	case expr.KSub:
		if err := vp.isLinearTerm(mul, m.Arg(t, 0), c, ts); err != nil {
			return err
		}
		return vp.isLinearTerm(mul.Neg(), m.Arg(t, 1), c, ts)
	case expr.KNeg:
		return vp.isLinearTerm(mul.Neg(), m.Arg(t, 0), c, ts)
	case expr.KNum:
		*ts = append(*ts, vp.num(mul.Mul(m.Num(t))))
		return nil
	case expr.KMod:
		val, handled, err := vp.extractMod(t)
		if err != nil {
			return err
		}
		if handled {
			*ts = append(*ts, m.Mul(mul, val))
			return nil
		}
	}
	if m.Contains(t, vp.x) {
		return errors.Wrapf(errCantProject, "nonlinear occurrence in %s", m.String(t))
	}
	*ts = append(*ts, m.Mul(mul, t))
	return nil
}

// extractMod handles an occurrence of (a*x + s) mod k under the model:
// the occurrence is replaced by its value, and a divisibility side
// condition is recorded when x actually occurs.
func (vp *varProjector) extractMod(t expr.Expr) (expr.Expr, bool, error) {
	m := vp.m
	k, ok := m.IsNum(m.Arg(t, 1))
	if !ok || !m.Contains(m.Arg(t, 0), vp.x) {
		return expr.Nil, false, nil
	}
	if !k.IsPos() || !k.IsInt() {
		return expr.Nil, false, errors.Wrapf(errCantProject, "mod with divisor %s", m.String(m.Arg(t, 1)))
	}
	c := expr.IntRat(0)
	var ts []expr.Expr
	if err := vp.isLinearTerm(expr.IntRat(1), m.Arg(t, 0), &c, &ts); err != nil {
		return expr.Nil, false, err
	}
	val, err := vp.mdl.Eval(t)
	if err != nil {
		return expr.Nil, false, errors.Wrap(errCantProject, err.Error())
	}
	inner := vp.sum(ts)
	if !c.IsZero() {
		vp.divTerms = append(vp.divTerms, m.Sub(inner, val))
		vp.divisors = append(vp.divisors, k)
		vp.divCoeffs = append(vp.divCoeffs, c)
	} else {
		vp.addLit(&vp.newLits, m.Eq(m.Mod(inner, m.Arg(t, 1)), val))
	}
	return val, true, nil
}

// isLinearLit classifies a literal over x as c*x + t ~ 0.
func (vp *varProjector) isLinearLit(lit expr.Expr) (c expr.Rat, t expr.Expr, strict, isEq bool, err error) {
	m := vp.m
	c = expr.IntRat(0)
	mul := expr.IntRat(1)
	isNot := false
	if m.Kind(lit) == expr.KNot {
		isNot = true
		mul = mul.Neg()
		lit = m.Arg(lit, 0)
	}
	var ts []expr.Expr
	switch m.Kind(lit) {
	case expr.KLe:
		if err = vp.isLinearTerm(mul, m.Arg(lit, 0), &c, &ts); err != nil {
			return
		}
		if err = vp.isLinearTerm(mul.Neg(), m.Arg(lit, 1), &c, &ts); err != nil {
			return
		}
		strict = isNot
	case expr.KLt:
		if err = vp.isLinearTerm(mul, m.Arg(lit, 0), &c, &ts); err != nil {
			return
		}
		if err = vp.isLinearTerm(mul.Neg(), m.Arg(lit, 1), &c, &ts); err != nil {
			return
		}
		strict = !isNot
	case expr.KEq:
		e1, e2 := m.Arg(lit, 0), m.Arg(lit, 1)
		if !m.Sort(e1).IsArith() {
			err = errors.Wrapf(errCantProject, "equality over %s", m.SortName(m.Sort(e1)))
			return
		}
		if !isNot {
			if err = vp.isLinearTerm(mul, e1, &c, &ts); err != nil {
				return
			}
			if err = vp.isLinearTerm(mul.Neg(), e2, &c, &ts); err != nil {
				return
			}
			isEq = true
		} else {
			// Pick the strict direction satisfied by the model.
			var r1, r2 expr.Rat
			if r1, err = vp.mdl.RatValue(e1); err != nil {
				err = errors.Wrap(errCantProject, err.Error())
				return
			}
			if r2, err = vp.mdl.RatValue(e2); err != nil {
				err = errors.Wrap(errCantProject, err.Error())
				return
			}
			if r1.Cmp(r2) < 0 {
				e1, e2 = e2, e1
			}
			strict = true
			if err = vp.isLinearTerm(mul, e1, &c, &ts); err != nil {
				return
			}
			if err = vp.isLinearTerm(mul.Neg(), e2, &c, &ts); err != nil {
				return
			}
		}
	default:
		err = errors.Wrapf(errCantProject, "unsupported literal %s", m.String(lit))
		return
	}
	if strict && vp.isInt {
		ts = append(ts, vp.num(expr.IntRat(1)))
		strict = false
	}
	t = vp.sum(ts)
	if isEq && c.IsNeg() {
		t = m.Neg(t)
		c = c.Neg()
	}
	return
}

// addLit rewrites e, checks it still holds in the model, and appends it
// unless trivially true.
func (vp *varProjector) addLit(dst *[]expr.Expr, e expr.Expr) {
	if !vp.mdl.IsTrue(e) {
		panic("projection emitted a literal that is false under the model: " + vp.m.String(e))
	}
	r := vp.rw.Rewrite(e)
	if vp.m.Kind(r) == expr.KTrue {
		return
	}
	*dst = append(*dst, r)
}

func (vp *varProjector) project(lits []expr.Expr) ([]expr.Expr, error) {
	m := vp.m
	vp.delta = expr.IntRat(1)
	vp.u = expr.IntRat(0)
	numPos, numNeg, eqIndex := 0, 0, -1
	for _, e := range lits {
		if !m.Contains(e, vp.x) {
			vp.newLits = append(vp.newLits, e)
			continue
		}
		c, t, strict, isEq, err := vp.isLinearLit(e)
		if err != nil {
			return nil, err
		}
		if c.IsZero() {
			switch {
			case isEq:
				vp.addLit(&vp.newLits, m.Eq(t, vp.num(expr.IntRat(0))))
			case strict:
				vp.addLit(&vp.newLits, m.Lt(t, vp.num(expr.IntRat(0))))
			default:
				vp.addLit(&vp.newLits, m.Le(t, vp.num(expr.IntRat(0))))
			}
			continue
		}
		vp.ineqCoeffs = append(vp.ineqCoeffs, c)
		vp.ineqTerms = append(vp.ineqTerms, t)
		vp.ineqStrict = append(vp.ineqStrict, strict)
		switch {
		case isEq:
			eqIndex = len(vp.ineqCoeffs) - 1
		case c.IsPos():
			numPos++
		default:
			numNeg++
		}
	}
	out := append([]expr.Expr(nil), vp.newLits...)
	if eqIndex >= 0 {
		vp.applyEquality(eqIndex, &out)
		return out, nil
	}
	if len(vp.divTerms) == 0 && (numPos == 0 || numNeg == 0) {
		return out, nil
	}
	if len(vp.divTerms) > 0 {
		if err := vp.applyDivides(&out); err != nil {
			return nil, err
		}
	}
	if numPos == 0 || numNeg == 0 {
		return out, nil
	}
	usePos := numPos < numNeg
	maxT := vp.findMax(usePos)
	for i := range vp.ineqTerms {
		if i == maxT {
			continue
		}
		if vp.ineqCoeffs[i].IsPos() == usePos {
			vp.addLit(&out, vp.mkLe(i, maxT))
		} else {
			vp.mkLt(&out, i, maxT)
		}
	}
	return out, nil
}

// findMax picks the representative bound: the literal on the chosen side
// whose term value over the coefficient magnitude is maximal, preferring
// strict bounds and unit integer coefficients on ties.
func (vp *varProjector) findMax(doPos bool) int {
	result := -1
	newMax := true
	var maxR expr.Rat
	for i := range vp.ineqTerms {
		ac := vp.ineqCoeffs[i]
		if ac.IsPos() != doPos {
			continue
		}
		r, err := vp.mdl.RatValue(vp.ineqTerms[i])
		if err != nil {
			panic("projection: representative term is not numeric: " + err.Error())
		}
		r = r.Div(ac.Abs())
		newMax = newMax ||
			r.Cmp(maxR) > 0 ||
			(r.Cmp(maxR) == 0 && vp.ineqStrict[i]) ||
			(r.Cmp(maxR) == 0 && vp.isInt && ac.Abs().IsOne())
		if newMax {
			result = i
			maxR = r
		}
		newMax = false
	}
	if result < 0 {
		panic("projection: no representative bound on the chosen side")
	}
	return result
}

// mkLe resolves two bounds with coefficients of the same sign:
// ax + t <= 0 and bx + s <= 0 entail |b|t <= |a|s.
func (vp *varProjector) mkLe(i, j int) expr.Expr {
	m := vp.m
	t := vp.ineqTerms[i]
	s := vp.ineqTerms[j]
	bt := m.Mul(vp.ineqCoeffs[j].Abs(), t)
	as := m.Mul(vp.ineqCoeffs[i].Abs(), s)
	if vp.ineqStrict[i] && !vp.ineqStrict[j] {
		return m.Lt(bt, as)
	}
	return m.Le(bt, as)
}

// mkLt resolves two bounds with coefficients of opposite signs:
// ax + t <= 0 and bx + s <= 0 entail |b|t + |a|s <= 0.
func (vp *varProjector) mkLt(dst *[]expr.Expr, i, j int) {
	m := vp.m
	ac, bc := vp.ineqCoeffs[i], vp.ineqCoeffs[j]
	if vp.isInt && !ac.Abs().IsOne() && !bc.Abs().IsOne() {
		vp.mkIntLt(dst, i, j)
		return
	}
	bt := m.Mul(bc.Abs(), vp.ineqTerms[i])
	as := m.Mul(ac.Abs(), vp.ineqTerms[j])
	ts := m.Add(bt, as)
	z := vp.num(expr.IntRat(0))
	if vp.ineqStrict[i] || vp.ineqStrict[j] {
		vp.addLit(dst, m.Lt(ts, z))
	} else {
		vp.addLit(dst, m.Le(ts, z))
	}
}

func nSign(b expr.Rat) expr.Rat {
	if b.IsPos() {
		return expr.IntRat(-1)
	}
	return expr.IntRat(1)
}

// mkIntLt resolves opposite-sign integer bounds whose coefficients both
// exceed one. When the combined bound with slack (|a|-1)(|b|-1) holds in
// the model it is emitted directly; otherwise the finite disjunction
// over |b| residues is encoded as a divisibility plus one inequality
// consistent with the model.
func (vp *varProjector) mkIntLt(dst *[]expr.Expr, i, j int) {
	m := vp.m
	t, s := vp.ineqTerms[i], vp.ineqTerms[j]
	ac, bc := vp.ineqCoeffs[i], vp.ineqCoeffs[j]
	absA, absB := ac.Abs(), bc.Abs()
	as := m.Mul(absA, s)
	bt := m.Mul(absB, t)
	slack := absA.Sub(expr.IntRat(1)).Mul(absB.Sub(expr.IntRat(1)))
	tval, err := vp.mdl.RatValue(t)
	if err != nil {
		panic("projection: integer resolvent term is not numeric: " + err.Error())
	}
	sval, err := vp.mdl.RatValue(s)
	if err != nil {
		panic("projection: integer resolvent term is not numeric: " + err.Error())
	}
	if ac.Mul(sval).Add(bc.Mul(tval)).Add(slack).Sign() <= 0 {
		log.Debugf("project: integer resolution slack %s", slack)
		vp.addLit(dst, m.Le(m.Add(as, bt, vp.num(slack.Neg())), vp.num(expr.IntRat(0))))
		return
	}
	a1, b1 := ac, bc
	if absA.Cmp(absB) < 0 {
		absA, absB = absB, absA
		a1, b1 = b1, a1
		s, t = t, s
		sval = tval
	}
	z := sval.Mod(absB)
	if !z.IsZero() {
		z = absB.Sub(z)
	}
	sPlusZ := m.Add(vp.num(z), s)
	vp.addLit(dst, m.Divides(absB, sPlusZ))
	vp.addLit(dst, m.Le(m.Add(m.Mul(a1.Mul(nSign(b1)), sPlusZ), m.Mul(absB, t)), vp.num(expr.IntRat(0))))
}

// applyEquality substitutes the equality c*x + t = 0 into every other
// literal and terminates the projection for x.
func (vp *varProjector) applyEquality(eqIndex int, dst *[]expr.Expr) {
	m := vp.m
	c := vp.ineqCoeffs[eqIndex]
	t := vp.ineqTerms[eqIndex]
	if vp.isInt {
		vp.addLit(dst, m.Divides(c, t))
	}
	for i := range vp.divTerms {
		vp.addLit(dst, m.Divides(c.Mul(vp.divisors[i]),
			m.Sub(m.Mul(c, vp.divTerms[i]), m.Mul(vp.divCoeffs[i], t))))
	}
	for i := range vp.ineqTerms {
		if i == eqIndex {
			continue
		}
		lhs := m.Sub(m.Mul(c, vp.ineqTerms[i]), m.Mul(vp.ineqCoeffs[i], t))
		if vp.ineqStrict[i] {
			vp.addLit(dst, m.Lt(lhs, vp.num(expr.IntRat(0))))
		} else {
			vp.addLit(dst, m.Le(lhs, vp.num(expr.IntRat(0))))
		}
	}
}

// applyDivides consolidates the divisibility constraints: delta is the
// lcm of the divisors, u the residue of x modulo delta in the model.
// Each divisibility is discharged at the residue and x is reinterpreted
// as delta*x' + u, with the model updated accordingly.
func (vp *varProjector) applyDivides(dst *[]expr.Expr) error {
	m := vp.m
	vp.delta = expr.IntRat(1)
	for i := range vp.divisors {
		vp.delta = vp.delta.Lcm(vp.divisors[i])
	}
	r, err := vp.mdl.RatValue(vp.x)
	if err != nil {
		return errors.Wrap(errCantProject, err.Error())
	}
	vp.u = r.Mod(vp.delta)
	for i := range vp.divTerms {
		vp.addLit(dst, m.Divides(vp.divisors[i],
			m.Add(vp.num(vp.divCoeffs[i].Mul(vp.u)), vp.divTerms[i])))
	}
	for i := range vp.ineqTerms {
		if !vp.u.IsZero() {
			vp.ineqTerms[i] = m.Sub(vp.ineqTerms[i], vp.num(vp.u))
		}
		vp.ineqCoeffs[i] = vp.ineqCoeffs[i].Mul(vp.delta)
	}
	vp.mdl.Register(vp.x, vp.num(r.Sub(vp.u).Div(vp.delta)))
	return nil
}
