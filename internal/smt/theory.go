package smt

import (
	"sort"
	"strconv"

	log "github.com/sirupsen/logrus"

	"qsat/internal/expr"
	"qsat/internal/model"
)

// theoryLit is one tracked atom with its truth value in the candidate
// propositional model.
type theoryLit struct {
	atom  expr.Expr
	phase bool
}

// clash reports two applications of one predicate symbol whose arguments
// evaluate equally while their truth values differ. The solver responds
// with a congruence lemma rather than a blocking clause.
type clash struct {
	a, b expr.Expr
}

// theory decides conjunctions of ground literals over linear integer and
// real arithmetic with divisibility, equality over uninterpreted sorts,
// and uninterpreted predicate applications.
type theory struct {
	m *expr.Manager
}

func newTheory(m *expr.Manager) *theory {
	return &theory{m: m}
}

// row is sum(coeffs) + k <= 0, strict when marked. The same shape also
// carries disequalities (sum + k != 0) on the neqs list.
type row struct {
	coeffs map[expr.Expr]expr.Rat
	k      expr.Rat
	strict bool
	origin map[int]bool
}

// divRow is d | sum(coeffs)+k, negated when want is false.
type divRow struct {
	coeffs map[expr.Expr]expr.Rat
	k      expr.Rat
	d      expr.Rat
	want   bool
	origin map[int]bool
}

type eufNeq struct {
	a, b expr.Expr
	lit  int
}

type tctx struct {
	m        *expr.Manager
	lits     []theoryLit
	boolVals map[expr.Expr]bool
	apps     []int
	rows     []*row
	neqs     []*row
	divs     []*divRow
	parent   map[expr.Expr]expr.Expr
	eufEqs   map[int]bool
	neqsEuf  []eufNeq
	modSeen  map[expr.Expr]bool
	conflict map[int]bool
	gaveUp   bool
	nodes    int
}

const sampleBudget = 20000

func (t *theory) check(lits []theoryLit) (*model.Model, []theoryLit, *clash) {
	c := &tctx{
		m:        t.m,
		lits:     lits,
		boolVals: make(map[expr.Expr]bool),
		parent:   make(map[expr.Expr]expr.Expr),
		eufEqs:   make(map[int]bool),
		modSeen:  make(map[expr.Expr]bool),
	}
	for i, tl := range lits {
		if !c.classify(i, tl) {
			return nil, c.conflictLits(), nil
		}
	}
	if !c.solveEuf() {
		return nil, c.conflictLits(), nil
	}
	assign, ok := c.solveArith()
	if !ok {
		if c.gaveUp {
			return nil, nil, nil
		}
		return nil, c.conflictLits(), nil
	}
	mdl := model.NewModel(t.m)
	for x, v := range assign {
		if t.m.Kind(x) == expr.KConst {
			mdl.Register(x, t.m.NumRat(v, t.m.Sort(x)))
		}
	}
	for p, v := range c.boolVals {
		mdl.Register(p, t.m.Bool(v))
	}
	for n := range c.parent {
		if t.m.Kind(n) == expr.KConst {
			mdl.Register(n, c.find(n))
		}
	}
	if cls := c.buildPreds(mdl); cls != nil {
		return nil, nil, cls
	}
	return mdl, nil, nil
}

func (c *tctx) conflictLits() []theoryLit {
	if len(c.conflict) == 0 {
		return nil
	}
	idxs := make([]int, 0, len(c.conflict))
	for i := range c.conflict {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	out := make([]theoryLit, len(idxs))
	for i, j := range idxs {
		out[i] = c.lits[j]
	}
	return out
}

func (c *tctx) fail(origin map[int]bool) bool {
	c.conflict = origin
	return false
}

func singleton(i int) map[int]bool { return map[int]bool{i: true} }

func unionOrigin(a, b map[int]bool) map[int]bool {
	u := make(map[int]bool, len(a)+len(b))
	for k := range a {
		u[k] = true
	}
	for k := range b {
		u[k] = true
	}
	return u
}

// classify turns one literal into constraints. It returns false on an
// immediate variable-free conflict.
func (c *tctx) classify(i int, tl theoryLit) bool {
	m := c.m
	e := tl.atom
	switch m.Kind(e) {
	case expr.KConst:
		c.boolVals[e] = tl.phase
		return true
	case expr.KApp:
		c.apps = append(c.apps, i)
		return true
	case expr.KLe, expr.KLt:
		r := c.newRow(i)
		c.linearize(m.Arg(e, 0), expr.IntRat(1), r, i)
		c.linearize(m.Arg(e, 1), expr.IntRat(-1), r, i)
		strict := m.Kind(e) == expr.KLt
		if !tl.phase {
			for x, v := range r.coeffs {
				r.coeffs[x] = v.Neg()
			}
			r.k = r.k.Neg()
			strict = !strict
		}
		r.strict = strict
		return c.addRow(r)
	case expr.KEq:
		a, b := m.Arg(e, 0), m.Arg(e, 1)
		if !m.Sort(a).IsArith() {
			c.union(a, b, i, tl.phase)
			return true
		}
		r := c.newRow(i)
		c.linearize(a, expr.IntRat(1), r, i)
		c.linearize(b, expr.IntRat(-1), r, i)
		if tl.phase {
			return c.addEqRow(r)
		}
		if len(r.coeffs) == 0 {
			if r.k.IsZero() {
				return c.fail(singleton(i))
			}
			return true
		}
		c.neqs = append(c.neqs, r)
		return true
	}
	log.Warnf("smt: atom %s treated as free", m.String(e))
	return true
}

func (c *tctx) newRow(i int) *row {
	return &row{coeffs: make(map[expr.Expr]expr.Rat), k: expr.IntRat(0), origin: singleton(i)}
}

func (c *tctx) addRow(r *row) bool {
	if len(r.coeffs) == 0 {
		if r.k.Sign() > 0 || (r.strict && r.k.Sign() == 0) {
			return c.fail(r.origin)
		}
		return true
	}
	c.rows = append(c.rows, r)
	return true
}

// addEqRow splits an equality into two inequalities sharing the origin.
func (c *tctx) addEqRow(r *row) bool {
	if len(r.coeffs) == 0 {
		if !r.k.IsZero() {
			return c.fail(r.origin)
		}
		return true
	}
	neg := &row{coeffs: make(map[expr.Expr]expr.Rat, len(r.coeffs)), k: r.k.Neg(), origin: r.origin}
	for x, v := range r.coeffs {
		neg.coeffs[x] = v.Neg()
	}
	c.rows = append(c.rows, r, neg)
	return true
}

func addCoeff(coeffs map[expr.Expr]expr.Rat, x expr.Expr, v expr.Rat) {
	if old, ok := coeffs[x]; ok {
		v = v.Add(old)
	}
	if v.IsZero() {
		delete(coeffs, x)
		return
	}
	coeffs[x] = v
}

// linearize folds mul*e into r. Mod subterms introduce an auxiliary
// variable constrained to the residue range plus a divisibility row;
// other opaque subterms are treated as free variables.
func (c *tctx) linearize(e expr.Expr, mul expr.Rat, r *row, lit int) {
	m := c.m
	switch m.Kind(e) {
	case expr.KNum:
		r.k = r.k.Add(mul.Mul(m.Num(e)))
	case expr.KAdd:
		for _, a := range m.Args(e) {
			c.linearize(a, mul, r, lit)
		}
	case expr.KSub:
		c.linearize(m.Arg(e, 0), mul, r, lit)
		c.linearize(m.Arg(e, 1), mul.Neg(), r, lit)
	case expr.KNeg:
		c.linearize(m.Arg(e, 0), mul.Neg(), r, lit)
	case expr.KMul:
		coeff := expr.IntRat(1)
		var rest []expr.Expr
		for _, a := range m.Args(e) {
			if v, ok := m.IsNum(a); ok {
				coeff = coeff.Mul(v)
			} else {
				rest = append(rest, a)
			}
		}
		switch len(rest) {
		case 0:
			r.k = r.k.Add(mul.Mul(coeff))
		case 1:
			c.linearize(rest[0], mul.Mul(coeff), r, lit)
		default:
			log.Warnf("smt: nonlinear term %s treated as free", m.String(e))
			addCoeff(r.coeffs, e, mul)
		}
	case expr.KMod:
		if k, ok := m.IsNum(m.Arg(e, 1)); ok && k.IsPos() && k.IsInt() {
			c.ensureMod(e, k, lit)
			addCoeff(r.coeffs, e, mul)
			return
		}
		log.Warnf("smt: mod term %s treated as free", m.String(e))
		addCoeff(r.coeffs, e, mul)
	default:
		addCoeff(r.coeffs, e, mul)
	}
}

// ensureMod constrains the auxiliary variable for e = t mod k:
// 0 <= e < k and k | (t - e).
func (c *tctx) ensureMod(e expr.Expr, k expr.Rat, lit int) {
	if c.modSeen[e] {
		return
	}
	c.modSeen[e] = true
	lo := c.newRow(lit)
	addCoeff(lo.coeffs, e, expr.IntRat(-1))
	c.rows = append(c.rows, lo)
	hi := c.newRow(lit)
	addCoeff(hi.coeffs, e, expr.IntRat(1))
	hi.k = expr.IntRat(1).Sub(k)
	c.rows = append(c.rows, hi)
	inner := c.newRow(lit)
	c.linearize(c.m.Arg(e, 0), expr.IntRat(1), inner, lit)
	addCoeff(inner.coeffs, e, expr.IntRat(-1))
	c.divs = append(c.divs, &divRow{coeffs: inner.coeffs, k: inner.k, d: k, want: true, origin: singleton(lit)})
}

func (c *tctx) find(x expr.Expr) expr.Expr {
	p, ok := c.parent[x]
	if !ok {
		c.parent[x] = x
		return x
	}
	if p == x {
		return x
	}
	r := c.find(p)
	c.parent[x] = r
	return r
}

func (c *tctx) union(a, b expr.Expr, lit int, eq bool) {
	if eq {
		ra, rb := c.find(a), c.find(b)
		if ra != rb {
			c.parent[ra] = rb
		}
		c.eufEqs[lit] = true
		return
	}
	c.find(a)
	c.find(b)
	c.neqsEuf = append(c.neqsEuf, eufNeq{a: a, b: b, lit: lit})
}

func (c *tctx) solveEuf() bool {
	for _, d := range c.neqsEuf {
		if c.find(d.a) == c.find(d.b) {
			origin := singleton(d.lit)
			for l := range c.eufEqs {
				origin[l] = true
			}
			return c.fail(origin)
		}
	}
	return true
}

// elimStep records the bounds on one variable at its elimination point;
// the saved rows mention only the variable itself and variables
// eliminated later, which are assigned earlier during sampling.
type elimStep struct {
	x            expr.Expr
	lower, upper []*row
	divs         []*divRow
	neqs         []*row
}

// solveArith runs Fourier-Motzkin elimination over the rationals and
// then samples values in reverse order, refining integers against their
// divisibility and disequality constraints with bounded backtracking.
func (c *tctx) solveArith() (map[expr.Expr]expr.Rat, bool) {
	vars := c.arithVars()
	order := make(map[expr.Expr]int, len(vars))
	for i, x := range vars {
		order[x] = i
	}
	steps := make([]elimStep, 0, len(vars))
	work := append([]*row(nil), c.rows...)
	for _, x := range vars {
		step := elimStep{x: x}
		var rest []*row
		for _, r := range work {
			cx, ok := r.coeffs[x]
			switch {
			case !ok:
				rest = append(rest, r)
			case cx.IsPos():
				step.upper = append(step.upper, r)
			default:
				step.lower = append(step.lower, r)
			}
		}
		for _, l := range step.lower {
			for _, u := range step.upper {
				nr := resolveRows(l, u, x)
				if len(nr.coeffs) == 0 {
					if nr.k.Sign() > 0 || (nr.strict && nr.k.Sign() == 0) {
						return nil, c.fail(nr.origin)
					}
					continue
				}
				rest = append(rest, nr)
			}
		}
		work = rest
		steps = append(steps, step)
	}
	// constant rows left over carry no variables by construction
	for _, r := range work {
		if r.k.Sign() > 0 || (r.strict && r.k.Sign() == 0) {
			return nil, c.fail(r.origin)
		}
	}
	// attach divisibilities and disequalities to their last-sampled variable
	for _, d := range c.divs {
		if len(d.coeffs) == 0 {
			if d.k.Mod(d.d).IsZero() != d.want {
				return nil, c.fail(d.origin)
			}
			continue
		}
		i := minOrder(d.coeffs, order)
		steps[i].divs = append(steps[i].divs, d)
	}
	for _, r := range c.neqs {
		i := minOrder(r.coeffs, order)
		steps[i].neqs = append(steps[i].neqs, r)
	}
	assign := make(map[expr.Expr]expr.Rat, len(vars))
	if !c.sample(steps, len(steps)-1, assign) {
		if !c.gaveUp {
			origin := make(map[int]bool)
			for _, r := range c.rows {
				origin = unionOrigin(origin, r.origin)
			}
			for _, d := range c.divs {
				origin = unionOrigin(origin, d.origin)
			}
			for _, r := range c.neqs {
				origin = unionOrigin(origin, r.origin)
			}
			c.conflict = origin
		}
		return nil, false
	}
	return assign, true
}

func (c *tctx) arithVars() []expr.Expr {
	set := make(map[expr.Expr]bool)
	collect := func(coeffs map[expr.Expr]expr.Rat) {
		for x := range coeffs {
			set[x] = true
		}
	}
	for _, r := range c.rows {
		collect(r.coeffs)
	}
	for _, r := range c.neqs {
		collect(r.coeffs)
	}
	for _, d := range c.divs {
		collect(d.coeffs)
	}
	vars := make([]expr.Expr, 0, len(set))
	for x := range set {
		vars = append(vars, x)
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i] < vars[j] })
	return vars
}

func minOrder(coeffs map[expr.Expr]expr.Rat, order map[expr.Expr]int) int {
	first := true
	min := 0
	for x := range coeffs {
		if i := order[x]; first || i < min {
			min = i
			first = false
		}
	}
	return min
}

// resolveRows eliminates x from a lower bound (negative coefficient) and
// an upper bound (positive coefficient).
func resolveRows(l, u *row, x expr.Expr) *row {
	a := u.coeffs[x]
	b := l.coeffs[x].Neg()
	nr := &row{
		coeffs: make(map[expr.Expr]expr.Rat),
		k:      b.Mul(u.k).Add(a.Mul(l.k)),
		strict: l.strict || u.strict,
		origin: unionOrigin(l.origin, u.origin),
	}
	for y, v := range u.coeffs {
		if y != x {
			addCoeff(nr.coeffs, y, b.Mul(v))
		}
	}
	for y, v := range l.coeffs {
		if y != x {
			addCoeff(nr.coeffs, y, a.Mul(v))
		}
	}
	return nr
}

// rowRest evaluates a row at the partial assignment, leaving out x, and
// returns the residual constant.
func rowRest(r *row, x expr.Expr, assign map[expr.Expr]expr.Rat) expr.Rat {
	v := r.k
	for y, cy := range r.coeffs {
		if y == x {
			continue
		}
		v = v.Add(cy.Mul(assign[y]))
	}
	return v
}

func divValue(d *divRow, assign map[expr.Expr]expr.Rat) expr.Rat {
	v := d.k
	for y, cy := range d.coeffs {
		v = v.Add(cy.Mul(assign[y]))
	}
	return v
}

// sample assigns steps[i].x and recurses downwards; step 0 is assigned
// last, when every other variable of its attached rows has a value.
func (c *tctx) sample(steps []elimStep, i int, assign map[expr.Expr]expr.Rat) bool {
	if i < 0 {
		return true
	}
	c.nodes++
	if c.nodes > sampleBudget {
		log.Warn("smt: integer sampling budget exhausted")
		c.gaveUp = true
		return false
	}
	st := &steps[i]
	x := st.x
	var lb, ub expr.Rat
	hasLb, hasUb := false, false
	strictLb, strictUb := false, false
	for _, r := range st.upper {
		// a*x + rest <= 0  =>  x <= -rest/a
		a := r.coeffs[x]
		v := rowRest(r, x, assign).Neg().Div(a)
		if !hasUb || v.Cmp(ub) < 0 || (v.Cmp(ub) == 0 && r.strict) {
			ub, hasUb, strictUb = v, true, r.strict
		}
	}
	for _, r := range st.lower {
		b := r.coeffs[x].Neg()
		v := rowRest(r, x, assign).Div(b)
		if !hasLb || v.Cmp(lb) > 0 || (v.Cmp(lb) == 0 && r.strict) {
			lb, hasLb, strictLb = v, true, r.strict
		}
	}
	for _, cand := range c.candidates(st, assign, lb, ub, hasLb, hasUb, strictLb, strictUb) {
		if !c.accepts(st, assign, cand) {
			continue
		}
		assign[x] = cand
		if c.sample(steps, i-1, assign) {
			return true
		}
		delete(assign, x)
		if c.gaveUp {
			return false
		}
	}
	return false
}

// accepts checks the attached divisibility and disequality rows at x = cand.
func (c *tctx) accepts(st *elimStep, assign map[expr.Expr]expr.Rat, cand expr.Rat) bool {
	assign[st.x] = cand
	ok := true
	for _, d := range st.divs {
		v := divValue(d, assign)
		if !v.IsInt() || v.Mod(d.d).IsZero() != d.want {
			ok = false
			break
		}
	}
	if ok {
		for _, r := range st.neqs {
			v := rowRest(r, expr.Nil, assign)
			if v.IsZero() {
				ok = false
				break
			}
		}
	}
	delete(assign, st.x)
	return ok
}

func (c *tctx) candidates(st *elimStep, assign map[expr.Expr]expr.Rat, lb, ub expr.Rat, hasLb, hasUb, strictLb, strictUb bool) []expr.Rat {
	isInt := c.m.Sort(st.x) == expr.SortInt
	if isInt {
		return c.intCandidates(st, lb, ub, hasLb, hasUb, strictLb, strictUb)
	}
	return c.realCandidates(st, lb, ub, hasLb, hasUb, strictLb, strictUb)
}

func (c *tctx) intCandidates(st *elimStep, lb, ub expr.Rat, hasLb, hasUb, strictLb, strictUb bool) []expr.Rat {
	one := expr.IntRat(1)
	var lo, hi expr.Rat
	if hasLb {
		lo = lb.Ceil()
		if strictLb && lb.IsInt() {
			lo = lo.Add(one)
		}
	}
	if hasUb {
		hi = ub.Floor()
		if strictUb && ub.IsInt() {
			hi = hi.Sub(one)
		}
	}
	window := int64(1)
	for _, d := range st.divs {
		if w, ok := d.d.Int64(); ok && w > 0 {
			window = lcm64(window, w)
		}
	}
	if window > 4096 {
		window = 4096
	}
	window += int64(len(st.neqs)) + 8
	var out []expr.Rat
	push := func(v expr.Rat) {
		if hasLb && v.Cmp(lo) < 0 {
			return
		}
		if hasUb && v.Cmp(hi) > 0 {
			return
		}
		out = append(out, v)
	}
	switch {
	case hasLb:
		v := lo
		for j := int64(0); j < window; j++ {
			push(v)
			v = v.Add(one)
		}
	case hasUb:
		v := hi
		for j := int64(0); j < window; j++ {
			push(v)
			v = v.Sub(one)
		}
	default:
		v := expr.IntRat(0)
		for j := int64(0); j < window; j++ {
			push(v)
			v = v.Add(one)
		}
	}
	return out
}

func (c *tctx) realCandidates(st *elimStep, lb, ub expr.Rat, hasLb, hasUb, strictLb, strictUb bool) []expr.Rat {
	n := len(st.neqs) + 2
	var out []expr.Rat
	switch {
	case hasLb && hasUb:
		cmp := lb.Cmp(ub)
		if cmp > 0 {
			return nil
		}
		if cmp == 0 {
			if strictLb || strictUb {
				return nil
			}
			return []expr.Rat{lb}
		}
		width := ub.Sub(lb)
		if !strictLb {
			out = append(out, lb)
		}
		for j := 1; j <= n; j++ {
			out = append(out, lb.Add(width.Mul(expr.FracRat(int64(j), int64(n+1)))))
		}
	case hasLb:
		v := lb
		if strictLb {
			v = v.Add(expr.IntRat(1))
		}
		for j := 0; j <= n; j++ {
			out = append(out, v)
			v = v.Add(expr.IntRat(1))
		}
	case hasUb:
		v := ub
		if strictUb {
			v = v.Sub(expr.IntRat(1))
		}
		for j := 0; j <= n; j++ {
			out = append(out, v)
			v = v.Sub(expr.IntRat(1))
		}
	default:
		v := expr.IntRat(0)
		for j := 0; j <= n; j++ {
			out = append(out, v)
			v = v.Add(expr.IntRat(1))
		}
	}
	return out
}

func lcm64(a, b int64) int64 {
	x, y := a, b
	for y != 0 {
		x, y = y, x%y
	}
	return a / x * b
}

// buildPreds installs predicate graphs and detects congruence clashes.
func (c *tctx) buildPreds(mdl *model.Model) *clash {
	m := c.m
	type entry struct {
		app   expr.Expr
		phase bool
	}
	seen := make(map[string]entry)
	for _, i := range c.apps {
		e := c.lits[i].atom
		args := make([]expr.Expr, len(m.Args(e)))
		for j, a := range m.Args(e) {
			v, err := mdl.Eval(a)
			if err != nil {
				log.Warnf("smt: cannot evaluate predicate argument: %v", err)
				v = a
			}
			args[j] = v
		}
		key := m.Name(e)
		for _, a := range args {
			key += " " + strconv.FormatUint(uint64(a), 10)
		}
		if prev, ok := seen[key]; ok {
			if prev.phase != c.lits[i].phase {
				return &clash{a: prev.app, b: e}
			}
			continue
		}
		seen[key] = entry{app: e, phase: c.lits[i].phase}
		mdl.RegisterPred(m.Name(e), args, c.lits[i].phase)
	}
	return nil
}
