package qe

import (
	"sync/atomic"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"qsat/internal/expr"
	"qsat/internal/model"
	"qsat/internal/rewrite"
	"qsat/internal/smt"
)

// EPR eliminates uninterpreted predicates from formulas of the shape
// "exists P, x. forall Q, y. matrix". Two oracle instances carry the two
// players; levels 0 to 3 alternate between them, with disequalities
// forced at level 1 and predicate graphs constructed at level 2.
// Backjumps collapse two levels at a time.
type EPR struct {
	m        *expr.Manager
	rw       *rewrite.Rewriter
	pa       *PredAbs
	proj     *Projector
	ex, fa   smt.Oracle
	classify func(name string) bool

	level     int
	mdl       *model.Model
	answer    []expr.Expr
	freeVars  []expr.Expr
	boundVars []expr.Expr
	freeOccs  map[string][]expr.Expr
	boundOccs map[string][]expr.Expr

	cancel    atomic.Bool
	numRounds int
	maxLevel  int
}

// NewEPR builds an eliminator over two oracle instances. The classifier
// decides, by symbol name, which predicates are to be eliminated.
func NewEPR(m *expr.Manager, ex, fa smt.Oracle, classify func(name string) bool) *EPR {
	return &EPR{
		m:        m,
		rw:       rewrite.NewRewriter(m, true),
		pa:       NewPredAbs(m),
		proj:     NewProjector(m),
		ex:       ex,
		fa:       fa,
		classify: classify,
	}
}

func (e *EPR) SetCancel(f bool) {
	e.cancel.Store(f)
	e.ex.SetCancel(f)
	e.fa.SetCancel(f)
}

// MaxLevel reports the deepest level reached during the last run.
func (e *EPR) MaxLevel() int  { return e.maxLevel }
func (e *EPR) NumRounds() int { return e.numRounds }

// Eliminate computes a conjunction free of the classified predicates
// that is equivalent to fml.
func (e *EPR) Eliminate(fml expr.Expr) ([]expr.Expr, error) {
	e.level = 0
	e.maxLevel = 0
	e.numRounds = 0
	e.answer = nil
	e.mdl = nil
	fml = e.rw.Rewrite(fml)
	matrix, err := e.hoist(fml)
	if err != nil {
		return nil, err
	}
	e.collectPredicates(matrix)
	for _, v := range e.freeVars {
		e.pa.SetLevel(v, 0)
	}
	for _, v := range e.boundVars {
		e.pa.SetLevel(v, 2)
	}
	abs, defs := e.pa.Abstract(matrix, 0)
	for _, d := range defs {
		e.ex.Assert(d)
		e.fa.Assert(d)
	}
	e.fa.Assert(abs)
	e.ex.Assert(e.m.Not(abs))
	return e.checkSat()
}

func (e *EPR) hoist(fml expr.Expr) (expr.Expr, error) {
	h := newHoister(e.m)
	matrix := h.hoist(fml, false)
	bound := make(map[expr.Expr]bool)
	for _, b := range h.blocks {
		if !b.forall {
			return expr.Nil, errors.New("epr: existential quantifier below the universal prefix")
		}
		for _, v := range b.vars {
			bound[v] = true
			e.boundVars = append(e.boundVars, v)
		}
	}
	e.freeVars = e.m.Consts(matrix, bound)
	return matrix, nil
}

func (e *EPR) collectPredicates(matrix expr.Expr) {
	e.freeOccs = make(map[string][]expr.Expr)
	e.boundOccs = make(map[string][]expr.Expr)
	for _, a := range e.m.Apps(matrix, func(string) bool { return true }) {
		if e.m.Sort(a) != expr.SortBool {
			continue
		}
		name := e.m.Name(a)
		if e.classify(name) {
			e.boundOccs[name] = append(e.boundOccs[name], a)
		} else {
			e.freeOccs[name] = append(e.freeOccs[name], a)
		}
	}
}

func (e *EPR) kernelAt(level int) smt.Oracle {
	if level%2 == 0 {
		return e.ex
	}
	return e.fa
}

func (e *EPR) checkSat() ([]expr.Expr, error) {
	for {
		if e.cancel.Load() {
			return nil, ErrCancelled
		}
		e.numRounds++
		asms, err := e.assumptions()
		if err != nil {
			return nil, err
		}
		k := e.kernelAt(e.level)
		switch k.Check(asms) {
		case smt.StatusSat:
			e.mdl = k.Model()
			e.push()
		case smt.StatusUnsat:
			if e.level == 0 {
				return e.answer, nil
			}
			if err := e.project(); err != nil {
				return nil, err
			}
		default:
			if e.cancel.Load() {
				return nil, ErrCancelled
			}
			return nil, errors.Errorf("oracle: %s", k.LastFailure())
		}
	}
}

func (e *EPR) push() {
	e.pa.Push()
	e.level++
	if e.level > e.maxLevel {
		e.maxLevel = e.level
	}
}

func (e *EPR) pop(n int) {
	e.mdl = nil
	e.pa.Pop(n)
	e.level -= n
}

// assumptions assembles the level-dependent assumption set: nothing at
// level 0, atoms plus forced disequalities at level 1, atoms plus
// function graphs at level 2, plain atoms at level 3.
func (e *EPR) assumptions() ([]expr.Expr, error) {
	switch e.level {
	case 0:
		return nil, nil
	case 1:
		if err := e.ensureDisequalities(); err != nil {
			return nil, err
		}
		return e.pa.Implicant(e.mdl), nil
	case 2:
		asms := e.pa.Implicant(e.mdl)
		if err := e.extractFunctionGraphs(&asms); err != nil {
			return nil, err
		}
		return asms, nil
	case 3:
		return e.pa.Implicant(e.mdl), nil
	}
	log.Warnf("epr: assumptions requested at level %d", e.level)
	return e.pa.Implicant(e.mdl), nil
}

// project extracts the core of the failed level, drops bound arithmetic
// by projection, and learns the negation. Level 1 cores extend the
// answer; higher cores backjump two levels.
func (e *EPR) project() error {
	k := e.kernelAt(e.level)
	core := e.pa.Concretize(k.UnsatCore())
	if e.level == 1 {
		fml, err := e.negateCore(core)
		if err != nil {
			return err
		}
		e.ex.Assert(fml)
		e.answer = append(e.answer, fml)
		e.pop(1)
		return nil
	}
	if e.mdl == nil {
		panic("epr: conflict above level 1 without a model")
	}
	fml, err := e.negateCore(core)
	if err != nil {
		return err
	}
	e.ex.Assert(fml)
	e.fa.Assert(fml)
	e.level -= 2
	return nil
}

// negateCore projects the bound arithmetic variables out of the core and
// negates it. Variables that resist projection are universally
// quantified and discharged by instantiation over the ground constants
// of matching sort.
func (e *EPR) negateCore(core []expr.Expr) (expr.Expr, error) {
	if e.mdl == nil {
		e.mdl = model.NewModel(e.m)
	}
	bound := append([]expr.Expr(nil), e.boundVars...)
	retained, lits := e.proj.Project(e.mdl, bound, core)
	fml := e.m.Not(e.m.And(lits...))
	if len(retained) == 0 {
		return e.rw.Rewrite(fml), nil
	}
	return e.instantiate(retained, fml)
}

// instantiate grounds a universally quantified lemma over the constants
// occurring in the problem; the Herbrand universe of the fragment is
// finite, so this is exhaustive per sort.
func (e *EPR) instantiate(vars []expr.Expr, body expr.Expr) (expr.Expr, error) {
	m := e.m
	bySort := make(map[expr.Sort][]expr.Expr)
	for _, c := range e.freeVars {
		bySort[m.Sort(c)] = append(bySort[m.Sort(c)], c)
	}
	for _, c := range e.boundVars {
		bySort[m.Sort(c)] = append(bySort[m.Sort(c)], c)
	}
	insts := []map[expr.Expr]expr.Expr{{}}
	for _, v := range vars {
		cands := bySort[m.Sort(v)]
		if len(cands) == 0 {
			cands = []expr.Expr{m.FreshConst(m.Name(v), m.Sort(v))}
		}
		var next []map[expr.Expr]expr.Expr
		for _, inst := range insts {
			for _, c := range cands {
				ext := make(map[expr.Expr]expr.Expr, len(inst)+1)
				for k, val := range inst {
					ext[k] = val
				}
				ext[v] = c
				next = append(next, ext)
			}
		}
		insts = next
		if len(insts) > 256 {
			return expr.Nil, errors.New("epr: instantiation blowup")
		}
	}
	out := make([]expr.Expr, len(insts))
	for i, inst := range insts {
		out[i] = e.rw.Rewrite(m.Substitute(body, inst))
	}
	return m.And(out...), nil
}

func (e *EPR) assertDef(def expr.Expr) error {
	if def == expr.Nil {
		return nil
	}
	// def is p <-> atom; keep the model in step with the new name
	p := e.m.Arg(def, 0)
	atom := e.m.Arg(def, 1)
	if e.mdl != nil {
		val, err := e.mdl.Eval(atom)
		if err != nil {
			return errors.Wrap(err, "epr: evaluate definition")
		}
		e.mdl.Register(p, val)
	}
	e.ex.Assert(def)
	e.fa.Assert(def)
	return nil
}

// ensureDisequalities forces, for every predicate to eliminate with a
// positive and a negative occurrence in the current model, a
// disequality on an argument position where the two occurrences differ.
func (e *EPR) ensureDisequalities() error {
	m := e.m
	pos, neg := e.collectPosNeg(e.boundOccs)
	type pair struct{ a, b expr.Expr }
	known := make(map[pair]bool)
	for name, poss := range pos {
		negs, ok := neg[name]
		if !ok {
			continue
		}
		for _, p := range poss {
			for _, n := range negs {
				skip := false
				for k := range m.Args(p) {
					a, b := m.Arg(p, k), m.Arg(n, k)
					if known[pair{a, b}] || known[pair{b, a}] {
						skip = true
						break
					}
				}
				if skip {
					continue
				}
				for k := range m.Args(p) {
					a, b := m.Arg(p, k), m.Arg(n, k)
					va, err := e.mdl.Eval(a)
					if err != nil {
						return errors.Wrap(err, "epr: evaluate argument")
					}
					vb, err := e.mdl.Eval(b)
					if err != nil {
						return errors.Wrap(err, "epr: evaluate argument")
					}
					if va != vb {
						diseq := m.Not(m.Eq(a, b))
						_, defs := e.pa.Abstract(diseq, e.level)
						for _, d := range defs {
							if err := e.assertDef(d); err != nil {
								return err
							}
						}
						known[pair{a, b}] = true
						skip = true
						break
					}
				}
				if !skip {
					panic("epr: positive and negative occurrence agree on all arguments")
				}
			}
		}
	}
	return nil
}

func (e *EPR) collectPosNeg(occs map[string][]expr.Expr) (map[string][]expr.Expr, map[string][]expr.Expr) {
	pos := make(map[string][]expr.Expr)
	neg := make(map[string][]expr.Expr)
	for name, list := range occs {
		for _, a := range list {
			if e.mdl.IsTrue(a) {
				pos[name] = append(pos[name], a)
			} else {
				neg[name] = append(neg[name], a)
			}
		}
	}
	return pos, neg
}

// extractFunctionGraphs constrains every predicate to the graph spanned
// by its occurrences in the current model.
func (e *EPR) extractFunctionGraphs(asms *[]expr.Expr) error {
	for name, occs := range e.boundOccs {
		if err := e.extractFunctionGraph(name, occs, asms); err != nil {
			return err
		}
	}
	for name, occs := range e.freeOccs {
		if err := e.extractFunctionGraph(name, occs, asms); err != nil {
			return err
		}
	}
	return nil
}

func (e *EPR) extractFunctionGraph(name string, occs []expr.Expr, asms *[]expr.Expr) error {
	m := e.m
	pos, neg := e.collectPosNeg(map[string][]expr.Expr{name: occs})
	poss, negs := pos[name], neg[name]
	if len(negs) == 0 {
		for _, p := range poss {
			if err := e.pushAsm(asms, p); err != nil {
				return err
			}
		}
		return nil
	}
	if len(poss) == 0 {
		for _, n := range negs {
			if err := e.pushAsm(asms, m.Not(n)); err != nil {
				return err
			}
		}
		return nil
	}
	for _, p := range poss {
		if e.pa.MaxLevel(p) == 2 {
			if err := e.pushAsm(asms, e.mkGraph(p, poss, negs)); err != nil {
				return err
			}
		}
	}
	for _, n := range negs {
		if e.pa.MaxLevel(n) == 2 {
			if err := e.pushAsm(asms, e.mkGraph(n, poss, negs)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *EPR) pushAsm(asms *[]expr.Expr, a expr.Expr) error {
	lit, def := e.pa.MkAssumptionLiteral(a, e.level)
	if err := e.assertDef(def); err != nil {
		return err
	}
	*asms = append(*asms, lit)
	return nil
}

// mkGraph builds p <-> (one of the positive argument tuples and none of
// the negative ones).
func (e *EPR) mkGraph(p expr.Expr, poss, negs []expr.Expr) expr.Expr {
	m := e.m
	ors := make([]expr.Expr, len(poss))
	for i, q := range poss {
		ors[i] = e.eqArgs(p, q)
	}
	ands := []expr.Expr{m.Or(ors...)}
	for _, n := range negs {
		ands = append(ands, m.Not(e.eqArgs(p, n)))
	}
	return m.Iff(p, m.And(ands...))
}

func (e *EPR) eqArgs(p, q expr.Expr) expr.Expr {
	m := e.m
	var eqs []expr.Expr
	for i := range m.Args(p) {
		a, b := m.Arg(p, i), m.Arg(q, i)
		if a != b {
			eqs = append(eqs, m.Eq(a, b))
		}
	}
	return m.And(eqs...)
}

// EliminateEPR builds a fresh eliminator over the default oracle and
// computes a predicate-free equivalent of fml.
func EliminateEPR(m *expr.Manager, fml expr.Expr, classify func(name string) bool) ([]expr.Expr, error) {
	e := NewEPR(m, smt.NewSolver(m), smt.NewSolver(m), classify)
	return e.Eliminate(fml)
}
