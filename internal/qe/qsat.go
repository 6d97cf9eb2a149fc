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

// ErrCancelled is returned when the host raised the cancellation flag.
var ErrCancelled = errors.New("canceled")

// QSAT decides satisfiability of quantified formulas by an alternating
// game over the hoisted prefix. Even levels belong to the existential
// player, odd levels to the universal player; both play against one
// oracle instance through level-indexed pushes and pops.
type QSAT struct {
	m      *expr.Manager
	rw     *rewrite.Rewriter
	pa     *PredAbs
	proj   *Projector
	kernel smt.Oracle

	fmlPred  expr.Expr
	nfmlPred expr.Expr

	vars  [][]expr.Expr // blocks of the alternating prefix
	vals  [][]expr.Expr // current witness values
	preds [][]expr.Expr // witness literals

	assumptions    []expr.Expr
	assumptionsLim []int
	replay         [][]expr.Expr
	level          int
	mdl            *model.Model

	projection bool
	cancel     atomic.Bool
	numRounds  int
}

func NewQSAT(m *expr.Manager, kernel smt.Oracle) *QSAT {
	return &QSAT{
		m:          m,
		rw:         rewrite.NewRewriter(m, true),
		pa:         NewPredAbs(m),
		proj:       NewProjector(m),
		kernel:     kernel,
		projection: true,
	}
}

// SetProjection switches the projection step of the game on or off. With
// projection off the loop degenerates to pure counterexample-guided
// search, which need not terminate on unbounded domains.
func (q *QSAT) SetProjection(on bool) { q.projection = on }

func (q *QSAT) SetCancel(f bool) {
	q.cancel.Store(f)
	q.kernel.SetCancel(f)
}

// Model returns the top-level witness model of the last sat answer.
func (q *QSAT) Model() *model.Model { return q.mdl }

func (q *QSAT) NumRounds() int { return q.numRounds }

// Check decides the satisfiability of fml.
func (q *QSAT) Check(fml expr.Expr) (smt.Status, error) {
	q.reset()
	fml = q.rw.Rewrite(fml)
	prefix, matrix := hoistPrefix(q.m, fml)
	q.vars = prefix
	q.vals = make([][]expr.Expr, len(prefix))
	q.preds = make([][]expr.Expr, len(prefix))
	for i := range prefix {
		q.vals[i] = make([]expr.Expr, len(prefix[i]))
		q.preds[i] = make([]expr.Expr, len(prefix[i]))
	}
	abs, defs := q.pa.Abstract(matrix, 0)
	for _, d := range defs {
		q.kernel.Assert(d)
	}
	p := q.m.FreshConst("fml", expr.SortBool)
	q.fmlPred = p
	q.nfmlPred = q.m.Not(p)
	q.kernel.Assert(q.m.Iff(p, abs))
	log.Debugf("qsat: %d blocks, matrix %s", len(prefix), q.m.String(matrix))
	return q.checkSat()
}

func (q *QSAT) reset() {
	q.level = 0
	q.mdl = nil
	q.assumptions = nil
	q.assumptionsLim = nil
	q.replay = [][]expr.Expr{nil}
	q.numRounds = 0
}

func (q *QSAT) checkSat() (smt.Status, error) {
	if res, done, err := q.initialize(); done {
		return res, err
	}
	for {
		if q.cancel.Load() {
			return smt.StatusUndef, ErrCancelled
		}
		q.numRounds++
		asms := append([]expr.Expr(nil), q.assumptions...)
		q.assumeTail(q.level, &asms)
		res, lits, mdl, err := q.checkStep(asms, q.getFml(q.level))
		if err != nil {
			return smt.StatusUndef, err
		}
		switch res {
		case smt.StatusSat:
			if q.level == 0 {
				q.mdl = mdl
			}
			q.updateTail(mdl, q.level)
			if q.projection && q.level > 0 {
				q.project(lits, mdl)
			}
			q.push()
		case smt.StatusUnsat:
			if q.level == 0 {
				return smt.StatusUnsat, nil
			}
			if q.level == 1 {
				return smt.StatusSat, nil
			}
			q.backtrack(lits)
		default:
			return smt.StatusUndef, q.undefErr()
		}
	}
}

func (q *QSAT) undefErr() error {
	if q.cancel.Load() {
		return ErrCancelled
	}
	return errors.Errorf("oracle: %s", q.kernel.LastFailure())
}

// initialize plays the opening moves: the existential player proposes a
// model of the matrix, the universal player answers on its negation.
func (q *QSAT) initialize() (smt.Status, bool, error) {
	res := q.kernel.Check([]expr.Expr{q.fmlPred})
	switch res {
	case smt.StatusUnsat:
		return smt.StatusUnsat, true, nil
	case smt.StatusUndef:
		return smt.StatusUndef, true, q.undefErr()
	}
	mdl := q.kernel.Model()
	q.updateTail(mdl, 0)
	res = q.kernel.Check([]expr.Expr{q.nfmlPred})
	switch res {
	case smt.StatusUnsat:
		log.Debug("qsat: universal player cannot answer the opening move")
		q.mdl = mdl
		return smt.StatusSat, true, nil
	case smt.StatusUndef:
		return smt.StatusUndef, true, q.undefErr()
	}
	q.updateTail(q.kernel.Model(), 1)
	return smt.StatusUndef, false, nil
}

// checkStep queries the oracle under the assumptions plus the current
// player's formula. On sat it returns the minimized implicant and the
// model; on unsat the core without the player's formula.
func (q *QSAT) checkStep(asms []expr.Expr, fml expr.Expr) (smt.Status, []expr.Expr, *model.Model, error) {
	asms = append(asms, fml)
	res := q.kernel.Check(asms)
	switch res {
	case smt.StatusSat:
		mdl := q.kernel.Model()
		impl, err := q.minimize(q.pa.Implicant(mdl), q.m.Not(fml))
		if err != nil {
			return smt.StatusUndef, nil, nil, err
		}
		return smt.StatusSat, impl, mdl, nil
	case smt.StatusUnsat:
		return smt.StatusUnsat, filterOut(q.kernel.UnsatCore(), fml), nil, nil
	}
	return smt.StatusUndef, nil, nil, nil
}

// minimize shrinks an implicant by dual propagation: conjoined with the
// negated player formula it must be unsat, and the core is the minimized
// implicant.
func (q *QSAT) minimize(impl []expr.Expr, notFml expr.Expr) ([]expr.Expr, error) {
	asms := append(append([]expr.Expr(nil), impl...), notFml)
	switch q.kernel.Check(asms) {
	case smt.StatusSat:
		panic("qsat: dual propagation query is satisfiable")
	case smt.StatusUndef:
		return nil, q.undefErr()
	}
	return filterOut(q.kernel.UnsatCore(), notFml), nil
}

func filterOut(lits []expr.Expr, excl expr.Expr) []expr.Expr {
	out := make([]expr.Expr, 0, len(lits))
	for _, l := range lits {
		if l != excl {
			out = append(out, l)
		}
	}
	return out
}

func isExists(level int) bool { return level%2 == 0 }

func (q *QSAT) getFml(level int) expr.Expr {
	if isExists(level) {
		return q.fmlPred
	}
	return q.nfmlPred
}

func (q *QSAT) addPred(p, lit expr.Expr, level int) {
	if def := q.pa.AddPred(p, lit, level); def != expr.Nil {
		q.kernel.Assert(def)
	}
}

// updateTail refreshes the witness literals of every block with the same
// parity as start, binding each variable to its value in the model.
func (q *QSAT) updateTail(mdl *model.Model, start int) {
	m := q.m
	for i := start; i < len(q.vars); i += 2 {
		for j, v := range q.vars[i] {
			if q.preds[i][j] != expr.Nil {
				q.pa.DelPred(q.preds[i][j])
			}
			val, err := mdl.Eval(v)
			if err != nil {
				panic("qsat: witness value: " + err.Error())
			}
			q.vals[i][j] = val
			if m.Sort(v) == expr.SortBool {
				lit := v
				if m.Kind(val) != expr.KTrue {
					lit = m.Not(v)
				}
				q.preds[i][j] = lit
				q.addPred(lit, lit, i)
			} else {
				p := m.FreshConst("eq", expr.SortBool)
				q.preds[i][j] = p
				q.addPred(p, m.Eq(v, val), i)
			}
		}
	}
}

// assumeTail appends the witness literals of the blocks the current
// player plays against.
func (q *QSAT) assumeTail(level int, asms *[]expr.Expr) {
	start := q.level + 1
	if level > 0 {
		start = level - 1
	}
	for i := start; i < len(q.vars); i += 2 {
		*asms = append(*asms, q.preds[i]...)
	}
}

func (q *QSAT) push() {
	q.assumptionsLim = append(q.assumptionsLim, len(q.assumptions))
	q.pa.Push()
	q.level++
	q.kernel.Push()
	q.replay = append(q.replay, nil)
	if q.level >= 2 {
		q.assumptions = append(q.assumptions, q.preds[q.level-2]...)
	}
}

// pop removes n levels and re-asserts the surviving learned lemmas.
func (q *QSAT) pop(n int) {
	q.level -= n
	var replay []expr.Expr
	for i := 0; i < n; i++ {
		replay = append(replay, q.replay[len(q.replay)-1]...)
		q.replay = q.replay[:len(q.replay)-1]
	}
	q.pa.Pop(n)
	q.assumptions = q.assumptions[:q.assumptionsLim[q.level]]
	q.assumptionsLim = q.assumptionsLim[:q.level]
	q.kernel.Pop(n)
	for _, f := range replay {
		q.kernel.Assert(f)
	}
	if q.level > 0 {
		q.replay[len(q.replay)-1] = append(q.replay[len(q.replay)-1], replay...)
	}
}

// persist learns fml at the given level, guarded by that level's player
// formula, and records it for replay across pops.
func (q *QSAT) persist(level int, fml expr.Expr) {
	f := q.m.Implies(q.getFml(level), fml)
	log.Debugf("qsat: learn at level %d: %s", level, q.m.String(f))
	q.kernel.Assert(f)
	q.replay[len(q.replay)-1] = append(q.replay[len(q.replay)-1], f)
}

// backtrack pops to the deepest level mentioned in the core, excluding
// literals of the two topmost plies, and learns the negated core there.
func (q *QSAT) backtrack(core []expr.Expr) {
	target := 0
	if !isExists(q.level) {
		target = 1
	}
	kept := make([]expr.Expr, 0, len(core))
	for _, p := range core {
		lvl, ok := q.pa.Level(p)
		if !ok {
			lvl = 0
		}
		if lvl+1 < q.level {
			if lvl > target {
				target = lvl
			}
			kept = append(kept, p)
		}
	}
	q.pop(q.level - target)
	q.persist(target, q.m.Not(q.m.And(kept...)))
}

// project eliminates the current player's bound variables from the
// implicant and hands the negation to the opponent one level below. The
// step is skipped when a variable resists projection.
func (q *QSAT) project(impl []expr.Expr, mdl *model.Model) {
	if q.level == 0 {
		return
	}
	var vars []expr.Expr
	for i := q.level; i < len(q.vars); i += 2 {
		vars = append(vars, q.vars[i]...)
	}
	imp := append([]expr.Expr(nil), impl...)
	q.assumeTail(q.level+2, &imp)
	imp = q.pa.Concretize(imp)
	retained, lits := q.proj.Project(mdl, vars, imp)
	if len(retained) > 0 {
		log.Debugf("qsat: projection retained %d variables, skipping lemma", len(retained))
		return
	}
	q.persist(q.level-1, q.m.Not(q.m.And(lits...)))
}

// CheckSat builds a fresh engine over the default oracle and decides fml.
func CheckSat(m *expr.Manager, fml expr.Expr) (smt.Status, *model.Model, error) {
	q := NewQSAT(m, smt.NewSolver(m))
	res, err := q.Check(fml)
	return res, q.Model(), err
}
