package qe

import (
	"qsat/internal/expr"
	"qsat/internal/model"
)

// PredAbs maintains the propositional abstraction: a bijection between
// atoms and fresh propositional names, the level each name was
// introduced at, and the scoped atom list. Definition clauses are
// returned to the caller, which owns the oracle assertions.
type PredAbs struct {
	m          *expr.Manager
	lit2pred   map[expr.Expr]expr.Expr
	pred2lit   map[expr.Expr]expr.Expr
	pred2level map[expr.Expr]int
	atoms      []expr.Expr
	atomsLim   []int
	numPreds   int
}

func NewPredAbs(m *expr.Manager) *PredAbs {
	return &PredAbs{
		m:          m,
		lit2pred:   make(map[expr.Expr]expr.Expr),
		pred2lit:   make(map[expr.Expr]expr.Expr),
		pred2level: make(map[expr.Expr]int),
	}
}

// AddPred registers the binding p <-> lit at the given level and returns
// the definition to assert, or Nil when p is its own definition.
func (pa *PredAbs) AddPred(p, lit expr.Expr, level int) expr.Expr {
	pa.pred2lit[p] = lit
	pa.lit2pred[lit] = p
	pa.pred2level[p] = level
	pa.atoms = append(pa.atoms, p)
	pa.numPreds++
	if p != lit {
		return pa.m.Iff(p, lit)
	}
	return expr.Nil
}

func (pa *PredAbs) DelPred(p expr.Expr) {
	if lit, ok := pa.pred2lit[p]; ok {
		delete(pa.lit2pred, lit)
		delete(pa.pred2lit, p)
		delete(pa.pred2level, p)
	}
}

// Level returns the introduction level of a propositional name. Negated
// names resolve through their atom.
func (pa *PredAbs) Level(p expr.Expr) (int, bool) {
	if l, ok := pa.pred2level[p]; ok {
		return l, true
	}
	if pa.m.Kind(p) == expr.KNot {
		l, ok := pa.pred2level[pa.m.Arg(p, 0)]
		return l, ok
	}
	return 0, false
}

// SetLevel records a quantification level for an expression, used by the
// EPR variant to tag free and bound constants.
func (pa *PredAbs) SetLevel(e expr.Expr, level int) {
	pa.pred2level[e] = level
}

// MaxLevel folds the recorded levels of all constants below e.
func (pa *PredAbs) MaxLevel(e expr.Expr) int {
	max := 0
	seen := make(map[expr.Expr]bool)
	var walk func(expr.Expr)
	walk = func(x expr.Expr) {
		if seen[x] {
			return
		}
		seen[x] = true
		if l, ok := pa.pred2level[x]; ok && l > max {
			max = l
		}
		for _, a := range pa.m.Args(x) {
			walk(a)
		}
	}
	walk(e)
	return max
}

func (pa *PredAbs) isStructural(e expr.Expr) bool {
	switch pa.m.Kind(e) {
	case expr.KNot, expr.KAnd, expr.KOr, expr.KImplies, expr.KIff, expr.KTrue, expr.KFalse:
		return true
	case expr.KIte:
		return pa.m.Sort(e) == expr.SortBool
	case expr.KEq:
		return pa.m.Sort(pa.m.Arg(e, 0)) == expr.SortBool
	}
	return false
}

// Abstract replaces every non-structural Boolean subformula of fml by a
// propositional name, introducing names at the given level. It returns
// the abstracted formula and the definitions to assert.
func (pa *PredAbs) Abstract(fml expr.Expr, level int) (expr.Expr, []expr.Expr) {
	m := pa.m
	var defs []expr.Expr
	cache := make(map[expr.Expr]expr.Expr)
	var walk func(expr.Expr) expr.Expr
	walk = func(e expr.Expr) expr.Expr {
		if r, ok := cache[e]; ok {
			return r
		}
		var r expr.Expr
		switch {
		case pa.isStructural(e):
			args := m.Args(e)
			newArgs := make([]expr.Expr, len(args))
			for i, a := range args {
				newArgs[i] = walk(a)
			}
			r = e
			for i := range args {
				if newArgs[i] != args[i] {
					r = pa.rebuildStructural(e, newArgs)
					break
				}
			}
		case m.Kind(e) == expr.KConst && m.Sort(e) == expr.SortBool:
			if _, ok := pa.pred2lit[e]; !ok {
				pa.AddPred(e, e, level)
			}
			r = e
		default:
			if p, ok := pa.lit2pred[e]; ok {
				r = p
			} else {
				p := m.FreshConst("p", expr.SortBool)
				if def := pa.AddPred(p, e, level); def != expr.Nil {
					defs = append(defs, def)
				}
				r = p
			}
		}
		cache[e] = r
		return r
	}
	return walk(fml), defs
}

func (pa *PredAbs) rebuildStructural(e expr.Expr, args []expr.Expr) expr.Expr {
	m := pa.m
	switch m.Kind(e) {
	case expr.KNot:
		return m.Not(args[0])
	case expr.KAnd:
		return m.And(args...)
	case expr.KOr:
		return m.Or(args...)
	case expr.KImplies:
		return m.Implies(args[0], args[1])
	case expr.KIff:
		return m.Iff(args[0], args[1])
	case expr.KIte:
		return m.Ite(args[0], args[1], args[2])
	case expr.KEq:
		return m.Iff(args[0], args[1])
	}
	return e
}

// Implicant evaluates every tracked atom under the model and returns the
// corresponding literal set.
func (pa *PredAbs) Implicant(mdl *model.Model) []expr.Expr {
	impl := make([]expr.Expr, 0, len(pa.atoms))
	for _, p := range pa.atoms {
		if mdl.IsTrue(p) {
			impl = append(impl, p)
		} else {
			impl = append(impl, pa.m.Not(p))
		}
	}
	return impl
}

// Concretize maps propositional names in a core back to their atoms.
func (pa *PredAbs) Concretize(core []expr.Expr) []expr.Expr {
	out := make([]expr.Expr, len(core))
	for i, e := range core {
		out[i] = pa.concretizeLit(e)
	}
	return out
}

func (pa *PredAbs) concretizeLit(e expr.Expr) expr.Expr {
	if pa.m.Kind(e) == expr.KNot {
		if lit, ok := pa.pred2lit[pa.m.Arg(e, 0)]; ok {
			return pa.m.Not(lit)
		}
		return e
	}
	if lit, ok := pa.pred2lit[e]; ok {
		return lit
	}
	return e
}

// MkAssumptionLiteral turns an arbitrary formula into a propositional
// assumption, returning the literal and a definition to assert when a
// new name was needed.
func (pa *PredAbs) MkAssumptionLiteral(a expr.Expr, level int) (expr.Expr, expr.Expr) {
	m := pa.m
	if m.Kind(a) == expr.KConst && m.Sort(a) == expr.SortBool {
		return a, expr.Nil
	}
	if m.Kind(a) == expr.KNot && m.Kind(m.Arg(a, 0)) == expr.KConst {
		return a, expr.Nil
	}
	if p, ok := pa.lit2pred[a]; ok {
		return p, expr.Nil
	}
	p := m.FreshConst("asm", expr.SortBool)
	def := pa.AddPred(p, a, level)
	return p, def
}

// Atoms returns the live atom list.
func (pa *PredAbs) Atoms() []expr.Expr {
	return pa.atoms
}

func (pa *PredAbs) NumPreds() int { return pa.numPreds }

func (pa *PredAbs) Push() {
	pa.atomsLim = append(pa.atomsLim, len(pa.atoms))
}

// Pop removes the mappings introduced in the top n scopes.
func (pa *PredAbs) Pop(n int) {
	if n > len(pa.atomsLim) {
		n = len(pa.atomsLim)
	}
	lim := pa.atomsLim[len(pa.atomsLim)-n]
	for _, p := range pa.atoms[lim:] {
		pa.DelPred(p)
	}
	pa.atoms = pa.atoms[:lim]
	pa.atomsLim = pa.atomsLim[:len(pa.atomsLim)-n]
}
