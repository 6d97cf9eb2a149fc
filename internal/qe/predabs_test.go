package qe

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"qsat/internal/expr"
	"qsat/internal/model"
	"qsat/internal/smt"
)

func Test_AbstractRoundTrip(t *testing.T) {
	m := expr.NewManager()
	pa := NewPredAbs(m)
	x := m.Const("x", expr.SortInt)
	y := m.Const("y", expr.SortInt)
	b := m.Const("b", expr.SortBool)

	fml := m.And(m.Lt(x, m.IntNum(0)), m.Or(b, m.Le(y, x)))
	abs, defs := pa.Abstract(fml, 0)
	assert.Len(t, defs, 2)
	assert.Len(t, pa.Atoms(), 3)

	// the skeleton preserves the Boolean structure
	assert.Equal(t, expr.KAnd, m.Kind(abs))

	// concretization inverts the naming, also through negations
	for _, p := range pa.Atoms() {
		lits := pa.Concretize([]expr.Expr{p, m.Not(p)})
		if p == b {
			assert.Equal(t, b, lits[0])
			continue
		}
		assert.NotEqual(t, p, lits[0])
		assert.Equal(t, m.Not(lits[0]), lits[1])
	}

	// abstracting again reuses the same names
	abs2, defs2 := pa.Abstract(fml, 0)
	assert.Equal(t, abs, abs2)
	assert.Empty(t, defs2)
}

func Test_AbstractScopes(t *testing.T) {
	m := expr.NewManager()
	pa := NewPredAbs(m)
	x := m.Const("x", expr.SortInt)

	pa.Push()
	atom := m.Le(x, m.IntNum(3))
	_, defs := pa.Abstract(atom, 1)
	assert.Len(t, defs, 1)
	p := pa.Atoms()[0]
	lvl, ok := pa.Level(p)
	assert.True(t, ok)
	assert.Equal(t, 1, lvl)

	pa.Pop(1)
	assert.Empty(t, pa.Atoms())
	// mappings of popped scopes are gone
	assert.Equal(t, p, pa.Concretize([]expr.Expr{p})[0])
	_, ok = pa.Level(p)
	assert.False(t, ok)
}

func Test_CoreValidity(t *testing.T) {
	m := expr.NewManager()
	pa := NewPredAbs(m)
	s := smt.NewSolver(m)
	x := m.Const("x", expr.SortInt)

	a1 := m.Lt(x, m.IntNum(0))
	a2 := m.Lt(m.IntNum(1), x)
	_, defs := pa.Abstract(m.And(a1, a2), 0)
	for _, d := range defs {
		s.Assert(d)
	}
	asms := pa.Atoms()
	assert.Equal(t, smt.StatusUnsat, s.Check(asms))
	core := s.UnsatCore()
	assert.NotEmpty(t, core)

	// the concretized core is itself unsatisfiable in the theory
	s2 := smt.NewSolver(m)
	s2.Assert(m.And(pa.Concretize(core)...))
	assert.Equal(t, smt.StatusUnsat, s2.Check(nil))
}

func Test_ImplicantEvaluation(t *testing.T) {
	m := expr.NewManager()
	pa := NewPredAbs(m)
	x := m.Const("x", expr.SortInt)

	_, _ = pa.Abstract(m.And(m.Le(x, m.IntNum(0)), m.Le(m.IntNum(5), x)), 0)
	mdl := model.NewModel(m)
	mdl.Register(x, m.IntNum(-1))
	p1, p2 := pa.Atoms()[0], pa.Atoms()[1]
	mdl.Register(p1, m.True())
	mdl.Register(p2, m.False())

	impl := pa.Implicant(mdl)
	assert.Equal(t, []expr.Expr{p1, m.Not(p2)}, impl)
}

func Test_MaxLevel(t *testing.T) {
	m := expr.NewManager()
	pa := NewPredAbs(m)
	x := m.Const("x", expr.SortInt)
	y := m.Const("y", expr.SortInt)
	pa.SetLevel(x, 0)
	pa.SetLevel(y, 2)

	assert.Equal(t, 2, pa.MaxLevel(m.App("P", expr.SortBool, x, y)))
	assert.Equal(t, 0, pa.MaxLevel(m.App("P", expr.SortBool, x, x)))
}
