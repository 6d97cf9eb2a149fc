package qe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"qsat/internal/expr"
	"qsat/internal/smt"
)

func elimUnderscore(name string) bool {
	return strings.HasPrefix(name, "_")
}

func Test_EprInjectivity(t *testing.T) {
	m := expr.NewManager()
	x := m.Const("x", expr.SortInt)
	y := m.Const("y", expr.SortInt)
	px := m.App("_P", expr.SortBool, x)
	py := m.App("_P", expr.SortBool, y)

	// forall x, y. _P(x) and not _P(y) implies x != y holds for every
	// interpretation of _P, so the equivalent is the empty conjunction
	f := m.Forall([]expr.Expr{x, y},
		m.Implies(m.And(px, m.Not(py)), m.Not(m.Eq(x, y))))

	e := NewEPR(m, smt.NewSolver(m), smt.NewSolver(m), elimUnderscore)
	answer, err := e.Eliminate(f)
	assert.Nil(t, err)
	assert.Empty(t, answer)
	assert.LessOrEqual(t, e.MaxLevel(), 3)
}

func Test_EprWitnessedDisjunction(t *testing.T) {
	m := expr.NewManager()
	x := m.Const("x", expr.SortInt)
	px := m.App("_P", expr.SortBool, x)

	// forall x. _P(x) or x <= 0 holds with _P constantly true
	f := m.Forall([]expr.Expr{x}, m.Or(px, m.Le(x, m.IntNum(0))))

	e := NewEPR(m, smt.NewSolver(m), smt.NewSolver(m), elimUnderscore)
	answer, err := e.Eliminate(f)
	assert.Nil(t, err)
	assert.LessOrEqual(t, e.MaxLevel(), 3)
	assert.NotNil(t, answer)
}

func Test_EprGroundConflict(t *testing.T) {
	m := expr.NewManager()
	c := m.Const("c", expr.SortInt)
	pc := m.App("_P", expr.SortBool, c)

	// _P(c) and not _P(c) cannot be satisfied by any interpretation
	f := m.And(pc, m.Not(pc))

	e := NewEPR(m, smt.NewSolver(m), smt.NewSolver(m), elimUnderscore)
	answer, err := e.Eliminate(f)
	assert.Nil(t, err)
	// the equivalent must be unsatisfiable
	s := smt.NewSolver(m)
	s.Assert(m.And(answer...))
	assert.Equal(t, smt.StatusUnsat, s.Check(nil))
}

func Test_EprRejectsDeepPrefix(t *testing.T) {
	m := expr.NewManager()
	x := m.Const("x", expr.SortInt)
	y := m.Const("y", expr.SortInt)
	f := m.Forall([]expr.Expr{x}, m.Exists([]expr.Expr{y}, m.Eq(x, y)))

	e := NewEPR(m, smt.NewSolver(m), smt.NewSolver(m), elimUnderscore)
	_, err := e.Eliminate(f)
	assert.NotNil(t, err)
}

func Test_EprCancelled(t *testing.T) {
	m := expr.NewManager()
	x := m.Const("x", expr.SortInt)
	px := m.App("_P", expr.SortBool, x)
	f := m.Forall([]expr.Expr{x}, px)

	e := NewEPR(m, smt.NewSolver(m), smt.NewSolver(m), elimUnderscore)
	e.SetCancel(true)
	_, err := e.Eliminate(f)
	assert.NotNil(t, err)
}
