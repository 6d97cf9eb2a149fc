package smt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"qsat/internal/expr"
)

func Test_Propositional(t *testing.T) {
	m := expr.NewManager()
	s := NewSolver(m)
	a := m.Const("a", expr.SortBool)
	b := m.Const("b", expr.SortBool)

	s.Assert(m.Or(a, b))
	s.Assert(m.Not(a))
	assert.Equal(t, StatusSat, s.Check(nil))
	assert.True(t, s.Model().IsTrue(b))

	s.Assert(m.Not(b))
	assert.Equal(t, StatusUnsat, s.Check(nil))
}

func Test_AssumptionCore(t *testing.T) {
	m := expr.NewManager()
	s := NewSolver(m)
	a := m.Const("a", expr.SortBool)
	b := m.Const("b", expr.SortBool)
	c := m.Const("c", expr.SortBool)

	s.Assert(m.Or(m.Not(a), m.Not(b)))
	res := s.Check([]expr.Expr{a, b, c})
	assert.Equal(t, StatusUnsat, res)
	core := s.UnsatCore()
	assert.Contains(t, core, a)
	assert.Contains(t, core, b)
	assert.NotContains(t, core, c)
}

func Test_LinearInt(t *testing.T) {
	m := expr.NewManager()
	s := NewSolver(m)
	x := m.Const("x", expr.SortInt)

	s.Assert(m.Lt(m.IntNum(0), x))
	s.Assert(m.Lt(x, m.IntNum(2)))
	assert.Equal(t, StatusSat, s.Check(nil))
	v, err := s.Model().RatValue(x)
	assert.Nil(t, err)
	assert.Equal(t, 0, v.Cmp(expr.IntRat(1)))

	s.Assert(m.Not(m.Eq(x, m.IntNum(1))))
	assert.Equal(t, StatusUnsat, s.Check(nil))
}

func Test_LinearReal(t *testing.T) {
	m := expr.NewManager()
	s := NewSolver(m)
	x := m.Const("x", expr.SortReal)

	s.Assert(m.Lt(m.RealNum(0), x))
	s.Assert(m.Lt(x, m.RealNum(1)))
	assert.Equal(t, StatusSat, s.Check(nil))
	v, err := s.Model().RatValue(x)
	assert.Nil(t, err)
	assert.True(t, v.IsPos())
	assert.True(t, v.Cmp(expr.IntRat(1)) < 0)
}

func Test_Divisibility(t *testing.T) {
	m := expr.NewManager()
	s := NewSolver(m)
	x := m.Const("x", expr.SortInt)

	s.Assert(m.Divides(expr.IntRat(3), x))
	s.Assert(m.Lt(m.IntNum(0), x))
	s.Assert(m.Lt(x, m.IntNum(5)))
	assert.Equal(t, StatusSat, s.Check(nil))
	v, err := s.Model().RatValue(x)
	assert.Nil(t, err)
	assert.Equal(t, 0, v.Cmp(expr.IntRat(3)))

	s.Assert(m.Not(m.Eq(x, m.IntNum(3))))
	assert.Equal(t, StatusUnsat, s.Check(nil))
}

func Test_PushPop(t *testing.T) {
	m := expr.NewManager()
	s := NewSolver(m)
	x := m.Const("x", expr.SortInt)

	s.Assert(m.Lt(m.IntNum(0), x))
	s.Push()
	s.Assert(m.Lt(x, m.IntNum(0)))
	assert.Equal(t, StatusUnsat, s.Check(nil))
	s.Pop(1)
	assert.Equal(t, StatusSat, s.Check(nil))
}

func Test_EufEquality(t *testing.T) {
	m := expr.NewManager()
	s := NewSolver(m)
	u := m.USort("U")
	a := m.Const("a", u)
	b := m.Const("b", u)
	c := m.Const("c", u)

	s.Assert(m.Eq(a, b))
	s.Assert(m.Eq(b, c))
	assert.Equal(t, StatusSat, s.Check(nil))

	s.Assert(m.Not(m.Eq(a, c)))
	assert.Equal(t, StatusUnsat, s.Check(nil))
}

func Test_PredicateCongruence(t *testing.T) {
	m := expr.NewManager()
	s := NewSolver(m)
	x := m.Const("x", expr.SortInt)
	y := m.Const("y", expr.SortInt)
	px := m.App("P", expr.SortBool, x)
	py := m.App("P", expr.SortBool, y)

	s.Assert(px)
	s.Assert(m.Not(py))
	assert.Equal(t, StatusSat, s.Check(nil))
	// the model must keep the argument values apart
	vx, err := s.Model().RatValue(x)
	assert.Nil(t, err)
	vy, err := s.Model().RatValue(y)
	assert.Nil(t, err)
	assert.NotEqual(t, 0, vx.Cmp(vy))

	s.Assert(m.Eq(x, y))
	assert.Equal(t, StatusUnsat, s.Check(nil))
}

func Test_MixedSkeleton(t *testing.T) {
	m := expr.NewManager()
	s := NewSolver(m)
	x := m.Const("x", expr.SortInt)
	b := m.Const("b", expr.SortBool)

	// b -> x > 3, !b -> x < -3, |x| <= 2 forces a conflict
	s.Assert(m.Implies(b, m.Lt(m.IntNum(3), x)))
	s.Assert(m.Implies(m.Not(b), m.Lt(x, m.IntNum(-3))))
	s.Assert(m.Le(x, m.IntNum(2)))
	s.Assert(m.Le(m.IntNum(-2), x))
	assert.Equal(t, StatusUnsat, s.Check(nil))
}

func Test_Cancel(t *testing.T) {
	m := expr.NewManager()
	s := NewSolver(m)
	s.SetCancel(true)
	assert.Equal(t, StatusUndef, s.Check(nil))
	assert.NotEmpty(t, s.LastFailure())
}
