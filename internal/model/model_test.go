package model

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"qsat/internal/expr"
)

func Test_Eval(t *testing.T) {
	m := expr.NewManager()
	mdl := NewModel(m)
	x := m.Const("x", expr.SortInt)
	y := m.Const("y", expr.SortInt)
	mdl.Register(x, m.IntNum(5))
	mdl.Register(y, m.IntNum(-2))

	v, err := mdl.Eval(m.Add(x, m.Mul(expr.IntRat(3), y)))
	assert.Nil(t, err)
	assert.Equal(t, m.IntNum(-1), v)

	assert.True(t, mdl.IsTrue(m.Le(y, x)))
	assert.False(t, mdl.IsTrue(m.Eq(x, y)))
	assert.True(t, mdl.IsTrue(m.Divides(expr.IntRat(5), x)))

	v, err = mdl.Eval(m.Mod(m.Sub(y, m.IntNum(1)), m.IntNum(4)))
	assert.Nil(t, err)
	assert.Equal(t, m.IntNum(1), v)

	r, err := mdl.RatValue(m.Neg(x))
	assert.Nil(t, err)
	assert.Equal(t, 0, r.Cmp(expr.IntRat(-5)))
}

func Test_EvalDefaults(t *testing.T) {
	m := expr.NewManager()
	mdl := NewModel(m)
	z := m.Const("z", expr.SortInt)
	b := m.Const("b", expr.SortBool)

	// unassigned constants complete to defaults
	v, err := mdl.Eval(z)
	assert.Nil(t, err)
	assert.Equal(t, m.IntNum(0), v)
	assert.False(t, mdl.IsTrue(b))
}

func Test_PredGraph(t *testing.T) {
	m := expr.NewManager()
	mdl := NewModel(m)
	x := m.Const("x", expr.SortInt)
	mdl.Register(x, m.IntNum(1))
	mdl.RegisterPred("P", []expr.Expr{m.IntNum(1)}, true)

	assert.True(t, mdl.IsTrue(m.App("P", expr.SortBool, x)))
	assert.False(t, mdl.IsTrue(m.App("P", expr.SortBool, m.IntNum(2))))

	// registration is monotone; later tuples extend the graph
	mdl.RegisterPred("P", []expr.Expr{m.IntNum(2)}, true)
	assert.True(t, mdl.IsTrue(m.App("P", expr.SortBool, m.IntNum(2))))
}

func Test_EvalBoolOps(t *testing.T) {
	m := expr.NewManager()
	mdl := NewModel(m)
	a := m.Const("a", expr.SortBool)
	mdl.Register(a, m.True())

	assert.True(t, mdl.IsTrue(m.And(a, m.Implies(m.Not(a), m.False()))))
	assert.True(t, mdl.IsTrue(m.Iff(a, m.True())))
	assert.True(t, mdl.IsTrue(m.Ite(a, m.True(), m.False())))
	assert.False(t, mdl.IsTrue(m.Or(m.Not(a), m.False())))
}
