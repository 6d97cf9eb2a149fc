package qe

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"qsat/internal/expr"
	"qsat/internal/smt"
)

func Test_ExistsRealInterval(t *testing.T) {
	m := expr.NewManager()
	x := m.Const("x", expr.SortReal)
	f := m.Exists([]expr.Expr{x}, m.And(m.Gt(x, m.RealNum(0)), m.Lt(x, m.RealNum(1))))

	res, mdl, err := CheckSat(m, f)
	assert.Nil(t, err)
	assert.Equal(t, smt.StatusSat, res)
	if assert.NotNil(t, mdl) {
		v, err := mdl.RatValue(x)
		assert.Nil(t, err)
		assert.True(t, v.IsPos())
		assert.True(t, v.Cmp(expr.IntRat(1)) < 0)
	}
}

func Test_ForallExistsInt(t *testing.T) {
	m := expr.NewManager()
	x := m.Const("x", expr.SortInt)
	y := m.Const("y", expr.SortInt)
	f := m.Forall([]expr.Expr{x}, m.Exists([]expr.Expr{y}, m.Gt(y, x)))

	res, _, err := CheckSat(m, f)
	assert.Nil(t, err)
	assert.Equal(t, smt.StatusSat, res)
}

func Test_ExistsForallInt(t *testing.T) {
	m := expr.NewManager()
	x := m.Const("x", expr.SortInt)
	y := m.Const("y", expr.SortInt)
	f := m.Exists([]expr.Expr{x}, m.Forall([]expr.Expr{y}, m.Gt(x, y)))

	res, _, err := CheckSat(m, f)
	assert.Nil(t, err)
	assert.Equal(t, smt.StatusUnsat, res)
}

func Test_NoIntegerHalf(t *testing.T) {
	m := expr.NewManager()
	x := m.Const("x", expr.SortInt)
	f := m.Exists([]expr.Expr{x}, m.Eq(m.Mul(expr.IntRat(2), x), m.IntNum(1)))

	res, _, err := CheckSat(m, f)
	assert.Nil(t, err)
	assert.Equal(t, smt.StatusUnsat, res)
}

func Test_BooleanGame(t *testing.T) {
	m := expr.NewManager()
	b := m.Const("b", expr.SortBool)
	c := m.Const("c", expr.SortBool)
	f := m.Forall([]expr.Expr{b}, m.Exists([]expr.Expr{c}, m.Iff(b, c)))

	res, _, err := CheckSat(m, f)
	assert.Nil(t, err)
	assert.Equal(t, smt.StatusSat, res)

	g := m.Exists([]expr.Expr{c}, m.Forall([]expr.Expr{b}, m.Iff(b, c)))
	res, _, err = CheckSat(m, g)
	assert.Nil(t, err)
	assert.Equal(t, smt.StatusUnsat, res)
}

func Test_FreeVariables(t *testing.T) {
	m := expr.NewManager()
	x := m.Const("x", expr.SortInt)
	y := m.Const("y", expr.SortInt)
	// free x: exists y. y > x is satisfiable for any value of x
	f := m.Exists([]expr.Expr{y}, m.Gt(y, x))

	res, mdl, err := CheckSat(m, f)
	assert.Nil(t, err)
	assert.Equal(t, smt.StatusSat, res)
	assert.NotNil(t, mdl)
}

func Test_GroundFormulas(t *testing.T) {
	m := expr.NewManager()
	res, _, err := CheckSat(m, m.True())
	assert.Nil(t, err)
	assert.Equal(t, smt.StatusSat, res)

	res, _, err = CheckSat(m, m.False())
	assert.Nil(t, err)
	assert.Equal(t, smt.StatusUnsat, res)
}

func Test_AlternationDepthThree(t *testing.T) {
	m := expr.NewManager()
	x := m.Const("x", expr.SortInt)
	y := m.Const("y", expr.SortInt)
	z := m.Const("z", expr.SortInt)
	// exists x. forall y. exists z. x <= y or z > y
	f := m.Exists([]expr.Expr{x},
		m.Forall([]expr.Expr{y},
			m.Exists([]expr.Expr{z},
				m.Or(m.Le(x, y), m.Gt(z, y)))))

	res, _, err := CheckSat(m, f)
	assert.Nil(t, err)
	assert.Equal(t, smt.StatusSat, res)
}

func Test_Cancelled(t *testing.T) {
	m := expr.NewManager()
	x := m.Const("x", expr.SortInt)
	f := m.Exists([]expr.Expr{x}, m.Gt(x, m.IntNum(0)))

	q := NewQSAT(m, smt.NewSolver(m))
	q.SetCancel(true)
	res, err := q.Check(f)
	assert.Equal(t, smt.StatusUndef, res)
	assert.True(t, errors.Is(err, ErrCancelled))
}

func Test_Hoisting(t *testing.T) {
	m := expr.NewManager()
	x := m.Const("x", expr.SortInt)
	y := m.Const("y", expr.SortInt)
	w := m.Const("w", expr.SortInt)

	f := m.Not(m.Exists([]expr.Expr{x}, m.Forall([]expr.Expr{y}, m.Lt(m.Add(x, w), y))))
	prefix, matrix := hoistPrefix(m, f)

	// negation flips the prefix: forall x. exists y
	assert.Equal(t, []expr.Expr{w}, prefix[0])
	assert.Equal(t, []expr.Expr{x}, prefix[1])
	assert.Equal(t, []expr.Expr{y}, prefix[2])
	assert.Empty(t, prefix[len(prefix)-1])
	assert.Equal(t, expr.KNot, m.Kind(matrix))
}

func Test_HoistingRenamesClashes(t *testing.T) {
	m := expr.NewManager()
	x := m.Const("x", expr.SortInt)

	// the same constant is bound twice; one side is renamed apart
	f := m.And(
		m.Exists([]expr.Expr{x}, m.Gt(x, m.IntNum(0))),
		m.Exists([]expr.Expr{x}, m.Lt(x, m.IntNum(0))),
	)
	prefix, matrix := hoistPrefix(m, f)
	assert.Len(t, prefix[0], 2)
	assert.NotEqual(t, prefix[0][0], prefix[0][1])

	res, _, err := CheckSat(m, f)
	assert.Nil(t, err)
	assert.Equal(t, smt.StatusSat, res)
	_ = matrix
}
