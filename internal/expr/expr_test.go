package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Interning(t *testing.T) {
	m := NewManager()
	x := m.Const("x", SortInt)
	y := m.Const("y", SortInt)

	a := m.Add(x, m.IntNum(1))
	b := m.Add(x, m.IntNum(1))
	assert.Equal(t, a, b)

	c := m.Add(y, m.IntNum(1))
	assert.NotEqual(t, a, c)

	assert.Equal(t, m.Const("x", SortInt), x)
	assert.NotEqual(t, m.Const("x", SortReal), x)

	n1 := m.NumRat(FracRat(1, 2), SortReal)
	n2 := m.NumRat(FracRat(2, 4), SortReal)
	assert.Equal(t, n1, n2)
}

func Test_BoolConstructors(t *testing.T) {
	m := NewManager()
	b := m.Const("b", SortBool)

	assert.Equal(t, m.False(), m.Not(m.True()))
	assert.Equal(t, b, m.Not(m.Not(b)))
	assert.Equal(t, m.True(), m.And())
	assert.Equal(t, b, m.And(m.True(), b))
	assert.Equal(t, m.False(), m.And(b, m.False()))
	assert.Equal(t, m.True(), m.Or(b, m.True()))
	assert.Equal(t, m.True(), m.Eq(b, b))

	// nested conjunctions flatten
	c := m.Const("c", SortBool)
	d := m.Const("d", SortBool)
	assert.Equal(t, m.And(b, c, d), m.And(m.And(b, c), d))
}

func Test_Substitute(t *testing.T) {
	m := NewManager()
	x := m.Const("x", SortInt)
	y := m.Const("y", SortInt)
	e := m.Le(m.Add(x, y), m.IntNum(0))

	r := m.Substitute(e, map[Expr]Expr{x: m.IntNum(5)})
	assert.Equal(t, m.Le(m.Add(m.IntNum(5), y), m.IntNum(0)), r)
	assert.False(t, m.Contains(r, x))
	assert.True(t, m.Contains(r, y))
}

func Test_Consts(t *testing.T) {
	m := NewManager()
	x := m.Const("x", SortInt)
	y := m.Const("y", SortInt)
	z := m.Const("z", SortInt)
	f := m.Exists([]Expr{x}, m.And(m.Le(x, y), m.Le(y, z)))

	free := m.Consts(f, nil)
	assert.Equal(t, []Expr{y, z}, free)
}

func Test_Rat(t *testing.T) {
	assert.Equal(t, "6", IntRat(2).Lcm(IntRat(3)).String())
	assert.Equal(t, "2", IntRat(6).Gcd(IntRat(-4)).String())
	assert.Equal(t, "2", IntRat(5).Mod(IntRat(3)).String())
	assert.Equal(t, "1", IntRat(-5).Mod(IntRat(3)).String())
	assert.Equal(t, "-2", FracRat(-3, 2).Floor().String())
	assert.Equal(t, "-1", FracRat(-3, 2).Ceil().String())
	assert.Equal(t, "2", FracRat(3, 2).Ceil().String())
	assert.True(t, FracRat(4, 2).IsInt())
	assert.False(t, FracRat(1, 2).IsInt())
	assert.Equal(t, 0, FracRat(1, 3).Mul(IntRat(3)).Cmp(IntRat(1)))

	v, ok := IntRat(42).Int64()
	assert.True(t, ok)
	assert.Equal(t, int64(42), v)
}
