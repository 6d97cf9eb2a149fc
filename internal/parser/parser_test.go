package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"qsat/internal/expr"
	"qsat/internal/qe"
	"qsat/internal/smt"
)

func Test_ParseBasics(t *testing.T) {
	m := expr.NewManager()
	src := `
; a toy problem
(set-logic LIA)
(declare-const x Int)
(declare-const y Int)
(assert (<= (+ (* 2 x) y) 10))
(assert (forall ((z Int)) (or (< z x) (<= x z))))
(check-sat)
`
	f, err := New(m).Parse(src)
	assert.Nil(t, err)
	assert.Equal(t, expr.KAnd, m.Kind(f))

	free := m.Consts(f, nil)
	assert.Len(t, free, 2)
}

func Test_ParsePredicates(t *testing.T) {
	m := expr.NewManager()
	src := `
(declare-fun _P (Int) Bool)
(declare-const c Int)
(assert (_P c))
(assert (not (_P 3)))
`
	f, err := New(m).Parse(src)
	assert.Nil(t, err)
	apps := m.Apps(f, func(name string) bool { return name == "_P" })
	assert.Len(t, apps, 2)
}

func Test_ParseRealsAndRationals(t *testing.T) {
	m := expr.NewManager()
	src := `
(declare-const r Real)
(assert (< r 1/2))
(assert (< 0.25 r))
`
	f, err := New(m).Parse(src)
	assert.Nil(t, err)
	assert.Equal(t, expr.KAnd, m.Kind(f))
}

func Test_ParseErrors(t *testing.T) {
	m := expr.NewManager()
	_, err := New(m).Parse(`(assert (frob 1 2))`)
	assert.NotNil(t, err)

	_, err = New(m).Parse(`(assert (< x 1))`)
	assert.NotNil(t, err)

	_, err = New(m).Parse(`(assert (< 1`)
	assert.NotNil(t, err)
}

func Test_ParseAndSolve(t *testing.T) {
	m := expr.NewManager()
	src := `
(declare-const x Real)
(assert (exists ((y Real)) (and (< x y) (< y (+ x 1)))))
`
	f, err := New(m).Parse(src)
	assert.Nil(t, err)

	res, _, err := qe.CheckSat(m, f)
	assert.Nil(t, err)
	assert.Equal(t, smt.StatusSat, res)
}
