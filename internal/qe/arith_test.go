package qe

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"qsat/internal/expr"
	"qsat/internal/model"
	"qsat/internal/smt"
)

func Test_ProjectInterval(t *testing.T) {
	m := expr.NewManager()
	proj := NewProjector(m)
	x := m.Const("x", expr.SortInt)
	mdl := model.NewModel(m)
	mdl.Register(x, m.IntNum(5))

	// x >= 2, x <= 5, 3 | x+1 with x = 5 projects to true
	lits := []expr.Expr{
		m.Ge(x, m.IntNum(2)),
		m.Le(x, m.IntNum(5)),
		m.Divides(expr.IntRat(3), m.Add(x, m.IntNum(1))),
	}
	retained, out := proj.Project(mdl, []expr.Expr{x}, lits)
	assert.Empty(t, retained)
	assert.Empty(t, out)
}

func Test_ProjectIntResolution(t *testing.T) {
	m := expr.NewManager()
	proj := NewProjector(m)
	x := m.Const("x", expr.SortInt)
	y := m.Const("y", expr.SortInt)
	z := m.Const("z", expr.SortInt)
	mdl := model.NewModel(m)
	mdl.Register(x, m.IntNum(0))
	mdl.Register(y, m.IntNum(0))
	mdl.Register(z, m.IntNum(0))

	// 2x + y <= 0 and -3x + z <= 0: opposite signs, both coefficients
	// above one, and the slack bound fails in the model
	lits := []expr.Expr{
		m.Le(m.Add(m.Mul(expr.IntRat(2), x), y), m.IntNum(0)),
		m.Le(m.Add(m.Mul(expr.IntRat(-3), x), z), m.IntNum(0)),
	}
	retained, out := proj.Project(mdl, []expr.Expr{x}, lits)
	assert.Empty(t, retained)
	if assert.Len(t, out, 2) {
		assert.Equal(t, "(= (mod y 2) 0)", m.String(out[0]))
		assert.Equal(t, "(<= (+ (* 3 y) (* 2 z)) 0)", m.String(out[1]))
	}
	for _, l := range out {
		assert.True(t, mdl.IsTrue(l), m.String(l))
	}
}

func Test_ProjectEquality(t *testing.T) {
	m := expr.NewManager()
	proj := NewProjector(m)
	x := m.Const("x", expr.SortInt)
	y := m.Const("y", expr.SortInt)
	mdl := model.NewModel(m)
	mdl.Register(x, m.IntNum(2))
	mdl.Register(y, m.IntNum(6))

	// the equality short-circuits the projection: no case splits
	lits := []expr.Expr{
		m.Eq(m.Mul(expr.IntRat(3), x), y),
		m.Le(x, m.IntNum(10)),
		m.Divides(expr.IntRat(5), m.Add(x, m.IntNum(3))),
	}
	retained, out := proj.Project(mdl, []expr.Expr{x}, lits)
	assert.Empty(t, retained)
	assert.LessOrEqual(t, len(out), len(lits))
	for _, l := range out {
		assert.True(t, mdl.IsTrue(l), m.String(l))
		assert.False(t, m.Contains(l, x))
	}
}

func Test_ProjectRetainsNonlinear(t *testing.T) {
	m := expr.NewManager()
	proj := NewProjector(m)
	x := m.Const("x", expr.SortInt)
	mdl := model.NewModel(m)
	mdl.Register(x, m.IntNum(1))

	// x under an uninterpreted predicate cannot be projected
	lits := []expr.Expr{m.App("P", expr.SortBool, x)}
	retained, out := proj.Project(mdl, []expr.Expr{x}, lits)
	assert.Equal(t, []expr.Expr{x}, retained)
	assert.Equal(t, lits, out)
}

func Test_ProjectBoolRetained(t *testing.T) {
	m := expr.NewManager()
	proj := NewProjector(m)
	b := m.Const("b", expr.SortBool)
	mdl := model.NewModel(m)

	retained, out := proj.Project(mdl, []expr.Expr{b}, []expr.Expr{b})
	assert.Equal(t, []expr.Expr{b}, retained)
	assert.Equal(t, []expr.Expr{b}, out)
}

// randomLits builds a conjunction of random linear literals over the
// given variables, each adjusted to hold in the model.
func randomLits(m *expr.Manager, rng *rand.Rand, mdl *model.Model, vars []expr.Expr, n int) []expr.Expr {
	lits := make([]expr.Expr, 0, n)
	for len(lits) < n {
		var parts []expr.Expr
		for _, v := range vars {
			c := int64(rng.Intn(9) - 4)
			if c != 0 {
				parts = append(parts, m.Mul(expr.IntRat(c), v))
			}
		}
		if len(parts) == 0 {
			continue
		}
		term := m.Add(parts...)
		val, err := mdl.RatValue(term)
		if err != nil {
			panic(err)
		}
		k, _ := val.Int64()
		var lit expr.Expr
		switch rng.Intn(4) {
		case 0:
			lit = m.Le(term, m.IntNum(k+int64(rng.Intn(5))))
		case 1:
			lit = m.Ge(term, m.IntNum(k-int64(rng.Intn(5))))
		case 2:
			lit = m.Eq(term, m.IntNum(k))
		default:
			d := int64(rng.Intn(3) + 2)
			r := val.Mod(expr.IntRat(d))
			rv, _ := r.Int64()
			lit = m.Divides(expr.IntRat(d), m.Sub(term, m.IntNum(rv)))
		}
		lits = append(lits, lit)
	}
	return lits
}

func Test_ProjectProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		m := expr.NewManager()
		proj := NewProjector(m)
		x := m.Const("x", expr.SortInt)
		y := m.Const("y", expr.SortInt)
		z := m.Const("z", expr.SortInt)
		vars := []expr.Expr{x, y, z}
		mdl := model.NewModel(m)
		for _, v := range vars {
			mdl.Register(v, m.IntNum(int64(rng.Intn(11)-5)))
		}
		lits := randomLits(m, rng, mdl, vars, 2+rng.Intn(3))
		for _, l := range lits {
			assert.True(t, mdl.IsTrue(l), "input literal must hold: %s", m.String(l))
		}

		retained, out := proj.Project(mdl, []expr.Expr{x}, lits)
		assert.Empty(t, retained, "round %d", round)
		for _, l := range out {
			// model preservation and variable elimination
			assert.True(t, mdl.IsTrue(l), "round %d: %s", round, m.String(l))
			assert.False(t, m.Contains(l, x), "round %d: %s", round, m.String(l))
		}

		// idempotence: a second projection of x is the identity
		retained2, out2 := proj.Project(mdl, []expr.Expr{x}, out)
		assert.Empty(t, retained2)
		assert.Equal(t, out, out2, "round %d", round)

		// soundness: the input conjunction entails the output
		s := smt.NewSolver(m)
		s.Assert(m.And(lits...))
		s.Assert(m.Not(m.And(append([]expr.Expr(nil), out...)...)))
		res := s.Check(nil)
		if res == smt.StatusUndef {
			fmt.Printf("round %d: oracle undef: %s\n", round, s.LastFailure())
			continue
		}
		assert.Equal(t, smt.StatusUnsat, res, "round %d", round)
	}
}
