package smt

import (
	"sync/atomic"

	"github.com/go-air/gini"
	"github.com/go-air/gini/z"
	log "github.com/sirupsen/logrus"

	"qsat/internal/expr"
	"qsat/internal/model"
)

// Oracle is the interface a theory solver kernel must satisfy for use
// by the quantifier-elimination procedures.
type Oracle interface {
	Assert(e expr.Expr)
	Push()
	Pop(n int)
	Check(assumptions []expr.Expr) Status
	Model() *model.Model
	UnsatCore() []expr.Expr
	SetCancel(f bool)
	LastFailure() string
}

// Status is the result of a Solver.Check call.
type Status int

const (
	StatusUndef Status = iota
	StatusSat
	StatusUnsat
)

// Solver is a lazy DPLL(T) oracle: gini decides the propositional
// skeleton, the theory layer decides conjunctions of ground literals
// over linear arithmetic and equality. Scoped assertions are guarded by
// per-level activation literals, so popping a scope never discards
// learned theory lemmas.
type Solver struct {
	m       *expr.Manager
	g       *gini.Gini
	th      *theory
	nextVar z.Var
	trueLit z.Lit
	lits    map[expr.Expr]z.Lit
	atoms   []expr.Expr
	atomLit map[expr.Expr]z.Lit
	acts    []z.Lit
	cancel  atomic.Bool
	mdl     *model.Model
	core    []expr.Expr
	failure string
}

// maxTheoryRounds bounds the lemma loop of a single Check call.
const maxTheoryRounds = 10000

func NewSolver(m *expr.Manager) *Solver {
	s := &Solver{
		m:       m,
		g:       gini.New(),
		th:      newTheory(m),
		lits:    make(map[expr.Expr]z.Lit),
		atomLit: make(map[expr.Expr]z.Lit),
	}
	s.trueLit = s.freshLit()
	s.addClause(s.trueLit)
	return s
}

func (s *Solver) freshLit() z.Lit {
	s.nextVar++
	return s.nextVar.Pos()
}

func (s *Solver) addClause(ms ...z.Lit) {
	for _, m := range ms {
		s.g.Add(m)
	}
	s.g.Add(z.LitNull)
}

// compile performs Tseitin compilation. Non-structural Boolean nodes
// become tracked theory atoms.
func (s *Solver) compile(e expr.Expr) z.Lit {
	if l, ok := s.lits[e]; ok {
		return l
	}
	m := s.m
	var l z.Lit
	switch m.Kind(e) {
	case expr.KTrue:
		l = s.trueLit
	case expr.KFalse:
		l = s.trueLit.Not()
	case expr.KNot:
		l = s.compile(m.Arg(e, 0)).Not()
	case expr.KAnd:
		args := m.Args(e)
		l = s.freshLit()
		long := make([]z.Lit, 0, len(args)+1)
		long = append(long, l)
		for _, a := range args {
			al := s.compile(a)
			s.addClause(l.Not(), al)
			long = append(long, al.Not())
		}
		s.addClause(long...)
	case expr.KOr:
		args := m.Args(e)
		l = s.freshLit()
		long := make([]z.Lit, 0, len(args)+1)
		long = append(long, l.Not())
		for _, a := range args {
			al := s.compile(a)
			s.addClause(l, al.Not())
			long = append(long, al)
		}
		s.addClause(long...)
	case expr.KImplies:
		a := s.compile(m.Arg(e, 0))
		b := s.compile(m.Arg(e, 1))
		l = s.freshLit()
		s.addClause(l.Not(), a.Not(), b)
		s.addClause(l, a)
		s.addClause(l, b.Not())
	case expr.KIff:
		a := s.compile(m.Arg(e, 0))
		b := s.compile(m.Arg(e, 1))
		l = s.freshLit()
		s.addClause(l.Not(), a.Not(), b)
		s.addClause(l.Not(), a, b.Not())
		s.addClause(l, a, b)
		s.addClause(l, a.Not(), b.Not())
	case expr.KIte:
		if m.Sort(e) != expr.SortBool {
			l = s.atom(e)
			break
		}
		c := s.compile(m.Arg(e, 0))
		t := s.compile(m.Arg(e, 1))
		f := s.compile(m.Arg(e, 2))
		l = s.freshLit()
		s.addClause(l.Not(), c.Not(), t)
		s.addClause(l.Not(), c, f)
		s.addClause(l, c.Not(), t.Not())
		s.addClause(l, c, f.Not())
	case expr.KEq:
		if m.Sort(m.Arg(e, 0)) == expr.SortBool {
			return s.compile(m.Iff(m.Arg(e, 0), m.Arg(e, 1)))
		}
		l = s.atom(e)
	default:
		l = s.atom(e)
	}
	s.lits[e] = l
	return l
}

func (s *Solver) atom(e expr.Expr) z.Lit {
	if l, ok := s.atomLit[e]; ok {
		return l
	}
	l := s.freshLit()
	s.atomLit[e] = l
	s.atoms = append(s.atoms, e)
	return l
}

func (s *Solver) Assert(e expr.Expr) {
	l := s.compile(e)
	if len(s.acts) == 0 {
		s.addClause(l)
		return
	}
	s.addClause(s.acts[len(s.acts)-1].Not(), l)
}

func (s *Solver) Push() {
	s.acts = append(s.acts, s.freshLit())
}

func (s *Solver) Pop(n int) {
	if n > len(s.acts) {
		n = len(s.acts)
	}
	for i := 0; i < n; i++ {
		act := s.acts[len(s.acts)-1]
		s.acts = s.acts[:len(s.acts)-1]
		s.addClause(act.Not())
	}
}

func (s *Solver) SetCancel(f bool) {
	s.cancel.Store(f)
}

func (s *Solver) LastFailure() string { return s.failure }

func (s *Solver) Model() *model.Model { return s.mdl }

func (s *Solver) UnsatCore() []expr.Expr {
	return s.core
}

func (s *Solver) Check(assumptions []expr.Expr) Status {
	s.mdl, s.core = nil, nil
	asm := make([]z.Lit, len(assumptions))
	for i, a := range assumptions {
		asm[i] = s.compile(a)
	}
	for round := 0; round < maxTheoryRounds; round++ {
		if s.cancel.Load() {
			s.failure = "canceled"
			return StatusUndef
		}
		s.g.Assume(s.acts...)
		s.g.Assume(asm...)
		res := s.g.Solve()
		if res == 0 {
			s.failure = "sat solver returned unknown"
			return StatusUndef
		}
		if res == -1 {
			failed := make(map[z.Lit]bool)
			for _, w := range s.g.Why(nil) {
				failed[w] = true
			}
			for i, a := range assumptions {
				if failed[asm[i]] {
					s.core = append(s.core, a)
				}
			}
			return StatusUnsat
		}
		tls := make([]theoryLit, len(s.atoms))
		for i, a := range s.atoms {
			tls[i] = theoryLit{atom: a, phase: s.g.Value(s.atomLit[a])}
		}
		mdl, confl, cls := s.th.check(tls)
		if mdl != nil {
			s.mdl = mdl
			return StatusSat
		}
		if cls != nil {
			s.addCongruence(cls)
			continue
		}
		if len(confl) == 0 {
			s.failure = "theory conflict without core"
			return StatusUndef
		}
		block := make([]z.Lit, 0, len(confl))
		for _, tl := range confl {
			l := s.atomLit[tl.atom]
			if tl.phase {
				l = l.Not()
			}
			block = append(block, l)
		}
		s.addClause(block...)
	}
	s.failure = "theory lemma budget exhausted"
	log.Warn("smt: theory lemma budget exhausted")
	return StatusUndef
}

// addCongruence asserts the congruence axiom for two applications of the
// same predicate symbol: equal arguments force equal truth values.
func (s *Solver) addCongruence(c *clash) {
	m := s.m
	pa := s.atom(c.a)
	pb := s.atom(c.b)
	var eqs []z.Lit
	for i := range m.Args(c.a) {
		x, y := m.Arg(c.a, i), m.Arg(c.b, i)
		if x == y {
			continue
		}
		eqs = append(eqs, s.compile(m.Eq(x, y)).Not())
	}
	cl1 := append(append([]z.Lit(nil), eqs...), pa.Not(), pb)
	cl2 := append(append([]z.Lit(nil), eqs...), pa, pb.Not())
	s.addClause(cl1...)
	s.addClause(cl2...)
}
