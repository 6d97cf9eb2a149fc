package expr

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Manager owns all expression nodes. Nodes are interned on construction;
// handle equality is structural equality. Nodes are never mutated.
type Manager struct {
	nodes   []node
	buckets map[uint64][]Expr
	sorts   []string // names of uninterpreted sorts, indexed from sortUser
	sortIds map[string]Sort
	fresh   uint64
}

func NewManager() *Manager {
	m := &Manager{
		nodes:   make([]node, 1), // index 0 is Nil
		buckets: make(map[uint64][]Expr),
		sortIds: make(map[string]Sort),
	}
	return m
}

// USort interns an uninterpreted sort by name.
func (m *Manager) USort(name string) Sort {
	if s, ok := m.sortIds[name]; ok {
		return s
	}
	s := sortUser + Sort(len(m.sorts))
	m.sorts = append(m.sorts, name)
	m.sortIds[name] = s
	return s
}

func (m *Manager) SortName(s Sort) string {
	switch s {
	case SortBool:
		return "Bool"
	case SortInt:
		return "Int"
	case SortReal:
		return "Real"
	}
	return m.sorts[s-sortUser]
}

func (m *Manager) hashNode(n *node) uint64 {
	h := xxhash.New()
	var buf [8]byte
	buf[0] = byte(n.kind)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(n.sort))
	_, _ = h.Write(buf[:5])
	_, _ = h.WriteString(n.name)
	if n.kind == KNum {
		_, _ = h.WriteString(n.num.String())
	}
	for _, a := range n.args {
		binary.LittleEndian.PutUint32(buf[:4], uint32(a))
		_, _ = h.Write(buf[:4])
	}
	return h.Sum64()
}

func (m *Manager) sameNode(a *node, b *node) bool {
	if a.kind != b.kind || a.sort != b.sort || a.name != b.name || len(a.args) != len(b.args) {
		return false
	}
	if a.kind == KNum && a.num.Cmp(b.num) != 0 {
		return false
	}
	for i := range a.args {
		if a.args[i] != b.args[i] {
			return false
		}
	}
	return true
}

func (m *Manager) intern(n node) Expr {
	h := m.hashNode(&n)
	for _, e := range m.buckets[h] {
		if m.sameNode(&m.nodes[e], &n) {
			return e
		}
	}
	e := Expr(len(m.nodes))
	m.nodes = append(m.nodes, n)
	m.buckets[h] = append(m.buckets[h], e)
	return e
}

func (m *Manager) Kind(e Expr) Kind   { return m.nodes[e].kind }
func (m *Manager) Sort(e Expr) Sort   { return m.nodes[e].sort }
func (m *Manager) Name(e Expr) string { return m.nodes[e].name }
func (m *Manager) Num(e Expr) Rat     { return m.nodes[e].num }
func (m *Manager) Args(e Expr) []Expr { return m.nodes[e].args }
func (m *Manager) Arg(e Expr, i int) Expr {
	return m.nodes[e].args[i]
}

func (m *Manager) IsNum(e Expr) (Rat, bool) {
	if m.nodes[e].kind == KNum {
		return m.nodes[e].num, true
	}
	return Rat{}, false
}

// BoundVars returns the bound constants of a quantifier node.
func (m *Manager) BoundVars(e Expr) []Expr {
	args := m.nodes[e].args
	return args[:len(args)-1]
}

// Body returns the matrix of a quantifier node.
func (m *Manager) Body(e Expr) Expr {
	args := m.nodes[e].args
	return args[len(args)-1]
}

func (m *Manager) IntNum(n int64) Expr {
	return m.NumRat(IntRat(n), SortInt)
}
func (m *Manager) RealNum(n int64) Expr {
	return m.NumRat(IntRat(n), SortReal)
}

func (m *Manager) NumRat(r Rat, s Sort) Expr {
	return m.intern(node{kind: KNum, sort: s, num: r})
}

func (m *Manager) True() Expr  { return m.intern(node{kind: KTrue, sort: SortBool}) }
func (m *Manager) False() Expr { return m.intern(node{kind: KFalse, sort: SortBool}) }

func (m *Manager) Bool(v bool) Expr {
	if v {
		return m.True()
	}
	return m.False()
}

// Const interns an uninterpreted constant. The same name and sort always
// yield the same handle.
func (m *Manager) Const(name string, s Sort) Expr {
	return m.intern(node{kind: KConst, sort: s, name: name})
}

// FreshConst interns a constant with a name not used before.
func (m *Manager) FreshConst(prefix string, s Sort) Expr {
	m.fresh++
	return m.Const(fmt.Sprintf("%s!%d", prefix, m.fresh), s)
}

// App interns an application of an uninterpreted function or predicate
// symbol.
func (m *Manager) App(name string, s Sort, args ...Expr) Expr {
	return m.intern(node{kind: KApp, sort: s, name: name, args: append([]Expr(nil), args...)})
}

func (m *Manager) Not(e Expr) Expr {
	switch m.Kind(e) {
	case KTrue:
		return m.False()
	case KFalse:
		return m.True()
	case KNot:
		return m.Arg(e, 0)
	}
	return m.intern(node{kind: KNot, sort: SortBool, args: []Expr{e}})
}

func (m *Manager) And(args ...Expr) Expr {
	flat := make([]Expr, 0, len(args))
	for _, a := range args {
		switch m.Kind(a) {
		case KTrue:
		case KFalse:
			return m.False()
		case KAnd:
			flat = append(flat, m.Args(a)...)
		default:
			flat = append(flat, a)
		}
	}
	if len(flat) == 0 {
		return m.True()
	}
	if len(flat) == 1 {
		return flat[0]
	}
	return m.intern(node{kind: KAnd, sort: SortBool, args: flat})
}

func (m *Manager) Or(args ...Expr) Expr {
	flat := make([]Expr, 0, len(args))
	for _, a := range args {
		switch m.Kind(a) {
		case KFalse:
		case KTrue:
			return m.True()
		case KOr:
			flat = append(flat, m.Args(a)...)
		default:
			flat = append(flat, a)
		}
	}
	if len(flat) == 0 {
		return m.False()
	}
	if len(flat) == 1 {
		return flat[0]
	}
	return m.intern(node{kind: KOr, sort: SortBool, args: flat})
}

func (m *Manager) Implies(a, b Expr) Expr {
	return m.intern(node{kind: KImplies, sort: SortBool, args: []Expr{a, b}})
}

func (m *Manager) Iff(a, b Expr) Expr {
	if a == b {
		return m.True()
	}
	return m.intern(node{kind: KIff, sort: SortBool, args: []Expr{a, b}})
}

func (m *Manager) Ite(c, t, e Expr) Expr {
	return m.intern(node{kind: KIte, sort: m.Sort(t), args: []Expr{c, t, e}})
}

func (m *Manager) Eq(a, b Expr) Expr {
	if a == b {
		return m.True()
	}
	return m.intern(node{kind: KEq, sort: SortBool, args: []Expr{a, b}})
}

func (m *Manager) Le(a, b Expr) Expr {
	return m.intern(node{kind: KLe, sort: SortBool, args: []Expr{a, b}})
}

func (m *Manager) Lt(a, b Expr) Expr {
	return m.intern(node{kind: KLt, sort: SortBool, args: []Expr{a, b}})
}

func (m *Manager) Ge(a, b Expr) Expr { return m.Le(b, a) }
func (m *Manager) Gt(a, b Expr) Expr { return m.Lt(b, a) }

func (m *Manager) Add(args ...Expr) Expr {
	if len(args) == 0 {
		panic("expr: empty sum")
	}
	if len(args) == 1 {
		return args[0]
	}
	return m.intern(node{kind: KAdd, sort: m.Sort(args[0]), args: append([]Expr(nil), args...)})
}

func (m *Manager) Sub(a, b Expr) Expr {
	return m.intern(node{kind: KSub, sort: m.Sort(a), args: []Expr{a, b}})
}

func (m *Manager) Neg(a Expr) Expr {
	return m.intern(node{kind: KNeg, sort: m.Sort(a), args: []Expr{a}})
}

// Mul multiplies a term by a rational coefficient.
func (m *Manager) Mul(c Rat, a Expr) Expr {
	if c.IsOne() {
		return a
	}
	return m.intern(node{kind: KMul, sort: m.Sort(a), args: []Expr{m.NumRat(c, m.Sort(a)), a}})
}

func (m *Manager) Mod(a, b Expr) Expr {
	return m.intern(node{kind: KMod, sort: SortInt, args: []Expr{a, b}})
}

// Divides builds the divisibility literal k | t as (t mod k) = 0.
func (m *Manager) Divides(k Rat, t Expr) Expr {
	return m.Eq(m.Mod(t, m.NumRat(k.Abs(), SortInt)), m.IntNum(0))
}

func (m *Manager) Forall(vars []Expr, body Expr) Expr {
	if len(vars) == 0 {
		return body
	}
	args := append(append([]Expr(nil), vars...), body)
	return m.intern(node{kind: KForall, sort: SortBool, args: args})
}

func (m *Manager) Exists(vars []Expr, body Expr) Expr {
	if len(vars) == 0 {
		return body
	}
	args := append(append([]Expr(nil), vars...), body)
	return m.intern(node{kind: KExists, sort: SortBool, args: args})
}
