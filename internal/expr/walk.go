package expr

// Contains reports whether sub occurs in e.
func (m *Manager) Contains(e, sub Expr) bool {
	seen := make(map[Expr]bool)
	var walk func(Expr) bool
	walk = func(x Expr) bool {
		if x == sub {
			return true
		}
		if seen[x] {
			return false
		}
		seen[x] = true
		for _, a := range m.Args(x) {
			if walk(a) {
				return true
			}
		}
		return false
	}
	return walk(e)
}

// Substitute rebuilds e with every occurrence of a map key replaced by
// its value. Quantifier bodies are rebuilt as well; callers rename bound
// constants apart before substituting under binders.
func (m *Manager) Substitute(e Expr, sub map[Expr]Expr) Expr {
	cache := make(map[Expr]Expr)
	var walk func(Expr) Expr
	walk = func(x Expr) Expr {
		if r, ok := sub[x]; ok {
			return r
		}
		if r, ok := cache[x]; ok {
			return r
		}
		args := m.Args(x)
		if len(args) == 0 {
			cache[x] = x
			return x
		}
		newArgs := make([]Expr, len(args))
		diff := false
		for i, a := range args {
			newArgs[i] = walk(a)
			diff = diff || newArgs[i] != a
		}
		r := x
		if diff {
			r = m.rebuild(x, newArgs)
		}
		cache[x] = r
		return r
	}
	return walk(e)
}

func (m *Manager) rebuild(x Expr, args []Expr) Expr {
	switch m.Kind(x) {
	case KApp:
		return m.App(m.Name(x), m.Sort(x), args...)
	case KNot:
		return m.Not(args[0])
	case KAnd:
		return m.And(args...)
	case KOr:
		return m.Or(args...)
	case KImplies:
		return m.Implies(args[0], args[1])
	case KIff:
		return m.Iff(args[0], args[1])
	case KIte:
		return m.Ite(args[0], args[1], args[2])
	case KEq:
		return m.Eq(args[0], args[1])
	case KLe:
		return m.Le(args[0], args[1])
	case KLt:
		return m.Lt(args[0], args[1])
	case KAdd:
		return m.Add(args...)
	case KSub:
		return m.Sub(args[0], args[1])
	case KNeg:
		return m.Neg(args[0])
	case KMul:
		return m.intern(node{kind: KMul, sort: m.Sort(x), args: args})
	case KMod:
		return m.Mod(args[0], args[1])
	case KForall:
		return m.Forall(args[:len(args)-1], args[len(args)-1])
	case KExists:
		return m.Exists(args[:len(args)-1], args[len(args)-1])
	}
	return x
}

// Consts collects the uninterpreted constants occurring in e, excluding
// the given bound set, in first-occurrence order.
func (m *Manager) Consts(e Expr, bound map[Expr]bool) []Expr {
	var out []Expr
	seen := make(map[Expr]bool)
	var walk func(Expr)
	walk = func(x Expr) {
		if seen[x] {
			return
		}
		seen[x] = true
		switch m.Kind(x) {
		case KConst:
			if !bound[x] {
				out = append(out, x)
			}
			return
		case KForall, KExists:
			inner := make(map[Expr]bool, len(bound))
			for k := range bound {
				inner[k] = true
			}
			for _, v := range m.BoundVars(x) {
				inner[v] = true
			}
			for _, c := range m.Consts(m.Body(x), inner) {
				if !seen[c] {
					seen[c] = true
					out = append(out, c)
				}
			}
			return
		}
		for _, a := range m.Args(x) {
			walk(a)
		}
	}
	walk(e)
	return out
}

// Apps collects applications of uninterpreted symbols satisfying the
// filter, in first-occurrence order.
func (m *Manager) Apps(e Expr, filter func(name string) bool) []Expr {
	var out []Expr
	seen := make(map[Expr]bool)
	var walk func(Expr)
	walk = func(x Expr) {
		if seen[x] {
			return
		}
		seen[x] = true
		if m.Kind(x) == KApp && filter(m.Name(x)) {
			out = append(out, x)
		}
		for _, a := range m.Args(x) {
			walk(a)
		}
	}
	walk(e)
	return out
}
