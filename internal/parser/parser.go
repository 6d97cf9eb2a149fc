package parser

import (
	"strings"
	"unicode"

	"github.com/pkg/errors"

	"qsat/internal/expr"
)

// Parser reads a small SMT-LIB flavoured problem format: declare-sort,
// declare-const, declare-fun (Boolean range only), assert, and the usual
// operators including quantifiers. The asserted formulas accumulate into
// one conjunction.
type Parser struct {
	m       *expr.Manager
	toks    []string
	pos     int
	sorts   map[string]expr.Sort
	consts  map[string]expr.Expr
	funs    map[string]funSig
	asserts []expr.Expr
}

type funSig struct {
	args []expr.Sort
	ret  expr.Sort
}

func New(m *expr.Manager) *Parser {
	return &Parser{
		m:      m,
		sorts:  map[string]expr.Sort{"Bool": expr.SortBool, "Int": expr.SortInt, "Real": expr.SortReal},
		consts: make(map[string]expr.Expr),
		funs:   make(map[string]funSig),
	}
}

// Parse reads the problem text and returns the conjunction of asserts.
func (p *Parser) Parse(src string) (expr.Expr, error) {
	p.toks = tokenize(src)
	p.pos = 0
	for p.pos < len(p.toks) {
		if err := p.command(); err != nil {
			return expr.Nil, err
		}
	}
	return p.m.And(p.asserts...), nil
}

func tokenize(src string) []string {
	var toks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	inComment := false
	for _, r := range src {
		switch {
		case inComment:
			if r == '\n' {
				inComment = false
			}
		case r == ';':
			flush()
			inComment = true
		case r == '(' || r == ')':
			flush()
			toks = append(toks, string(r))
		case unicode.IsSpace(r):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return toks
}

func (p *Parser) next() (string, error) {
	if p.pos >= len(p.toks) {
		return "", errors.New("parse: unexpected end of input")
	}
	t := p.toks[p.pos]
	p.pos++
	return t, nil
}

func (p *Parser) expect(tok string) error {
	t, err := p.next()
	if err != nil {
		return err
	}
	if t != tok {
		return errors.Errorf("parse: expected %q, got %q", tok, t)
	}
	return nil
}

// skipDatum skips one token or balanced list.
func (p *Parser) skipDatum() error {
	t, err := p.next()
	if err != nil {
		return err
	}
	if t != "(" {
		return nil
	}
	depth := 1
	for depth > 0 {
		t, err = p.next()
		if err != nil {
			return err
		}
		switch t {
		case "(":
			depth++
		case ")":
			depth--
		}
	}
	return nil
}

func (p *Parser) command() error {
	if err := p.expect("("); err != nil {
		return err
	}
	head, err := p.next()
	if err != nil {
		return err
	}
	switch head {
	case "set-logic", "set-info", "set-option":
		for p.pos < len(p.toks) && p.toks[p.pos] != ")" {
			if err := p.skipDatum(); err != nil {
				return err
			}
		}
	case "declare-sort":
		name, err := p.next()
		if err != nil {
			return err
		}
		if p.pos < len(p.toks) && p.toks[p.pos] != ")" {
			if _, err := p.next(); err != nil {
				return err
			}
		}
		p.sorts[name] = p.m.USort(name)
	case "declare-const":
		name, err := p.next()
		if err != nil {
			return err
		}
		s, err := p.sort()
		if err != nil {
			return err
		}
		p.consts[name] = p.m.Const(name, s)
	case "declare-fun":
		name, err := p.next()
		if err != nil {
			return err
		}
		if err := p.expect("("); err != nil {
			return err
		}
		var args []expr.Sort
		for p.pos < len(p.toks) && p.toks[p.pos] != ")" {
			s, err := p.sort()
			if err != nil {
				return err
			}
			args = append(args, s)
		}
		if err := p.expect(")"); err != nil {
			return err
		}
		ret, err := p.sort()
		if err != nil {
			return err
		}
		if len(args) == 0 {
			p.consts[name] = p.m.Const(name, ret)
			break
		}
		if ret != expr.SortBool {
			return errors.Errorf("parse: function %s: only Boolean ranges are supported", name)
		}
		p.funs[name] = funSig{args: args, ret: ret}
	case "assert":
		e, err := p.expr(p.consts)
		if err != nil {
			return err
		}
		p.asserts = append(p.asserts, e)
	case "check-sat", "exit", "eliminate":
		// no-op; the caller decides the operation
	default:
		return errors.Errorf("parse: unknown command %q", head)
	}
	return p.expect(")")
}

func (p *Parser) sort() (expr.Sort, error) {
	t, err := p.next()
	if err != nil {
		return 0, err
	}
	s, ok := p.sorts[t]
	if !ok {
		return 0, errors.Errorf("parse: unknown sort %q", t)
	}
	return s, nil
}

func (p *Parser) expr(env map[string]expr.Expr) (expr.Expr, error) {
	t, err := p.next()
	if err != nil {
		return expr.Nil, err
	}
	if t != "(" {
		return p.atomToken(t, env)
	}
	head, err := p.next()
	if err != nil {
		return expr.Nil, err
	}
	switch head {
	case "forall", "exists":
		return p.quantifier(head, env)
	}
	var args []expr.Expr
	for p.pos < len(p.toks) && p.toks[p.pos] != ")" {
		a, err := p.expr(env)
		if err != nil {
			return expr.Nil, err
		}
		args = append(args, a)
	}
	if err := p.expect(")"); err != nil {
		return expr.Nil, err
	}
	return p.apply(head, args)
}

func (p *Parser) atomToken(t string, env map[string]expr.Expr) (expr.Expr, error) {
	switch t {
	case "true":
		return p.m.True(), nil
	case "false":
		return p.m.False(), nil
	}
	if e, ok := env[t]; ok {
		return e, nil
	}
	if e, ok := p.consts[t]; ok {
		return e, nil
	}
	if r, ok := expr.RatFromString(t); ok {
		s := expr.SortInt
		if !r.IsInt() || strings.ContainsAny(t, "./") {
			s = expr.SortReal
		}
		return p.m.NumRat(r, s), nil
	}
	return expr.Nil, errors.Errorf("parse: unknown symbol %q", t)
}

func (p *Parser) quantifier(head string, env map[string]expr.Expr) (expr.Expr, error) {
	if err := p.expect("("); err != nil {
		return expr.Nil, err
	}
	inner := make(map[string]expr.Expr, len(env))
	for k, v := range env {
		inner[k] = v
	}
	var vars []expr.Expr
	for p.pos < len(p.toks) && p.toks[p.pos] != ")" {
		if err := p.expect("("); err != nil {
			return expr.Nil, err
		}
		name, err := p.next()
		if err != nil {
			return expr.Nil, err
		}
		s, err := p.sort()
		if err != nil {
			return expr.Nil, err
		}
		if err := p.expect(")"); err != nil {
			return expr.Nil, err
		}
		v := p.m.Const(name, s)
		inner[name] = v
		vars = append(vars, v)
	}
	if err := p.expect(")"); err != nil {
		return expr.Nil, err
	}
	body, err := p.expr(inner)
	if err != nil {
		return expr.Nil, err
	}
	if err := p.expect(")"); err != nil {
		return expr.Nil, err
	}
	if head == "forall" {
		return p.m.Forall(vars, body), nil
	}
	return p.m.Exists(vars, body), nil
}

func (p *Parser) apply(head string, args []expr.Expr) (expr.Expr, error) {
	m := p.m
	switch head {
	case "and":
		return m.And(args...), nil
	case "or":
		return m.Or(args...), nil
	case "not":
		if len(args) != 1 {
			return expr.Nil, errors.New("parse: not takes one argument")
		}
		return m.Not(args[0]), nil
	case "=>":
		if len(args) != 2 {
			return expr.Nil, errors.New("parse: => takes two arguments")
		}
		return m.Implies(args[0], args[1]), nil
	case "ite":
		if len(args) != 3 {
			return expr.Nil, errors.New("parse: ite takes three arguments")
		}
		return m.Ite(args[0], args[1], args[2]), nil
	case "=", "<=", "<", ">=", ">":
		if len(args) != 2 {
			return expr.Nil, errors.Errorf("parse: %s takes two arguments", head)
		}
		a, b := p.coerce(args[0], args[1])
		switch head {
		case "=":
			return m.Eq(a, b), nil
		case "<=":
			return m.Le(a, b), nil
		case "<":
			return m.Lt(a, b), nil
		case ">=":
			return m.Ge(a, b), nil
		default:
			return m.Gt(a, b), nil
		}
	case "+":
		return m.Add(p.coerceAll(args)...), nil
	case "-":
		if len(args) == 1 {
			return m.Neg(args[0]), nil
		}
		if len(args) == 2 {
			a, b := p.coerce(args[0], args[1])
			return m.Sub(a, b), nil
		}
		return expr.Nil, errors.New("parse: - takes one or two arguments")
	case "*":
		coeff := expr.IntRat(1)
		var rest []expr.Expr
		for _, a := range args {
			if r, ok := m.IsNum(a); ok {
				coeff = coeff.Mul(r)
			} else {
				rest = append(rest, a)
			}
		}
		switch len(rest) {
		case 0:
			return m.NumRat(coeff, m.Sort(args[0])), nil
		case 1:
			return m.Mul(coeff, rest[0]), nil
		}
		return expr.Nil, errors.New("parse: nonlinear product")
	case "mod":
		if len(args) != 2 {
			return expr.Nil, errors.New("parse: mod takes two arguments")
		}
		return m.Mod(args[0], args[1]), nil
	}
	sig, ok := p.funs[head]
	if !ok {
		return expr.Nil, errors.Errorf("parse: unknown operator %q", head)
	}
	if len(args) != len(sig.args) {
		return expr.Nil, errors.Errorf("parse: %s takes %d arguments", head, len(sig.args))
	}
	return m.App(head, sig.ret, args...), nil
}

// coerce lifts integer numerals to Real when the other operand is Real.
func (p *Parser) coerce(a, b expr.Expr) (expr.Expr, expr.Expr) {
	m := p.m
	if m.Sort(a) == expr.SortReal && m.Sort(b) == expr.SortInt {
		if r, ok := m.IsNum(b); ok {
			return a, m.NumRat(r, expr.SortReal)
		}
	}
	if m.Sort(b) == expr.SortReal && m.Sort(a) == expr.SortInt {
		if r, ok := m.IsNum(a); ok {
			return m.NumRat(r, expr.SortReal), b
		}
	}
	return a, b
}

func (p *Parser) coerceAll(args []expr.Expr) []expr.Expr {
	real := false
	for _, a := range args {
		if p.m.Sort(a) == expr.SortReal {
			real = true
		}
	}
	if !real {
		return args
	}
	out := make([]expr.Expr, len(args))
	for i, a := range args {
		if r, ok := p.m.IsNum(a); ok && p.m.Sort(a) == expr.SortInt {
			out[i] = p.m.NumRat(r, expr.SortReal)
		} else {
			out[i] = a
		}
	}
	return out
}
