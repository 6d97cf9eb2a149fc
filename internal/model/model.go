package model

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"qsat/internal/expr"
)

// Model maps uninterpreted constants to ground values and uninterpreted
// predicate symbols to finite graphs. Values are ground expressions:
// numerals, true/false, or representative constants for uninterpreted
// sorts. Registration adds a binding or replaces an existing one;
// nothing is ever removed from a model.
type Model struct {
	mgr    *expr.Manager
	consts map[expr.Expr]expr.Expr
	preds  map[string]*PredGraph
}

// PredGraph is a finite interpretation of a predicate symbol: truth
// values for the argument tuples it was defined on, and a default for
// every other tuple.
type PredGraph struct {
	entries map[string]bool
	Default bool
}

func NewModel(mgr *expr.Manager) *Model {
	return &Model{
		mgr:    mgr,
		consts: make(map[expr.Expr]expr.Expr),
		preds:  make(map[string]*PredGraph),
	}
}

// Register binds a constant to a ground value, replacing any previous
// binding of the same constant.
func (mdl *Model) Register(c expr.Expr, val expr.Expr) {
	mdl.consts[c] = val
}

// Value returns the registered value of a constant.
func (mdl *Model) Value(c expr.Expr) (expr.Expr, bool) {
	v, ok := mdl.consts[c]
	return v, ok
}

// RegisterPred adds one tuple to a predicate graph. The args must be
// ground values.
func (mdl *Model) RegisterPred(sym string, args []expr.Expr, val bool) {
	g, ok := mdl.preds[sym]
	if !ok {
		g = &PredGraph{entries: make(map[string]bool)}
		mdl.preds[sym] = g
	}
	g.entries[tupleKey(args)] = val
}

func tupleKey(args []expr.Expr) string {
	var b strings.Builder
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatUint(uint64(a), 10))
	}
	return b.String()
}

// Eval evaluates a ground expression to a value expression. Unassigned
// constants complete to a default value of their sort, so evaluation is
// total on the quantifier-free language.
func (mdl *Model) Eval(e expr.Expr) (expr.Expr, error) {
	m := mdl.mgr
	switch m.Kind(e) {
	case expr.KNum, expr.KTrue, expr.KFalse:
		return e, nil
	case expr.KConst:
		if v, ok := mdl.consts[e]; ok {
			return v, nil
		}
		return mdl.defaultValue(m.Sort(e), e), nil
	case expr.KNot:
		v, err := mdl.evalBool(m.Arg(e, 0))
		if err != nil {
			return expr.Nil, err
		}
		return m.Bool(!v), nil
	case expr.KAnd:
		for _, a := range m.Args(e) {
			v, err := mdl.evalBool(a)
			if err != nil {
				return expr.Nil, err
			}
			if !v {
				return m.False(), nil
			}
		}
		return m.True(), nil
	case expr.KOr:
		for _, a := range m.Args(e) {
			v, err := mdl.evalBool(a)
			if err != nil {
				return expr.Nil, err
			}
			if v {
				return m.True(), nil
			}
		}
		return m.False(), nil
	case expr.KImplies:
		a, err := mdl.evalBool(m.Arg(e, 0))
		if err != nil {
			return expr.Nil, err
		}
		b, err := mdl.evalBool(m.Arg(e, 1))
		if err != nil {
			return expr.Nil, err
		}
		return m.Bool(!a || b), nil
	case expr.KIff:
		a, err := mdl.evalBool(m.Arg(e, 0))
		if err != nil {
			return expr.Nil, err
		}
		b, err := mdl.evalBool(m.Arg(e, 1))
		if err != nil {
			return expr.Nil, err
		}
		return m.Bool(a == b), nil
	case expr.KIte:
		c, err := mdl.evalBool(m.Arg(e, 0))
		if err != nil {
			return expr.Nil, err
		}
		if c {
			return mdl.Eval(m.Arg(e, 1))
		}
		return mdl.Eval(m.Arg(e, 2))
	case expr.KEq:
		a, err := mdl.Eval(m.Arg(e, 0))
		if err != nil {
			return expr.Nil, err
		}
		b, err := mdl.Eval(m.Arg(e, 1))
		if err != nil {
			return expr.Nil, err
		}
		return m.Bool(a == b), nil
	case expr.KLe, expr.KLt:
		a, err := mdl.evalRat(m.Arg(e, 0))
		if err != nil {
			return expr.Nil, err
		}
		b, err := mdl.evalRat(m.Arg(e, 1))
		if err != nil {
			return expr.Nil, err
		}
		c := a.Cmp(b)
		if m.Kind(e) == expr.KLe {
			return m.Bool(c <= 0), nil
		}
		return m.Bool(c < 0), nil
	case expr.KAdd:
		sum := expr.IntRat(0)
		for _, a := range m.Args(e) {
			v, err := mdl.evalRat(a)
			if err != nil {
				return expr.Nil, err
			}
			sum = sum.Add(v)
		}
		return m.NumRat(sum, m.Sort(e)), nil
	case expr.KSub:
		a, err := mdl.evalRat(m.Arg(e, 0))
		if err != nil {
			return expr.Nil, err
		}
		b, err := mdl.evalRat(m.Arg(e, 1))
		if err != nil {
			return expr.Nil, err
		}
		return m.NumRat(a.Sub(b), m.Sort(e)), nil
	case expr.KNeg:
		a, err := mdl.evalRat(m.Arg(e, 0))
		if err != nil {
			return expr.Nil, err
		}
		return m.NumRat(a.Neg(), m.Sort(e)), nil
	case expr.KMul:
		prod := expr.IntRat(1)
		for _, a := range m.Args(e) {
			v, err := mdl.evalRat(a)
			if err != nil {
				return expr.Nil, err
			}
			prod = prod.Mul(v)
		}
		return m.NumRat(prod, m.Sort(e)), nil
	case expr.KMod:
		a, err := mdl.evalRat(m.Arg(e, 0))
		if err != nil {
			return expr.Nil, err
		}
		b, err := mdl.evalRat(m.Arg(e, 1))
		if err != nil {
			return expr.Nil, err
		}
		if b.IsZero() || !b.IsInt() || !a.IsInt() {
			return expr.Nil, errors.Errorf("model: mod on %s / %s", a, b)
		}
		return m.NumRat(a.Mod(b.Abs()), expr.SortInt), nil
	case expr.KApp:
		args := make([]expr.Expr, len(m.Args(e)))
		for i, a := range m.Args(e) {
			v, err := mdl.Eval(a)
			if err != nil {
				return expr.Nil, err
			}
			args[i] = v
		}
		if m.Sort(e) != expr.SortBool {
			return expr.Nil, errors.Errorf("model: uninterpreted function %s", m.Name(e))
		}
		g, ok := mdl.preds[m.Name(e)]
		if !ok {
			return m.False(), nil
		}
		if v, ok := g.entries[tupleKey(args)]; ok {
			return m.Bool(v), nil
		}
		return m.Bool(g.Default), nil
	}
	return expr.Nil, errors.Errorf("model: cannot evaluate %s", m.String(e))
}

func (mdl *Model) defaultValue(s expr.Sort, c expr.Expr) expr.Expr {
	switch s {
	case expr.SortBool:
		return mdl.mgr.False()
	case expr.SortInt, expr.SortReal:
		return mdl.mgr.NumRat(expr.IntRat(0), s)
	}
	return c
}

func (mdl *Model) evalBool(e expr.Expr) (bool, error) {
	v, err := mdl.Eval(e)
	if err != nil {
		return false, err
	}
	switch mdl.mgr.Kind(v) {
	case expr.KTrue:
		return true, nil
	case expr.KFalse:
		return false, nil
	}
	return false, errors.Errorf("model: %s is not a truth value", mdl.mgr.String(v))
}

func (mdl *Model) evalRat(e expr.Expr) (expr.Rat, error) {
	v, err := mdl.Eval(e)
	if err != nil {
		return expr.Rat{}, err
	}
	if r, ok := mdl.mgr.IsNum(v); ok {
		return r, nil
	}
	return expr.Rat{}, errors.Errorf("model: %s is not a numeral", mdl.mgr.String(v))
}

// IsTrue reports whether e evaluates to true.
func (mdl *Model) IsTrue(e expr.Expr) bool {
	v, err := mdl.evalBool(e)
	return err == nil && v
}

// RatValue evaluates e and extracts its rational value.
func (mdl *Model) RatValue(e expr.Expr) (expr.Rat, error) {
	return mdl.evalRat(e)
}
