package expr

// Expr is a handle into a Manager's node arena. The zero value is Nil.
// Two handles from the same Manager are equal iff the expressions are
// structurally identical.
type Expr uint32

const Nil Expr = 0

// Sort identifies a sort. Values above SortReal are uninterpreted sorts
// interned by the Manager.
type Sort uint32

const (
	SortBool Sort = iota
	SortInt
	SortReal
	sortUser
)

func (s Sort) IsArith() bool {
	return s == SortInt || s == SortReal
}

type Kind uint8

const (
	KNum Kind = iota
	KTrue
	KFalse
	KConst
	KApp
	KNot
	KAnd
	KOr
	KImplies
	KIff
	KIte
	KEq
	KLe
	KLt
	KAdd
	KSub
	KNeg
	KMul
	KMod
	KForall
	KExists
)

var kindNames = [...]string{
	KNum: "num", KTrue: "true", KFalse: "false", KConst: "const",
	KApp: "app", KNot: "not", KAnd: "and", KOr: "or",
	KImplies: "=>", KIff: "iff", KIte: "ite", KEq: "=",
	KLe: "<=", KLt: "<", KAdd: "+", KSub: "-", KNeg: "neg",
	KMul: "*", KMod: "mod", KForall: "forall", KExists: "exists",
}

func (k Kind) String() string { return kindNames[k] }

type node struct {
	kind Kind
	sort Sort
	name string // symbol of KConst and KApp
	num  Rat    // value of KNum
	args []Expr
}
