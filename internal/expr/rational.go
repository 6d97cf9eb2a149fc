package expr

import (
	"math/big"
)

// Rat is an exact arbitrary precision rational. Values are immutable;
// every operation returns a fresh Rat.
type Rat struct {
	v *big.Rat
}

func IntRat(n int64) Rat {
	return Rat{v: big.NewRat(n, 1)}
}

func FracRat(num, den int64) Rat {
	return Rat{v: big.NewRat(num, den)}
}

func RatFromBig(v *big.Rat) Rat {
	return Rat{v: new(big.Rat).Set(v)}
}

func RatFromString(s string) (Rat, bool) {
	v, ok := new(big.Rat).SetString(s)
	if !ok {
		return Rat{}, false
	}
	return Rat{v: v}, true
}

func (r Rat) Add(o Rat) Rat { return Rat{v: new(big.Rat).Add(r.v, o.v)} }
func (r Rat) Sub(o Rat) Rat { return Rat{v: new(big.Rat).Sub(r.v, o.v)} }
func (r Rat) Mul(o Rat) Rat { return Rat{v: new(big.Rat).Mul(r.v, o.v)} }
func (r Rat) Neg() Rat      { return Rat{v: new(big.Rat).Neg(r.v)} }
func (r Rat) Abs() Rat      { return Rat{v: new(big.Rat).Abs(r.v)} }

func (r Rat) Div(o Rat) Rat {
	return Rat{v: new(big.Rat).Quo(r.v, o.v)}
}

func (r Rat) Cmp(o Rat) int  { return r.v.Cmp(o.v) }
func (r Rat) Sign() int      { return r.v.Sign() }
func (r Rat) IsZero() bool   { return r.v.Sign() == 0 }
func (r Rat) IsPos() bool    { return r.v.Sign() > 0 }
func (r Rat) IsNeg() bool    { return r.v.Sign() < 0 }
func (r Rat) IsInt() bool    { return r.v.IsInt() }
func (r Rat) IsOne() bool    { return r.v.IsInt() && r.v.Num().Cmp(bigOne) == 0 }
func (r Rat) String() string { return r.v.RatString() }

var bigOne = big.NewInt(1)

// Int returns the numerator of an integral rational.
func (r Rat) Int() *big.Int {
	return new(big.Int).Set(r.v.Num())
}

// Floor returns the largest integer not above r.
func (r Rat) Floor() Rat {
	q := new(big.Int)
	m := new(big.Int)
	q.QuoRem(r.v.Num(), r.v.Denom(), m)
	if m.Sign() < 0 {
		q.Sub(q, bigOne)
	}
	return Rat{v: new(big.Rat).SetInt(q)}
}

// Ceil returns the smallest integer not below r.
func (r Rat) Ceil() Rat {
	return r.Neg().Floor().Neg()
}

// Mod returns r modulo d for integral r and positive integral d,
// chosen so that 0 <= result < d.
func (r Rat) Mod(d Rat) Rat {
	m := new(big.Int).Mod(r.v.Num(), d.v.Num())
	return Rat{v: new(big.Rat).SetInt(m)}
}

// Lcm returns the least common multiple of two positive integral rationals.
func (r Rat) Lcm(o Rat) Rat {
	g := new(big.Int).GCD(nil, nil, r.v.Num(), o.v.Num())
	l := new(big.Int).Div(r.v.Num(), g)
	l.Mul(l, o.v.Num())
	return Rat{v: new(big.Rat).SetInt(l)}
}

// Gcd returns the greatest common divisor of two integral rationals,
// taken on absolute values.
func (r Rat) Gcd(o Rat) Rat {
	a := new(big.Int).Abs(r.v.Num())
	b := new(big.Int).Abs(o.v.Num())
	g := new(big.Int).GCD(nil, nil, a, b)
	return Rat{v: new(big.Rat).SetInt(g)}
}

// Int64 reports the value as an int64 when it is integral and fits.
func (r Rat) Int64() (int64, bool) {
	if !r.v.IsInt() || !r.v.Num().IsInt64() {
		return 0, false
	}
	return r.v.Num().Int64(), true
}
