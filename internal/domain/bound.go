package domain

import (
	"math"
	"strconv"
)

// Bound is an interval endpoint: an int64 or one of the infinities.
type Bound struct {
	inf int8 // -1 for -∞, +1 for +∞, 0 for a finite value
	n   int64
}

var (
	NegInf = Bound{inf: -1}
	PosInf = Bound{inf: 1}
)

// Finite returns the bound for n.
func Finite(n int64) Bound { return Bound{n: n} }

// IsFinite reports whether the bound is an integer.
func (b Bound) IsFinite() bool { return b.inf == 0 }

// Int returns the integer value of a finite bound.
func (b Bound) Int() (int64, bool) { return b.n, b.inf == 0 }

func (b Bound) String() string {
	switch b.inf {
	case -1:
		return "-∞"
	case 1:
		return "+∞"
	}
	return strconv.FormatInt(b.n, 10)
}

func (b Bound) sign() int {
	switch {
	case b.inf != 0:
		return int(b.inf)
	case b.n < 0:
		return -1
	case b.n > 0:
		return 1
	}
	return 0
}

func (b Bound) cmp(o Bound) int {
	switch {
	case b.inf != o.inf:
		if b.inf < o.inf {
			return -1
		}
		return 1
	case b.inf != 0, b.n == o.n:
		return 0
	case b.n < o.n:
		return -1
	}
	return 1
}

func minBound(a, b Bound) Bound {
	if a.cmp(b) <= 0 {
		return a
	}
	return b
}

func maxBound(a, b Bound) Bound {
	if a.cmp(b) >= 0 {
		return a
	}
	return b
}

// saturate maps a lost finite result to the infinity of the given sign.
func saturate(sign int) Bound {
	if sign < 0 {
		return NegInf
	}
	return PosInf
}

// addBounds adds two endpoints. The sum of opposite infinities is undefined (ok=false).
// Finite overflow saturates and is reported through overflow.
func addBounds(a, b Bound) (sum Bound, overflow, ok bool) {
	if a.inf != 0 || b.inf != 0 {
		if a.inf != 0 && b.inf != 0 && a.inf != b.inf {
			return Bound{}, false, false
		}
		if a.inf != 0 {
			return a, false, true
		}
		return b, false, true
	}
	r := a.n + b.n
	if (r > a.n) != (b.n > 0) {
		return saturate(int(sign64(b.n))), true, true
	}
	return Finite(r), false, true
}

func negBound(a Bound) (Bound, bool) {
	if a.inf != 0 {
		return Bound{inf: -a.inf}, false
	}
	if a.n == math.MinInt64 {
		return PosInf, true
	}
	return Finite(-a.n), false
}

// mulBounds multiplies endpoints. Zero times an infinity is zero: the infinite endpoint
// is never attained, so the product set stays bounded there.
func mulBounds(a, b Bound) (Bound, bool) {
	sa, sb := a.sign(), b.sign()
	if sa == 0 || sb == 0 {
		return Finite(0), false
	}
	if a.inf != 0 || b.inf != 0 {
		return saturate(sa * sb), false
	}
	r := a.n * b.n
	if r/b.n != a.n || (a.n == -1 && b.n == math.MinInt64) || (b.n == -1 && a.n == math.MinInt64) {
		return saturate(sa * sb), true
	}
	return Finite(r), false
}

// divBounds divides by a non-zero endpoint with truncation towards zero.
func divBounds(a, b Bound) (Bound, bool) {
	if b.inf != 0 {
		// Finite / ∞ tends to 0; ∞ / ∞ is bracketed by the other corners.
		return Finite(0), false
	}
	if a.inf != 0 {
		return saturate(a.sign() * b.sign()), false
	}
	if a.n == math.MinInt64 && b.n == -1 {
		return PosInf, true
	}
	return Finite(a.n / b.n), false
}

func sign64(n int64) int64 {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

// offset moves a finite bound by delta, leaving infinities in place.
func offset(b Bound, delta int64) Bound {
	if b.inf != 0 {
		return b
	}
	if r, overflow, _ := addBounds(b, Finite(delta)); !overflow {
		return r
	}
	return saturate(int(delta))
}
