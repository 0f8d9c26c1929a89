package domain

import (
	"fmt"

	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/lattice"
)

// SignValue is an element of the Sign lattice {Bot, Neg, Zero, Pos, Top}.
type SignValue struct {
	e lattice.Element
}

var (
	SignBot  = SignValue{lattice.SignBot}
	SignNeg  = SignValue{lattice.SignNeg}
	SignZero = SignValue{lattice.SignZero}
	SignPos  = SignValue{lattice.SignPos}
	SignTop  = SignValue{lattice.SignTop}
)

func (v SignValue) String() string { return lattice.Sign.Label(v.e) }
func (SignValue) Domain() ID       { return SignID }

// signSet is a bit set over the three concrete signs.
type signSet uint8

const (
	setNeg  signSet = 1 << iota
	setZero signSet = 1 << iota
	setPos  signSet = 1 << iota
	setAll          = setNeg | setZero | setPos
)

var baseSigns = [...]signSet{setNeg, setZero, setPos}

func (v SignValue) set() signSet {
	switch v {
	case SignNeg:
		return setNeg
	case SignZero:
		return setZero
	case SignPos:
		return setPos
	case SignTop:
		return setAll
	}
	return 0
}

// abstractSigns maps a set of concrete signs back into the flat lattice.
func abstractSigns(s signSet) SignValue {
	switch s {
	case 0:
		return SignBot
	case setNeg:
		return SignNeg
	case setZero:
		return SignZero
	case setPos:
		return SignPos
	}
	return SignTop
}

// SignOf abstracts a concrete integer.
func SignOf(n int64) SignValue {
	switch {
	case n < 0:
		return SignNeg
	case n == 0:
		return SignZero
	}
	return SignPos
}

type signDomain struct{}

// SignDomain is the Sign abstract domain.
var SignDomain Domain = signDomain{}

func (signDomain) ID() ID { return SignID }

func (signDomain) Properties() Properties {
	return Properties{
		ID:            SignID,
		Name:          "Sign",
		Height:        "3",
		Width:         "finite",
		NeedsWidening: false,
		Description:   "Tracks whether a value is negative, zero or positive. Flat lattice: Neg, Zero and Pos are mutually incomparable between Bot and Top.",
	}
}

func (signDomain) Lattice() *lattice.Lattice { return lattice.Sign }

func (signDomain) Bottom() Value { return SignBot }
func (signDomain) Top() Value    { return SignTop }

func asSign(v Value) SignValue {
	s, ok := v.(SignValue)
	if !ok {
		panic(mismatch(SignID, v))
	}
	return s
}

func (signDomain) Join(a, b Value) Value {
	return SignValue{lattice.Sign.Join(asSign(a).e, asSign(b).e)}
}

func (signDomain) Meet(a, b Value) Value {
	return SignValue{lattice.Sign.Meet(asSign(a).e, asSign(b).e)}
}

func (d signDomain) Leq(a, b Value) bool { return leqByJoin(d, a, b) }

func (signDomain) Literal(n int64) Value      { return SignOf(n) }
func (signDomain) StringLiteral(string) Value { return SignTop }
func (signDomain) Unknown([]Value) Value      { return SignTop }

func (signDomain) Truth(v Value) (bool, bool) {
	s := asSign(v).set()
	return s&(setNeg|setPos) != 0, s&setZero != 0
}

func (signDomain) Contains(v Value, n int64) bool {
	return asSign(v).set()&SignOf(n).set() != 0
}

func encodeSignBool(mayBeTrue, mayBeFalse bool) Value {
	var s signSet
	if mayBeTrue {
		s |= setPos
	}
	if mayBeFalse {
		s |= setZero
	}
	return abstractSigns(s)
}

// Evaluate abstracts arithmetic and comparisons over signs. Bot operands give Bot; any Top
// operand gives Top; otherwise the result is exact over the operands' sign sets.
func (d signDomain) Evaluate(op Op, operands ...Value) Result {
	for _, v := range operands {
		asSign(v)
	}
	if isLogic(op) {
		return evaluateLogic(d, encodeSignBool, op, operands)
	}

	if len(operands) == 1 && op == OpSub {
		v := asSign(operands[0])
		var out signSet
		for _, s := range baseSigns {
			if v.set()&s != 0 {
				out |= negateSign(s)
			}
		}
		return Result{Value: abstractSigns(out)}
	}
	if len(operands) != 2 {
		panic(fmt.Sprintf("sign domain: operator %q applied to %d operands", op, len(operands)))
	}

	a, b := asSign(operands[0]), asSign(operands[1])
	if a == SignBot || b == SignBot {
		return Result{Value: SignBot}
	}

	var res Result
	if (op == OpDiv || op == OpMod) && b.set()&setZero != 0 {
		res.warn(WarnDivisionByZero)
	}
	if a == SignTop || b == SignTop {
		res.Value = SignTop
		return res
	}
	if (op == OpDiv || op == OpMod) && b == SignZero {
		res.Value = SignTop
		return res
	}

	var out signSet
	for _, x := range baseSigns {
		if a.set()&x == 0 {
			continue
		}
		for _, y := range baseSigns {
			if b.set()&y == 0 {
				continue
			}
			out |= signOp(op, x, y)
		}
	}
	res.Value = abstractSigns(out)
	return res
}

func negateSign(s signSet) signSet {
	switch s {
	case setNeg:
		return setPos
	case setPos:
		return setNeg
	}
	return s
}

// signOp returns the possible signs of "x op y" for single concrete signs. Comparisons
// return their possible truth values encoded as Pos (true) and Zero (false).
func signOp(op Op, x, y signSet) signSet {
	switch op {
	case OpAdd:
		return addSigns(x, y)
	case OpSub:
		return addSigns(x, negateSign(y))
	case OpMul:
		if x == setZero || y == setZero {
			return setZero
		}
		if x == y {
			return setPos
		}
		return setNeg
	case OpDiv:
		if y == setZero {
			return 0
		}
		if x == setZero {
			return setZero
		}
		// Integer division truncates towards zero: |x| < |y| yields 0.
		if x == y {
			return setZero | setPos
		}
		return setZero | setNeg
	case OpMod:
		if y == setZero {
			return 0
		}
		// The remainder takes the dividend's sign or is zero.
		if x == setZero {
			return setZero
		}
		return x | setZero
	}
	if op.IsComparison() {
		var out signSet
		for _, outcome := range compareSigns(op, x, y) {
			if outcome {
				out |= setPos
			} else {
				out |= setZero
			}
		}
		return out
	}
	panic(fmt.Sprintf("sign domain: unsupported operator %q", op))
}

func addSigns(x, y signSet) signSet {
	switch {
	case x == setZero:
		return y
	case y == setZero:
		return x
	case x == y:
		return x
	}
	return setAll
}

// signRank orders single signs so Neg < Zero < Pos.
func signRank(s signSet) int {
	switch s {
	case setNeg:
		return -1
	case setZero:
		return 0
	}
	return 1
}

// compareSigns lists the possible outcomes of "x op y" for two single signs.
func compareSigns(op Op, x, y signSet) []bool {
	rx, ry := signRank(x), signRank(y)
	if rx != ry || x == setZero {
		// Different signs, or both zero: the comparison is decided.
		var holds bool
		switch op {
		case OpLt:
			holds = rx < ry
		case OpLe:
			holds = rx <= ry
		case OpGt:
			holds = rx > ry
		case OpGe:
			holds = rx >= ry
		case OpEq:
			holds = rx == ry
		case OpNe:
			holds = rx != ry
		}
		return []bool{holds}
	}
	// Two values of the same non-zero sign can compare either way.
	return []bool{true, false}
}

// Refine keeps the signs of x that can satisfy "x op e" for some sign of e.
func (signDomain) Refine(op Op, x, e Value) Value {
	xs, es := asSign(x).set(), asSign(e).set()
	var out signSet
	for _, s := range baseSigns {
		if xs&s == 0 {
			continue
		}
		for _, t := range baseSigns {
			if es&t == 0 {
				continue
			}
			if containsTrue(compareSigns(op, s, t)) {
				out |= s
				break
			}
		}
	}
	return abstractSigns(out)
}

func containsTrue(outcomes []bool) bool {
	for _, o := range outcomes {
		if o {
			return true
		}
	}
	return false
}
