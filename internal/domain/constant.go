package domain

import (
	"fmt"
	"math"
	"strconv"
)

type constKind uint8

const (
	constBot constKind = iota
	constValue
	constTop
)

// Const is an element of the Constant lattice: Bot, Const(n) for every int64 n, or Top.
type Const struct {
	kind constKind
	n    int64
}

var (
	ConstBot = Const{kind: constBot}
	ConstTop = Const{kind: constTop}
)

// ConstOf wraps a concrete integer.
func ConstOf(n int64) Const { return Const{kind: constValue, n: n} }

// Int returns the wrapped integer and whether the value is a literal constant.
func (c Const) Int() (int64, bool) { return c.n, c.kind == constValue }

func (c Const) String() string {
	switch c.kind {
	case constBot:
		return "Bot"
	case constTop:
		return "Top"
	}
	return strconv.FormatInt(c.n, 10)
}

func (Const) Domain() ID { return ConstantID }

type constantDomain struct{}

// ConstantDomain is the constant-propagation domain.
var ConstantDomain Domain = constantDomain{}

func (constantDomain) ID() ID { return ConstantID }

func (constantDomain) Properties() Properties {
	return Properties{
		ID:            ConstantID,
		Name:          "Constant",
		Height:        "2",
		Width:         "infinite",
		NeedsWidening: false,
		Description:   "Tracks whether a value is a single known integer. One element per integer between Bot and Top: finite height, infinite width.",
	}
}

func (constantDomain) Bottom() Value { return ConstBot }
func (constantDomain) Top() Value    { return ConstTop }

func asConst(v Value) Const {
	c, ok := v.(Const)
	if !ok {
		panic(mismatch(ConstantID, v))
	}
	return c
}

func (constantDomain) Join(a, b Value) Value {
	x, y := asConst(a), asConst(b)
	switch {
	case x.kind == constBot:
		return y
	case y.kind == constBot:
		return x
	case x == y:
		return x
	}
	return ConstTop
}

func (constantDomain) Meet(a, b Value) Value {
	x, y := asConst(a), asConst(b)
	switch {
	case x.kind == constTop:
		return y
	case y.kind == constTop:
		return x
	case x == y:
		return x
	}
	return ConstBot
}

func (d constantDomain) Leq(a, b Value) bool { return leqByJoin(d, a, b) }

func (constantDomain) Literal(n int64) Value      { return ConstOf(n) }
func (constantDomain) StringLiteral(string) Value { return ConstTop }
func (constantDomain) Unknown([]Value) Value      { return ConstTop }

func (constantDomain) Truth(v Value) (bool, bool) {
	c := asConst(v)
	switch c.kind {
	case constBot:
		return false, false
	case constTop:
		return true, true
	}
	return c.n != 0, c.n == 0
}

func (constantDomain) Contains(v Value, n int64) bool {
	c := asConst(v)
	return c.kind == constTop || c.kind == constValue && c.n == n
}

func encodeConstBool(mayBeTrue, mayBeFalse bool) Value {
	switch {
	case mayBeTrue && mayBeFalse:
		return ConstTop
	case mayBeTrue:
		return ConstOf(1)
	case mayBeFalse:
		return ConstOf(0)
	}
	return ConstBot
}

// Evaluate folds operations over literal constants. Bot poisons the expression with "no
// information"; Top absorbs everything else.
func (d constantDomain) Evaluate(op Op, operands ...Value) Result {
	for _, v := range operands {
		asConst(v)
	}
	if isLogic(op) {
		return evaluateLogic(d, encodeConstBool, op, operands)
	}

	if len(operands) == 1 && op == OpSub {
		c := asConst(operands[0])
		if c.kind != constValue {
			return Result{Value: c}
		}
		if c.n == math.MinInt64 {
			return Result{Value: ConstTop, Warnings: []WarningKind{WarnOverflow}}
		}
		return Result{Value: ConstOf(-c.n)}
	}
	if len(operands) != 2 {
		panic(fmt.Sprintf("constant domain: operator %q applied to %d operands", op, len(operands)))
	}

	a, b := asConst(operands[0]), asConst(operands[1])
	if a.kind == constBot || b.kind == constBot {
		return Result{Value: ConstBot}
	}

	var res Result
	mayDivideByZero := b.kind == constTop || b.n == 0
	if (op == OpDiv || op == OpMod) && mayDivideByZero {
		res.warn(WarnDivisionByZero)
	}
	if a.kind == constTop || b.kind == constTop {
		res.Value = ConstTop
		return res
	}
	if (op == OpDiv || op == OpMod) && b.n == 0 {
		res.Value = ConstTop
		return res
	}

	n, ok := foldInts(op, a.n, b.n)
	if !ok {
		res.warn(WarnOverflow)
		res.Value = ConstTop
		return res
	}
	res.Value = ConstOf(n)
	return res
}

// foldInts computes a concrete binary operation, reporting false on int64 overflow.
// The divisor is non-zero for / and %.
func foldInts(op Op, x, y int64) (int64, bool) {
	switch op {
	case OpAdd:
		r := x + y
		return r, (r > x) == (y > 0)
	case OpSub:
		r := x - y
		return r, (r < x) == (y > 0)
	case OpMul:
		if x == 0 || y == 0 {
			return 0, true
		}
		r := x * y
		if r/y != x || (x == -1 && y == math.MinInt64) || (y == -1 && x == math.MinInt64) {
			return 0, false
		}
		return r, true
	case OpDiv:
		if x == math.MinInt64 && y == -1 {
			return 0, false
		}
		return x / y, true
	case OpMod:
		if y == -1 {
			return 0, true
		}
		return x % y, true
	case OpLt:
		return boolInt(x < y), true
	case OpLe:
		return boolInt(x <= y), true
	case OpGt:
		return boolInt(x > y), true
	case OpGe:
		return boolInt(x >= y), true
	case OpEq:
		return boolInt(x == y), true
	case OpNe:
		return boolInt(x != y), true
	}
	panic(fmt.Sprintf("constant domain: unsupported operator %q", op))
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Refine narrows x under "x op e". Only equality carries information in this domain;
// decided comparisons between two constants can still prove a branch infeasible.
func (constantDomain) Refine(op Op, x, e Value) Value {
	a, b := asConst(x), asConst(e)
	if a.kind == constBot || b.kind == constBot {
		return ConstBot
	}
	if op == OpEq {
		return constantDomain{}.Meet(a, b)
	}
	if a.kind == constValue && b.kind == constValue {
		if holds, _ := foldInts(op, a.n, b.n); holds == 0 {
			return ConstBot
		}
	}
	return a
}
