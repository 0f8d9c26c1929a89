package domain

import (
	"fmt"
)

// Interval is an element of the interval lattice: Bot or [Lo, Hi] with Lo ≤ Hi, where
// Lo may be -∞ and Hi may be +∞. Top is [-∞, +∞].
type Interval struct {
	bot    bool
	lo, hi Bound
}

var (
	IntervalBot = Interval{bot: true}
	IntervalTop = Interval{lo: NegInf, hi: PosInf}
)

// NewInterval returns [lo, hi], or Bot when the range is empty.
func NewInterval(lo, hi int64) Interval {
	return IntervalOf(Finite(lo), Finite(hi))
}

// IntervalOf builds an interval from arbitrary bounds. Empty ranges, and bounds that
// could only describe empty ranges (a +∞ lower or -∞ upper bound), collapse to Bot.
func IntervalOf(lo, hi Bound) Interval {
	if lo.inf > 0 || hi.inf < 0 || lo.cmp(hi) > 0 {
		return IntervalBot
	}
	return Interval{lo: lo, hi: hi}
}

// Bounds returns the endpoints; ok is false for Bot.
func (i Interval) Bounds() (lo, hi Bound, ok bool) {
	return i.lo, i.hi, !i.bot
}

func (i Interval) IsBottom() bool { return i.bot }

func (i Interval) String() string {
	if i.bot {
		return "Bot"
	}
	return fmt.Sprintf("[%s, %s]", i.lo, i.hi)
}

func (Interval) Domain() ID { return IntervalID }

func (i Interval) containsZero() bool {
	return !i.bot && i.lo.cmp(Finite(0)) <= 0 && i.hi.cmp(Finite(0)) >= 0
}

type intervalDomain struct{}

// IntervalDomain is the interval domain. It is the only numeric domain with infinite
// ascending chains and therefore the only one that widens.
var IntervalDomain Domain = intervalDomain{}

func (intervalDomain) ID() ID { return IntervalID }

func (intervalDomain) Properties() Properties {
	return Properties{
		ID:            IntervalID,
		Name:          "Interval",
		Height:        "infinite",
		Width:         "infinite",
		NeedsWidening: true,
		Description:   "Tracks a lower and an upper bound for each value. Infinite ascending chains such as [0,0] ⊑ [0,1] ⊑ [0,2] ... require widening to terminate.",
	}
}

func (intervalDomain) Bottom() Value { return IntervalBot }
func (intervalDomain) Top() Value    { return IntervalTop }

func asInterval(v Value) Interval {
	i, ok := v.(Interval)
	if !ok {
		panic(mismatch(IntervalID, v))
	}
	return i
}

func (intervalDomain) Join(a, b Value) Value {
	x, y := asInterval(a), asInterval(b)
	switch {
	case x.bot:
		return y
	case y.bot:
		return x
	}
	return Interval{lo: minBound(x.lo, y.lo), hi: maxBound(x.hi, y.hi)}
}

func (intervalDomain) Meet(a, b Value) Value {
	x, y := asInterval(a), asInterval(b)
	if x.bot || y.bot {
		return IntervalBot
	}
	return IntervalOf(maxBound(x.lo, y.lo), minBound(x.hi, y.hi))
}

func (d intervalDomain) Leq(a, b Value) bool { return leqByJoin(d, a, b) }

// Widen extrapolates every bound that grew since the previous visit to infinity.
func (intervalDomain) Widen(old, new Value) Value {
	o, n := asInterval(old), asInterval(new)
	switch {
	case o.bot:
		return n
	case n.bot:
		return o
	}
	lo, hi := o.lo, o.hi
	if n.lo.cmp(o.lo) < 0 {
		lo = NegInf
	}
	if n.hi.cmp(o.hi) > 0 {
		hi = PosInf
	}
	return Interval{lo: lo, hi: hi}
}

func (intervalDomain) Literal(n int64) Value      { return NewInterval(n, n) }
func (intervalDomain) StringLiteral(string) Value { return IntervalTop }
func (intervalDomain) Unknown([]Value) Value      { return IntervalTop }

func (intervalDomain) Truth(v Value) (bool, bool) {
	i := asInterval(v)
	if i.bot {
		return false, false
	}
	zero := Finite(0)
	onlyZero := i.lo.cmp(zero) == 0 && i.hi.cmp(zero) == 0
	return !onlyZero, i.containsZero()
}

func (intervalDomain) Contains(v Value, n int64) bool {
	i := asInterval(v)
	return !i.bot && i.lo.cmp(Finite(n)) <= 0 && i.hi.cmp(Finite(n)) >= 0
}

var boolInterval = NewInterval(0, 1)

func encodeIntervalBool(mayBeTrue, mayBeFalse bool) Value {
	switch {
	case mayBeTrue && mayBeFalse:
		return boolInterval
	case mayBeTrue:
		return NewInterval(1, 1)
	case mayBeFalse:
		return NewInterval(0, 0)
	}
	return IntervalBot
}

// Evaluate performs interval arithmetic. A finite bound that leaves the int64 range makes
// the whole result Top and raises an overflow warning.
func (d intervalDomain) Evaluate(op Op, operands ...Value) Result {
	for _, v := range operands {
		asInterval(v)
	}
	if isLogic(op) {
		return evaluateLogic(d, encodeIntervalBool, op, operands)
	}

	if len(operands) == 1 && op == OpSub {
		return negateInterval(asInterval(operands[0]))
	}
	if len(operands) != 2 {
		panic(fmt.Sprintf("interval domain: operator %q applied to %d operands", op, len(operands)))
	}

	a, b := asInterval(operands[0]), asInterval(operands[1])
	if a.bot || b.bot {
		return Result{Value: IntervalBot}
	}

	switch op {
	case OpAdd:
		return addIntervals(a, b)
	case OpSub:
		neg := negateInterval(b)
		res := addIntervals(a, neg.Value.(Interval))
		for _, w := range neg.Warnings {
			res.warn(w)
		}
		return res
	case OpMul:
		return mulIntervals(a, b)
	case OpDiv:
		return divIntervals(a, b)
	case OpMod:
		return modIntervals(a, b)
	}
	if op.IsComparison() {
		t, f := compareIntervals(op, a, b)
		return Result{Value: encodeIntervalBool(t, f)}
	}
	panic(fmt.Sprintf("interval domain: unsupported operator %q", op))
}

func negateInterval(a Interval) Result {
	if a.bot {
		return Result{Value: IntervalBot}
	}
	var res Result
	lo, o1 := negBound(a.hi)
	hi, o2 := negBound(a.lo)
	if o1 || o2 {
		res.warn(WarnOverflow)
		res.Value = IntervalTop
		return res
	}
	res.Value = Interval{lo: lo, hi: hi}
	return res
}

func addIntervals(a, b Interval) Result {
	var res Result
	lo, o1, ok1 := addBounds(a.lo, b.lo)
	hi, o2, ok2 := addBounds(a.hi, b.hi)
	if !ok1 || !ok2 {
		res.Value = IntervalTop
		return res
	}
	if o1 || o2 {
		res.warn(WarnOverflow)
		res.Value = IntervalTop
		return res
	}
	res.Value = IntervalOf(lo, hi)
	return res
}

func mulIntervals(a, b Interval) Result {
	var res Result
	corners := [4][2]Bound{{a.lo, b.lo}, {a.lo, b.hi}, {a.hi, b.lo}, {a.hi, b.hi}}
	var lo, hi Bound
	for i, c := range corners {
		p, overflow := mulBounds(c[0], c[1])
		if overflow {
			res.warn(WarnOverflow)
			res.Value = IntervalTop
			return res
		}
		if i == 0 {
			lo, hi = p, p
			continue
		}
		lo, hi = minBound(lo, p), maxBound(hi, p)
	}
	res.Value = IntervalOf(lo, hi)
	return res
}

// divByPart divides a by a divisor interval that lies entirely on one side of zero.
func divByPart(a, part Interval, res *Result) Interval {
	corners := [4][2]Bound{{a.lo, part.lo}, {a.lo, part.hi}, {a.hi, part.lo}, {a.hi, part.hi}}
	var lo, hi Bound
	for i, c := range corners {
		q, overflow := divBounds(c[0], c[1])
		if overflow {
			res.warn(WarnOverflow)
			return IntervalTop
		}
		if i == 0 {
			lo, hi = q, q
			continue
		}
		lo, hi = minBound(lo, q), maxBound(hi, q)
	}
	return IntervalOf(lo, hi)
}

// divIntervals splits the divisor around zero. When the divisor contains zero the result
// is widened to ±∞ on every side the quotient can grow towards as the divisor nears zero.
func divIntervals(a, b Interval) Result {
	var res Result
	zero := Finite(0)
	if b.containsZero() {
		res.warn(WarnDivisionByZero)
		if b.lo.cmp(zero) == 0 && b.hi.cmp(zero) == 0 {
			// No concrete quotient exists.
			res.Value = IntervalBot
			return res
		}
	}

	out := IntervalBot
	negPart := IntervalOf(b.lo, minBound(b.hi, Finite(-1)))
	posPart := IntervalOf(maxBound(b.lo, Finite(1)), b.hi)
	if !negPart.bot {
		out = intervalDomain{}.Join(out, divByPart(a, negPart, &res)).(Interval)
	}
	if !posPart.bot {
		out = intervalDomain{}.Join(out, divByPart(a, posPart, &res)).(Interval)
	}

	if b.containsZero() && !out.bot {
		dividendPos := a.hi.cmp(zero) > 0
		dividendNeg := a.lo.cmp(zero) < 0
		nearZeroPos := !posPart.bot
		nearZeroNeg := !negPart.bot
		if (dividendPos && nearZeroPos) || (dividendNeg && nearZeroNeg) {
			out.hi = PosInf
		}
		if (dividendPos && nearZeroNeg) || (dividendNeg && nearZeroPos) {
			out.lo = NegInf
		}
	}
	res.Value = out
	return res
}

// modIntervals bounds a truncated remainder: its magnitude is below the divisor's and its
// sign follows the dividend.
func modIntervals(a, b Interval) Result {
	var res Result
	zero := Finite(0)
	if b.containsZero() {
		res.warn(WarnDivisionByZero)
		if b.lo.cmp(zero) == 0 && b.hi.cmp(zero) == 0 {
			// No concrete quotient exists.
			res.Value = IntervalBot
			return res
		}
	}

	negLo, _ := negBound(b.lo)
	magnitude := maxBound(negLo, b.hi) // max |divisor|
	limit := offset(magnitude, -1)
	negLimit, _ := negBound(limit)

	lo, hi := zero, zero
	if a.hi.cmp(zero) > 0 {
		hi = minBound(a.hi, limit)
	}
	if a.lo.cmp(zero) < 0 {
		lo = maxBound(a.lo, negLimit)
	}
	res.Value = IntervalOf(lo, hi)
	return res
}

// compareIntervals reports whether "a op b" may hold and whether it may fail.
func compareIntervals(op Op, a, b Interval) (mayBeTrue, mayBeFalse bool) {
	switch op {
	case OpLt:
		return a.lo.cmp(b.hi) < 0, a.hi.cmp(b.lo) >= 0
	case OpLe:
		return a.lo.cmp(b.hi) <= 0, a.hi.cmp(b.lo) > 0
	case OpGt:
		return compareIntervals(OpLt, b, a)
	case OpGe:
		return compareIntervals(OpLe, b, a)
	case OpEq:
		overlap := !intervalDomain{}.Meet(a, b).(Interval).bot
		singleton := a.lo.cmp(a.hi) == 0 && a.lo.IsFinite() && a == b
		return overlap, !singleton
	case OpNe:
		t, f := compareIntervals(OpEq, a, b)
		return f, t
	}
	return true, true
}

// Refine narrows x to the values that can satisfy "x op e".
func (d intervalDomain) Refine(op Op, x, e Value) Value {
	a, b := asInterval(x), asInterval(e)
	if a.bot || b.bot {
		return IntervalBot
	}
	var constraint Interval
	switch op {
	case OpLt:
		constraint = IntervalOf(NegInf, offset(b.hi, -1))
	case OpLe:
		constraint = IntervalOf(NegInf, b.hi)
	case OpGt:
		constraint = IntervalOf(offset(b.lo, 1), PosInf)
	case OpGe:
		constraint = IntervalOf(b.lo, PosInf)
	case OpEq:
		constraint = b
	case OpNe:
		// Only a singleton on one of x's edges can be cut away.
		if b.lo.cmp(b.hi) != 0 || !b.lo.IsFinite() {
			return a
		}
		lo, hi := a.lo, a.hi
		if lo.cmp(b.lo) == 0 {
			lo = offset(lo, 1)
		}
		if hi.cmp(b.hi) == 0 {
			hi = offset(hi, -1)
		}
		return IntervalOf(lo, hi)
	default:
		return a
	}
	return d.Meet(a, constraint)
}
