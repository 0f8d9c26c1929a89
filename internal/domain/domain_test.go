package domain

import (
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// samples returns a spread of elements for each domain, including Bot and Top.
func samples(id ID) []Value {
	switch id {
	case SignID:
		return []Value{SignBot, SignNeg, SignZero, SignPos, SignTop}
	case ConstantID:
		return []Value{ConstBot, ConstTop, ConstOf(0), ConstOf(1), ConstOf(-3), ConstOf(7)}
	case IntervalID:
		return []Value{
			IntervalBot, IntervalTop,
			NewInterval(0, 0), NewInterval(0, 5), NewInterval(-3, 2), NewInterval(3, 3),
			IntervalOf(Finite(1), PosInf), IntervalOf(NegInf, Finite(-1)),
		}
	case TaintID:
		return []Value{
			TaintBot, Untainted, Tainted, TaintUndecided,
			Tainted.Sanitize("SQL Injection"),
			Tainted.Sanitize("SQL Injection", "Cross-Site Scripting"),
			TaintUndecided.Sanitize("SQL Injection"),
		}
	}
	return nil
}

func allDomains() []Domain {
	return []Domain{SignDomain, ConstantDomain, IntervalDomain, TaintDomain}
}

func TestLatticeLaws(t *testing.T) {
	for _, d := range allDomains() {
		d := d
		t.Run(string(d.ID()), func(t *testing.T) {
			values := samples(d.ID())
			require.NotEmpty(t, values)
			bot, top := d.Bottom(), d.Top()

			for _, a := range values {
				assert.Equal(t, a, d.Join(a, a), "join idempotence for %s", a)
				assert.Equal(t, a, d.Meet(a, a), "meet idempotence for %s", a)
				assert.Equal(t, a, d.Join(bot, a), "Bot is the join identity for %s", a)
				assert.Equal(t, a, d.Meet(top, a), "Top is the meet identity for %s", a)
				assert.True(t, d.Leq(bot, a))
				assert.True(t, d.Leq(a, top), "%s below Top", a)

				for _, b := range values {
					assert.Equal(t, d.Join(a, b), d.Join(b, a), "join symmetry %s %s", a, b)
					assert.Equal(t, d.Meet(a, b), d.Meet(b, a), "meet symmetry %s %s", a, b)
					assert.True(t, d.Leq(a, d.Join(a, b)), "%s ⊑ %s ⊔ %s", a, a, b)
					assert.Equal(t, a, d.Join(a, d.Meet(a, b)), "absorption %s %s", a, b)
					assert.Equal(t, a, d.Meet(a, d.Join(a, b)), "absorption %s %s", a, b)

					for _, c := range values {
						assert.Equal(t, d.Join(a, d.Join(b, c)), d.Join(d.Join(a, b), c))
						assert.Equal(t, d.Meet(a, d.Meet(b, c)), d.Meet(d.Meet(a, b), c))
					}
				}
			}
		})
	}
}

func TestEvaluateIsMonotone(t *testing.T) {
	ops := []Op{OpAdd, OpSub, OpMul, OpDiv, OpMod, OpLt, OpLe, OpEq, OpNe, OpAnd, OpOr}
	for _, d := range allDomains() {
		d := d
		t.Run(string(d.ID()), func(t *testing.T) {
			values := samples(d.ID())
			for _, op := range ops {
				for _, a1 := range values {
					for _, a2 := range values {
						if !d.Leq(a1, a2) {
							continue
						}
						for _, b := range values {
							lo := d.Evaluate(op, a1, b).Value
							hi := d.Evaluate(op, a2, b).Value
							assert.True(t, d.Leq(lo, hi), "%s %s %s = %s is not below %s %s %s = %s", a1, op, b, lo, a2, op, b, hi)
						}
						for _, b := range values {
							lo := d.Evaluate(op, b, a1).Value
							hi := d.Evaluate(op, b, a2).Value
							assert.True(t, d.Leq(lo, hi), "%s %s %s = %s is not below %s %s %s = %s", b, op, a1, lo, b, op, a2, hi)
						}
					}
				}
			}
		})
	}
}

func concreteOp(op Op, x, y int64) (int64, bool) {
	truth := func(b bool) int64 {
		if b {
			return 1
		}
		return 0
	}
	switch op {
	case OpAnd:
		return truth(x != 0 && y != 0), true
	case OpOr:
		return truth(x != 0 || y != 0), true
	case OpDiv, OpMod:
		if y == 0 {
			return 0, false
		}
	}
	return foldInts(op, x, y)
}

func TestEvaluateIsSound(t *testing.T) {
	concrete := []int64{-7, -1, 0, 1, 2, 5}
	ops := []Op{OpAdd, OpSub, OpMul, OpDiv, OpMod, OpLt, OpLe, OpGt, OpGe, OpEq, OpNe, OpAnd, OpOr}

	for _, d := range []Domain{SignDomain, ConstantDomain, IntervalDomain} {
		d := d
		c, ok := d.(Concretizer)
		require.True(t, ok)
		t.Run(string(d.ID()), func(t *testing.T) {
			for _, op := range ops {
				for _, x := range concrete {
					for _, y := range concrete {
						want, defined := concreteOp(op, x, y)
						if !defined {
							continue
						}
						a, b := d.Literal(x), d.Literal(y)
						widerA := d.Join(a, d.Literal(x+3))

						got := d.Evaluate(op, a, b).Value
						assert.True(t, c.Contains(got, want), "%d %s %d = %d not in %s", x, op, y, want, got)
						got = d.Evaluate(op, widerA, b).Value
						assert.True(t, c.Contains(got, want), "%d %s %d = %d not in %s", x, op, y, want, got)
						got = d.Evaluate(op, a, d.Top()).Value
						assert.True(t, c.Contains(got, want), "%d %s Top must contain %d, got %s", x, op, want, got)
					}
				}
			}
			for _, x := range concrete {
				got := d.Evaluate(OpSub, d.Literal(x)).Value
				assert.True(t, c.Contains(got, -x), "-%d not in %s", x, got)
				got = d.Evaluate(OpNot, d.Literal(x)).Value
				want, _ := concreteOp(OpEq, x, 0)
				assert.True(t, c.Contains(got, want), "!%d not in %s", x, got)
			}
		})
	}
}

func TestSignSpotChecks(t *testing.T) {
	testCases := []struct {
		name     string
		op       Op
		operands []Value
		want     Value
		warning  WarningKind
	}{
		{name: "neg times pos", op: OpMul, operands: []Value{SignNeg, SignPos}, want: SignNeg},
		{name: "pos plus pos", op: OpAdd, operands: []Value{SignPos, SignPos}, want: SignPos},
		{name: "pos plus neg", op: OpAdd, operands: []Value{SignPos, SignNeg}, want: SignTop},
		{name: "zero times top", op: OpMul, operands: []Value{SignZero, SignTop}, want: SignTop},
		{name: "bot poisons", op: OpAdd, operands: []Value{SignBot, SignPos}, want: SignBot},
		{name: "pos over zero", op: OpDiv, operands: []Value{SignPos, SignZero}, want: SignTop, warning: WarnDivisionByZero},
		{name: "pos over top", op: OpDiv, operands: []Value{SignPos, SignTop}, want: SignTop, warning: WarnDivisionByZero},
		{name: "pos over pos truncates", op: OpDiv, operands: []Value{SignPos, SignPos}, want: SignTop},
		{name: "neg less than pos", op: OpLt, operands: []Value{SignNeg, SignPos}, want: SignPos},
		{name: "zero equals zero", op: OpEq, operands: []Value{SignZero, SignZero}, want: SignPos},
		{name: "pos less than pos", op: OpLt, operands: []Value{SignPos, SignPos}, want: SignTop},
		{name: "unary minus", op: OpSub, operands: []Value{SignNeg}, want: SignPos},
		{name: "not zero", op: OpNot, operands: []Value{SignZero}, want: SignPos},
		{name: "zero and anything", op: OpAnd, operands: []Value{SignZero, SignTop}, want: SignZero},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := SignDomain.Evaluate(tc.op, tc.operands...)
			assert.Equal(t, tc.want, res.Value)
			if tc.warning != "" {
				assert.True(t, res.Has(tc.warning))
			} else {
				assert.Empty(t, res.Warnings)
			}
		})
	}
}

func TestConstantSpotChecks(t *testing.T) {
	assert.Equal(t, ConstOf(5), ConstantDomain.Evaluate(OpAdd, ConstOf(2), ConstOf(3)).Value)
	assert.Equal(t, ConstTop, ConstantDomain.Evaluate(OpAdd, ConstOf(2), ConstTop).Value)
	assert.Equal(t, ConstOf(1), ConstantDomain.Evaluate(OpLt, ConstOf(2), ConstOf(3)).Value)
	assert.Equal(t, ConstOf(-2), ConstantDomain.Evaluate(OpDiv, ConstOf(-7), ConstOf(3)).Value)

	res := ConstantDomain.Evaluate(OpDiv, ConstOf(8), ConstOf(0))
	assert.Equal(t, ConstTop, res.Value)
	assert.True(t, res.Has(WarnDivisionByZero))

	res = ConstantDomain.Evaluate(OpAdd, ConstOf(math.MaxInt64), ConstOf(1))
	assert.Equal(t, ConstTop, res.Value)
	assert.True(t, res.Has(WarnOverflow))

	assert.Equal(t, ConstTop, ConstantDomain.Join(ConstOf(1), ConstOf(2)))
	assert.Equal(t, ConstBot, ConstantDomain.Meet(ConstOf(1), ConstOf(2)))
	assert.Equal(t, "Top", ConstTop.String())
	assert.Equal(t, "-4", ConstOf(-4).String())
}

func TestIntervalSpotChecks(t *testing.T) {
	top := IntervalTop
	testCases := []struct {
		name    string
		op      Op
		a, b    Value
		want    Value
		warning WarningKind
	}{
		{name: "add", op: OpAdd, a: NewInterval(1, 3), b: NewInterval(2, 4), want: NewInterval(3, 7)},
		{name: "sub", op: OpSub, a: NewInterval(1, 3), b: NewInterval(2, 4), want: NewInterval(-3, 1)},
		{name: "mul corners", op: OpMul, a: NewInterval(-2, 3), b: NewInterval(4, 5), want: NewInterval(-10, 15)},
		{name: "zero times unbounded", op: OpMul, a: NewInterval(0, 0), b: top, want: NewInterval(0, 0)},
		{name: "div positive", op: OpDiv, a: NewInterval(10, 20), b: NewInterval(2, 5), want: NewInterval(2, 10)},
		{name: "div by exact zero", op: OpDiv, a: NewInterval(5, 5), b: NewInterval(0, 0), want: IntervalBot, warning: WarnDivisionByZero},
		{name: "mod by exact zero", op: OpMod, a: NewInterval(3, 3), b: NewInterval(0, 0), want: IntervalBot, warning: WarnDivisionByZero},
		{name: "mod by range with zero", op: OpMod, a: NewInterval(3, 3), b: NewInterval(0, 5), want: NewInterval(0, 3), warning: WarnDivisionByZero},
		{
			name: "div by range touching zero", op: OpDiv, a: NewInterval(1, 10), b: NewInterval(0, 2),
			want: IntervalOf(Finite(0), PosInf), warning: WarnDivisionByZero,
		},
		{name: "div by range spanning zero", op: OpDiv, a: NewInterval(1, 10), b: NewInterval(-2, 2), want: top, warning: WarnDivisionByZero},
		{name: "mod", op: OpMod, a: NewInterval(0, 100), b: NewInterval(3, 3), want: NewInterval(0, 2)},
		{name: "less than decided", op: OpLt, a: NewInterval(0, 3), b: NewInterval(5, 9), want: NewInterval(1, 1)},
		{name: "less than undecided", op: OpLt, a: NewInterval(0, 6), b: NewInterval(5, 9), want: NewInterval(0, 1)},
		{name: "equal singletons", op: OpEq, a: NewInterval(4, 4), b: NewInterval(4, 4), want: NewInterval(1, 1)},
		{name: "disjoint not equal", op: OpNe, a: NewInterval(0, 1), b: NewInterval(3, 4), want: NewInterval(1, 1)},
		{name: "bot poisons", op: OpAdd, a: IntervalBot, b: NewInterval(1, 1), want: IntervalBot},
		{
			name: "overflow", op: OpAdd, a: NewInterval(math.MaxInt64, math.MaxInt64), b: NewInterval(1, 1),
			want: top, warning: WarnOverflow,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := IntervalDomain.Evaluate(tc.op, tc.a, tc.b)
			assert.Equal(t, tc.want, res.Value, "got %s", res.Value)
			if tc.warning != "" {
				assert.True(t, res.Has(tc.warning))
			} else {
				assert.Empty(t, res.Warnings)
			}
		})
	}

	assert.Equal(t, "[0, +∞]", IntervalOf(Finite(0), PosInf).String())
	assert.Equal(t, "Bot", NewInterval(3, 1).String())
}

func TestIntervalWidening(t *testing.T) {
	w, ok := IntervalDomain.(Widener)
	require.True(t, ok)

	assert.Equal(t, IntervalOf(Finite(0), PosInf), w.Widen(NewInterval(0, 0), NewInterval(0, 1)))
	assert.Equal(t, IntervalOf(NegInf, Finite(5)), w.Widen(NewInterval(0, 5), NewInterval(-1, 5)))
	assert.Equal(t, NewInterval(0, 5), w.Widen(NewInterval(0, 5), NewInterval(1, 4)))
	assert.Equal(t, NewInterval(2, 2), w.Widen(IntervalBot, NewInterval(2, 2)))

	// An ascending chain stabilises after one widening step.
	x := NewInterval(0, 0)
	for i := int64(1); i < 5; i++ {
		next := IntervalDomain.Join(x, NewInterval(0, i))
		x = w.Widen(x, next).(Interval)
	}
	assert.Equal(t, IntervalOf(Finite(0), PosInf), x)
}

func TestRefine(t *testing.T) {
	testCases := []struct {
		name string
		d    Domain
		op   Op
		x, e Value
		want Value
	}{
		{name: "interval lt", d: IntervalDomain, op: OpLt, x: IntervalTop, e: NewInterval(10, 10), want: IntervalOf(NegInf, Finite(9))},
		{name: "interval ge", d: IntervalDomain, op: OpGe, x: IntervalOf(Finite(0), PosInf), e: NewInterval(10, 10), want: IntervalOf(Finite(10), PosInf)},
		{name: "interval ne cuts edge", d: IntervalDomain, op: OpNe, x: NewInterval(0, 5), e: NewInterval(0, 0), want: NewInterval(1, 5)},
		{name: "interval infeasible", d: IntervalDomain, op: OpGt, x: NewInterval(0, 3), e: NewInterval(3, 3), want: IntervalBot},
		{name: "sign lt zero", d: SignDomain, op: OpLt, x: SignTop, e: SignZero, want: SignNeg},
		{name: "sign infeasible", d: SignDomain, op: OpGt, x: SignNeg, e: SignZero, want: SignBot},
		{name: "constant eq", d: ConstantDomain, op: OpEq, x: ConstTop, e: ConstOf(3), want: ConstOf(3)},
		{name: "constant decided false", d: ConstantDomain, op: OpLt, x: ConstOf(5), e: ConstOf(3), want: ConstBot},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r, ok := tc.d.(Refiner)
			require.True(t, ok)
			assert.Equal(t, tc.want, r.Refine(tc.op, tc.x, tc.e))
		})
	}
}

func TestTaintPropagation(t *testing.T) {
	sqlSafe := Tainted.Sanitize("SQL Injection")

	assert.Equal(t, Tainted, TaintDomain.Evaluate(OpAdd, Tainted, Untainted).Value)
	assert.Equal(t, TaintUndecided, TaintDomain.Evaluate(OpAdd, TaintUndecided, Untainted).Value)
	assert.Equal(t, Tainted, TaintDomain.Evaluate(OpAdd, Tainted, TaintUndecided).Value)
	assert.Equal(t, TaintBot, TaintDomain.Evaluate(OpAdd, TaintBot, Tainted).Value)
	assert.Equal(t, Untainted, TaintDomain.Evaluate(OpMul, Untainted, Untainted).Value)
	assert.Equal(t, Untainted, TaintDomain.Literal(42))

	// Concatenating sanitized data with unsanitized data loses the sanitization.
	assert.Equal(t, Tainted, TaintDomain.Evaluate(OpAdd, sqlSafe, Tainted).Value)
	assert.Equal(t, sqlSafe, TaintDomain.Evaluate(OpAdd, sqlSafe, Untainted).Value)
	assert.Equal(t, sqlSafe, TaintDomain.Unknown([]Value{sqlSafe}))
	assert.Equal(t, Untainted, TaintDomain.Unknown(nil))

	assert.True(t, sqlSafe.IsSanitizedFor("SQL Injection"))
	assert.False(t, sqlSafe.IsSanitizedFor("Cross-Site Scripting"))
	assert.Equal(t, Untainted, Untainted.Sanitize("SQL Injection"))
	assert.Equal(t, "Tainted(sanitized: SQL Injection)", sqlSafe.String())

	assert.Equal(t, TaintUndecided, TaintDomain.Join(Untainted, Tainted))
	assert.Equal(t, Tainted, TaintDomain.Join(sqlSafe, Tainted))
	assert.Equal(t, sqlSafe, TaintDomain.Meet(sqlSafe, Tainted))

	// Sanitizer sets sit below Tainted, so the reported height only covers the levels.
	assert.True(t, TaintDomain.Leq(sqlSafe, Tainted))
	assert.False(t, TaintDomain.Leq(Tainted, sqlSafe))
	assert.Contains(t, TaintDomain.Properties().Description, "sanitizer sets")
}

func TestPropertiesMatchCapabilities(t *testing.T) {
	for _, d := range allDomains() {
		d := d
		t.Run(string(d.ID()), func(t *testing.T) {
			props := d.Properties()
			assert.Equal(t, d.ID(), props.ID)
			assert.NotEmpty(t, props.Name)
			assert.NotEmpty(t, props.Description)

			_, widens := d.(Widener)
			assert.Equal(t, props.NeedsWidening, widens)

			if f, ok := d.(FiniteLattice); ok {
				assert.Equal(t, "finite", props.Width)
				assert.Equal(t, props.Height, strconv.Itoa(f.Lattice().Height()))
			}
		})
	}
}

func TestLookup(t *testing.T) {
	d, err := Lookup(" Interval ")
	require.NoError(t, err)
	assert.Equal(t, IntervalID, d.ID())

	_, err = Lookup("octagon")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownDomain)

	assert.Equal(t, []ID{SignID, ConstantID, IntervalID}, List())
	assert.Equal(t, []ID{TaintID}, ListTaint())

	props, err := PropertiesOf(ConstantID)
	require.NoError(t, err)
	assert.Equal(t, "2", props.Height)
	assert.Equal(t, "infinite", props.Width)
}

func TestMixingDomainsPanics(t *testing.T) {
	assert.Panics(t, func() { SignDomain.Join(SignPos, ConstOf(1)) })
	assert.Panics(t, func() { IntervalDomain.Evaluate(OpAdd, NewInterval(1, 1), Tainted) })
}
