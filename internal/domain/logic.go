package domain

// boolEncoder maps a pair of possible truth outcomes back into a domain.
type boolEncoder func(mayBeTrue, mayBeFalse bool) Value

// evaluateLogic implements !, && and || for every domain through its Truth function.
// Connectives are decided on truthiness alone, so false && x is false for any reachable x.
func evaluateLogic(d Domain, encode boolEncoder, op Op, operands []Value) Result {
	for _, v := range operands {
		if v == d.Bottom() {
			return Result{Value: d.Bottom()}
		}
	}

	switch {
	case op == OpNot && len(operands) == 1:
		t, f := d.Truth(operands[0])
		return Result{Value: encode(f, t)}
	case op == OpAnd && len(operands) == 2:
		t1, f1 := d.Truth(operands[0])
		t2, f2 := d.Truth(operands[1])
		return Result{Value: encode(t1 && t2, f1 || f2)}
	case op == OpOr && len(operands) == 2:
		t1, f1 := d.Truth(operands[0])
		t2, f2 := d.Truth(operands[1])
		return Result{Value: encode(t1 || t2, f1 && f2)}
	}
	return Result{Value: d.Top()}
}

func isLogic(op Op) bool {
	return op == OpNot || op == OpAnd || op == OpOr
}
