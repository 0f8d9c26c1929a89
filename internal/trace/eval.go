package trace

import (
	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/domain"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/lang"
)

// eval computes the abstract value of e under s, collecting warnings and call
// annotations for the step being built.
func (r *run) eval(e lang.Expr, s store) domain.Value {
	switch e := e.(type) {
	case lang.IntLit:
		return r.d.Literal(e.Value)
	case lang.StringLit:
		return r.d.StringLiteral(e.Value)
	case lang.Ident:
		if v, ok := s[e.Name]; ok {
			return v
		}
		return r.d.Bottom()
	case lang.Unary:
		x := r.eval(e.X, s)
		return r.apply(domain.Op(e.Op), x)
	case lang.Binary:
		x := r.eval(e.X, s)
		y := r.eval(e.Y, s)
		return r.apply(domain.Op(e.Op), x, y)
	case *lang.Call:
		return r.call(e, s)
	}
	return r.d.Top()
}

func (r *run) apply(op domain.Op, operands ...domain.Value) domain.Value {
	res := r.d.Evaluate(op, operands...)
	for _, w := range res.Warnings {
		r.warn(w)
	}
	return res.Value
}

func (r *run) warn(w domain.WarningKind) {
	for _, have := range r.warnings {
		if have == w {
			return
		}
	}
	r.warnings = append(r.warnings, w)
}

func (r *run) call(e *lang.Call, s store) domain.Value {
	c := Call{Func: e.Func, Args: make([]domain.Value, len(e.Args)), ArgText: make([]string, len(e.Args))}
	for i, a := range e.Args {
		c.Args[i] = r.eval(a, s)
		c.ArgText[i] = a.String()
	}
	if r.b.opts.Calls != nil {
		res := r.b.opts.Calls(c)
		r.findings = append(r.findings, res.Findings...)
		r.sanitized = append(r.sanitized, res.Sanitized...)
		if res.Value != nil {
			return res.Value
		}
	}
	return r.d.Unknown(c.Args)
}

// peek evaluates e without recording anything on the current step.
func (r *run) peek(e lang.Expr, s store) domain.Value {
	warnings, findings, sanitized := r.warnings, r.findings, r.sanitized
	v := r.eval(e, s)
	r.warnings, r.findings, r.sanitized = warnings, findings, sanitized
	return v
}

// refine returns the part of s in which cond evaluates to the given truth value, or nil
// when no state can take that branch.
func (r *run) refine(cond lang.Expr, s store, truth bool) store {
	if s == nil {
		return nil
	}
	mayTrue, mayFalse := r.d.Truth(r.peek(cond, s))
	if (truth && !mayTrue) || (!truth && !mayFalse) {
		return nil
	}

	switch c := cond.(type) {
	case lang.Unary:
		if c.Op == "!" {
			return r.refine(c.X, s, !truth)
		}
	case lang.Ident:
		// A bare variable is true when non-zero.
		op := domain.OpNe
		if !truth {
			op = domain.OpEq
		}
		return r.narrow(s, c.Name, op, r.d.Literal(0))
	case lang.Binary:
		switch op := domain.Op(c.Op); {
		case op == domain.OpAnd && truth:
			return r.refine(c.Y, r.refine(c.X, s, true), true)
		case op == domain.OpAnd:
			return joinStores(r.d, r.refine(c.X, s, false), r.refine(c.Y, r.refine(c.X, s, true), false))
		case op == domain.OpOr && truth:
			return joinStores(r.d, r.refine(c.X, s, true), r.refine(c.Y, r.refine(c.X, s, false), true))
		case op == domain.OpOr:
			return r.refine(c.Y, r.refine(c.X, s, false), false)
		case op.IsComparison():
			if !truth {
				op = op.Negate()
			}
			out := s
			if x, ok := c.X.(lang.Ident); ok {
				out = r.narrow(out, x.Name, op, r.peek(c.Y, out))
			}
			if y, ok := c.Y.(lang.Ident); ok && out != nil {
				out = r.narrow(out, y.Name, op.Flip(), r.peek(c.X, out))
			}
			return out
		}
	}
	return s
}

// narrow meets variable name with the values satisfying "name op e".
func (r *run) narrow(s store, name string, op domain.Op, e domain.Value) store {
	ref, ok := r.d.(domain.Refiner)
	if !ok || s == nil {
		return s
	}
	cur, ok := s[name]
	if !ok {
		return s
	}
	v := ref.Refine(op, cur, e)
	if v == r.d.Bottom() {
		return nil
	}
	if v == cur {
		return s
	}
	return s.with(name, v)
}
