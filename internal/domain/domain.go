// File: internal/domain/domain.go
// Package domain implements the abstract domains of the explorer (Sign, Constant, Interval
// and Taint) together with their abstract evaluators.
package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/lattice"
)

// ID identifies an abstract domain.
type ID string

const (
	SignID     ID = "sign"
	ConstantID ID = "constant"
	IntervalID ID = "interval"
	TaintID    ID = "taint"
)

// ErrUnknownDomain is returned when a domain id is not registered.
var ErrUnknownDomain = errors.New("unknown abstract domain")

// Value is an element of exactly one domain's carrier set. Implementations are comparable,
// so two values of the same domain are equal iff they are == .
type Value interface {
	fmt.Stringer
	Domain() ID
}

// Op is an abstract operator. Binary operators take two operands; "-" and "!" also
// accept a single operand.
type Op string

const (
	OpAdd Op = "+"
	OpSub Op = "-"
	OpMul Op = "*"
	OpDiv Op = "/"
	OpMod Op = "%"
	OpLt  Op = "<"
	OpLe  Op = "<="
	OpGt  Op = ">"
	OpGe  Op = ">="
	OpEq  Op = "=="
	OpNe  Op = "!="
	OpAnd Op = "&&"
	OpOr  Op = "||"
	OpNot Op = "!"
)

// IsComparison reports whether op is one of the six relational operators.
func (op Op) IsComparison() bool {
	switch op {
	case OpLt, OpLe, OpGt, OpGe, OpEq, OpNe:
		return true
	}
	return false
}

// Negate returns the comparison that holds exactly when op does not.
func (op Op) Negate() Op {
	switch op {
	case OpLt:
		return OpGe
	case OpLe:
		return OpGt
	case OpGt:
		return OpLe
	case OpGe:
		return OpLt
	case OpEq:
		return OpNe
	case OpNe:
		return OpEq
	}
	return op
}

// Flip returns the comparison with its operands swapped (a < b iff b > a).
func (op Op) Flip() Op {
	switch op {
	case OpLt:
		return OpGt
	case OpLe:
		return OpGe
	case OpGt:
		return OpLt
	case OpGe:
		return OpLe
	}
	return op
}

// WarningKind classifies a recoverable domain condition.
type WarningKind string

const (
	WarnDivisionByZero WarningKind = "possible-division-by-zero"
	WarnOverflow       WarningKind = "possible-overflow"
)

// Result is the outcome of one abstract evaluation.
type Result struct {
	Value    Value
	Warnings []WarningKind
}

// Has reports whether the result carries the given warning.
func (r Result) Has(kind WarningKind) bool {
	for _, w := range r.Warnings {
		if w == kind {
			return true
		}
	}
	return false
}

func (r *Result) warn(kind WarningKind) {
	if !r.Has(kind) {
		r.Warnings = append(r.Warnings, kind)
	}
}

// Domain is the algebraic interface the trace builder runs against.
type Domain interface {
	ID() ID
	Properties() Properties
	Bottom() Value
	Top() Value
	Join(a, b Value) Value
	Meet(a, b Value) Value
	// Leq is derived from Join: a ⊑ b iff Join(a, b) == b.
	Leq(a, b Value) bool
	// Literal abstracts an integer constant.
	Literal(n int64) Value
	// StringLiteral abstracts a string constant.
	StringLiteral(s string) Value
	// Unknown is the value of a call the domain has no model for.
	Unknown(args []Value) Value
	Evaluate(op Op, operands ...Value) Result
	// Truth reports whether a condition value may be non-zero and whether it may be zero.
	Truth(v Value) (mayBeTrue, mayBeFalse bool)
}

// Widener is implemented by domains with infinite ascending chains.
type Widener interface {
	Widen(old, new Value) Value
}

// Refiner narrows x to the values that can satisfy "x op e".
type Refiner interface {
	Refine(op Op, x, e Value) Value
}

// Concretizer exposes membership in the concretization γ(v) of numeric domains.
type Concretizer interface {
	Contains(v Value, n int64) bool
}

// FiniteLattice is implemented by domains backed by a finite lattice.
type FiniteLattice interface {
	Lattice() *lattice.Lattice
}

// Properties is the static description of a domain shown by the presentation layer.
type Properties struct {
	ID            ID     `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	Height        string `json:"height" yaml:"height"`
	Width         string `json:"width" yaml:"width"`
	NeedsWidening bool   `json:"needsWidening" yaml:"needs_widening"`
	Description   string `json:"description" yaml:"description"`
}

var registry = map[ID]Domain{
	SignID:     SignDomain,
	ConstantID: ConstantDomain,
	IntervalID: IntervalDomain,
	TaintID:    TaintDomain,
}

// List returns the numeric domains in presentation order.
func List() []ID {
	return []ID{SignID, ConstantID, IntervalID}
}

// ListTaint returns the security domains.
func ListTaint() []ID {
	return []ID{TaintID}
}

// Lookup resolves a domain by id. Ids are matched case-insensitively.
func Lookup(id ID) (Domain, error) {
	d, ok := registry[ID(strings.ToLower(strings.TrimSpace(string(id))))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, id)
	}
	return d, nil
}

// PropertiesOf returns the static metadata of a domain.
func PropertiesOf(id ID) (Properties, error) {
	d, err := Lookup(id)
	if err != nil {
		return Properties{}, err
	}
	return d.Properties(), nil
}

// leqByJoin implements the order every domain shares.
func leqByJoin(d Domain, a, b Value) bool {
	return d.Join(a, b) == b
}

func mismatch(d ID, v Value) string {
	if v == nil {
		return fmt.Sprintf("%s domain: nil value", d)
	}
	return fmt.Sprintf("%s domain: value %s belongs to the %s domain", d, v, v.Domain())
}
