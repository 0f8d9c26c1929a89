package domain

import (
	"sort"
	"strings"

	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/lattice"
)

// TaintValue is an element of the Taint lattice {Bot, Untainted, Tainted, Top}. Tainted
// and Top values also carry the vulnerability types the data was sanitized for.
type TaintValue struct {
	level lattice.Element
	// sorted, "|" separated; always empty for Bot and Untainted
	sanitized string
}

var (
	TaintBot       = TaintValue{level: lattice.TaintBot}
	Untainted      = TaintValue{level: lattice.TaintUntainted}
	Tainted        = TaintValue{level: lattice.TaintTainted}
	TaintUndecided = TaintValue{level: lattice.TaintTop}
)

const sanitizedSep = "|"

// Level returns the value with its sanitization stripped.
func (v TaintValue) Level() TaintValue { return TaintValue{level: v.level} }

// MayBeTainted reports whether attacker-controlled data can reach this value.
func (v TaintValue) MayBeTainted() bool {
	return v.level == lattice.TaintTainted || v.level == lattice.TaintTop
}

// SanitizedFor lists the vulnerability types the value was cleaned for.
func (v TaintValue) SanitizedFor() []string {
	if v.sanitized == "" {
		return nil
	}
	return strings.Split(v.sanitized, sanitizedSep)
}

// IsSanitizedFor reports whether the value was cleaned for vulnType.
func (v TaintValue) IsSanitizedFor(vulnType string) bool {
	for _, s := range v.SanitizedFor() {
		if s == vulnType {
			return true
		}
	}
	return false
}

// Sanitize records that v passed through a sanitizer for the given vulnerability types.
// Values that cannot carry taint are returned unchanged.
func (v TaintValue) Sanitize(vulnTypes ...string) TaintValue {
	if !v.MayBeTainted() {
		return v
	}
	set := make(map[string]struct{}, len(vulnTypes))
	for _, s := range v.SanitizedFor() {
		set[s] = struct{}{}
	}
	for _, s := range vulnTypes {
		if s = strings.TrimSpace(s); s != "" {
			set[s] = struct{}{}
		}
	}
	return TaintValue{level: v.level, sanitized: joinSet(set)}
}

func (v TaintValue) String() string {
	label := lattice.Taint.Label(v.level)
	if v.sanitized == "" {
		return label
	}
	return label + "(sanitized: " + strings.Join(v.SanitizedFor(), ", ") + ")"
}

func (TaintValue) Domain() ID { return TaintID }

func joinSet(set map[string]struct{}) string {
	if len(set) == 0 {
		return ""
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return strings.Join(out, sanitizedSep)
}

func normalizeTaint(level lattice.Element, set map[string]struct{}) TaintValue {
	v := TaintValue{level: level}
	if v.MayBeTainted() {
		v.sanitized = joinSet(set)
	}
	return v
}

// intersectSanitized intersects the sanitized sets of the operands that may carry taint.
// Operands that carry no taint impose no constraint.
func intersectSanitized(values ...TaintValue) map[string]struct{} {
	var out map[string]struct{}
	for _, v := range values {
		if !v.MayBeTainted() {
			continue
		}
		own := make(map[string]struct{})
		for _, s := range v.SanitizedFor() {
			own[s] = struct{}{}
		}
		if out == nil {
			out = own
			continue
		}
		for s := range out {
			if _, ok := own[s]; !ok {
				delete(out, s)
			}
		}
	}
	return out
}

type taintDomain struct{}

// TaintDomain is the security domain used by taint traces.
var TaintDomain Domain = taintDomain{}

func (taintDomain) ID() ID { return TaintID }

func (taintDomain) Properties() Properties {
	return Properties{
		ID:            TaintID,
		Name:          "Taint",
		Height:        "3",
		Width:         "finite",
		NeedsWidening: false,
		Description:   "Tracks whether attacker-controlled data can reach a value. Flat lattice: Untainted and Tainted are incomparable, Top means the analysis cannot tell. Height and width describe these taint levels; the sanitizer sets carried by tainted values refine the Tainted level into a longer chain.",
	}
}

func (taintDomain) Lattice() *lattice.Lattice { return lattice.Taint }

func (taintDomain) Bottom() Value { return TaintBot }
func (taintDomain) Top() Value    { return TaintUndecided }

func asTaint(v Value) TaintValue {
	t, ok := v.(TaintValue)
	if !ok {
		panic(mismatch(TaintID, v))
	}
	return t
}

// Join keeps only the sanitizations every tainted path agrees on.
func (taintDomain) Join(a, b Value) Value {
	x, y := asTaint(a), asTaint(b)
	return normalizeTaint(lattice.Taint.Join(x.level, y.level), intersectSanitized(x, y))
}

// Meet unions sanitizations.
func (taintDomain) Meet(a, b Value) Value {
	x, y := asTaint(a), asTaint(b)
	set := make(map[string]struct{})
	for _, v := range []TaintValue{x, y} {
		for _, s := range v.SanitizedFor() {
			set[s] = struct{}{}
		}
	}
	return normalizeTaint(lattice.Taint.Meet(x.level, y.level), set)
}

func (d taintDomain) Leq(a, b Value) bool { return leqByJoin(d, a, b) }

func (taintDomain) Literal(int64) Value        { return Untainted }
func (taintDomain) StringLiteral(string) Value { return Untainted }

// Unknown propagates the taint of the arguments through a call with no rule.
func (d taintDomain) Unknown(args []Value) Value {
	if len(args) == 0 {
		return Untainted
	}
	return propagate(args)
}

func (taintDomain) Truth(v Value) (bool, bool) {
	if asTaint(v) == TaintBot {
		return false, false
	}
	return true, true
}

// Evaluate propagates taint through any operator: Bot poisons, any Tainted operand taints
// the result, otherwise any Top operand makes it Top.
func (taintDomain) Evaluate(_ Op, operands ...Value) Result {
	return Result{Value: propagate(operands)}
}

func propagate(operands []Value) TaintValue {
	values := make([]TaintValue, len(operands))
	var tainted, undecided bool
	for i, o := range operands {
		v := asTaint(o)
		values[i] = v
		switch v.level {
		case lattice.TaintBot:
			return TaintBot
		case lattice.TaintTainted:
			tainted = true
		case lattice.TaintTop:
			undecided = true
		}
	}
	set := intersectSanitized(values...)
	switch {
	case tainted:
		return normalizeTaint(lattice.TaintTainted, set)
	case undecided:
		return normalizeTaint(lattice.TaintTop, set)
	}
	return Untainted
}
