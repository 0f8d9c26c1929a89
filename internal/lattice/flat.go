package lattice

// Labels shared by the flat lattices.
const (
	Bot = "Bot"
	Top = "Top"

	Neg  = "Neg"
	Zero = "Zero"
	Pos  = "Pos"

	Untainted = "Untainted"
	Tainted   = "Tainted"
)

// Flat returns the Hasse diagram of a flat lattice over the given middle elements:
// Bot sits below every middle element, and every middle element sits below Top.
func Flat(middle ...string) ([]string, []Edge) {
	elements := make([]string, 0, len(middle)+2)
	elements = append(elements, Bot)
	elements = append(elements, middle...)
	elements = append(elements, Top)

	edges := make([]Edge, 0, 2*len(middle))
	for _, m := range middle {
		edges = append(edges, Edge{From: Bot, To: m})
	}
	for _, m := range middle {
		edges = append(edges, Edge{From: m, To: Top})
	}
	return elements, edges
}

// The process-wide flat lattices. They are read-only after initialisation.
var (
	Sign  = mustFlat("sign", Neg, Zero, Pos)
	Taint = mustFlat("taint", Untainted, Tainted)
)

func mustFlat(name string, middle ...string) *Lattice {
	elements, edges := Flat(middle...)
	return MustNew(name, elements, edges)
}

// Element handles into the shared lattices.
var (
	SignBot  = mustLookup(Sign, Bot)
	SignNeg  = mustLookup(Sign, Neg)
	SignZero = mustLookup(Sign, Zero)
	SignPos  = mustLookup(Sign, Pos)
	SignTop  = mustLookup(Sign, Top)

	TaintBot       = mustLookup(Taint, Bot)
	TaintUntainted = mustLookup(Taint, Untainted)
	TaintTainted   = mustLookup(Taint, Tainted)
	TaintTop       = mustLookup(Taint, Top)
)

func mustLookup(l *Lattice, label string) Element {
	e, ok := l.Lookup(label)
	if !ok {
		panic("lattice " + l.Name() + ": missing element " + label)
	}
	return e
}
