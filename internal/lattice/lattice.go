// File: internal/lattice/lattice.go
// Package lattice builds finite lattices from their Hasse diagrams. Join and meet are derived
// once from the covering relation and cached as tables, so the observable tables can never
// drift from the edges they were computed from.
package lattice

import (
	"fmt"
	"strings"
)

// Element is an index into the carrier set of a Lattice.
type Element int

// Edge is one covering pair of the Hasse diagram, pointing from the lower to the upper element.
type Edge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Lattice is an immutable finite lattice. All methods are safe for concurrent use.
type Lattice struct {
	name     string
	elements []string
	index    map[string]Element
	edges    []Edge
	// leq[a][b] is the reflexive-transitive closure of the covering relation.
	leq    [][]bool
	join   [][]Element
	meet   [][]Element
	bottom Element
	top    Element
}

// New validates the Hasse diagram and derives the order, join and meet tables.
// Edges must be irreflexive and non-redundant (no edge implied by transitivity).
func New(name string, elements []string, edges []Edge) (*Lattice, error) {
	if len(elements) == 0 {
		return nil, fmt.Errorf("lattice %q: carrier set is empty", name)
	}

	l := &Lattice{
		name:     name,
		elements: append([]string(nil), elements...),
		index:    make(map[string]Element, len(elements)),
		edges:    append([]Edge(nil), edges...),
	}
	for i, e := range elements {
		if _, dup := l.index[e]; dup {
			return nil, fmt.Errorf("lattice %q: duplicate element %q", name, e)
		}
		l.index[e] = Element(i)
	}

	n := len(elements)
	covers := make([][]bool, n)
	l.leq = make([][]bool, n)
	for i := range l.leq {
		covers[i] = make([]bool, n)
		l.leq[i] = make([]bool, n)
		l.leq[i][i] = true
	}

	for _, e := range edges {
		from, ok := l.index[e.From]
		if !ok {
			return nil, fmt.Errorf("lattice %q: edge references unknown element %q", name, e.From)
		}
		to, ok := l.index[e.To]
		if !ok {
			return nil, fmt.Errorf("lattice %q: edge references unknown element %q", name, e.To)
		}
		if from == to {
			return nil, fmt.Errorf("lattice %q: self-loop on %q", name, e.From)
		}
		covers[from][to] = true
		l.leq[from][to] = true
	}

	// Warshall closure.
	for k := 0; k < n; k++ {
		for i := 0; i < n; i++ {
			if !l.leq[i][k] {
				continue
			}
			for j := 0; j < n; j++ {
				if l.leq[k][j] {
					l.leq[i][j] = true
				}
			}
		}
	}

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j && l.leq[i][j] && l.leq[j][i] {
				return nil, fmt.Errorf("lattice %q: cycle between %q and %q", name, elements[i], elements[j])
			}
		}
	}

	// A covering edge is redundant if another path connects its endpoints.
	for _, e := range edges {
		from, to := l.index[e.From], l.index[e.To]
		for k := 0; k < n; k++ {
			if Element(k) == from || Element(k) == to {
				continue
			}
			if l.leq[from][k] && l.leq[k][to] {
				return nil, fmt.Errorf("lattice %q: edge %s -> %s is implied by %s", name, e.From, e.To, elements[k])
			}
		}
	}

	var err error
	if l.join, err = l.deriveBounds(true); err != nil {
		return nil, err
	}
	if l.meet, err = l.deriveBounds(false); err != nil {
		return nil, err
	}

	// Bottom is the join identity, top the meet identity.
	l.bottom, l.top = -1, -1
	for i := 0; i < n; i++ {
		below, above := true, true
		for j := 0; j < n; j++ {
			below = below && l.leq[i][j]
			above = above && l.leq[j][i]
		}
		if below {
			l.bottom = Element(i)
		}
		if above {
			l.top = Element(i)
		}
	}
	if l.bottom < 0 || l.top < 0 {
		return nil, fmt.Errorf("lattice %q: missing unique bottom or top", name)
	}
	return l, nil
}

// MustNew is New for package-level tables built at initialisation.
func MustNew(name string, elements []string, edges []Edge) *Lattice {
	l, err := New(name, elements, edges)
	if err != nil {
		panic(err)
	}
	return l
}

// deriveBounds computes the least upper bound (upper=true) or greatest lower bound of
// every pair: among the common bounds, the one that is below (above) all others.
func (l *Lattice) deriveBounds(upper bool) ([][]Element, error) {
	n := len(l.elements)
	table := make([][]Element, n)
	for a := 0; a < n; a++ {
		table[a] = make([]Element, n)
		for b := 0; b < n; b++ {
			var bounds []int
			for c := 0; c < n; c++ {
				if upper && l.leq[a][c] && l.leq[b][c] {
					bounds = append(bounds, c)
				}
				if !upper && l.leq[c][a] && l.leq[c][b] {
					bounds = append(bounds, c)
				}
			}
			best := -1
			for _, c := range bounds {
				extreme := true
				for _, d := range bounds {
					if upper && !l.leq[c][d] || !upper && !l.leq[d][c] {
						extreme = false
						break
					}
				}
				if extreme {
					best = c
					break
				}
			}
			if best < 0 {
				kind := "join"
				if !upper {
					kind = "meet"
				}
				return nil, fmt.Errorf("lattice %q: %s of %q and %q is not unique", l.name, kind, l.elements[a], l.elements[b])
			}
			table[a][b] = Element(best)
		}
	}
	return table, nil
}

// Name returns the lattice's name.
func (l *Lattice) Name() string { return l.name }

// Len is the size of the carrier set.
func (l *Lattice) Len() int { return len(l.elements) }

// Elements returns the carrier set in declaration order.
func (l *Lattice) Elements() []Element {
	out := make([]Element, len(l.elements))
	for i := range out {
		out[i] = Element(i)
	}
	return out
}

// Edges returns a copy of the Hasse diagram.
func (l *Lattice) Edges() []Edge {
	return append([]Edge(nil), l.edges...)
}

func (l *Lattice) Bottom() Element { return l.bottom }
func (l *Lattice) Top() Element    { return l.top }

// Lookup resolves an element by its label.
func (l *Lattice) Lookup(label string) (Element, bool) {
	e, ok := l.index[label]
	return e, ok
}

// Label returns the element's label, or a placeholder for out-of-range values.
func (l *Lattice) Label(e Element) string {
	if int(e) < 0 || int(e) >= len(l.elements) {
		return fmt.Sprintf("%s(%d)", l.name, int(e))
	}
	return l.elements[e]
}

func (l *Lattice) Join(a, b Element) Element { return l.join[a][b] }
func (l *Lattice) Meet(a, b Element) Element { return l.meet[a][b] }

// Leq is the partial order, defined through join: a ⊑ b iff join(a, b) = b.
func (l *Lattice) Leq(a, b Element) bool { return l.join[a][b] == b }

// Height is the number of elements on the longest chain from bottom to top.
func (l *Lattice) Height() int {
	n := len(l.elements)
	memo := make([]int, n)
	var longest func(e int) int
	longest = func(e int) int {
		if memo[e] > 0 {
			return memo[e]
		}
		best := 1
		for _, edge := range l.edges {
			if int(l.index[edge.From]) == e {
				if h := 1 + longest(int(l.index[edge.To])); h > best {
					best = h
				}
			}
		}
		memo[e] = best
		return best
	}
	return longest(int(l.bottom))
}

// Table is a rendered join or meet table, keyed by labels.
type Table map[string]map[string]string

// JoinTable renders the cached join table.
func (l *Lattice) JoinTable() Table { return l.render(l.join) }

// MeetTable renders the cached meet table.
func (l *Lattice) MeetTable() Table { return l.render(l.meet) }

func (l *Lattice) render(t [][]Element) Table {
	out := make(Table, len(l.elements))
	for a, row := range t {
		out[l.elements[a]] = make(map[string]string, len(row))
		for b, c := range row {
			out[l.elements[a]][l.elements[b]] = l.elements[c]
		}
	}
	return out
}

// String renders the Hasse diagram one edge per line.
func (l *Lattice) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s lattice (%d elements)\n", l.name, len(l.elements))
	for _, e := range l.edges {
		fmt.Fprintf(&sb, "  %s -> %s\n", e.From, e.To)
	}
	return sb.String()
}
