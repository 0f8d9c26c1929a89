// File: internal/lang/ast.go
// Package lang parses the small imperative language whose programs the trace builder
// executes abstractly.
package lang

import (
	"sort"
	"strconv"
	"strings"
)

// Node carries the source position and text shared by every statement.
type Node struct {
	Line   int
	Column int
	// Text is the statement as written. For if and while it is the header only.
	Text string
}

func (n Node) node() Node { return n }

// Stmt is a statement of the language.
type Stmt interface {
	node() Node
}

// Pos returns the line and column a statement starts at.
func Pos(s Stmt) (line, column int) {
	n := s.node()
	return n.Line, n.Column
}

// Text returns the source text of a statement.
func Text(s Stmt) string { return s.node().Text }

// Assign is "x := e;" or "x = e;".
type Assign struct {
	Node
	Name  string
	Value Expr
}

// CallStmt is a call evaluated for its effect, e.g. "db.exec(q);".
type CallStmt struct {
	Node
	Call *Call
}

type If struct {
	Node
	Cond Expr
	Then []Stmt
	Else []Stmt
}

type While struct {
	Node
	Cond Expr
	Body []Stmt
}

type Skip struct {
	Node
}

// Expr is an expression.
type Expr interface {
	String() string
	precedence() int
}

type IntLit struct {
	Value int64
}

type StringLit struct {
	Value string
}

type Ident struct {
	Name string
}

// Call is a call of a possibly dotted function name such as request.param.
type Call struct {
	Func string
	Args []Expr
}

type Unary struct {
	Op string
	X  Expr
}

type Binary struct {
	Op   string
	X, Y Expr
}

const precedenceAtom = 8

func (IntLit) precedence() int    { return precedenceAtom }
func (StringLit) precedence() int { return precedenceAtom }
func (Ident) precedence() int     { return precedenceAtom }
func (*Call) precedence() int     { return precedenceAtom }
func (Unary) precedence() int     { return 7 }
func (b Binary) precedence() int  { return binaryPrecedence[b.Op] }

var binaryPrecedence = map[string]int{
	"||": 1,
	"&&": 2,
	"==": 3, "!=": 3,
	"<": 4, "<=": 4, ">": 4, ">=": 4,
	"+": 5, "-": 5,
	"*": 6, "/": 6, "%": 6,
}

func (e IntLit) String() string    { return strconv.FormatInt(e.Value, 10) }
func (e StringLit) String() string { return strconv.Quote(e.Value) }
func (e Ident) String() string     { return e.Name }

func (e *Call) String() string {
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = a.String()
	}
	return e.Func + "(" + strings.Join(args, ", ") + ")"
}

func (e Unary) String() string {
	return e.Op + wrap(e.X, e.precedence())
}

func (e Binary) String() string {
	p := e.precedence()
	// Left associative: only the right operand needs parentheses at equal precedence.
	return wrap(e.X, p) + " " + e.Op + " " + wrap(e.Y, p+1)
}

func wrap(e Expr, floor int) string {
	if e.precedence() < floor {
		return "(" + e.String() + ")"
	}
	return e.String()
}

// Program is a parsed source text.
type Program struct {
	Source string
	Body   []Stmt
}

// Walk calls fn for every statement in source order, descending into blocks.
func Walk(stmts []Stmt, fn func(Stmt)) {
	for _, s := range stmts {
		fn(s)
		switch s := s.(type) {
		case *If:
			Walk(s.Then, fn)
			Walk(s.Else, fn)
		case *While:
			Walk(s.Body, fn)
		}
	}
}

// Idents returns the names read by an expression, in order of first appearance.
func Idents(e Expr) []string {
	var out []string
	seen := map[string]bool{}
	var visit func(Expr)
	visit = func(e Expr) {
		switch e := e.(type) {
		case Ident:
			if !seen[e.Name] {
				seen[e.Name] = true
				out = append(out, e.Name)
			}
		case *Call:
			for _, a := range e.Args {
				visit(a)
			}
		case Unary:
			visit(e.X)
		case Binary:
			visit(e.X)
			visit(e.Y)
		}
	}
	visit(e)
	return out
}

// Variables splits the program's variables into those assigned somewhere and those only
// ever read. The latter are program inputs. Both lists are sorted.
func (p *Program) Variables() (assigned, inputs []string) {
	written := map[string]bool{}
	read := map[string]bool{}
	Walk(p.Body, func(s Stmt) {
		var exprs []Expr
		switch s := s.(type) {
		case *Assign:
			written[s.Name] = true
			exprs = append(exprs, s.Value)
		case *CallStmt:
			exprs = append(exprs, s.Call)
		case *If:
			exprs = append(exprs, s.Cond)
		case *While:
			exprs = append(exprs, s.Cond)
		}
		for _, e := range exprs {
			for _, name := range Idents(e) {
				read[name] = true
			}
		}
	})
	for name := range written {
		assigned = append(assigned, name)
	}
	for name := range read {
		if !written[name] {
			inputs = append(inputs, name)
		}
	}
	sort.Strings(assigned)
	sort.Strings(inputs)
	return assigned, inputs
}
