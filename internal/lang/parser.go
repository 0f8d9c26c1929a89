package lang

import (
	"fmt"
	"strconv"
)

// ParseError reports source text that cannot be executed. Line and Column are 1-based.
type ParseError struct {
	Line   int
	Column int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d:%d: %s", e.Line, e.Column, e.Msg)
}

// maxDepth bounds block and expression nesting.
const maxDepth = 200

var keywords = map[string]bool{"if": true, "else": true, "while": true, "skip": true}

type parser struct {
	src    string
	tokens []token
	pos    int
	depth  int
}

// Parse parses a whole program. The returned error is always a *ParseError.
func Parse(src string) (*Program, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, tokens: tokens}
	body, err := p.stmtList(false)
	if err != nil {
		return nil, err
	}
	return &Program{Source: src, Body: body}, nil
}

// MustParse is Parse for programs known to be valid, such as embedded fixtures.
func MustParse(src string) *Program {
	p, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) peekAt(n int) token {
	if i := p.pos + n; i < len(p.tokens) {
		return p.tokens[i]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) is(text string) bool {
	t := p.peek()
	return t.kind == tokPunct && t.text == text
}

func (p *parser) errorf(t token, format string, args ...any) *ParseError {
	return &ParseError{Line: t.line, Column: t.column, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(text string) (token, error) {
	t := p.peek()
	if t.kind != tokPunct || t.text != text {
		return t, p.errorf(t, "expected %q, found %s", text, t.describe())
	}
	return p.next(), nil
}

func (p *parser) enter(t token) error {
	p.depth++
	if p.depth > maxDepth {
		return p.errorf(t, "nesting deeper than %d levels", maxDepth)
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

// node builds the position and text of a construct spanning first..last.
func (p *parser) node(first, last token) Node {
	return Node{Line: first.line, Column: first.column, Text: p.src[first.offset:last.end()]}
}

func (p *parser) stmtList(inBlock bool) ([]Stmt, error) {
	var out []Stmt
	for {
		t := p.peek()
		switch {
		case t.kind == tokEOF:
			if inBlock {
				return nil, p.errorf(t, "expected \"}\", found end of input")
			}
			return out, nil
		case inBlock && p.is("}"):
			return out, nil
		case p.is(";"):
			// Stray separators, e.g. after a closing brace.
			p.next()
			continue
		}
		s, err := p.stmt()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
}

func (p *parser) block() ([]Stmt, token, error) {
	open, err := p.expect("{")
	if err != nil {
		return nil, open, err
	}
	if err := p.enter(open); err != nil {
		return nil, open, err
	}
	defer p.leave()
	body, err := p.stmtList(true)
	if err != nil {
		return nil, open, err
	}
	closing, err := p.expect("}")
	return body, closing, err
}

// terminator consumes the ';' ending a simple statement. It may be omitted before a
// closing brace or at the end of the input.
func (p *parser) terminator() error {
	if p.is(";") {
		p.next()
		return nil
	}
	if p.is("}") || p.peek().kind == tokEOF {
		return nil
	}
	t := p.peek()
	return p.errorf(t, "expected \";\", found %s", t.describe())
}

func (p *parser) stmt() (Stmt, error) {
	t := p.peek()
	if t.kind == tokIdent {
		switch t.text {
		case "if":
			return p.ifStmt()
		case "while":
			return p.whileStmt()
		case "skip":
			p.next()
			s := &Skip{Node: p.node(t, t)}
			return s, p.terminator()
		case "else":
			return nil, p.errorf(t, "\"else\" without \"if\"")
		}
	}

	if t.kind == tokIdent && p.peekAt(1).kind == tokPunct {
		if op := p.peekAt(1).text; op == ":=" || op == "=" {
			return p.assign()
		}
	}

	first := p.peek()
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	call, ok := e.(*Call)
	if !ok {
		return nil, p.errorf(first, "expression %s is not a statement", e)
	}
	last := p.tokens[p.pos-1]
	s := &CallStmt{Node: p.node(first, last), Call: call}
	return s, p.terminator()
}

func (p *parser) assign() (Stmt, error) {
	name := p.next()
	if keywords[name.text] {
		return nil, p.errorf(name, "cannot assign to keyword %q", name.text)
	}
	p.next() // := or =
	value, err := p.expr()
	if err != nil {
		return nil, err
	}
	last := p.tokens[p.pos-1]
	s := &Assign{Node: p.node(name, last), Name: name.text, Value: value}
	return s, p.terminator()
}

func (p *parser) condition() (Expr, token, error) {
	if _, err := p.expect("("); err != nil {
		return nil, token{}, err
	}
	cond, err := p.expr()
	if err != nil {
		return nil, token{}, err
	}
	closing, err := p.expect(")")
	return cond, closing, err
}

func (p *parser) ifStmt() (Stmt, error) {
	kw := p.next()
	cond, closing, err := p.condition()
	if err != nil {
		return nil, err
	}
	then, _, err := p.block()
	if err != nil {
		return nil, err
	}
	s := &If{Node: p.node(kw, closing), Cond: cond, Then: then}

	if t := p.peek(); t.kind == tokIdent && t.text == "else" {
		p.next()
		if t := p.peek(); t.kind == tokIdent && t.text == "if" {
			if err := p.enter(t); err != nil {
				return nil, err
			}
			nested, err := p.ifStmt()
			p.leave()
			if err != nil {
				return nil, err
			}
			s.Else = []Stmt{nested}
			return s, nil
		}
		if s.Else, _, err = p.block(); err != nil {
			return nil, err
		}
		// An empty else block still marks the statement as two-armed.
		if s.Else == nil {
			s.Else = []Stmt{}
		}
	}
	return s, nil
}

func (p *parser) whileStmt() (Stmt, error) {
	kw := p.next()
	cond, closing, err := p.condition()
	if err != nil {
		return nil, err
	}
	body, _, err := p.block()
	if err != nil {
		return nil, err
	}
	return &While{Node: p.node(kw, closing), Cond: cond, Body: body}, nil
}

// Expressions, lowest precedence first.

func (p *parser) expr() (Expr, error) {
	t := p.peek()
	if err := p.enter(t); err != nil {
		return nil, err
	}
	defer p.leave()
	return p.binary(1)
}

func (p *parser) binary(level int) (Expr, error) {
	if level > 6 {
		return p.unary()
	}
	x, err := p.binary(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokPunct || binaryPrecedence[t.text] != level {
			return x, nil
		}
		p.next()
		y, err := p.binary(level + 1)
		if err != nil {
			return nil, err
		}
		x = Binary{Op: t.text, X: x, Y: y}
	}
}

func (p *parser) unary() (Expr, error) {
	t := p.peek()
	if t.kind != tokPunct || (t.text != "-" && t.text != "!") {
		return p.primary()
	}
	p.next()
	// Fold negative literals so the most negative int64 is expressible.
	if n := p.peek(); t.text == "-" && n.kind == tokInt {
		p.next()
		v, err := strconv.ParseInt("-"+n.text, 0, 64)
		if err != nil {
			return nil, p.errorf(n, "integer literal -%s out of range", n.text)
		}
		return IntLit{Value: v}, nil
	}
	if err := p.enter(t); err != nil {
		return nil, err
	}
	defer p.leave()
	x, err := p.unary()
	if err != nil {
		return nil, err
	}
	return Unary{Op: t.text, X: x}, nil
}

func (p *parser) primary() (Expr, error) {
	t := p.next()
	switch t.kind {
	case tokInt:
		v, err := strconv.ParseInt(t.text, 0, 64)
		if err != nil {
			return nil, p.errorf(t, "integer literal %s out of range", t.text)
		}
		return IntLit{Value: v}, nil
	case tokString:
		return StringLit{Value: t.text}, nil
	case tokIdent:
		if keywords[t.text] {
			return nil, p.errorf(t, "unexpected keyword %q", t.text)
		}
		return p.nameOrCall(t)
	case tokPunct:
		if t.text == "(" {
			x, err := p.expr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(")"); err != nil {
				return nil, err
			}
			return x, nil
		}
	}
	return nil, p.errorf(t, "expected expression, found %s", t.describe())
}

func (p *parser) nameOrCall(first token) (Expr, error) {
	name := first.text
	dotted := false
	for p.is(".") {
		p.next()
		part := p.next()
		if part.kind != tokIdent {
			return nil, p.errorf(part, "expected name after \".\", found %s", part.describe())
		}
		name += "." + part.text
		dotted = true
	}
	if !p.is("(") {
		if dotted {
			return nil, p.errorf(first, "%s must be called", name)
		}
		return Ident{Name: name}, nil
	}
	p.next()

	call := &Call{Func: name}
	if p.is(")") {
		p.next()
		return call, nil
	}
	for {
		arg, err := p.expr()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
		if p.is(",") {
			p.next()
			continue
		}
		if _, err := p.expect(")"); err != nil {
			return nil, err
		}
		return call, nil
	}
}
