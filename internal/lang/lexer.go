package lang

import (
	"fmt"
	"strconv"
	"strings"
	"text/scanner"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokInt
	tokString
	tokPunct
)

type token struct {
	kind   tokenKind
	text   string // identifier, operator, or the unquoted string value
	raw    string // text as written
	line   int
	column int
	offset int
}

func (t token) end() int { return t.offset + len(t.raw) }

func (t token) describe() string {
	switch t.kind {
	case tokEOF:
		return "end of input"
	case tokString:
		return "string " + t.raw
	}
	return strconv.Quote(t.raw)
}

var twoCharOps = map[string]bool{
	":=": true, "<=": true, ">=": true, "==": true, "!=": true, "&&": true, "||": true,
}

const singleCharOps = "+-*/%<>!=(){};,."

// tokenize splits src into tokens. Comments are dropped.
func tokenize(src string) ([]token, error) {
	var (
		s      scanner.Scanner
		lexErr *ParseError
	)
	s.Init(strings.NewReader(src))
	s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanStrings | scanner.ScanComments | scanner.SkipComments
	s.Error = func(s *scanner.Scanner, msg string) {
		if lexErr == nil {
			pos := s.Pos()
			lexErr = &ParseError{Line: pos.Line, Column: pos.Column, Msg: msg}
		}
	}

	var out []token
	for {
		r := s.Scan()
		if lexErr != nil {
			return nil, lexErr
		}
		tok := token{
			raw:    s.TokenText(),
			line:   s.Position.Line,
			column: s.Position.Column,
			offset: s.Position.Offset,
		}
		tok.text = tok.raw

		switch r {
		case scanner.EOF:
			tok.kind = tokEOF
			tok.line, tok.column, tok.offset = s.Pos().Line, s.Pos().Column, len(src)
			return append(out, tok), nil
		case scanner.Ident:
			tok.kind = tokIdent
		case scanner.Int:
			tok.kind = tokInt
		case scanner.String:
			tok.kind = tokString
			v, err := strconv.Unquote(tok.raw)
			if err != nil {
				return nil, &ParseError{Line: tok.line, Column: tok.column, Msg: "invalid string literal " + tok.raw}
			}
			tok.text = v
		default:
			tok.kind = tokPunct
			if pair := string(r) + string(s.Peek()); twoCharOps[pair] {
				s.Next()
				tok.raw, tok.text = pair, pair
			} else if !strings.ContainsRune(singleCharOps, r) {
				return nil, &ParseError{Line: tok.line, Column: tok.column, Msg: fmt.Sprintf("unexpected character %q", r)}
			}
		}
		out = append(out, tok)
	}
}
