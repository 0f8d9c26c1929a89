package lang

import (
	"errors"
	"strings"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
)

// FuzzParse checks that arbitrary input never panics and that failures are always
// positioned parse errors.
func FuzzParse(f *testing.F) {
	f.Add("x := 5; y := x + 3; z := y / 0;")
	f.Add("i := 0; while (i < N) { i := i + 1 }")
	f.Add(`input := user_input(); db.exec(escape_sql(input));`)
	f.Add("if (x) { } else if (y) { skip; }")
	f.Add(`x := "unterminated`)

	f.Fuzz(func(t *testing.T, src string) {
		prog, err := Parse(src)
		if err != nil {
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("Parse returned %T, want *ParseError", err)
			}
			if perr.Line < 1 {
				t.Fatalf("error without a position: %v", perr)
			}
			return
		}
		Walk(prog.Body, func(s Stmt) {
			if !strings.Contains(src, Text(s)) {
				t.Fatalf("statement text %q is not a slice of the source", Text(s))
			}
		})
	})
}

// fuzzProgram is filled by the structured fuzzer and rendered into source text.
type fuzzProgram struct {
	Names    []string
	Numbers  []int64
	Ops      []uint8
	Loop     bool
	Branch   bool
	CallName string
}

// FuzzParse_Structured renders mostly well-formed programs so the parser's deeper paths
// are reached more often than with raw bytes.
func FuzzParse_Structured(f *testing.F) {
	f.Fuzz(func(t *testing.T, data []byte) {
		fp := &fuzzProgram{}
		if err := fuzz.NewConsumer(data).GenerateStruct(fp); err != nil {
			return
		}
		if len(fp.Names) == 0 || len(fp.Numbers) == 0 {
			return
		}

		ops := []string{"+", "-", "*", "/", "%", "<", "==", "&&", "||"}
		var b strings.Builder
		for i, n := range fp.Numbers {
			name := fp.Names[i%len(fp.Names)]
			op := ops[0]
			if i < len(fp.Ops) {
				op = ops[int(fp.Ops[i])%len(ops)]
			}
			b.WriteString(name + " := " + name + " " + op + " " + formatInt(n) + ";\n")
		}
		body := b.String()
		if fp.Branch {
			body = "if (" + fp.Names[0] + ") { " + body + "} else { skip; }\n"
		}
		if fp.Loop {
			body = "while (" + fp.Names[0] + " < 10) { " + body + "}\n"
		}
		if fp.CallName != "" {
			body += fp.CallName + "(" + fp.Names[0] + ");\n"
		}

		prog, err := Parse(body)
		if err != nil {
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("Parse returned %T, want *ParseError", err)
			}
			return
		}
		assigned, inputs := prog.Variables()
		for _, in := range inputs {
			for _, as := range assigned {
				if in == as {
					t.Fatalf("%s is both assigned and an input", in)
				}
			}
		}
	})
}

func formatInt(n int64) string {
	return IntLit{Value: n}.String()
}
