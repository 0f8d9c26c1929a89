package reporting

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/trace"
)

// TextReporter renders traces as step tables for terminals.
type TextReporter struct {
	writer  io.WriteCloser
	written int
}

// NewTextReporter takes ownership of writer.
func NewTextReporter(writer io.WriteCloser) *TextReporter {
	return &TextReporter{writer: writer}
}

func (r *TextReporter) Write(t *trace.Trace) error {
	var b strings.Builder
	if r.written > 0 {
		b.WriteString("\n")
	}
	r.written++
	fmt.Fprintf(&b, "%s [%s] %s\n", t.Name, t.Domain, t.ID)

	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tLINE\tKIND\tSTATEMENT\tENVIRONMENT\tNOTES")
	for _, s := range t.Steps {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\n", s.Index, s.Line, s.Kind, s.Statement, s.Env, notes(s))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, s := range t.Steps {
		for _, f := range s.Findings {
			fmt.Fprintf(&b, "! step %d [%s] %s\n", s.Index, f.Severity, f.Message)
		}
	}
	if t.Annotation != "" {
		fmt.Fprintf(&b, "%s\n", t.Annotation)
	}
	_, err := io.WriteString(r.writer, b.String())
	return err
}

func notes(s trace.Step) string {
	var parts []string
	if s.Widened {
		parts = append(parts, "widened")
	}
	for _, w := range s.Warnings {
		parts = append(parts, string(w))
	}
	if n := len(s.Findings); n > 0 {
		parts = append(parts, fmt.Sprintf("%d finding(s)", n))
	}
	if n := len(s.Sanitized); n > 0 {
		parts = append(parts, "sanitized")
	}
	return strings.Join(parts, ", ")
}

func (r *TextReporter) Close() error { return r.writer.Close() }
