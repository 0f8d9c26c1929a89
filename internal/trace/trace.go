// File: internal/trace/trace.go
// Package trace executes programs over an abstract domain and records every transition
// as a step carrying a full environment snapshot.
package trace

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/domain"
)

// ErrNonTerminating is returned when a build exceeds its step ceiling.
var ErrNonTerminating = errors.New("trace did not terminate within the step ceiling")

// StepKind classifies the transition a step records.
type StepKind string

const (
	KindAssign     StepKind = "assign"
	KindCall       StepKind = "call"
	KindSkip       StepKind = "skip"
	KindCondition  StepKind = "condition"
	KindMerge      StepKind = "merge"
	KindLoopHeader StepKind = "loop-header"
	KindLoopExit   StepKind = "loop-exit"
)

// Severity ranks a vulnerability finding.
type Severity string

const (
	SeverityHigh   Severity = "High"
	SeverityMedium Severity = "Medium"
	SeverityLow    Severity = "Low"
)

// ParseSeverity accepts the severity names case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	for _, sev := range []Severity{SeverityHigh, SeverityMedium, SeverityLow} {
		if strings.EqualFold(string(sev), strings.TrimSpace(s)) {
			return sev, nil
		}
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Finding is a vulnerability detected at a sink. It is a result, not an error.
type Finding struct {
	VulnType string   `json:"vulnType"`
	Severity Severity `json:"severity"`
	Sink     string   `json:"sink"`
	Argument string   `json:"argument"`
	Message  string   `json:"message"`
}

// Step is one transition of the abstract execution.
type Step struct {
	Index       int                  `json:"index"`
	Line        int                  `json:"line"`
	Kind        StepKind             `json:"kind"`
	Statement   string               `json:"statement"`
	Env         Env                  `json:"env"`
	Warnings    []domain.WarningKind `json:"warnings,omitempty"`
	Widened     bool                 `json:"widened"`
	Findings    []Finding            `json:"findings,omitempty"`
	Sanitized   []string             `json:"sanitized,omitempty"`
	Explanation string               `json:"explanation"`
}

// Trace is the complete, immutable result of one build.
type Trace struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Domain     domain.ID `json:"domain"`
	Source     string    `json:"source"`
	Steps      []Step    `json:"steps"`
	Annotation string    `json:"annotation"`
}

// Findings flattens the findings of every step.
func (t *Trace) Findings() []Finding {
	var out []Finding
	for _, s := range t.Steps {
		out = append(out, s.Findings...)
	}
	return out
}

// Final returns the environment after the last step, or an empty one for empty programs.
func (t *Trace) Final() Env {
	if len(t.Steps) == 0 {
		return Env{}
	}
	return t.Steps[len(t.Steps)-1].Env
}

var traceNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:pa-explorer:trace"))

// TraceID derives the deterministic identity of a build from its domain, source and the
// fingerprint of the options that produced it.
func TraceID(d domain.ID, source, fingerprint string) string {
	return uuid.NewSHA1(traceNamespace, []byte(string(d)+"\x00"+source+"\x00"+fingerprint)).String()
}

// annotate writes the default teaching note for a finished trace.
func annotate(t *Trace, props domain.Properties) string {
	var widened, warned, found []string
	for _, s := range t.Steps {
		if s.Widened {
			widened = append(widened, fmt.Sprint(s.Index))
		}
		if len(s.Warnings) > 0 {
			warned = append(warned, fmt.Sprint(s.Index))
		}
		if len(s.Findings) > 0 {
			found = append(found, fmt.Sprint(s.Index))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d steps under the %s domain (height %s, width %s).", len(t.Steps), props.Name, props.Height, props.Width)
	if len(widened) > 0 {
		fmt.Fprintf(&b, " Widening forced convergence at step %s.", strings.Join(widened, ", "))
	} else if props.NeedsWidening {
		b.WriteString(" No loop needed widening.")
	}
	if len(warned) > 0 {
		fmt.Fprintf(&b, " Warnings at step %s.", strings.Join(warned, ", "))
	}
	if len(found) > 0 {
		fmt.Fprintf(&b, " Vulnerabilities reported at step %s.", strings.Join(found, ", "))
	}
	return b.String()
}
