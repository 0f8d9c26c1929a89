package taint

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/domain"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/trace"
)

// ErrInvalidRules is returned when a rule set fails validation.
var ErrInvalidRules = errors.New("invalid taint rules")

// Engine checks calls against a rule set while a taint trace is built.
type Engine struct {
	rules      Rules
	sources    map[string]Source
	sinks      map[string]Sink
	sanitizers map[string]Sanitizer
	// fingerprint is folded into the IDs of traces built by the engine.
	fingerprint string
	logger      *zap.Logger
}

// NewEngine validates and indexes rules.
func NewEngine(rules Rules, logger *zap.Logger) (*Engine, error) {
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRules, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		rules:       rules.Clone(),
		sources:     make(map[string]Source, len(rules.Sources)),
		sinks:       make(map[string]Sink, len(rules.Sinks)),
		sanitizers:  make(map[string]Sanitizer, len(rules.Sanitizers)),
		fingerprint: "taint-rules\n" + rules.Fingerprint(),
		logger:      logger.Named("taint"),
	}
	for _, s := range rules.Sources {
		e.sources[s.Name] = s
	}
	for _, s := range rules.Sinks {
		if s.Severity != "" {
			// Validated above.
			s.Severity, _ = trace.ParseSeverity(string(s.Severity))
		}
		e.sinks[s.Name] = s
	}
	for _, s := range rules.Sanitizers {
		e.sanitizers[s.Name] = s
	}
	return e, nil
}

// Rules returns a copy of the engine's rules.
func (e *Engine) Rules() Rules { return e.rules.Clone() }

// Build runs a taint trace of source with b, routing every call through the engine.
func (e *Engine) Build(ctx context.Context, b *trace.Builder, source string) (*trace.Trace, error) {
	return b.WithCalls(e.Handle, e.fingerprint).Build(ctx, source, domain.TaintDomain)
}

// Handle classifies one call. It is a trace.CallHandler.
func (e *Engine) Handle(c trace.Call) trace.CallResult {
	if _, ok := e.sources[c.Func]; ok {
		return trace.CallResult{Value: domain.Tainted}
	}
	if s, ok := e.sanitizers[c.Func]; ok {
		return trace.CallResult{Value: e.sanitize(s, c.Args)}
	}
	if s, ok := e.sinks[c.Func]; ok {
		return e.checkSink(s, c)
	}
	return trace.CallResult{}
}

func (e *Engine) sanitize(s Sanitizer, args []domain.Value) domain.Value {
	v := domain.TaintDomain.Unknown(args).(domain.TaintValue)
	for _, vt := range s.VulnTypes {
		if vt == AllVulnTypes {
			// Conversions such as to_int produce data an attacker cannot shape.
			if v == domain.TaintBot {
				return v
			}
			return domain.Untainted
		}
	}
	return v.Sanitize(s.VulnTypes...)
}

func (e *Engine) checkSink(s Sink, c trace.Call) trace.CallResult {
	var res trace.CallResult
	for i, arg := range c.Args {
		if !s.sensitive(i) {
			continue
		}
		v := arg.(domain.TaintValue)
		if !v.MayBeTainted() {
			continue
		}
		if v.IsSanitizedFor(s.VulnType) {
			res.Sanitized = append(res.Sanitized,
				fmt.Sprintf("%s reaches %s sanitized for %s.", c.ArgText[i], s.Name, s.VulnType))
			continue
		}

		severity := s.Severity
		if severity == "" {
			severity = trace.SeverityHigh
		}
		qualifier := "tainted"
		if v.Level() == domain.TaintUndecided {
			// Tainted on some paths only.
			severity = trace.SeverityMedium
			qualifier = "possibly tainted"
		}
		f := trace.Finding{
			VulnType: s.VulnType,
			Severity: severity,
			Sink:     s.Name,
			Argument: c.ArgText[i],
			Message:  fmt.Sprintf("%s: %s data %s reaches %s.", s.VulnType, qualifier, c.ArgText[i], s.Name),
		}
		res.Findings = append(res.Findings, f)
		e.logger.Debug("Vulnerability finding.",
			zap.String("sink", s.Name),
			zap.String("vuln_type", s.VulnType),
			zap.String("severity", string(severity)),
			zap.String("argument", c.ArgText[i]))
	}
	return res
}

func (s Sink) sensitive(i int) bool {
	if len(s.Args) == 0 {
		return true
	}
	for _, a := range s.Args {
		if a == i {
			return true
		}
	}
	return false
}

// Describe renders a rule set for listings.
func (r Rules) Describe() string {
	var b strings.Builder
	b.WriteString("sources:")
	for _, s := range r.Sources {
		b.WriteString(" " + s.Name)
	}
	b.WriteString("\nsinks:")
	for _, s := range r.Sinks {
		fmt.Fprintf(&b, " %s(%s)", s.Name, s.VulnType)
	}
	b.WriteString("\nsanitizers:")
	for _, s := range r.Sanitizers {
		fmt.Fprintf(&b, " %s(%s)", s.Name, strings.Join(s.VulnTypes, ","))
	}
	return b.String()
}
