package trace

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/domain"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/lang"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/observability"
)

const (
	// DefaultMaxSteps is the step ceiling applied when Options.MaxSteps is unset.
	DefaultMaxSteps = 10000
	// DefaultWidenAfter is the number of plain joins at a loop header before widening.
	DefaultWidenAfter = 1
)

// State is the lifecycle of a single build.
type State int

const (
	Running State = iota
	HaltedNormal
	HaltedError
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case HaltedNormal:
		return "halted(normal)"
	}
	return "halted(error)"
}

// Call describes one call reached during evaluation.
type Call struct {
	Func string
	Args []domain.Value
	// ArgText holds the source text of each argument.
	ArgText []string
}

// CallResult is a handler's verdict on a call. A nil Value falls back to the domain's
// model of unknown calls.
type CallResult struct {
	Value     domain.Value
	Findings  []Finding
	Sanitized []string
}

// CallHandler gives calls a meaning beyond the domain's unknown-call rule.
type CallHandler func(Call) CallResult

// Options tune a Builder. Zero values select the defaults.
type Options struct {
	MaxSteps   int
	WidenAfter int
	// Name labels the produced traces.
	Name  string
	Calls CallHandler
	// CallsFingerprint identifies the behaviour of Calls. Handlers are opaque, so builds
	// with different handlers only get distinct trace IDs through it.
	CallsFingerprint string
	Logger           *zap.Logger
}

// Fingerprint renders the options that influence a trace's content.
func (o Options) Fingerprint() string {
	return fmt.Sprintf("max_steps=%d widen_after=%d calls=%s", o.MaxSteps, o.WidenAfter, o.CallsFingerprint)
}

// Builder turns programs into traces. It holds no per-build state and is safe for
// concurrent use.
type Builder struct {
	opts   Options
	logger *zap.Logger
}

// NewBuilder returns a builder with defaults filled in.
func NewBuilder(opts Options) *Builder {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.WidenAfter < 0 {
		opts.WidenAfter = 0
	} else if opts.WidenAfter == 0 {
		opts.WidenAfter = DefaultWidenAfter
	}
	if opts.Name == "" {
		opts.Name = "program"
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.GetLogger()
	}
	return &Builder{opts: opts, logger: logger.Named("trace")}
}

// Options returns the effective options.
func (b *Builder) Options() Options { return b.opts }

// WithCalls returns a copy of the builder that routes calls through h. fingerprint names
// the handler's behaviour and becomes part of every trace ID the copy produces.
func (b *Builder) WithCalls(h CallHandler, fingerprint string) *Builder {
	c := *b
	c.opts.Calls = h
	c.opts.CallsFingerprint = fingerprint
	return &c
}

// Build parses source and executes it over d. Parse failures are returned as
// *lang.ParseError. A trace is either complete or not returned at all.
func (b *Builder) Build(ctx context.Context, source string, d domain.Domain) (*Trace, error) {
	prog, err := lang.Parse(source)
	if err != nil {
		b.logger.Debug("Program rejected by the parser.", zap.Error(err))
		return nil, err
	}
	return b.BuildProgram(ctx, prog, d)
}

// BuildProgram executes an already parsed program over d.
func (b *Builder) BuildProgram(ctx context.Context, prog *lang.Program, d domain.Domain) (*Trace, error) {
	r := newRun(ctx, b, prog, d)
	final, err := r.execList(prog.Body, r.initial())
	r.halt(err)
	if err != nil {
		b.logger.Warn("Trace build aborted.",
			zap.String("domain", string(d.ID())),
			zap.Int("steps", len(r.steps)),
			zap.String("state", r.state.String()),
			zap.Error(err))
		return nil, err
	}

	t := &Trace{
		ID:     TraceID(d.ID(), prog.Source, b.opts.Fingerprint()),
		Name:   b.opts.Name,
		Domain: d.ID(),
		Source: prog.Source,
		Steps:  r.steps,
	}
	t.Annotation = annotate(t, d.Properties())
	b.logger.Info("Trace built.",
		zap.String("id", t.ID),
		zap.String("domain", string(d.ID())),
		zap.Int("steps", len(t.Steps)),
		zap.Bool("reachable_end", final != nil))
	return t, nil
}

// run is the state of one build.
type run struct {
	ctx    context.Context
	b      *Builder
	d      domain.Domain
	prog   *lang.Program
	vars   []string
	inputs map[string]bool
	steps  []Step
	state  State

	// collected while evaluating the current statement
	warnings  []domain.WarningKind
	findings  []Finding
	sanitized []string
}

func newRun(ctx context.Context, b *Builder, prog *lang.Program, d domain.Domain) *run {
	assigned, inputs := prog.Variables()
	r := &run{ctx: ctx, b: b, d: d, prog: prog, inputs: map[string]bool{}, state: Running}
	r.vars = append(r.vars, assigned...)
	r.vars = append(r.vars, inputs...)
	for _, in := range inputs {
		r.inputs[in] = true
	}
	sort.Strings(r.vars)
	return r
}

// initial binds assigned variables to Bot and program inputs to Top.
func (r *run) initial() store {
	s := make(store, len(r.vars))
	for _, v := range r.vars {
		if r.inputs[v] {
			s[v] = r.d.Top()
		} else {
			s[v] = r.d.Bottom()
		}
	}
	return s
}

func (r *run) halt(err error) {
	if err != nil {
		r.state = HaltedError
		r.steps = nil
		return
	}
	r.state = HaltedNormal
}

// emit appends a step built from the collected annotations.
func (r *run) emit(kind StepKind, stmt lang.Stmt, text string, s store, widened bool, explanation string) error {
	if err := r.ctx.Err(); err != nil {
		return fmt.Errorf("trace build cancelled: %w", err)
	}
	if len(r.steps) >= r.b.opts.MaxSteps {
		return fmt.Errorf("%w: more than %d steps", ErrNonTerminating, r.b.opts.MaxSteps)
	}
	line, _ := lang.Pos(stmt)
	step := Step{
		Index:       len(r.steps) + 1,
		Line:        line,
		Kind:        kind,
		Statement:   text,
		Env:         snapshot(r.d, r.vars, s),
		Warnings:    r.warnings,
		Widened:     widened,
		Findings:    r.findings,
		Sanitized:   r.sanitized,
		Explanation: explanation,
	}
	r.warnings, r.findings, r.sanitized = nil, nil, nil
	r.steps = append(r.steps, step)

	if ce := r.b.logger.Check(zap.DebugLevel, "Step emitted."); ce != nil {
		ce.Write(
			zap.Int("index", step.Index),
			zap.String("kind", string(kind)),
			zap.String("statement", text),
			zap.Bool("widened", widened),
			zap.Stringer("env", step.Env))
	}
	return nil
}

func (r *run) execList(stmts []lang.Stmt, s store) (store, error) {
	for _, stmt := range stmts {
		if s == nil {
			// The rest of the block is unreachable.
			return nil, nil
		}
		var err error
		if s, err = r.exec(stmt, s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (r *run) exec(stmt lang.Stmt, s store) (store, error) {
	switch stmt := stmt.(type) {
	case *lang.Assign:
		v := r.eval(stmt.Value, s)
		out := s.with(stmt.Name, v)
		return out, r.emit(KindAssign, stmt, stmt.Text, out, false, r.explainValue(stmt.Name, stmt.Value, v))
	case *lang.CallStmt:
		v := r.eval(stmt.Call, s)
		return s, r.emit(KindCall, stmt, stmt.Text, s, false, r.explainCall(stmt.Call, v))
	case *lang.Skip:
		return s, r.emit(KindSkip, stmt, stmt.Text, s, false, "No effect.")
	case *lang.If:
		return r.execIf(stmt, s)
	case *lang.While:
		return r.execWhile(stmt, s)
	}
	return nil, fmt.Errorf("unsupported statement %T", stmt)
}

func (r *run) execIf(stmt *lang.If, s store) (store, error) {
	cond := r.eval(stmt.Cond, s)
	mayTrue, mayFalse := r.d.Truth(cond)
	var thenIn, elseIn store
	if mayTrue {
		thenIn = r.refine(stmt.Cond, s, true)
	}
	if mayFalse {
		elseIn = r.refine(stmt.Cond, s, false)
	}

	explanation := fmt.Sprintf("Condition %s is %s: %s.", stmt.Cond, cond, feasibility(thenIn != nil, elseIn != nil, "then", "else"))
	if err := r.emit(KindCondition, stmt, stmt.Text, s, false, explanation); err != nil {
		return nil, err
	}

	var thenOut, elseOut store
	var err error
	if thenIn != nil {
		if thenOut, err = r.execList(stmt.Then, thenIn); err != nil {
			return nil, err
		}
	}
	if elseIn != nil {
		if elseOut, err = r.execList(stmt.Else, elseIn); err != nil {
			return nil, err
		}
	}
	if thenIn == nil || elseIn == nil {
		if thenIn != nil {
			return thenOut, nil
		}
		return elseOut, nil
	}

	merged := joinStores(r.d, thenOut, elseOut)
	explanation = "Both branches ran; their environments are joined variable by variable."
	if changed := r.changed(thenOut, elseOut); len(changed) > 0 {
		explanation = fmt.Sprintf("Both branches ran; joining them changes %s.", strings.Join(changed, ", "))
	}
	return merged, r.emit(KindMerge, stmt, "end "+stmt.Text, merged, false, explanation)
}

func (r *run) execWhile(stmt *lang.While, s store) (store, error) {
	var (
		prev   store // header environment of the previous visit
		head   = s
		visits int
	)
	for {
		widened := false
		explanation := "First arrival at the loop header."
		if prev != nil {
			joined := joinStores(r.d, prev, head)
			explanation = fmt.Sprintf("Back edge %d: the body's result is joined into the header.", visits)
			if _, ok := r.d.(domain.Widener); ok && visits > r.b.opts.WidenAfter {
				w := widenStores(r.d, prev, joined)
				if !w.equal(joined) {
					widened = true
					explanation = fmt.Sprintf("Back edge %d: %s kept growing, so widening extrapolates %s.",
						visits, strings.Join(r.changed(prev, joined), ", "), pluralBounds(r.changed(prev, joined)))
				}
				joined = w
			}
			if joined.equal(prev) {
				break
			}
			head = joined
		}
		cond := r.eval(stmt.Cond, head)
		if err := r.emit(KindLoopHeader, stmt, stmt.Text, head, widened, explanation); err != nil {
			return nil, err
		}
		prev = head

		var body store
		if mayTrue, _ := r.d.Truth(cond); mayTrue {
			body = r.refine(stmt.Cond, head, true)
		}
		if body == nil {
			break
		}
		out, err := r.execList(stmt.Body, body)
		if err != nil {
			return nil, err
		}
		if out == nil {
			break
		}
		head = out
		visits++
	}

	cond := r.peek(stmt.Cond, prev)
	var exit store
	if _, mayFalse := r.d.Truth(cond); mayFalse {
		exit = r.refine(stmt.Cond, prev, false)
	}
	explanation := fmt.Sprintf("Fixpoint reached after %d iteration(s); the loop exits where %s is false.", visits, stmt.Cond)
	if exit == nil {
		explanation = fmt.Sprintf("Fixpoint reached after %d iteration(s); %s can never be false, so the code after the loop is unreachable.", visits, stmt.Cond)
	}
	return exit, r.emit(KindLoopExit, stmt, "exit "+stmt.Text, exit, false, explanation)
}

// changed lists the variables whose values differ between two stores.
func (r *run) changed(a, b store) []string {
	var out []string
	for _, v := range r.vars {
		if a[v] != b[v] {
			out = append(out, v)
		}
	}
	return out
}

func pluralBounds(vars []string) string {
	if len(vars) == 1 {
		return "its growing bound to infinity"
	}
	return "their growing bounds to infinity"
}

func feasibility(then, other bool, thenName, otherName string) string {
	switch {
	case then && other:
		return "both branches are feasible"
	case then:
		return "only the " + thenName + " branch is feasible"
	case other:
		return "only the " + otherName + " branch is feasible"
	}
	return "the condition has no possible value, so neither branch can run and every statement after it is unreachable"
}

func (r *run) explainValue(name string, e lang.Expr, v domain.Value) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s evaluates to %s in the %s domain.", e, v, r.d.Properties().Name)
	if _, isLit := e.(lang.IntLit); isLit {
		b.Reset()
		fmt.Fprintf(&b, "%s is abstracted to %s.", e, v)
	}
	r.explainAnnotations(&b)
	if len(r.warnings) == 0 && len(r.findings) == 0 && len(r.sanitized) == 0 {
		fmt.Fprintf(&b, " %s is now %s.", name, v)
	}
	return b.String()
}

func (r *run) explainCall(c *lang.Call, v domain.Value) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Call %s returns %s.", c.Func, v)
	r.explainAnnotations(&b)
	return b.String()
}

func (r *run) explainAnnotations(b *strings.Builder) {
	for _, w := range r.warnings {
		fmt.Fprintf(b, " Warning: %s.", w)
	}
	for _, f := range r.findings {
		fmt.Fprintf(b, " %s", f.Message)
	}
	for _, s := range r.sanitized {
		fmt.Fprintf(b, " %s", s)
	}
}
