// File: pkg/explorer/explorer.go
// Package explorer is the public entry point of the abstract interpretation engine. Every
// call is a pure function of its arguments: nothing is cached between builds.
package explorer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/catalog"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/domain"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/lang"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/lattice"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/taint"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/trace"
)

// Re-exported so hosts need not import internal packages.
type (
	DomainID   = domain.ID
	Properties = domain.Properties
	Trace      = trace.Trace
	Step       = trace.Step
	Finding    = trace.Finding
	ParseError = lang.ParseError
	Source     = taint.Source
	Sink       = taint.Sink
	Sanitizer  = taint.Sanitizer
	Rules      = taint.Rules
	Program    = catalog.Program
)

var (
	// ErrNonTerminating reports a build that hit the step ceiling.
	ErrNonTerminating = trace.ErrNonTerminating
	// ErrUnknownDomain reports an unregistered domain id.
	ErrUnknownDomain = domain.ErrUnknownDomain
	// ErrUnknownProgram reports a catalog id that does not exist.
	ErrUnknownProgram = catalog.ErrUnknownProgram
	// ErrInvalidRules reports taint rules that fail validation.
	ErrInvalidRules = taint.ErrInvalidRules
	// ErrNotFinite is returned by Lattice for domains with infinite lattices.
	ErrNotFinite = errors.New("domain has no finite lattice")
)

// ListDomains returns the numeric domains: sign, constant and interval.
func ListDomains() []DomainID { return domain.List() }

// ListTaintDomain returns the security domains.
func ListTaintDomain() []DomainID { return domain.ListTaint() }

// GetDomainProperties returns the static description of a domain.
func GetDomainProperties(id DomainID) (Properties, error) { return domain.PropertiesOf(id) }

// LatticeView is the Hasse diagram and operation tables of a finite domain.
type LatticeView struct {
	Domain   DomainID       `json:"domain"`
	Elements []string       `json:"elements"`
	Edges    []lattice.Edge `json:"edges"`
	Join     lattice.Table  `json:"join"`
	Meet     lattice.Table  `json:"meet"`
	Height   int            `json:"height"`
}

// Lattice describes the lattice of a finite domain.
func Lattice(id DomainID) (LatticeView, error) {
	d, err := domain.Lookup(id)
	if err != nil {
		return LatticeView{}, err
	}
	f, ok := d.(domain.FiniteLattice)
	if !ok {
		return LatticeView{}, fmt.Errorf("%w: %s", ErrNotFinite, d.ID())
	}
	l := f.Lattice()
	view := LatticeView{
		Domain: d.ID(),
		Join:   l.JoinTable(),
		Meet:   l.MeetTable(),
		Edges:  l.Edges(),
		Height: l.Height(),
	}
	for _, e := range l.Elements() {
		view.Elements = append(view.Elements, l.Label(e))
	}
	return view, nil
}

// Option configures an Explorer.
type Option func(*Explorer)

// WithLogger routes engine logs to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Explorer) { e.logger = logger }
}

// WithMaxSteps sets the step ceiling.
func WithMaxSteps(n int) Option {
	return func(e *Explorer) { e.opts.MaxSteps = n }
}

// WithWidenAfter sets how many plain joins a loop header performs before widening.
func WithWidenAfter(n int) Option {
	return func(e *Explorer) {
		e.opts.WidenAfter = n
		if n == 0 {
			// Zero means "widen from the first back edge", not "use the default".
			e.opts.WidenAfter = -1
		}
	}
}

// WithRules replaces the default taint rules used when a taint build supplies none.
func WithRules(r Rules) Option {
	return func(e *Explorer) { e.rules = r }
}

// WithCatalog replaces the embedded program catalog.
func WithCatalog(c *catalog.Catalog) Option {
	return func(e *Explorer) { e.catalog = c }
}

// Explorer builds traces with fixed options. It is safe for concurrent use.
type Explorer struct {
	opts    trace.Options
	logger  *zap.Logger
	rules   Rules
	catalog *catalog.Catalog
	builder *trace.Builder
}

// New returns an Explorer. Rules given with WithRules are validated here.
func New(opts ...Option) (*Explorer, error) {
	e := &Explorer{rules: taint.DefaultRules()}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.catalog == nil {
		e.catalog = catalog.Default()
	}
	if err := e.rules.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRules, err)
	}
	e.opts.Logger = e.logger
	e.builder = trace.NewBuilder(e.opts)
	return e, nil
}

// Rules returns the explorer's default taint rules.
func (e *Explorer) Rules() Rules { return e.rules.Clone() }

// Catalog returns the program catalog.
func (e *Explorer) Catalog() *catalog.Catalog { return e.catalog }

// BuildTrace executes source over a numeric or taint domain. With the taint domain the
// explorer's default rules classify calls.
func (e *Explorer) BuildTrace(ctx context.Context, source string, id DomainID) (*Trace, error) {
	d, err := domain.Lookup(id)
	if err != nil {
		return nil, err
	}
	if d.ID() == domain.TaintID {
		return e.buildTaint(ctx, e.builder, source, e.rules)
	}
	return e.builder.Build(ctx, source, d)
}

// BuildTaintTrace executes source over the Taint domain with explicit rule lists. A nil
// list selects the explorer's default for that kind of rule; an empty one disables it.
func (e *Explorer) BuildTaintTrace(ctx context.Context, source string, sources []Source, sinks []Sink, sanitizers []Sanitizer) (*Trace, error) {
	rules := e.Rules()
	if sources != nil {
		rules.Sources = sources
	}
	if sinks != nil {
		rules.Sinks = sinks
	}
	if sanitizers != nil {
		rules.Sanitizers = sanitizers
	}
	return e.buildTaint(ctx, e.builder, source, rules)
}

func (e *Explorer) buildTaint(ctx context.Context, b *trace.Builder, source string, rules Rules) (*Trace, error) {
	engine, err := taint.NewEngine(rules, e.logger)
	if err != nil {
		return nil, err
	}
	return engine.Build(ctx, b, source)
}

// TraceProgram builds a catalog program. An empty id keeps the program's own domain.
// The trace carries the program's name and authored note.
func (e *Explorer) TraceProgram(ctx context.Context, programID string, id DomainID) (*Trace, error) {
	p, err := e.catalog.Get(programID)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = p.Domain
	}
	d, err := domain.Lookup(id)
	if err != nil {
		return nil, err
	}

	opts := e.opts
	opts.Name = p.Name
	b := trace.NewBuilder(opts)

	var t *Trace
	if d.ID() == domain.TaintID {
		t, err = e.buildTaint(ctx, b, p.Code, e.rules)
	} else {
		t, err = b.Build(ctx, p.Code, d)
	}
	if err != nil {
		return nil, fmt.Errorf("program %s: %w", p.ID, err)
	}
	if d.ID() == p.Domain {
		t.Annotation = p.Note
	}
	return t, nil
}

var defaultExplorer, _ = New()

// BuildTrace runs source over the domain id with default options.
func BuildTrace(ctx context.Context, source string, id DomainID) (*Trace, error) {
	return defaultExplorer.BuildTrace(ctx, source, id)
}

// BuildTaintTrace runs a taint build with default options. Nil rule lists select the
// built-in defaults.
func BuildTaintTrace(ctx context.Context, source string, sources []Source, sinks []Sink, sanitizers []Sanitizer) (*Trace, error) {
	return defaultExplorer.BuildTaintTrace(ctx, source, sources, sinks, sanitizers)
}
