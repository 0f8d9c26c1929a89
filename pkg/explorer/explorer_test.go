package explorer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/domain"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/taint"
)

func TestListings(t *testing.T) {
	assert.Equal(t, []DomainID{"sign", "constant", "interval"}, ListDomains())
	assert.Equal(t, []DomainID{"taint"}, ListTaintDomain())
}

func TestGetDomainProperties(t *testing.T) {
	testCases := []struct {
		id            DomainID
		name          string
		height, width string
		needsWidening bool
	}{
		{"sign", "Sign", "3", "finite", false},
		{"constant", "Constant", "2", "infinite", false},
		{"interval", "Interval", "infinite", "infinite", true},
		{"taint", "Taint", "3", "finite", false},
	}
	for _, tc := range testCases {
		t.Run(string(tc.id), func(t *testing.T) {
			p, err := GetDomainProperties(tc.id)
			require.NoError(t, err)
			assert.Equal(t, tc.name, p.Name)
			assert.Equal(t, tc.height, p.Height)
			assert.Equal(t, tc.width, p.Width)
			assert.Equal(t, tc.needsWidening, p.NeedsWidening)
			assert.NotEmpty(t, p.Description)
		})
	}

	_, err := GetDomainProperties("octagon")
	assert.ErrorIs(t, err, ErrUnknownDomain)
}

func TestLattice(t *testing.T) {
	view, err := Lattice("taint")
	require.NoError(t, err)
	assert.Equal(t, []string{"Bot", "Untainted", "Tainted", "Top"}, view.Elements)
	assert.Len(t, view.Edges, 4)
	assert.Equal(t, "Top", view.Join["Untainted"]["Tainted"])
	assert.Equal(t, "Bot", view.Meet["Untainted"]["Tainted"])

	_, err = Lattice("interval")
	assert.ErrorIs(t, err, ErrNotFinite)
}

func TestBuildTraceConstantDivisionByZero(t *testing.T) {
	tr, err := BuildTrace(context.Background(), "x := 5; y := x + 3; z := y / 0;", "constant")
	require.NoError(t, err)

	require.Len(t, tr.Steps, 3)
	last := tr.Steps[2]
	assert.Equal(t, "Top", last.Env.Lookup("z").String())
	assert.Contains(t, last.Warnings, domain.WarnDivisionByZero)
	assert.Empty(t, tr.Steps[0].Warnings)
	assert.Empty(t, tr.Steps[1].Warnings)
}

func TestBuildTraceErrors(t *testing.T) {
	ctx := context.Background()

	_, err := BuildTrace(ctx, "x := ;", "sign")
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 1, perr.Line)

	_, err = BuildTrace(ctx, "x := 1;", "polyhedra")
	assert.ErrorIs(t, err, ErrUnknownDomain)

	// Delaying widening makes the interval loop count to 1000 one join at a time.
	e, err := New(WithMaxSteps(100), WithWidenAfter(5000))
	require.NoError(t, err)
	tr, err := e.BuildTrace(ctx, "i := 0; while (i < 1000) { i := i + 1; }", "interval")
	assert.ErrorIs(t, err, ErrNonTerminating)
	assert.Nil(t, tr, "no partial trace")
}

func TestBuildTraceIsPure(t *testing.T) {
	src := "i := 0; while (i < n) { i := i + 1; }"
	a, err := BuildTrace(context.Background(), src, "interval")
	require.NoError(t, err)
	b, err := BuildTrace(context.Background(), src, "interval")
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, a.Final().String(), b.Final().String())

	widened := false
	for _, s := range a.Steps {
		widened = widened || s.Widened
	}
	assert.True(t, widened, "an input-bounded loop must widen")
}

func TestWithWidenAfterZero(t *testing.T) {
	e, err := New(WithWidenAfter(0))
	require.NoError(t, err)
	tr, err := e.BuildTrace(context.Background(), "i := 0; while (i < 10) { i := i + 1; }", "interval")
	require.NoError(t, err)
	// Widening on the first back edge converges one iteration earlier.
	assert.Len(t, tr.Steps, 6)
	assert.True(t, tr.Steps[3].Widened)
}

func TestBuildTaintTrace(t *testing.T) {
	ctx := context.Background()
	src := "input := user_input(); query := input; db.exec(query);"

	t.Run("defaults", func(t *testing.T) {
		tr, err := BuildTaintTrace(ctx, src, nil, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, DomainID("taint"), tr.Domain)
		require.Len(t, tr.Steps[2].Findings, 1)
		f := tr.Steps[2].Findings[0]
		assert.Equal(t, "SQL Injection", f.VulnType)
		assert.Equal(t, "High", string(f.Severity))
	})

	t.Run("explicit sources replace the defaults", func(t *testing.T) {
		tr, err := BuildTaintTrace(ctx, src, []Source{{Name: "read_secret"}}, nil, nil)
		require.NoError(t, err)
		assert.Empty(t, tr.Findings())
	})

	t.Run("empty sink list disables sinks", func(t *testing.T) {
		tr, err := BuildTaintTrace(ctx, src, nil, []Sink{}, nil)
		require.NoError(t, err)
		assert.Empty(t, tr.Findings())
	})

	t.Run("custom sanitizer", func(t *testing.T) {
		tr, err := BuildTaintTrace(ctx, "q := clean(user_input()); db.exec(q);", nil, nil,
			[]Sanitizer{{Name: "clean", VulnTypes: []string{taint.VulnSQLInjection}}})
		require.NoError(t, err)
		assert.Empty(t, tr.Findings())
		assert.Len(t, tr.Steps[1].Sanitized, 1)
	})

	t.Run("invalid rules", func(t *testing.T) {
		_, err := BuildTaintTrace(ctx, src, []Source{{Name: "db.exec"}}, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "declared as both")
	})

	t.Run("taint through BuildTrace uses the default rules", func(t *testing.T) {
		tr, err := BuildTrace(ctx, src, "taint")
		require.NoError(t, err)
		assert.Len(t, tr.Findings(), 1)
	})
}

func TestNewRejectsInvalidRules(t *testing.T) {
	_, err := New(WithRules(Rules{Sanitizers: []Sanitizer{{Name: "x"}}}))
	require.Error(t, err)
}

func TestTraceProgram(t *testing.T) {
	e, err := New(WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	ctx := context.Background()

	tr, err := e.TraceProgram(ctx, "interval-widening", "")
	require.NoError(t, err)
	assert.Equal(t, "Widening a counting loop", tr.Name)
	p, err := e.Catalog().Get("interval-widening")
	require.NoError(t, err)
	assert.Equal(t, p.Note, tr.Annotation)

	// Another domain gets the generated annotation.
	tr, err = e.TraceProgram(ctx, "interval-widening", "sign")
	require.NoError(t, err)
	assert.Equal(t, DomainID("sign"), tr.Domain)
	assert.NotEqual(t, p.Note, tr.Annotation)

	_, err = e.TraceProgram(ctx, "missing", "")
	assert.ErrorIs(t, err, ErrUnknownProgram)
}

func TestConcurrentBuilds(t *testing.T) {
	e, err := New()
	require.NoError(t, err)

	g, ctx := errgroup.WithContext(context.Background())
	for _, id := range append(ListDomains(), ListTaintDomain()...) {
		g.Go(func() error {
			for i := 0; i < 20; i++ {
				if _, err := e.BuildTrace(ctx, "x := input(); while (x > 0) { x := x - 1; } db.exec(x);", id); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}
