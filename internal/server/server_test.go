package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/config"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/store"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/trace"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/pkg/explorer"
)

// fakeArchive is an in-memory Archive.
type fakeArchive struct {
	mu      sync.Mutex
	saved   map[string]*trace.Trace
	saveErr error
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{saved: map[string]*trace.Trace{}}
}

func (f *fakeArchive) SaveTrace(_ context.Context, t *trace.Trace) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved[t.ID] = t
	return nil
}

func (f *fakeArchive) GetTrace(_ context.Context, id string) (*store.ArchivedTrace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.saved[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &store.ArchivedTrace{ID: t.ID, Name: t.Name, Domain: string(t.Domain), Source: t.Source}, nil
}

func (f *fakeArchive) ListTraces(_ context.Context, limit int) ([]store.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Summary{}
	for _, t := range f.saved {
		out = append(out, store.Summary{ID: t.ID, Name: t.Name, Domain: string(t.Domain), StepCount: len(t.Steps)})
	}
	return out, nil
}

func testServerConfig() config.ServerConfig {
	cfg := config.NewDefaultConfig().Server()
	cfg.RateLimit = 0
	cfg.Compression = false
	return cfg
}

func setupServer(t *testing.T, cfg config.ServerConfig, archive Archive, opts ...explorer.Option) http.Handler {
	t.Helper()
	logger := zaptest.NewLogger(t)
	exp, err := explorer.New(append([]explorer.Option{explorer.WithLogger(logger)}, opts...)...)
	require.NoError(t, err)
	return New(cfg, exp, archive, logger).Handler()
}

// apiTrace is the part of a trace the tests inspect.
type apiTrace struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Domain     string `json:"domain"`
	Annotation string `json:"annotation"`
	Steps      []struct {
		Index    int             `json:"index"`
		Kind     string          `json:"kind"`
		Warnings []string        `json:"warnings"`
		Findings []trace.Finding `json:"findings"`
	} `json:"steps"`
}

type envelope[T any] struct {
	Status   string    `json:"status"`
	Data     T         `json:"data"`
	Error    string    `json:"error"`
	Position *Position `json:"position"`
}

func do[T any](t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope[T]) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope[T]
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestHealthCheck(t *testing.T) {
	h := setupServer(t, testServerConfig(), nil)
	rec, _ := do[any](t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestDomainRoutes(t *testing.T) {
	h := setupServer(t, testServerConfig(), nil)

	t.Run("list", func(t *testing.T) {
		rec, env := do[DomainsResponse](t, h, http.MethodGet, "/api/v1/domains", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []explorer.DomainID{"sign", "constant", "interval"}, env.Data.Domains)
		assert.Equal(t, []explorer.DomainID{"taint"}, env.Data.Taint)
	})

	testCases := []struct {
		name   string
		path   string
		status int
	}{
		{name: "properties", path: "/api/v1/domains/interval", status: http.StatusOK},
		{name: "unknown domain", path: "/api/v1/domains/parity", status: http.StatusNotFound},
		{name: "finite lattice", path: "/api/v1/domains/sign/lattice", status: http.StatusOK},
		{name: "infinite lattice", path: "/api/v1/domains/interval/lattice", status: http.StatusUnprocessableEntity},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec, env := do[map[string]any](t, h, http.MethodGet, tc.path, "")
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, "success", env.Status)
				assert.NotEmpty(t, env.Data)
			} else {
				assert.Equal(t, "error", env.Status)
				assert.NotEmpty(t, env.Error)
			}
		})
	}
}

func TestBuildTraceRoute(t *testing.T) {
	archive := newFakeArchive()
	h := setupServer(t, testServerConfig(), archive)

	body := `{"domain": "constant", "source": "a := 4; b := a * 2; c := b - 8; d := 10 / c;"}`
	rec, env := do[apiTrace](t, h, http.MethodPost, "/api/v1/traces", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, env.Data.Steps, 4)
	assert.Equal(t, "constant", env.Data.Domain)
	assert.Equal(t, 1, env.Data.Steps[0].Index)
	assert.Contains(t, env.Data.Steps[3].Warnings, "possible-division-by-zero")

	archive.mu.Lock()
	_, saved := archive.saved[env.Data.ID]
	archive.mu.Unlock()
	assert.True(t, saved, "built traces are archived")

	rec, got := do[store.ArchivedTrace](t, h, http.MethodGet, "/api/v1/archive/traces/"+env.Data.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, env.Data.ID, got.Data.ID)

	rec, list := do[[]store.Summary](t, h, http.MethodGet, "/api/v1/archive/traces?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, list.Data, 1)
}

func TestBuildTraceErrors(t *testing.T) {
	cfg := testServerConfig()
	cfg.MaxBodyBytes = 256
	h := setupServer(t, cfg, nil, explorer.WithMaxSteps(100), explorer.WithWidenAfter(5000))

	testCases := []struct {
		name   string
		body   string
		status int
		errMsg string
	}{
		{
			name:   "malformed json",
			body:   `{"domain": `,
			status: http.StatusBadRequest,
			errMsg: "Invalid request body",
		},
		{
			name:   "missing domain",
			body:   `{"source": "x := 1;"}`,
			status: http.StatusBadRequest,
			errMsg: "domain is required",
		},
		{
			name:   "unknown domain",
			body:   `{"domain": "parity", "source": "x := 1;"}`,
			status: http.StatusNotFound,
			errMsg: "unknown abstract domain",
		},
		{
			name:   "non-terminating",
			body:   `{"domain": "interval", "source": "i := 0; while (i < 1000) { i := i + 1; }"}`,
			status: http.StatusUnprocessableEntity,
			errMsg: "did not terminate",
		},
		{
			name:   "body too large",
			body:   `{"domain": "sign", "source": "` + strings.Repeat("x := 1; ", 64) + `"}`,
			status: http.StatusRequestEntityTooLarge,
			errMsg: "exceeds 256 bytes",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec, env := do[any](t, h, http.MethodPost, "/api/v1/traces", tc.body)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, "error", env.Status)
			assert.Contains(t, env.Error, tc.errMsg)
		})
	}

	t.Run("parse error carries its position", func(t *testing.T) {
		rec, env := do[any](t, h, http.MethodPost, "/api/v1/traces", `{"domain": "sign", "source": "x := 1;\ny := ;"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		require.NotNil(t, env.Position)
		assert.Equal(t, 2, env.Position.Line)
	})
}

func TestBuildTaintTraceRoute(t *testing.T) {
	h := setupServer(t, testServerConfig(), nil)
	src := `input := user_input(); query := input; db.exec(query);`

	t.Run("default rules", func(t *testing.T) {
		rec, env := do[apiTrace](t, h, http.MethodPost, "/api/v1/taint/traces", `{"source": "`+src+`"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.Len(t, env.Data.Steps, 3)
		require.Len(t, env.Data.Steps[2].Findings, 1)
		assert.Equal(t, trace.SeverityHigh, env.Data.Steps[2].Findings[0].Severity)
	})

	t.Run("empty sink list disables sinks", func(t *testing.T) {
		rec, env := do[apiTrace](t, h, http.MethodPost, "/api/v1/taint/traces", `{"source": "`+src+`", "sinks": []}`)
		require.Equal(t, http.StatusOK, rec.Code)
		for _, s := range env.Data.Steps {
			assert.Empty(t, s.Findings)
		}
	})

	t.Run("invalid rules", func(t *testing.T) {
		rec, env := do[any](t, h, http.MethodPost, "/api/v1/taint/traces", `{"source": "`+src+`", "sinks": [{"name": "db.exec"}]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, env.Error, "no vulnerability type")
	})
}

func TestProgramRoutes(t *testing.T) {
	h := setupServer(t, testServerConfig(), nil)

	rec, all := do[[]ProgramSummary](t, h, http.MethodGet, "/api/v1/programs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, all.Data, 13)

	_, security := do[[]ProgramSummary](t, h, http.MethodGet, "/api/v1/programs?category=security", "")
	assert.Len(t, security.Data, 6)

	rec, tr := do[apiTrace](t, h, http.MethodGet, "/api/v1/programs/sign-arithmetic/trace", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Sign arithmetic", tr.Data.Name)
	assert.Len(t, tr.Data.Steps, 4)

	rec, tr = do[apiTrace](t, h, http.MethodGet, "/api/v1/programs/sign-arithmetic/trace?domain=interval", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "interval", tr.Data.Domain)

	rec, _ = do[any](t, h, http.MethodGet, "/api/v1/programs/nope/trace", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArchiveRoutes(t *testing.T) {
	t.Run("absent without an archive", func(t *testing.T) {
		h := setupServer(t, testServerConfig(), nil)
		rec, _ := do[any](t, h, http.MethodGet, "/api/v1/archive/traces/abc", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown trace", func(t *testing.T) {
		h := setupServer(t, testServerConfig(), newFakeArchive())
		rec, env := do[any](t, h, http.MethodGet, "/api/v1/archive/traces/abc", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, env.Error, "not found")
	})

	t.Run("bad limit", func(t *testing.T) {
		h := setupServer(t, testServerConfig(), newFakeArchive())
		rec, _ := do[any](t, h, http.MethodGet, "/api/v1/archive/traces?limit=0", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("archive failures do not fail builds", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		archive := newFakeArchive()
		archive.saveErr = errors.New("database down")
		exp, err := explorer.New()
		require.NoError(t, err)
		h := New(testServerConfig(), exp, archive, zap.New(core)).Handler()

		rec, _ := do[apiTrace](t, h, http.MethodPost, "/api/v1/traces", `{"domain": "sign", "source": "x := 1;"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		entries := logs.FilterMessage("Failed to archive trace.").All()
		require.Len(t, entries, 1)
		assert.Equal(t, "server", entries[0].LoggerName)
	})
}

func TestBrotliCompression(t *testing.T) {
	cfg := testServerConfig()
	cfg.Compression = true
	h := setupServer(t, cfg, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/domains", nil)
	req.Header.Set("Accept-Encoding", "gzip, br")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "br", rec.Header().Get("Content-Encoding"))
	plain, err := io.ReadAll(brotli.NewReader(bytes.NewReader(rec.Body.Bytes())))
	require.NoError(t, err)
	assert.Contains(t, string(plain), `"interval"`)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/domains", nil)
	req.Header.Set("Accept-Encoding", "br;q=0, gzip")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Contains(t, rec.Body.String(), `"interval"`)
}

func TestRateLimit(t *testing.T) {
	cfg := testServerConfig()
	cfg.RateLimit = 0.001
	cfg.Burst = 1
	h := setupServer(t, cfg, nil)

	rec, _ := do[any](t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, env := do[any](t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate limit exceeded", env.Error)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestServeShutsDownOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	exp, err := explorer.New()
	require.NoError(t, err)
	cfg := testServerConfig()
	cfg.ShutdownTimeout = 5 * time.Second
	s := New(cfg, exp, nil, zaptest.NewLogger(t))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
	client.CloseIdleConnections()
}
