package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/catalog"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/store"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/pkg/explorer"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Response is the envelope of every API response.
type Response struct {
	Status string      `json:"status"` // "success" or "error"
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
	// Position locates a parse error in the submitted source.
	Position *Position `json:"position,omitempty"`
}

// Position is a 1-based source location.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// TraceRequest is the body of POST /api/v1/traces.
type TraceRequest struct {
	Source string             `json:"source"`
	Domain explorer.DomainID `json:"domain"`
}

// TaintTraceRequest is the body of POST /api/v1/taint/traces. Omitted lists use the
// server's default rules; empty lists disable that kind of rule.
type TaintTraceRequest struct {
	Source     string               `json:"source"`
	Sources    []explorer.Source    `json:"sources"`
	Sinks      []explorer.Sink      `json:"sinks"`
	Sanitizers []explorer.Sanitizer `json:"sanitizers"`
}

// DomainsResponse lists the available domains.
type DomainsResponse struct {
	Domains []explorer.DomainID `json:"domains"`
	Taint   []explorer.DomainID `json:"taint"`
}

// ProgramSummary is a catalog entry without its expectations.
type ProgramSummary struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Category catalog.Category  `json:"category"`
	Domain   explorer.DomainID `json:"domain"`
	Code     string            `json:"code"`
	Note     string            `json:"note,omitempty"`
}

func (s *Server) registerRoutes(r chi.Router) {
	// Health check endpoint (unversioned)
	r.Get("/healthz", s.handleHealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/domains", s.handleListDomains)
		r.Get("/domains/{id}", s.handleDomainProperties)
		r.Get("/domains/{id}/lattice", s.handleLattice)

		r.Post("/traces", s.handleBuildTrace)
		r.Post("/taint/traces", s.handleBuildTaintTrace)

		r.Get("/programs", s.handleListPrograms)
		r.Get("/programs/{id}/trace", s.handleTraceProgram)

		if s.archive != nil {
			r.Get("/archive/traces", s.handleListArchived)
			r.Get("/archive/traces/{id}", s.handleGetArchived)
		}
	})
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleListDomains(w http.ResponseWriter, r *http.Request) {
	respondWithSuccess(w, http.StatusOK, DomainsResponse{
		Domains: explorer.ListDomains(),
		Taint:   explorer.ListTaintDomain(),
	})
}

func (s *Server) handleDomainProperties(w http.ResponseWriter, r *http.Request) {
	props, err := explorer.GetDomainProperties(explorer.DomainID(chi.URLParam(r, "id")))
	if err != nil {
		s.respondWithBuildError(w, err)
		return
	}
	respondWithSuccess(w, http.StatusOK, props)
}

func (s *Server) handleLattice(w http.ResponseWriter, r *http.Request) {
	view, err := explorer.Lattice(explorer.DomainID(chi.URLParam(r, "id")))
	if err != nil {
		s.respondWithBuildError(w, err)
		return
	}
	respondWithSuccess(w, http.StatusOK, view)
}

func (s *Server) handleBuildTrace(w http.ResponseWriter, r *http.Request) {
	var req TraceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Domain == "" {
		respondWithError(w, http.StatusBadRequest, "domain is required")
		return
	}
	t, err := s.explorer.BuildTrace(r.Context(), req.Source, req.Domain)
	if err != nil {
		s.respondWithBuildError(w, err)
		return
	}
	s.archiveTrace(r.Context(), t)
	respondWithSuccess(w, http.StatusOK, t)
}

func (s *Server) handleBuildTaintTrace(w http.ResponseWriter, r *http.Request) {
	var req TaintTraceRequest
	if !s.decode(w, r, &req) {
		return
	}
	t, err := s.explorer.BuildTaintTrace(r.Context(), req.Source, req.Sources, req.Sinks, req.Sanitizers)
	if err != nil {
		s.respondWithBuildError(w, err)
		return
	}
	s.archiveTrace(r.Context(), t)
	respondWithSuccess(w, http.StatusOK, t)
}

func (s *Server) handleListPrograms(w http.ResponseWriter, r *http.Request) {
	programs := s.explorer.Catalog().All()
	if cat := r.URL.Query().Get("category"); cat != "" {
		programs = s.explorer.Catalog().ByCategory(catalog.Category(cat))
	}
	out := make([]ProgramSummary, 0, len(programs))
	for _, p := range programs {
		out = append(out, ProgramSummary{
			ID: p.ID, Name: p.Name, Category: p.Category, Domain: p.Domain, Code: p.Code, Note: p.Note,
		})
	}
	respondWithSuccess(w, http.StatusOK, out)
}

func (s *Server) handleTraceProgram(w http.ResponseWriter, r *http.Request) {
	id := explorer.DomainID(r.URL.Query().Get("domain"))
	t, err := s.explorer.TraceProgram(r.Context(), chi.URLParam(r, "id"), id)
	if err != nil {
		s.respondWithBuildError(w, err)
		return
	}
	s.archiveTrace(r.Context(), t)
	respondWithSuccess(w, http.StatusOK, t)
}

func (s *Server) handleListArchived(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			respondWithError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	list, err := s.archive.ListTraces(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list archived traces.", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "archive unavailable")
		return
	}
	respondWithSuccess(w, http.StatusOK, list)
}

func (s *Server) handleGetArchived(w http.ResponseWriter, r *http.Request) {
	t, err := s.archive.GetTrace(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case err != nil:
		s.logger.Error("Failed to load archived trace.", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "archive unavailable")
	default:
		respondWithSuccess(w, http.StatusOK, t)
	}
}

// archiveTrace stores t when an archive is configured. Archive failures never fail the build.
func (s *Server) archiveTrace(ctx context.Context, t *explorer.Trace) {
	if s.archive == nil {
		return
	}
	if err := s.archive.SaveTrace(ctx, t); err != nil {
		s.logger.Warn("Failed to archive trace.", zap.String("id", t.ID), zap.Error(err))
	}
}

// decode reads a JSON body bounded by the configured size. It writes the error response itself.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondWithError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

// respondWithBuildError maps engine errors onto HTTP statuses.
func (s *Server) respondWithBuildError(w http.ResponseWriter, err error) {
	var perr *explorer.ParseError
	switch {
	case errors.As(err, &perr):
		respondWithStatus(w, http.StatusBadRequest, Response{
			Status:   "error",
			Error:    perr.Error(),
			Position: &Position{Line: perr.Line, Column: perr.Column},
		})
	case errors.Is(err, explorer.ErrUnknownDomain), errors.Is(err, explorer.ErrUnknownProgram):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, explorer.ErrInvalidRules):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, explorer.ErrNonTerminating), errors.Is(err, explorer.ErrNotFinite):
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		respondWithError(w, http.StatusServiceUnavailable, "trace build was cancelled")
	default:
		s.logger.Error("Unexpected build failure.", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "internal error")
	}
}

// respondWithError sends a standardized JSON error response.
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithStatus(w, statusCode, Response{Status: "error", Error: message})
}

// respondWithSuccess sends a standardized JSON success response.
func respondWithSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	respondWithStatus(w, statusCode, Response{Status: "success", Data: data})
}

func respondWithStatus(w http.ResponseWriter, statusCode int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// The status line is already out; an encode failure can only mean the client left.
	_ = json.NewEncoder(w).Encode(resp)
}
