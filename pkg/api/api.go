// Package api serves scan history and consent status over HTTP. Every
// route is read-only; scans are started from the CLI only.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/argusscan/argus/pkg/consent"
	"github.com/argusscan/argus/pkg/defaults"
	"github.com/argusscan/argus/pkg/finding"
	"github.com/argusscan/argus/pkg/store"
)

// Sessions is the read side of the scan store. *store.Store implements it.
type Sessions interface {
	GetSession(ctx context.Context, id string) (store.Session, error)
	ListSessions(ctx context.Context, f store.Filter) ([]store.Session, error)
	Findings(ctx context.Context, id string) ([]finding.Finding, error)
	CriticalFindings(ctx context.Context, limit int) ([]store.CriticalFinding, error)
}

// ConsentStatus reports a domain's consent state. *consent.Store implements it.
type ConsentStatus interface {
	Status(ctx context.Context, domain string) (consent.Status, error)
}

var (
	_ Sessions      = (*store.Store)(nil)
	_ ConsentStatus = (*consent.Store)(nil)
)

// Server holds the handler dependencies.
type Server struct {
	sessions Sessions
	consent  ConsentStatus
	metrics  http.Handler
	logger   *slog.Logger
	timeout  time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a custom structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New creates a Server.
func New(sessions Sessions, cs ConsentStatus, opts ...Option) *Server {
	s := &Server{
		sessions: sessions,
		consent:  cs,
		logger:   slog.Default(),
		timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Get("/healthz", s.health)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Get("/scans", s.listScans)
		r.Route("/scans/{id}", func(r chi.Router) {
			r.Get("/", s.getScan)
			r.Get("/findings", s.scanFindings)
		})
		r.Get("/findings/critical", s.criticalFindings)
		if s.consent != nil {
			r.Get("/consent/{domain}", s.consentStatus)
		}
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("took", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("api error", slog.String("path", r.URL.Path), slog.String("err", err.Error()))
	}
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: err.Error()})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{
		"status":  "ok",
		"version": defaults.Version,
	})
}

type scanList struct {
	Scans []store.Session `json:"scans"`
	Count int             `json:"count"`
}

func (s *Server) listScans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f store.Filter
	if v := q.Get("domain"); v != "" {
		d, err := consent.NormalizeDomain(v)
		if err != nil {
			s.fail(w, r, http.StatusBadRequest, err)
			return
		}
		f.Domain = d
	}
	if v := q.Get("status"); v != "" {
		st, err := store.ParseStatus(v)
		if err != nil {
			s.fail(w, r, http.StatusBadRequest, err)
			return
		}
		f.Status = st
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	f.Limit = limit

	list, err := s.sessions.ListSessions(r.Context(), f)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	render.JSON(w, r, scanList{Scans: list, Count: len(list)})
}

func (s *Server) getScan(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	render.JSON(w, r, sess)
}

type findingList struct {
	ScanID   string            `json:"scan_id"`
	Findings []finding.Finding `json:"findings"`
	Summary  finding.Summary   `json:"summary"`
}

func (s *Server) scanFindings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	fs, err := s.sessions.Findings(r.Context(), id)
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	if v := r.URL.Query().Get("severity"); v != "" {
		floor, ok := finding.ParseSeverity(v)
		if !ok {
			s.fail(w, r, http.StatusBadRequest, errors.New("unknown severity "+strconv.Quote(v)))
			return
		}
		kept := fs[:0]
		for _, f := range fs {
			if f.Severity.Score() >= floor.Score() {
				kept = append(kept, f)
			}
		}
		fs = kept
	}
	render.JSON(w, r, findingList{ScanID: id, Findings: fs, Summary: finding.Summarize(fs)})
}

func (s *Server) criticalFindings(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	list, err := s.sessions.CriticalFindings(r.Context(), limit)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	render.JSON(w, r, map[string]any{"findings": list, "count": len(list)})
}

func (s *Server) consentStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.consent.Status(r.Context(), chi.URLParam(r, "domain"))
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	// token values authorize scans; only a prefix leaves the process
	for i := range st.Tokens {
		st.Tokens[i].Token.Value = consent.ShortToken(st.Tokens[i].Token.Value)
		st.Tokens[i].Token.ProofPath = ""
	}
	render.JSON(w, r, st)
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return defaults.ListLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > 1000 {
		return 0, errors.New("limit must be an integer in [1, 1000]")
	}
	return n, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, consent.ErrInvalidDomain):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
