package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/court-case-scraper/internal/court"
	"github.com/JakeFAU/court-case-scraper/internal/metrics"
)

// Service is the scrape pipeline as seen by the HTTP layer.
type Service interface {
	FetchCaseData(ctx context.Context, query court.CaseQuery) court.ScrapeResult
	FetchCaseOrders(ctx context.Context, ref string) (court.CaseDetail, error)
	ListCaseTypes(ctx context.Context) ([]string, error)
	PeekChallenge(ctx context.Context) (court.ChallengeToken, error)
}

// Options configures the server.
type Options struct {
	RequestTimeout time.Duration
	AuthEnabled    bool
	APIKey         string
}

// Server wires HTTP handlers to the scraper and the query log.
type Server struct {
	router  chi.Router
	svc     Service
	history *HistoryHandler
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. history may be nil,
// in which case the history route answers 503.
func NewServer(svc Service, history HistoryReader, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Minute
	}
	s := &Server{
		svc:     svc,
		history: NewHistoryHandler(history, logger),
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.health)
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(opts.RequestTimeout))
			if opts.AuthEnabled {
				r.Use(apiKeyMiddleware(opts.APIKey))
			}
			r.Post("/fetch-case-data", s.fetchCaseData)
			r.Get("/case-orders", s.caseOrders)
			r.Get("/case-types", s.caseTypes)
			r.Get("/captcha", s.captcha)
			r.Get("/query-history", s.history.List)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Server is healthy!"})
}

type fetchResponse struct {
	Success     bool          `json:"success"`
	ID          string        `json:"id,omitempty"`
	Outcome     court.Outcome `json:"outcome"`
	CaseDetails []caseRow     `json:"caseDetails"`
	CaptchaUsed string        `json:"captchaUsed,omitempty"`
	Message     string        `json:"message"`
	Cause       court.Kind    `json:"cause,omitempty"`
}

// caseRow is a summary row as the web client reads it: ordersLink carries
// the detail reference, empty when the row has none.
type caseRow struct {
	court.CaseSummaryRecord
	OrdersLink string `json:"ordersLink"`
}

func caseRows(summaries []court.CaseSummaryRecord) []caseRow {
	rows := make([]caseRow, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, caseRow{CaseSummaryRecord: s, OrdersLink: s.DetailReference})
	}
	return rows
}

func (s *Server) fetchCaseData(w http.ResponseWriter, r *http.Request) {
	var query court.CaseQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := query.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, fetchResponse{
			Outcome:     court.OutcomeFailure,
			CaseDetails: []caseRow{},
			Message:     court.Describe(err),
			Cause:       court.KindInvalidQuery,
		})
		return
	}

	res := s.svc.FetchCaseData(r.Context(), query)
	body := fetchResponse{
		Success:     res.Outcome != court.OutcomeFailure,
		ID:          res.ID,
		Outcome:     res.Outcome,
		CaseDetails: caseRows(res.Summaries),
		CaptchaUsed: res.ChallengeUsed,
		Message:     res.Message,
		Cause:       res.Cause,
	}
	switch res.Outcome {
	case court.OutcomeSuccess:
		body.Message = "Case data found successfully"
	case court.OutcomeNoData:
		body.Message = "No case data found for the given parameters"
	}
	writeJSON(w, statusForResult(res), body)
}

func (s *Server) caseOrders(w http.ResponseWriter, r *http.Request) {
	link := strings.TrimSpace(r.URL.Query().Get("link"))
	if link == "" {
		writeError(w, http.StatusBadRequest, "link is required")
		return
	}
	detail, err := s.svc.FetchCaseOrders(r.Context(), link)
	if err != nil {
		s.writeFailure(w, r, "fetch case orders failed", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) caseTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.svc.ListCaseTypes(r.Context())
	if err != nil {
		s.writeFailure(w, r, "list case types failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"caseTypes": types})
}

func (s *Server) captcha(w http.ResponseWriter, r *http.Request) {
	token, err := s.svc.PeekChallenge(r.Context())
	if err != nil {
		s.writeFailure(w, r, "peek challenge failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"captcha": token.Text})
}

func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, msg string, err error) {
	kind := court.KindOf(err)
	s.logger.Warn(msg,
		zap.String("path", r.URL.Path),
		zap.String("cause", string(kind)),
		zap.Error(err),
	)
	writeJSON(w, statusForKind(kind), map[string]string{
		"error": court.Describe(err),
		"cause": string(kind),
	})
}

func statusForResult(res court.ScrapeResult) int {
	if res.Outcome != court.OutcomeFailure {
		return http.StatusOK
	}
	return statusForKind(res.Cause)
}

func statusForKind(kind court.Kind) int {
	switch kind {
	case court.KindInvalidQuery:
		return http.StatusBadRequest
	case court.KindNavigationTimeout:
		return http.StatusGatewayTimeout
	case court.KindSessionUnavailable, court.KindCanceled:
		return http.StatusServiceUnavailable
	case court.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// timeoutMiddleware bounds the request context. Unlike http.TimeoutHandler it
// lets the handler write its own structured failure once the scrape notices
// the deadline.
func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
