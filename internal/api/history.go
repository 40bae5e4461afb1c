package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/court-case-scraper/internal/court"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	historyTimeout      = 3 * time.Second
)

// HistoryReader lists recent query log rows.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]court.QueryRecord, error)
}

// HistoryHandler exposes the query log read-only.
type HistoryHandler struct {
	repo    HistoryReader
	timeout time.Duration
	logger  *zap.Logger
}

// NewHistoryHandler wires the reader and logger.
func NewHistoryHandler(repo HistoryReader, logger *zap.Logger) *HistoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryHandler{
		repo:    repo,
		timeout: historyTimeout,
		logger:  logger,
	}
}

// List handles GET /api/query-history?limit=. It returns {"queries": [...]}
// newest first, 400 for a bad limit, 503 without a query log, or 500 when the
// read fails.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "query log unavailable")
		return
	}
	limit, err := parseLimit(r, defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	rows, err := h.repo.Recent(ctx, limit)
	if err != nil {
		h.logger.Error("list query history failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list query history")
		return
	}
	if rows == nil {
		rows = []court.QueryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": rows})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}
