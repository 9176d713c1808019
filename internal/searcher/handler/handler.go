// Package handler exposes the search service over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/damnfork/cases/internal/cases"
	"github.com/damnfork/cases/internal/searcher/cache"
	"github.com/damnfork/cases/internal/searcher/service"
	apperrors "github.com/damnfork/cases/pkg/errors"
	"github.com/damnfork/cases/pkg/logger"
)

// Searcher is the service surface the handler needs.
type Searcher interface {
	Search(ctx context.Context, q service.Query) (*service.Response, error)
	Case(ctx context.Context, id uint32) (*cases.Case, error)
	Stats(ctx context.Context) service.StatsResponse
	CacheStats(ctx context.Context) (cache.Stats, bool)
	InvalidateCache(ctx context.Context) (int64, error)
	DefaultLimit() int
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type Handler struct {
	svc    Searcher
	logger *slog.Logger
}

func New(svc Searcher) *Handler {
	return &Handler{
		svc:    svc,
		logger: slog.Default().With("component", "search-handler"),
	}
}

// Search handles GET /api/search?q=&offset=&limit=. A missing or blank q is
// an empty result, not an error.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	offset, err := uintParam(params.Get("offset"), 0)
	if err != nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "offset must be a non-negative integer"))
		return
	}
	limit, err := uintParam(params.Get("limit"), h.svc.DefaultLimit())
	if err != nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a non-negative integer"))
		return
	}

	resp, err := h.svc.Search(r.Context(), service.Query{
		Text:   params.Get("q"),
		Offset: offset,
		Limit:  limit,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	logger.FromContext(r.Context()).Info("search completed",
		"query", params.Get("q"),
		"offset", resp.Offset,
		"limit", resp.Limit,
		"total", resp.Total,
		"returned", len(resp.Results),
	)
	h.writeJSON(w, http.StatusOK, resp)
}

// Case handles GET /api/case/{id}.
func (h *Handler) Case(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid case id %q", raw))
		return
	}

	c, err := h.svc.Case(r.Context(), uint32(id))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, c)
}

// Stats handles GET /api/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.Stats(r.Context()))
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, ok := h.svc.CacheStats(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.InvalidateCache(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": n})
}

// uintParam parses a non-negative integer. Values past math.MaxInt32 are
// capped there: no page that deep exists, and the search still reports total.
func uintParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return int(min(v, math.MaxInt32)), nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError maps err onto the error taxonomy. Expected errors are answered
// quietly; anything else is logged with its full chain and answered with an
// opaque message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	body := ErrorBody{Error: apperrors.Code(err), Message: message(err, status)}

	log := logger.FromContext(r.Context())
	switch {
	case apperrors.Expected(err):
		log.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	case status == http.StatusRequestTimeout:
		log.Warn("request timed out", "path", r.URL.Path, "error", err)
	default:
		attrs := []any{"path", r.URL.Path, "error", err}
		var qe *apperrors.IndexQueryError
		if errors.As(err, &qe) {
			attrs = append(attrs, "query", qe.Query)
		}
		var ce *apperrors.CorruptionError
		if errors.As(err, &ce) {
			attrs = append(attrs, "case_id", ce.ID)
		}
		log.Error("request failed", attrs...)
	}
	h.writeJSON(w, status, body)
}

func message(err error, status int) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	switch status {
	case http.StatusNotFound:
		return "Case not found"
	case http.StatusRequestTimeout:
		return "Request timed out"
	default:
		return "Internal server error"
	}
}
