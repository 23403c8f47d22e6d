package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/maltedev/review-scraper/internal/database"
	"github.com/maltedev/review-scraper/internal/models"
	"github.com/maltedev/review-scraper/internal/scraper"
	"github.com/maltedev/review-scraper/internal/scrapeerr"
	"github.com/maltedev/review-scraper/internal/session"
)

const (
	maxBodyBytes = 1 << 20

	// health degrades past these outbox backlogs
	pendingWarnThreshold   = 1000
	deadLetterErrThreshold = 100
)

type ReviewService interface {
	FetchResult(ctx context.Context, targetID string, opts models.FetchOptions) (*models.ReviewScrapeResult, error)
	ClearCache(ctx context.Context, key string) error
	SessionStats() session.Stats
}

// OutboxCounter reports outbox backlog for the health check.
type OutboxCounter interface {
	CountByStatus(ctx context.Context, statuses ...string) (int64, error)
}

type Handlers struct {
	service ReviewService
	outbox  OutboxCounter
	logger  *slog.Logger
}

// NewHandlers builds the HTTP handlers. outbox may be nil when no database
// is configured.
func NewHandlers(service ReviewService, outbox OutboxCounter, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}

	return &Handlers{
		service: service,
		outbox:  outbox,
		logger:  logger.With("component", "api"),
	}
}

// ReviewsRequest selects a product by ASIN or URL; URL wins when both are
// given.
type ReviewsRequest struct {
	ASIN           string `json:"asin"`
	URL            string `json:"url"`
	Country        string `json:"country"`
	Language       string `json:"language"`
	SortBy         string `json:"sort_by"`
	ReviewsCount   int    `json:"reviews_count"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

func (r ReviewsRequest) target() string {
	if r.URL != "" {
		return r.URL
	}
	return r.ASIN
}

func (r ReviewsRequest) options() models.FetchOptions {
	return models.FetchOptions{
		Country:      r.Country,
		Language:     r.Language,
		SortBy:       r.SortBy,
		ReviewsCount: r.ReviewsCount,
		Timeout:      time.Duration(r.TimeoutSeconds) * time.Second,
	}
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Retryable bool   `json:"retryable"`
}

func (h *Handlers) GetReviews(w http.ResponseWriter, r *http.Request) {
	var req ReviewsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.target() == "" {
		h.respondError(w, http.StatusBadRequest, "either asin or url is required")
		return
	}

	result, err := h.service.FetchResult(r.Context(), req.target(), req.options())
	if err != nil {
		h.respondScrapeError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

// ClearCache drops one entry when ?key= is given, otherwise everything.
func (h *Handlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")

	if err := h.service.ClearCache(r.Context(), key); err != nil {
		h.logger.Error("failed to clear cache", "key", key, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to clear cache")
		return
	}

	h.logger.Info("cache cleared", "key", key)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	stats := h.service.SessionStats()

	health := map[string]any{
		"status": "ok",
		"session": map[string]any{
			"healthy":   stats.Healthy,
			"requests":  stats.Requests,
			"rotations": stats.Rotations,
			"age":       stats.Age.Round(time.Second).String(),
		},
	}
	status := http.StatusOK

	if !stats.Healthy {
		health["status"] = "degraded"
		health["message"] = "session unavailable"
	}

	if h.outbox != nil {
		pending, perr := h.outbox.CountByStatus(r.Context(), database.OutboxStatusPending, database.OutboxStatusFailed)
		dead, derr := h.outbox.CountByStatus(r.Context(), database.OutboxStatusDeadLetter)
		if err := errors.Join(perr, derr); err != nil {
			h.logger.Warn("failed to read outbox backlog", "error", err)
			health["status"] = "error"
			health["message"] = "database unavailable"
			status = http.StatusServiceUnavailable
		} else {
			health["outbox"] = map[string]any{
				"pending":     pending,
				"dead_letter": dead,
			}
			if pending > pendingWarnThreshold {
				health["status"] = "warning"
				health["message"] = "high number of pending outbox events"
			}
			if dead > deadLetterErrThreshold {
				health["status"] = "error"
				health["message"] = "high number of dead letter events"
				status = http.StatusServiceUnavailable
			}
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) respondScrapeError(w http.ResponseWriter, err error) {
	var se *scrapeerr.Error
	if !errors.As(err, &se) {
		se = scrapeerr.Classify(err, scrapeerr.Context{})
	}

	status := statusForError(se)
	if status >= http.StatusInternalServerError {
		h.logger.Error("fetch failed", "kind", se.Kind, "error", err)
	} else {
		h.logger.Warn("fetch rejected", "kind", se.Kind, "error", err)
	}

	h.respondJSON(w, status, ErrorResponse{
		Error:     se.Error(),
		Kind:      se.Kind.String(),
		Retryable: se.Retryable(),
	})
}

func statusForError(se *scrapeerr.Error) int {
	if errors.Is(se, scraper.ErrInvalidRequest) {
		return http.StatusBadRequest
	}

	switch se.Kind {
	case scrapeerr.KindBlocked:
		return http.StatusForbidden
	case scrapeerr.KindNotFound:
		return http.StatusNotFound
	case scrapeerr.KindParsing:
		return http.StatusUnprocessableEntity
	case scrapeerr.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{Error: message})
}
