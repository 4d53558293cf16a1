// File: internal/api/handlers.go
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/cfgate/internal/browser"
	"github.com/xkilldash9x/cfgate/internal/service"
	"github.com/xkilldash9x/cfgate/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Backend is the set of operations the HTTP layer exposes. *service.Service implements it.
type Backend interface {
	Detect(ctx context.Context, target string, opts service.Options) (service.DetectResult, error)
	Bypass(ctx context.Context, target string, opts service.Options) (service.BypassResult, error)
	Screenshot(ctx context.Context, target string, opts service.Options) (service.BypassResult, error)
	Stats() service.StatsResult
	Health() service.Health
	RecentRuns(ctx context.Context, limit int) ([]store.RunRecord, error)
}

// Handlers manages the HTTP request handling for the server.
type Handlers struct {
	log          *zap.Logger
	backend      Backend
	maxBodyBytes int64
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(logger *zap.Logger, backend Backend, maxBodyBytes int64) *Handlers {
	return &Handlers{
		log:          logger.Named("api_handlers"),
		backend:      backend,
		maxBodyBytes: maxBodyBytes,
	}
}

// RegisterRoutes mounts every endpoint on r. Browser-driving endpoints share limiter.
func (h *Handlers) RegisterRoutes(r chi.Router, limiter *rate.Limiter) {
	r.Get("/health", h.HandleHealth)
	r.Get("/stats", h.HandleStats)
	r.Get("/runs", h.HandleRuns)

	r.Group(func(r chi.Router) {
		r.Use(h.rateLimit(limiter))
		r.Post("/detect", h.HandleDetect)
		r.Post("/bypass", h.HandleBypass)
		r.Post("/screenshot", h.HandleScreenshot)
	})
}

// HandleHealth reports liveness. Health checkers read status at the top level, so the body is
// not wrapped in Response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.backend.Health())
}

// HandleStats reports the outcome counters.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	h.respondWithSuccess(w, http.StatusOK, h.backend.Stats())
}

// HandleRuns lists recent runs. limit defaults to 50 and is capped at 500.
func (h *Handlers) HandleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = min(n, 500)
	}

	runs, err := h.backend.RecentRuns(r.Context(), limit)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, RunsResponse{Runs: runs, Count: len(runs)})
}

// HandleDetect runs detection only.
func (h *Handlers) HandleDetect(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTarget(w, r)
	if !ok {
		return
	}
	res, err := h.backend.Detect(r.Context(), req.URL, req.Options)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, res)
}

// HandleBypass runs detection and, if needed, the bypass attempts.
func (h *Handlers) HandleBypass(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTarget(w, r)
	if !ok {
		return
	}
	res, err := h.backend.Bypass(r.Context(), req.URL, req.Options)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, res)
}

// HandleScreenshot is HandleBypass with the screenshot forced on.
func (h *Handlers) HandleScreenshot(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTarget(w, r)
	if !ok {
		return
	}
	res, err := h.backend.Screenshot(r.Context(), req.URL, req.Options)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, res)
}

func (h *Handlers) decodeTarget(w http.ResponseWriter, r *http.Request) (TargetRequest, bool) {
	var req TargetRequest
	if h.maxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return req, false
	}
	if req.URL == "" {
		h.respondWithError(w, http.StatusBadRequest, "URL is required")
		return req, false
	}
	return req, true
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidTarget), errors.Is(err, service.ErrInvalidOptions):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrHistoryUnavailable), errors.Is(err, browser.ErrManagerClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, browser.ErrSessionUnusable), errors.Is(err, browser.ErrNavigation):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed.", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	} else {
		h.log.Debug("Request rejected.", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	h.respondWithError(w, status, err.Error())
}

// respondWithError sends a standardized JSON error response.
func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.respond(w, statusCode, Response{Success: false, Error: message})
}

// respondWithSuccess sends a standardized JSON success response.
func (h *Handlers) respondWithSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	h.respond(w, statusCode, Response{Success: true, Data: data})
}

func (h *Handlers) respond(w http.ResponseWriter, statusCode int, resp Response) {
	h.writeJSON(w, statusCode, resp)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
