// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"extension-sync/internal/auth"
	custom_errors "extension-sync/internal/errors"
	"extension-sync/internal/model"
	"extension-sync/internal/syncer"
)

// Service is the part of the syncer exposed over HTTP.
type Service interface {
	Get(ctx context.Context, id int64) (*model.GitHubModel, error)
	FetchOne(ctx context.Context, link *model.GitHubModel, user *model.User) (*model.GitHubModel, error)
	GenerateGitHub(ctx context.Context, link string) (*model.GitHubModel, error)
	Delete(ctx context.Context, link *model.GitHubModel) error
	ConfigureSchedule(ctx context.Context, userID int64, spec *syncer.SettingsSpec) (*model.Settings, error)
	ReadSettings(ctx context.Context, userID int64) syncer.SettingsSpec
}

// Options configures the router.
type Options struct {
	// ScheduleOwnerID owns the polling settings shown and changed by admins.
	ScheduleOwnerID int64
	// Metrics is served at /metrics when set.
	Metrics http.Handler
	// RequestTimeout bounds every request. It must exceed the fetch timeout.
	RequestTimeout time.Duration
}

// Handler is the container for API dependencies.
type Handler struct {
	service Service
	logger  *slog.Logger
	opts    Options
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(service Service, tokens auth.Validator, logger *slog.Logger, opts Options) http.Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	h := &Handler{
		service: service,
		logger:  logger,
		opts:    opts,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))

	r.Get("/health", h.healthCheck)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/v1/github", func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens, func(w http.ResponseWriter, err error) {
			respondWithError(w, http.StatusUnauthorized, "Valid bearer token required")
		}))

		r.Post("/", h.createGitHub)

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Get("/settings", h.getSettings)
			r.Post("/settings", h.updateSettings)
			r.Delete("/{id}", h.deleteGitHub)
		})

		r.Get("/{id}", h.getGitHub)
		r.Post("/{id}/fetch", h.fetchGitHub)
	})

	return r
}

// requireAdmin rejects callers without the admin role.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.UserFromContext(r.Context())
		if !ok || !user.IsAdmin() {
			respondWithError(w, http.StatusForbidden, "Admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createRequest struct {
	Link string `json:"link"`
}

// createGitHub tracks a new repository link.
// POST /v1/github
func (h *Handler) createGitHub(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Link == "" {
		respondWithError(w, http.StatusBadRequest, "Request body must be {\"link\": \"...\"}")
		return
	}

	link, err := h.service.GenerateGitHub(r.Context(), req.Link)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, link)
}

// getGitHub returns a stored record.
// GET /v1/github/{id}
func (h *Handler) getGitHub(w http.ResponseWriter, r *http.Request) {
	link, ok := h.loadLink(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, link)
}

// fetchGitHub refreshes a record from GitHub right away.
// POST /v1/github/{id}/fetch
func (h *Handler) fetchGitHub(w http.ResponseWriter, r *http.Request) {
	link, ok := h.loadLink(w, r)
	if !ok {
		return
	}
	user, _ := auth.UserFromContext(r.Context())

	saved, err := h.service.FetchOne(r.Context(), link, user)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, saved)
}

// deleteGitHub stops tracking a record.
// DELETE /v1/github/{id}
func (h *Handler) deleteGitHub(w http.ResponseWriter, r *http.Request) {
	link, ok := h.loadLink(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), link); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// settingsBody carries rate and wait in milliseconds.
type settingsBody struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Rate     int64  `json:"rate"`
	Wait     int64  `json:"wait"`
}

func toBody(spec syncer.SettingsSpec) settingsBody {
	return settingsBody{
		Token:    spec.Token,
		Username: spec.Username,
		Rate:     spec.Rate.Milliseconds(),
		Wait:     spec.Wait.Milliseconds(),
	}
}

// getSettings reports the polling settings.
// GET /v1/github/settings
func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, toBody(h.service.ReadSettings(r.Context(), h.opts.ScheduleOwnerID)))
}

// updateSettings stores new polling settings and reinstalls the schedule.
// POST /v1/github/settings
func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var body settingsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid settings body")
		return
	}
	if body.Rate < 0 || body.Wait < 0 {
		respondWithError(w, http.StatusBadRequest, "'rate' and 'wait' must not be negative")
		return
	}

	_, err := h.service.ConfigureSchedule(r.Context(), h.opts.ScheduleOwnerID, &syncer.SettingsSpec{
		Token:    body.Token,
		Username: body.Username,
		Rate:     time.Duration(body.Rate) * time.Millisecond,
		Wait:     time.Duration(body.Wait) * time.Millisecond,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toBody(h.service.ReadSettings(r.Context(), h.opts.ScheduleOwnerID)))
}

func (h *Handler) loadLink(w http.ResponseWriter, r *http.Request) (*model.GitHubModel, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid 'id' parameter")
		return nil, false
	}
	link, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return nil, false
	}
	return link, true
}

// fail maps a service error to a response.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	var formatErr *custom_errors.ErrInvalidRepoFormat
	switch {
	case errors.Is(err, custom_errors.ErrUnauthorized):
		respondWithError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, custom_errors.ErrAuthenticationFailed):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &formatErr):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, custom_errors.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "Repository not found")
	case errors.Is(err, custom_errors.ErrFetchTimedOut):
		respondWithError(w, http.StatusGatewayTimeout, err.Error())
	case custom_errors.IsRemote(err):
		respondWithError(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("Request failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}
