package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/autonom-console/internal/api/autonom"
	"github.com/tjfontaine/autonom-console/internal/controller"
	"github.com/tjfontaine/autonom-console/internal/core/domain"
	"github.com/tjfontaine/autonom-console/internal/core/ports"
	"github.com/tjfontaine/autonom-console/internal/profile"
	"github.com/tjfontaine/autonom-console/internal/status"
)

// Actions are the user actions exposed over HTTP.
type Actions interface {
	CurrentUser() string
	ListUsers(ctx context.Context) ([]profile.Profile, error)
	SelectUser(ctx context.Context, userID string) (string, error)
	SaveProfile(ctx context.Context, p profile.Profile) (profile.Profile, error)
	PlanNow(ctx context.Context, mealType, day string) (*autonom.TriggerResult, error)
	SubmitResponse(ctx context.Context, text string) error
	DismissModal()
	OpenApproval(sessionID string) error
	ActiveSessions(ctx context.Context) ([]status.SessionSummary, error)
	DismissCelebration()
	Activity(ctx context.Context, opts ports.ActivityListOptions) ([]*domain.ActivityEvent, error)
}

// StreamMetrics tracks open status streams.
type StreamMetrics interface {
	StreamOpened()
	StreamClosed()
}

type nopStreamMetrics struct{}

func (nopStreamMetrics) StreamOpened() {}
func (nopStreamMetrics) StreamClosed() {}

// DefaultHeartbeat is the keep-alive interval of the status stream.
const DefaultHeartbeat = 15 * time.Second

// API serves the status store and user actions.
type API struct {
	actions   Actions
	store     *status.Store
	metrics   StreamMetrics
	logger    *slog.Logger
	heartbeat time.Duration
}

// NewAPI creates the console API. metrics may be nil.
func NewAPI(actions Actions, store *status.Store, metrics StreamMetrics, logger *slog.Logger) *API {
	if metrics == nil {
		metrics = nopStreamMetrics{}
	}
	return &API{
		actions:   actions,
		store:     store,
		metrics:   metrics,
		logger:    logger.With("component", "api"),
		heartbeat: DefaultHeartbeat,
	}
}

func (a *API) routes(r chi.Router) {
	r.Get("/status", a.getStatus)
	r.Post("/notifications/{id}/dismiss", a.dismissNotification)

	r.Get("/users", a.listUsers)
	r.Post("/users", a.saveUser)
	r.Get("/users/current", a.getCurrentUser)
	r.Put("/users/current", a.setCurrentUser)

	r.Post("/meals/{mealType}/plan", a.planMeal)
	r.Post("/feedback", a.submitFeedback)
	r.Post("/modal/dismiss", a.dismissModal)
	r.Get("/sessions/active", a.listActiveSessions)
	r.Post("/sessions/{sessionID}/approval", a.openApproval)
	r.Post("/celebration/dismiss", a.dismissCelebration)

	r.Get("/activity", a.listActivity)
}

func (a *API) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.store.Snapshot())
}

// streamStatus pushes a snapshot on connect and after every store change.
func (a *API) streamStatus(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, errors.New("streaming not supported"))
		return
	}

	changes, cancel := a.store.Subscribe()
	defer cancel()
	a.metrics.StreamOpened()
	defer a.metrics.StreamClosed()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var lastVersion uint64
	send := func() error {
		snap := a.store.Snapshot()
		if snap.Version == lastVersion && lastVersion != 0 {
			return nil
		}
		lastVersion = snap.Version
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: status\nid: %d\ndata: %s\n\n", snap.Version, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	if err := send(); err != nil {
		return
	}

	ticker := time.NewTicker(a.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-changes:
			if err := send(); err != nil {
				a.logger.Debug("status stream closed", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (a *API) dismissNotification(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid notification id: %w", err))
		return
	}
	a.store.DismissNotification(id)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.actions.ListUsers(r.Context())
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) saveUser(w http.ResponseWriter, r *http.Request) {
	var p profile.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("decode profile: %w", err))
		return
	}
	saved, err := a.actions.SaveProfile(r.Context(), p)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

type currentUser struct {
	UserID string `json:"user_id"`
}

func (a *API) getCurrentUser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentUser{UserID: a.actions.CurrentUser()})
}

func (a *API) setCurrentUser(w http.ResponseWriter, r *http.Request) {
	var req currentUser
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("decode user selection: %w", err))
		return
	}
	id, err := a.actions.SelectUser(r.Context(), req.UserID)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	AddLogField(r.Context(), "user_id", id)
	writeJSON(w, http.StatusOK, currentUser{UserID: id})
}

func (a *API) planMeal(w http.ResponseWriter, r *http.Request) {
	mealType := chi.URLParam(r, "mealType")
	AddLogField(r.Context(), "meal_type", mealType)

	result, err := a.actions.PlanNow(r.Context(), mealType, r.URL.Query().Get("day"))
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	if result == nil {
		// Streamed plans report progress through the status stream.
		writeJSON(w, http.StatusAccepted, map[string]bool{"streaming": true})
		return
	}
	AddLogField(r.Context(), "session_id", result.SessionID)
	writeJSON(w, http.StatusOK, result)
}

type feedbackRequest struct {
	Response string `json:"response"`
}

func (a *API) submitFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("decode feedback: %w", err))
		return
	}
	if err := a.actions.SubmitResponse(r.Context(), req.Response); err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) dismissModal(w http.ResponseWriter, r *http.Request) {
	a.actions.DismissModal()
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listActiveSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.actions.ActiveSessions(r.Context())
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	AddLogField(r.Context(), "count", strconv.Itoa(len(sessions)))
	writeJSON(w, http.StatusOK, sessions)
}

func (a *API) openApproval(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	AddLogField(r.Context(), "session_id", sessionID)
	if err := a.actions.OpenApproval(sessionID); err != nil {
		code := statusFor(err)
		if errors.Is(err, controller.ErrNoSession) {
			code = http.StatusNotFound
		}
		writeError(w, r, code, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) dismissCelebration(w http.ResponseWriter, r *http.Request) {
	a.actions.DismissCelebration()
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := ports.ActivityListOptions{
		UserID:    q.Get("user_id"),
		SessionID: q.Get("session_id"),
	}
	var err error
	if v := q.Get("limit"); v != "" {
		if opts.Limit, err = strconv.Atoi(v); err != nil || opts.Limit < 0 {
			writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if opts.Offset, err = strconv.Atoi(v); err != nil || opts.Offset < 0 {
			writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid offset %q", v))
			return
		}
	}

	events, err := a.actions.Activity(r.Context(), opts)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	if events == nil {
		events = []*domain.ActivityEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// statusFor maps action errors to HTTP status codes.
func statusFor(err error) int {
	var apiErr *autonom.APIError
	switch {
	case errors.Is(err, controller.ErrEmptyResponse),
		errors.Is(err, controller.ErrNoUser),
		errors.Is(err, profile.ErrEmptyName),
		errors.Is(err, profile.ErrNoMealSlot):
		return http.StatusBadRequest
	case errors.Is(err, controller.ErrNoSession),
		errors.Is(err, controller.ErrNoApproval):
		return http.StatusConflict
	case errors.As(err, &apiErr) && apiErr.Temporary():
		return http.StatusServiceUnavailable
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, err error) {
	AddError(r.Context(), err)
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
