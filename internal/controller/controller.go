// Package controller implements the console's user actions. Every outcome is
// reflected in the status store; callers get errors only for HTTP status
// mapping.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tjfontaine/autonom-console/internal/api/autonom"
	"github.com/tjfontaine/autonom-console/internal/core/domain"
	"github.com/tjfontaine/autonom-console/internal/core/ports"
	"github.com/tjfontaine/autonom-console/internal/profile"
	"github.com/tjfontaine/autonom-console/internal/session"
	"github.com/tjfontaine/autonom-console/internal/status"
	"github.com/tjfontaine/autonom-console/internal/storage"
)

// User-facing notification texts.
const (
	msgSelectUser      = "Please select a user first"
	msgPlanFailed      = "Failed to start meal planning. Please try again."
	msgSaveFailed      = "Failed to save profile. Please try again."
	msgSaved           = "Profile saved successfully!"
	msgEmptyResponse   = "Please enter a response"
	msgNoSession       = "Session information not available"
	msgSubmitFailed    = "Failed to submit response. Please try again."
	msgEmptyName       = "Please enter a name"
	msgNoMealSlot      = "Please add at least one meal slot"
	msgNoApproval      = "This session is not waiting for a response"
	msgPlanningStarted = "Meal planning started"
)

var (
	ErrNoUser        = errors.New("no user selected")
	ErrEmptyResponse = errors.New("response is empty")
	ErrNoSession     = errors.New("no active session")
	ErrNoApproval    = errors.New("session has no pending approval")
)

// Backend is the part of the API client the controller drives.
type Backend interface {
	ListUsers(ctx context.Context) ([]autonom.User, error)
	SaveUser(ctx context.Context, user autonom.User) (*autonom.User, error)
	ListActiveSessions(ctx context.Context, userID string) ([]session.Session, error)
	TriggerPlan(ctx context.Context, userID, mealType string, opts *autonom.TriggerOptions) (*autonom.TriggerResult, error)
	StreamTriggerPlan(ctx context.Context, userID, mealType string, opts *autonom.TriggerOptions) (<-chan autonom.StreamResult, error)
	SubmitResume(ctx context.Context, sessionID, choice string) (*autonom.ResumeResult, error)
	StreamResume(ctx context.Context, sessionID, choice string) (<-chan autonom.StreamResult, error)
}

// Tracker is the session synchronizer as seen by user actions.
type Tracker interface {
	SetUser(userID string)
	User() string
	SetActiveSession(sessionID string)
	ActiveSession() string
	ResumeAfterFeedback()
	Resume()
	Pause()
}

// Metrics receives action outcomes.
type Metrics interface {
	ObserveAction(action string, err error)
	ObserveStreamEvent(eventType string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveAction(string, error) {}
func (nopMetrics) ObserveStreamEvent(string) {}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger.With("component", "controller")
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithPublisher sets where activity events go.
func WithPublisher(p ports.EventPublisher) Option {
	return func(c *Controller) {
		c.publisher = p
	}
}

// WithStreaming makes plan and resume calls use the SSE endpoints.
func WithStreaming(enabled bool) Option {
	return func(c *Controller) {
		c.streaming = enabled
	}
}

// WithSubmitTimeout bounds background resume calls.
func WithSubmitTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.submitTimeout = d
	}
}

// Controller runs user actions against the backend, the store and the
// synchronizer.
type Controller struct {
	backend   Backend
	store     *status.Store
	tracker   Tracker
	storage   ports.StorageProvider
	publisher ports.EventPublisher
	metrics   Metrics
	logger    *slog.Logger

	streaming     bool
	submitTimeout time.Duration
	now           func() time.Time

	// bg outlives the request that started a background call.
	bg     context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Controller.
func New(backend Backend, store *status.Store, tracker Tracker, sp ports.StorageProvider, opts ...Option) *Controller {
	bg, cancel := context.WithCancel(context.Background())
	c := &Controller{
		backend:       backend,
		store:         store,
		tracker:       tracker,
		storage:       sp,
		metrics:       nopMetrics{},
		logger:        slog.Default().With("component", "controller"),
		submitTimeout: 2 * time.Minute,
		now:           time.Now,
		bg:            bg,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close cancels background calls and waits for them.
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()
}

// RestoreUser re-selects the persisted user, if any.
func (c *Controller) RestoreUser(ctx context.Context) (string, error) {
	userID, err := c.storage.GetPreference(ctx, storage.CurrentUserKey)
	if errors.Is(err, ports.ErrPreferenceNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("restore current user: %w", err)
	}
	c.tracker.SetUser(userID)
	c.logger.Info("restored current user", slog.String("user_id", userID))
	return userID, nil
}

// CurrentUser returns the selected user id.
func (c *Controller) CurrentUser() string {
	return c.tracker.User()
}

// ListUsers returns all profiles known to the backend.
func (c *Controller) ListUsers(ctx context.Context) ([]profile.Profile, error) {
	users, err := c.backend.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]profile.Profile, 0, len(users))
	for _, u := range users {
		out = append(out, profile.FromAPI(u))
	}
	return out, nil
}

// SelectUser makes userID current and persists the choice. Selecting
// profile.CreateNewSentinel clears the selection and returns a fresh id for
// the profile about to be created.
func (c *Controller) SelectUser(ctx context.Context, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	switch userID {
	case "":
		return "", ErrNoUser
	case profile.CreateNewSentinel:
		if err := c.storage.DeletePreference(ctx, storage.CurrentUserKey); err != nil {
			return "", fmt.Errorf("clear current user: %w", err)
		}
		c.tracker.SetUser("")
		return profile.NewUserID(c.now()), nil
	}

	if err := c.storage.SetPreference(ctx, storage.CurrentUserKey, userID); err != nil {
		return "", fmt.Errorf("persist current user: %w", err)
	}
	c.tracker.SetUser(userID)
	return userID, nil
}

// SaveProfile validates and saves p, then selects the saved user.
func (c *Controller) SaveProfile(ctx context.Context, p profile.Profile) (profile.Profile, error) {
	if err := p.Validate(); err != nil {
		switch {
		case errors.Is(err, profile.ErrEmptyName):
			c.store.Notify(status.LevelWarning, msgEmptyName)
		case errors.Is(err, profile.ErrNoMealSlot):
			c.store.Notify(status.LevelWarning, msgNoMealSlot)
		}
		return profile.Profile{}, err
	}
	if p.UserID == "" || p.UserID == profile.CreateNewSentinel {
		p.UserID = profile.NewUserID(c.now())
	}

	saved, err := c.backend.SaveUser(ctx, p.ToAPI())
	c.metrics.ObserveAction("save_profile", err)
	if err != nil {
		c.logger.Error("save profile failed",
			slog.String("user_id", p.UserID),
			slog.String("error", err.Error()))
		c.store.Notify(status.LevelError, msgSaveFailed)
		return profile.Profile{}, fmt.Errorf("save user %s: %w", p.UserID, err)
	}
	if saved.ID == "" {
		saved.ID = p.UserID
	}

	if _, err := c.SelectUser(ctx, saved.ID); err != nil {
		c.logger.Warn("select saved user failed", slog.String("error", err.Error()))
	}
	c.store.Notify(status.LevelSuccess, msgSaved)
	return profile.FromAPI(*saved), nil
}

// PlanNow starts planning mealType for the current user. In streaming mode
// the stream is consumed in the background and a nil result is returned;
// the session is adopted as soon as an event names it.
func (c *Controller) PlanNow(ctx context.Context, mealType, day string) (*autonom.TriggerResult, error) {
	userID := c.tracker.User()
	if userID == "" {
		c.store.Notify(status.LevelWarning, msgSelectUser)
		return nil, ErrNoUser
	}
	var opts *autonom.TriggerOptions
	if day != "" {
		opts = &autonom.TriggerOptions{Day: day}
	}
	logger := c.logger.With(slog.String("user_id", userID), slog.String("meal_type", mealType))

	if c.streaming {
		events, err := c.backend.StreamTriggerPlan(c.bg, userID, mealType, opts)
		if err != nil {
			c.metrics.ObserveAction("plan", err)
			logger.Error("start plan stream failed", slog.String("error", err.Error()))
			c.store.Notify(status.LevelError, msgPlanFailed)
			return nil, fmt.Errorf("trigger plan: %w", err)
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			_, err := c.consume(userID, "", events, true)
			c.metrics.ObserveAction("plan", err)
			if err != nil {
				logger.Error("plan stream failed", slog.String("error", err.Error()))
				c.store.Notify(status.LevelError, msgPlanFailed)
			}
		}()
		return nil, nil
	}

	result, err := c.backend.TriggerPlan(ctx, userID, mealType, opts)
	c.metrics.ObserveAction("plan", err)
	if err != nil {
		logger.Error("trigger plan failed", slog.String("error", err.Error()))
		c.store.Notify(status.LevelError, msgPlanFailed)
		return nil, fmt.Errorf("trigger plan: %w", err)
	}
	logger.Info("meal planning started",
		slog.String("session_id", result.SessionID),
		slog.String("workflow_status", result.WorkflowStatus.String()))

	c.publish(ctx, &domain.ActivityEvent{
		Type:      domain.ActivityWorkflowStarted,
		UserID:    userID,
		SessionID: result.SessionID,
		Status:    result.WorkflowStatus.String(),
		Text:      mealType,
	})
	if result.SessionID != "" {
		c.tracker.SetActiveSession(result.SessionID)
		c.store.Notify(status.LevelInfo, msgPlanningStarted)
	}
	return result, nil
}

// SubmitResponse answers the open approval prompt. The store flips to
// "processing" before the backend is called and the session loop is
// scheduled to resume regardless of how long the call takes. A failed call
// reopens the prompt and pauses polling again.
func (c *Controller) SubmitResponse(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		c.store.Notify(status.LevelWarning, msgEmptyResponse)
		return ErrEmptyResponse
	}
	snap := c.store.Snapshot()
	sessionID := snap.Modal.SessionID
	if sessionID == "" {
		sessionID = c.tracker.ActiveSession()
	}
	if sessionID == "" {
		c.store.Notify(status.LevelError, msgNoSession)
		return ErrNoSession
	}
	userID := c.tracker.User()

	previous := c.store.MarkFeedbackReceived(text)
	if previous.SessionID == "" {
		previous.SessionID = sessionID
	}
	c.tracker.ResumeAfterFeedback()
	c.publish(ctx, &domain.ActivityEvent{
		Type:      domain.ActivityResponseSubmitted,
		UserID:    userID,
		SessionID: sessionID,
		Text:      text,
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.resume(userID, sessionID, text)
		c.metrics.ObserveAction("submit_response", err)
		if err == nil {
			return
		}
		c.logger.Error("submit response failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		c.store.Notify(status.LevelError, msgSubmitFailed)
		if c.tracker.ActiveSession() == sessionID {
			c.store.RevertFeedback(previous)
			c.tracker.Pause()
		}
		c.publish(c.bg, &domain.ActivityEvent{
			Type:      domain.ActivityResponseFailed,
			UserID:    userID,
			SessionID: sessionID,
			Text:      err.Error(),
		})
	}()
	return nil
}

func (c *Controller) resume(userID, sessionID, text string) error {
	ctx, cancel := context.WithTimeout(c.bg, c.submitTimeout)
	defer cancel()

	if c.streaming {
		events, err := c.backend.StreamResume(ctx, sessionID, text)
		if err != nil {
			return fmt.Errorf("resume session %s: %w", sessionID, err)
		}
		if _, err := c.consume(userID, sessionID, events, false); err != nil {
			return fmt.Errorf("resume session %s: %w", sessionID, err)
		}
		return nil
	}

	result, err := c.backend.SubmitResume(ctx, sessionID, text)
	if err != nil {
		return fmt.Errorf("resume session %s: %w", sessionID, err)
	}
	c.logger.Info("response submitted",
		slog.String("session_id", sessionID),
		slog.String("workflow_status", result.WorkflowStatus.String()),
		slog.Any("user_choice", []string(result.UserChoice)))
	return nil
}

// consume records every streamed event as activity. With adopt set, the
// first session id seen becomes the tracked session.
func (c *Controller) consume(userID, sessionID string, events <-chan autonom.StreamResult, adopt bool) (string, error) {
	for r := range events {
		if r.Err != nil {
			return sessionID, r.Err
		}
		ev := r.Event
		if ev == nil {
			continue
		}
		c.metrics.ObserveStreamEvent(ev.Type)

		if ev.SessionID != "" && sessionID == "" {
			sessionID = ev.SessionID
			if adopt {
				c.publish(c.bg, &domain.ActivityEvent{
					Type:      domain.ActivityWorkflowStarted,
					UserID:    userID,
					SessionID: sessionID,
					Status:    ev.WorkflowStatus.String(),
				})
				c.tracker.SetActiveSession(sessionID)
				c.store.Notify(status.LevelInfo, msgPlanningStarted)
			}
		}
		if a := streamActivity(ev); a != nil {
			a.UserID = userID
			a.SessionID = sessionID
			c.publish(c.bg, a)
		}
	}
	return sessionID, nil
}

func streamActivity(ev *autonom.StreamEvent) *domain.ActivityEvent {
	a := &domain.ActivityEvent{Status: ev.WorkflowStatus.String(), Data: ev.Raw}
	switch ev.Type {
	case autonom.EventToolCall:
		a.Type = domain.ActivityStreamToolCall
		names := make([]string, 0, len(ev.Calls))
		for _, call := range ev.Calls {
			names = append(names, call.Name)
		}
		a.Text = strings.Join(names, ", ")
	case autonom.EventToolResponse:
		a.Type = domain.ActivityStreamToolResponse
		names := make([]string, 0, len(ev.Responses))
		for _, resp := range ev.Responses {
			names = append(names, resp.Name)
		}
		a.Text = strings.Join(names, ", ")
	case autonom.EventTextResponse:
		a.Type = domain.ActivityStreamText
		a.Text = ev.Text
		if a.Text == "" {
			a.Text = ev.Message
		}
	default:
		return nil
	}
	return a
}

// DismissModal closes the approval prompt without answering and resumes
// polling so the session keeps being observed.
func (c *Controller) DismissModal() {
	c.store.CloseModal()
	c.tracker.Resume()
}

// OpenApproval reopens the approval prompt for a session from the history
// list. The session becomes the tracked one and polling pauses while the
// prompt is open.
func (c *Controller) OpenApproval(sessionID string) error {
	sess, ok := session.Find(c.store.History(), sessionID)
	if !ok {
		if snap := c.store.Snapshot(); snap.CurrentSession != nil && snap.CurrentSession.ID == sessionID {
			sess, ok = *snap.CurrentSession, true
		}
	}
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrNoSession)
	}
	// Finished sessions keep their verification message; only a session
	// still waiting on the user may reopen the prompt.
	if !session.NeedsApproval(sess) {
		c.store.Notify(status.LevelWarning, msgNoApproval)
		return ErrNoApproval
	}
	message := session.VerificationMessage(sess)

	c.tracker.SetActiveSession(sessionID)
	if err := c.store.ShowApprovalModal(sessionID, message, session.MealChoices(sess)); err != nil {
		return err
	}
	c.tracker.Pause()
	return nil
}

// ActiveSessions lists the current user's unfinished sessions, newest first.
func (c *Controller) ActiveSessions(ctx context.Context) ([]status.SessionSummary, error) {
	userID := c.tracker.User()
	if userID == "" {
		return nil, ErrNoUser
	}
	sessions, err := c.backend.ListActiveSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return status.SummarizeAll(session.SortNewestFirst(sessions)), nil
}

// DismissCelebration closes the order confirmation.
func (c *Controller) DismissCelebration() {
	c.store.DismissCelebration()
}

// Activity lists recorded activity, newest first.
func (c *Controller) Activity(ctx context.Context, opts ports.ActivityListOptions) ([]*domain.ActivityEvent, error) {
	events, err := c.storage.ListActivity(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	return events, nil
}

func (c *Controller) publish(ctx context.Context, event *domain.ActivityEvent) {
	if c.publisher == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = c.now().UTC()
	}
	if err := c.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		c.logger.Warn("publish activity failed",
			slog.String("type", string(event.Type)),
			slog.String("error", err.Error()))
	}
}
