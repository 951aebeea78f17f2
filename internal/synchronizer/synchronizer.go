// Package synchronizer keeps the status store in step with the backend by
// polling either the user's session history or the state of the one session
// being tracked. Exactly one of the two loops is armed at any time.
package synchronizer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tjfontaine/autonom-console/internal/api/autonom"
	"github.com/tjfontaine/autonom-console/internal/core/domain"
	"github.com/tjfontaine/autonom-console/internal/core/ports"
	"github.com/tjfontaine/autonom-console/internal/session"
	"github.com/tjfontaine/autonom-console/internal/status"
	"github.com/tjfontaine/autonom-console/internal/workflow"
)

// Client is the part of the backend API the synchronizer polls.
type Client interface {
	ListSessions(ctx context.Context, userID string) ([]session.Session, error)
	GetSessionState(ctx context.Context, userID, sessionID string) (session.Session, error)
}

// Metrics receives polling observations.
type Metrics interface {
	ObserveTick(loop string, d time.Duration, err error)
	ObserveTransition(from, to workflow.Status)
}

type nopMetrics struct{}

func (nopMetrics) ObserveTick(string, time.Duration, error) {}
func (nopMetrics) ObserveTransition(workflow.Status, workflow.Status) {}

// Loop identifies which polling loop is armed.
type Loop int

const (
	LoopNone Loop = iota
	LoopHistory
	LoopSession
)

func (l Loop) String() string {
	switch l {
	case LoopHistory:
		return "history"
	case LoopSession:
		return "session"
	default:
		return "none"
	}
}

// Intervals controls polling cadence.
type Intervals struct {
	History            time.Duration
	Session            time.Duration
	ResumeDelay        time.Duration
	CelebrationDisplay time.Duration
}

// DefaultIntervals returns the cadence used when none is configured.
func DefaultIntervals() Intervals {
	return Intervals{
		History:            15 * time.Second,
		Session:            4 * time.Second,
		ResumeDelay:        4 * time.Second,
		CelebrationDisplay: 10 * time.Second,
	}
}

func (iv Intervals) withDefaults() Intervals {
	def := DefaultIntervals()
	if iv.History <= 0 {
		iv.History = def.History
	}
	if iv.Session <= 0 {
		iv.Session = def.Session
	}
	if iv.ResumeDelay < 0 {
		iv.ResumeDelay = 0
	}
	return iv
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synchronizer) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(s *Synchronizer) {
		s.metrics = m
	}
}

// WithPublisher sets where activity events are published.
func WithPublisher(p ports.EventPublisher) Option {
	return func(s *Synchronizer) {
		s.publisher = p
	}
}

// WithIntervals sets the polling cadence.
func WithIntervals(iv Intervals) Option {
	return func(s *Synchronizer) {
		s.intervals = iv.withDefaults()
	}
}

// Synchronizer drives the history and session-state polling loops and is the
// only writer of the store's workflow fields.
type Synchronizer struct {
	client    Client
	store     *status.Store
	logger    *slog.Logger
	metrics   Metrics
	publisher ports.EventPublisher

	mu              sync.Mutex
	base            context.Context
	stopped         bool
	userID          string
	activeSessionID string
	previous        workflow.Status
	ended           map[string]struct{}
	intervals       Intervals

	// gen changes whenever the armed loop or the tracked session changes.
	// Tick results carrying an older generation are discarded.
	gen         uint64
	loop        Loop
	cancel      context.CancelFunc
	resumeTimer *time.Timer
	dismissTmr  *time.Timer

	wg sync.WaitGroup
}

// New creates a Synchronizer. No loop runs until Start is called.
func New(client Client, store *status.Store, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		client:    client,
		store:     store,
		logger:    slog.Default(),
		metrics:   nopMetrics{},
		ended:     make(map[string]struct{}),
		intervals: DefaultIntervals(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "synchronizer")
	return s
}

// Start arms the loop matching the current selection. Loops run until ctx is
// cancelled or Stop is called.
func (s *Synchronizer) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.base = ctx
	s.stopped = false
	s.reconcileLocked()
}

// Stop cancels both loops and any pending timers and waits for in-flight
// ticks to return.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.stopLoopLocked()
	s.stopTimersLocked()
	s.mu.Unlock()

	s.wg.Wait()
}

// SetUser switches the tracked user. Tracking restarts from the user's
// history.
func (s *Synchronizer) SetUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if userID == s.userID {
		return
	}
	s.stopLoopLocked()
	s.stopTimersLocked()
	s.userID = userID
	s.activeSessionID = ""
	s.previous = ""
	clear(s.ended)

	s.store.ClearSession()
	s.store.SetHistory(nil)
	s.logger.Info("tracking user", slog.String("user_id", userID))
	s.reconcileLocked()
}

// SetActiveSession switches the tracked session. An empty id hands control
// back to the history loop.
func (s *Synchronizer) SetActiveSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setActiveSessionLocked(sessionID)
}

// ActiveSession returns the tracked session id.
func (s *Synchronizer) ActiveSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeSessionID
}

// User returns the tracked user id.
func (s *Synchronizer) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Loop returns the armed loop.
func (s *Synchronizer) Loop() Loop {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loop
}

// SetIntervals changes the polling cadence. An armed loop picks up the new
// interval immediately.
func (s *Synchronizer) SetIntervals(iv Intervals) {
	s.mu.Lock()
	defer s.mu.Unlock()

	iv = iv.withDefaults()
	if iv == s.intervals {
		return
	}
	s.intervals = iv
	s.logger.Info("polling intervals updated",
		slog.Duration("history", iv.History),
		slog.Duration("session", iv.Session),
		slog.Duration("resume_delay", iv.ResumeDelay))

	if s.loop != LoopNone {
		s.startLoopLocked(s.loop)
	}
}

// ResumeAfterFeedback re-arms the session loop after the resume delay, giving
// the backend time to act on the user's response. Nothing happens if a loop
// was armed in the meantime or tracking moved to another session.
func (s *Synchronizer) ResumeAfterFeedback() {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionID := s.activeSessionID
	if sessionID == "" {
		return
	}
	if s.resumeTimer != nil {
		s.resumeTimer.Stop()
	}
	s.resumeTimer = time.AfterFunc(s.intervals.ResumeDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.stopped || s.loop != LoopNone || s.activeSessionID != sessionID {
			return
		}
		s.logger.Info("resuming polling after feedback", slog.String("session_id", sessionID))
		s.startLoopLocked(LoopSession)
	})
}

// Resume re-arms the session loop immediately, e.g. after the user dismissed
// the approval modal without answering.
func (s *Synchronizer) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loop != LoopNone || s.activeSessionID == "" {
		return
	}
	s.startLoopLocked(LoopSession)
}

// Pause disarms the session loop and cancels a pending resume. It is used
// when the approval modal is shown again.
func (s *Synchronizer) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resumeTimer != nil {
		s.resumeTimer.Stop()
		s.resumeTimer = nil
	}
	if s.loop == LoopSession {
		s.logger.Info("pausing session polling", slog.String("session_id", s.activeSessionID))
		s.stopLoopLocked()
	}
}

func (s *Synchronizer) setActiveSessionLocked(sessionID string) {
	if sessionID == s.activeSessionID {
		return
	}
	s.stopLoopLocked()
	if s.resumeTimer != nil {
		s.resumeTimer.Stop()
		s.resumeTimer = nil
	}
	s.activeSessionID = sessionID
	s.previous = ""

	if sessionID == "" {
		s.logger.Info("no active session, tracking history")
		s.store.ClearSession()
	} else {
		s.logger.Info("tracking session", slog.String("session_id", sessionID))
		delete(s.ended, sessionID)
		s.store.ResetForNewSession()
		s.store.SetActiveSessionID(sessionID)
	}
	s.reconcileLocked()
}

// reconcileLocked arms the loop that matches the current selection.
func (s *Synchronizer) reconcileLocked() {
	switch {
	case s.userID == "":
		s.stopLoopLocked()
	case s.activeSessionID == "":
		s.startLoopLocked(LoopHistory)
	default:
		s.startLoopLocked(LoopSession)
	}
}

// startLoopLocked stops whatever loop is armed and arms kind in its place.
func (s *Synchronizer) startLoopLocked(kind Loop) {
	s.stopLoopLocked()
	if s.base == nil || s.stopped {
		return
	}

	interval := s.intervals.History
	if kind == LoopSession {
		interval = s.intervals.Session
	}

	ctx, cancel := context.WithCancel(s.base)
	s.loop = kind
	s.cancel = cancel
	gen := s.gen

	s.wg.Add(1)
	go s.run(ctx, kind, gen, interval)
}

func (s *Synchronizer) stopLoopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.loop = LoopNone
	s.gen++
}

func (s *Synchronizer) stopTimersLocked() {
	if s.resumeTimer != nil {
		s.resumeTimer.Stop()
		s.resumeTimer = nil
	}
	if s.dismissTmr != nil {
		s.dismissTmr.Stop()
		s.dismissTmr = nil
	}
}

// run ticks immediately and then on every interval. Ticks execute on this
// goroutine only, so a slow fetch delays the next tick instead of overlapping it.
func (s *Synchronizer) run(ctx context.Context, kind Loop, gen uint64, interval time.Duration) {
	defer s.wg.Done()

	tick := s.pollHistory
	if kind == LoopSession {
		tick = s.pollSession
	}

	tick(ctx, gen)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx, gen)
		}
	}
}

func (s *Synchronizer) currentGen() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// pollHistory refreshes the session history and adopts an unfinished session.
func (s *Synchronizer) pollHistory(ctx context.Context, gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.userID == "" {
		s.mu.Unlock()
		return
	}
	userID := s.userID
	s.mu.Unlock()

	start := time.Now()
	sessions, err := s.client.ListSessions(ctx, userID)
	s.metrics.ObserveTick(LoopHistory.String(), time.Since(start), err)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || ctx.Err() != nil {
		s.logger.Debug("discarding stale history result")
		return
	}
	if err != nil {
		s.logger.Error("history poll failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		return
	}

	sorted := session.SortNewestFirst(sessions)
	s.store.SetHistory(sorted)

	if s.activeSessionID != "" {
		return
	}
	for _, candidate := range sorted {
		if candidate.ID == "" || session.WorkflowStatus(candidate).Terminal() {
			continue
		}
		if _, gone := s.ended[candidate.ID]; gone {
			continue
		}
		s.logger.Info("resuming unfinished session from history", slog.String("session_id", candidate.ID))
		s.setActiveSessionLocked(candidate.ID)
		return
	}
}

// pollSession fetches the tracked session and applies at most one transition.
func (s *Synchronizer) pollSession(ctx context.Context, gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.userID == "" || s.activeSessionID == "" {
		s.mu.Unlock()
		return
	}
	userID, sessionID := s.userID, s.activeSessionID
	s.mu.Unlock()

	start := time.Now()
	sess, err := s.client.GetSessionState(ctx, userID, sessionID)
	notFound := errors.Is(err, autonom.ErrNotFound)
	if notFound {
		s.metrics.ObserveTick(LoopSession.String(), time.Since(start), nil)
	} else {
		s.metrics.ObserveTick(LoopSession.String(), time.Since(start), err)
	}

	var events []*domain.ActivityEvent

	s.mu.Lock()
	if gen != s.gen || ctx.Err() != nil {
		s.mu.Unlock()
		s.logger.Debug("discarding stale session result", slog.String("session_id", sessionID))
		return
	}
	switch {
	case notFound:
		s.logger.Info("session ended", slog.String("session_id", sessionID))
		s.ended[sessionID] = struct{}{}
		events = append(events, s.event(domain.ActivitySessionEnded, sessionID, "", ""))
		s.setActiveSessionLocked("")
	case err != nil:
		s.logger.Error("session poll failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	case !session.HasState(sess):
		s.logger.Debug("session has no state yet", slog.String("session_id", sessionID))
	default:
		events = s.applyLocked(sessionID, sess)
	}
	s.mu.Unlock()

	s.publish(ctx, events)
}

// applyLocked runs one session-state observation through the store.
func (s *Synchronizer) applyLocked(sessionID string, sess session.Session) []*domain.ActivityEvent {
	var events []*domain.ActivityEvent

	if sess.ID == "" {
		sess.ID = sessionID
	}
	current := session.WorkflowStatus(sess)
	previous := s.previous

	if current != previous {
		s.metrics.ObserveTransition(previous, current)
		if previous != "" && !workflow.CanTransition(previous, current) {
			s.logger.Warn("unexpected workflow transition",
				slog.String("session_id", sessionID),
				slog.String("from", previous.String()),
				slog.String("to", current.String()))
		}
		events = append(events, s.event(domain.ActivityStatusChanged, sessionID, current, workflow.DisplayFor(current).Title))
	}

	s.store.ApplySessionState(sess, current)

	switch current {
	case workflow.AwaitingUserApproval:
		if previous != workflow.MealPlanningComplete || s.store.ModalOpen() {
			break
		}
		message := session.VerificationMessage(sess)
		if message == "" {
			break
		}
		if err := s.store.ShowApprovalModal(sessionID, message, session.MealChoices(sess)); err != nil {
			s.logger.Error("failed to show approval modal", slog.String("error", err.Error()))
			break
		}
		s.logger.Info("approval requested, pausing session polling", slog.String("session_id", sessionID))
		ev := s.event(domain.ActivityApprovalRequested, sessionID, current, message)
		if data, err := json.Marshal(session.MealChoices(sess)); err == nil {
			ev.Data = data
		}
		events = append(events, ev)
		s.stopLoopLocked()

	case workflow.OrderConfirmed:
		confirmation := session.OrderConfirmationFor(sess)
		if s.store.ShowOrderConfirmation(sessionID, confirmation) {
			text := status.DefaultConfirmationMessage
			if confirmation != nil && confirmation.Message != "" {
				text = confirmation.Message
			}
			events = append(events, s.event(domain.ActivityOrderConfirmed, sessionID, current, text))
			s.scheduleDismissLocked()
		}
		s.logger.Info("order confirmed, returning to history", slog.String("session_id", sessionID))
		s.setActiveSessionLocked("")
		return events
	}

	s.previous = current
	return events
}

func (s *Synchronizer) scheduleDismissLocked() {
	d := s.intervals.CelebrationDisplay
	if d <= 0 {
		return
	}
	if s.dismissTmr != nil {
		s.dismissTmr.Stop()
	}
	s.dismissTmr = time.AfterFunc(d, s.store.DismissCelebration)
}

func (s *Synchronizer) event(typ domain.ActivityEventType, sessionID string, st workflow.Status, text string) *domain.ActivityEvent {
	return &domain.ActivityEvent{
		Type:      typ,
		UserID:    s.userID,
		SessionID: sessionID,
		Status:    st.String(),
		Text:      text,
		Timestamp: time.Now(),
	}
}

func (s *Synchronizer) publish(ctx context.Context, events []*domain.ActivityEvent) {
	if s.publisher == nil || len(events) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, ev := range events {
		if err := s.publisher.Publish(ctx, ev); err != nil {
			s.logger.Warn("failed to publish activity event",
				slog.String("type", string(ev.Type)),
				slog.String("error", err.Error()))
		}
	}
}
