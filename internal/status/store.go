// Package status holds the renderable state of the console: the headline for
// the tracked session, the approval modal, the order celebration, the session
// history and user-facing notifications.
//
// The Store only exposes composite transitions so that renderers never
// observe half-applied combinations such as an open modal without a message.
package status

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/tjfontaine/autonom-console/internal/session"
	"github.com/tjfontaine/autonom-console/internal/workflow"
)

// ErrEmptyMessage is returned when an approval modal is requested without a prompt.
var ErrEmptyMessage = errors.New("approval message is empty")

// DefaultConfirmationMessage is shown when an order is confirmed without details.
const DefaultConfirmationMessage = "Your meal order has been successfully placed!"

const maxNotifications = 20

var processingDisplay = workflow.Display{
	Title:    "Processing Your Response",
	Subtitle: "The agent is continuing with your selection...",
	IsActive: true,
}

// Level classifies a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a non-blocking message for the user.
type Notification struct {
	ID    uint64    `json:"id"`
	Level Level     `json:"level"`
	Text  string    `json:"text"`
	Time  time.Time `json:"time"`
}

// Modal is the approval prompt.
type Modal struct {
	Open        bool                 `json:"open"`
	Message     string               `json:"message"`
	MealChoices []session.MealChoice `json:"meal_choices"`
	SessionID   string               `json:"session_id,omitempty"`
}

// Celebration is the one-time order confirmation overlay.
type Celebration struct {
	Open            bool                       `json:"open"`
	Confirmation    *session.OrderConfirmation `json:"confirmation,omitempty"`
	ShownForSession string                     `json:"shown_for_session,omitempty"`
}

// Snapshot is an immutable copy of the store contents.
type Snapshot struct {
	Version uint64 `json:"version"`

	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	IsActive bool   `json:"is_active"`
	Progress int    `json:"progress"`

	ActiveSessionID string           `json:"active_session_id,omitempty"`
	CurrentSession  *session.Session `json:"current_session,omitempty"`
	WorkflowStatus  workflow.Status  `json:"workflow_status,omitempty"`

	Modal            Modal             `json:"modal"`
	Celebration      Celebration       `json:"celebration"`
	History          []session.Session `json:"history"`
	Sessions         []SessionSummary  `json:"sessions"`
	FeedbackReceived bool              `json:"feedback_received"`
	Notifications    []Notification    `json:"notifications"`
}

// Store is the single mutable point of truth for renderable state.
type Store struct {
	mu     sync.RWMutex
	state  Snapshot
	nextID uint64
	now    func() time.Time

	subMu sync.Mutex
	subs  map[chan struct{}]struct{}
}

// NewStore creates a store showing the idle headline.
func NewStore() *Store {
	s := &Store{
		now:  time.Now,
		subs: make(map[chan struct{}]struct{}),
	}
	s.state.History = []session.Session{}
	s.state.Sessions = []SessionSummary{}
	s.state.Notifications = []Notification{}
	s.state.Modal.MealChoices = []session.MealChoice{}
	s.setDisplay(workflow.DisplayFor(""), 0)
	return s
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.state
	snap.History = slices.Clone(s.state.History)
	snap.Sessions = slices.Clone(s.state.Sessions)
	snap.Notifications = slices.Clone(s.state.Notifications)
	snap.Modal.MealChoices = slices.Clone(s.state.Modal.MealChoices)
	if s.state.CurrentSession != nil {
		cur := *s.state.CurrentSession
		snap.CurrentSession = &cur
	}
	if c := s.state.Celebration.Confirmation; c != nil {
		cp := *c
		cp.Orders = slices.Clone(c.Orders)
		if c.Bill != nil {
			bill := *c.Bill
			bill.Items = slices.Clone(c.Bill.Items)
			cp.Bill = &bill
		}
		snap.Celebration.Confirmation = &cp
	}
	return snap
}

// Subscribe returns a channel that receives a signal after every change.
// Signals coalesce: a slow reader sees at most one pending signal and should
// read a fresh Snapshot when woken. Call cancel to release the subscription.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, ch)
			s.subMu.Unlock()
		})
	}
	return ch, cancel
}

// update applies fn under the write lock and wakes subscribers.
func (s *Store) update(fn func()) {
	s.mu.Lock()
	fn()
	s.state.Version++
	s.mu.Unlock()
	s.broadcast()
}

func (s *Store) broadcast() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Store) setDisplay(d workflow.Display, progress int) {
	s.state.Title = d.Title
	s.state.Subtitle = d.Subtitle
	s.state.IsActive = d.IsActive
	s.state.Progress = progress
}

// ModalOpen reports whether the approval modal is showing.
func (s *Store) ModalOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Modal.Open
}

// ShowApprovalModal opens the approval prompt for a session and switches the
// headline to "awaiting approval". A fresh prompt has not been answered yet,
// so the feedback marker is cleared.
func (s *Store) ShowApprovalModal(sessionID, message string, choices []session.MealChoice) error {
	if message == "" {
		return ErrEmptyMessage
	}
	if choices == nil {
		choices = []session.MealChoice{}
	}
	s.update(func() {
		s.setDisplay(workflow.DisplayFor(workflow.AwaitingUserApproval), workflow.ProgressFor(workflow.AwaitingUserApproval))
		s.state.Modal = Modal{
			Open:        true,
			Message:     message,
			MealChoices: slices.Clone(choices),
			SessionID:   sessionID,
		}
		s.state.FeedbackReceived = false
	})
	return nil
}

// CloseModal hides the modal and drops its content in the same step.
func (s *Store) CloseModal() {
	s.update(func() {
		s.state.Modal = Modal{MealChoices: []session.MealChoice{}}
	})
}

// MarkFeedbackReceived is applied the moment the user submits a response,
// before the backend has acknowledged it. It returns the modal that was
// closed so the caller can restore it if the submission fails.
func (s *Store) MarkFeedbackReceived(message string) Modal {
	var closed Modal
	s.update(func() {
		closed = s.state.Modal
		if closed.Message == "" {
			closed.Message = message
		}
		s.state.Modal = Modal{MealChoices: []session.MealChoice{}}
		s.state.FeedbackReceived = true
		s.setDisplay(processingDisplay, s.state.Progress)
	})
	return closed
}

// RevertFeedback undoes MarkFeedbackReceived after a failed submission by
// reopening the prompt the user was answering.
func (s *Store) RevertFeedback(previous Modal) {
	s.update(func() {
		s.state.FeedbackReceived = false
		if previous.Message == "" {
			s.setDisplay(workflow.DisplayFor(s.state.WorkflowStatus), workflow.ProgressFor(s.state.WorkflowStatus))
			return
		}
		previous.Open = true
		previous.MealChoices = slices.Clone(previous.MealChoices)
		if previous.MealChoices == nil {
			previous.MealChoices = []session.MealChoice{}
		}
		s.state.Modal = previous
		s.setDisplay(workflow.DisplayFor(workflow.AwaitingUserApproval), workflow.ProgressFor(workflow.AwaitingUserApproval))
	})
}

// ShowOrderConfirmation opens the celebration for a session. It does nothing
// if the celebration was already shown for that session and reports whether
// it was shown now.
func (s *Store) ShowOrderConfirmation(sessionID string, confirmation *session.OrderConfirmation) bool {
	shown := false
	s.update(func() {
		if s.state.Celebration.ShownForSession == sessionID {
			return
		}
		if confirmation == nil {
			confirmation = &session.OrderConfirmation{Message: DefaultConfirmationMessage}
		}
		s.setDisplay(workflow.DisplayFor(workflow.OrderConfirmed), workflow.ProgressFor(workflow.OrderConfirmed))
		s.state.Celebration = Celebration{
			Open:            true,
			Confirmation:    confirmation,
			ShownForSession: sessionID,
		}
		shown = true
	})
	return shown
}

// DismissCelebration hides the celebration but remembers which session it
// was shown for.
func (s *Store) DismissCelebration() {
	s.update(func() {
		s.state.Celebration.Open = false
	})
}

// ResetForNewSession clears per-session fields when tracking moves to a
// different session.
func (s *Store) ResetForNewSession() {
	s.update(func() {
		s.state.FeedbackReceived = false
		s.state.CurrentSession = nil
		s.state.WorkflowStatus = ""
	})
}

// SetActiveSessionID mirrors the synchronizer's tracked session id.
func (s *Store) SetActiveSessionID(id string) {
	s.update(func() {
		s.state.ActiveSessionID = id
	})
}

// ApplySessionState records the latest observation of the tracked session:
// the snapshot, its status, its entry in the history and the headline. While
// a submitted response is still waiting on the backend the "processing"
// headline is kept.
func (s *Store) ApplySessionState(sess session.Session, st workflow.Status) {
	s.update(func() {
		cur := sess
		s.state.CurrentSession = &cur
		s.state.WorkflowStatus = st
		s.state.History = session.Merge(s.state.History, sess)
		s.state.Sessions = SummarizeAll(s.state.History)

		if s.state.FeedbackReceived && st == workflow.AwaitingUserApproval {
			s.setDisplay(processingDisplay, workflow.ProgressFor(st))
			return
		}
		s.setDisplay(workflow.DisplayFor(st), workflow.ProgressFor(st))
	})
}

// SetHistory replaces the session history.
func (s *Store) SetHistory(history []session.Session) {
	s.update(func() {
		s.state.History = slices.Clone(history)
		if s.state.History == nil {
			s.state.History = []session.Session{}
		}
		s.state.Sessions = SummarizeAll(s.state.History)
	})
}

// History returns a copy of the session history.
func (s *Store) History() []session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.state.History)
}

// ClearSession returns the headline to idle after tracking stops.
func (s *Store) ClearSession() {
	s.update(func() {
		s.state.ActiveSessionID = ""
		s.state.CurrentSession = nil
		s.state.WorkflowStatus = ""
		s.state.FeedbackReceived = false
		if !s.state.Celebration.Open {
			s.setDisplay(workflow.DisplayFor(""), 0)
		}
	})
}

// Notify queues a user-facing notification and returns its id.
func (s *Store) Notify(level Level, text string) uint64 {
	var id uint64
	s.update(func() {
		s.nextID++
		id = s.nextID
		s.state.Notifications = append(s.state.Notifications, Notification{
			ID:    id,
			Level: level,
			Text:  text,
			Time:  s.now(),
		})
		if n := len(s.state.Notifications); n > maxNotifications {
			s.state.Notifications = slices.Clone(s.state.Notifications[n-maxNotifications:])
		}
	})
	return id
}

// DismissNotification removes a notification by id.
func (s *Store) DismissNotification(id uint64) {
	s.update(func() {
		s.state.Notifications = slices.DeleteFunc(s.state.Notifications, func(n Notification) bool {
			return n.ID == id
		})
	})
}
