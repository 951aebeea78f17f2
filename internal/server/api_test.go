package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/autonom-console/internal/api/autonom"
	"github.com/tjfontaine/autonom-console/internal/auth"
	"github.com/tjfontaine/autonom-console/internal/controller"
	"github.com/tjfontaine/autonom-console/internal/core/domain"
	"github.com/tjfontaine/autonom-console/internal/core/ports"
	"github.com/tjfontaine/autonom-console/internal/profile"
	"github.com/tjfontaine/autonom-console/internal/status"
	"github.com/tjfontaine/autonom-console/internal/telemetry"
)

type fakeActions struct {
	user        string
	saveErr     error
	planResult  *autonom.TriggerResult
	planErr     error
	planDay     string
	submitted   string
	submitErr   error
	approvalErr error
	dismissed   int
	activityOpt ports.ActivityListOptions
	active      []status.SessionSummary
	activeErr   error
}

func (f *fakeActions) CurrentUser() string { return f.user }

func (f *fakeActions) ListUsers(context.Context) ([]profile.Profile, error) {
	return []profile.Profile{{UserID: "user_1", Name: "Ana"}}, nil
}

func (f *fakeActions) SelectUser(_ context.Context, id string) (string, error) {
	if id == "" {
		return "", controller.ErrNoUser
	}
	f.user = id
	return id, nil
}

func (f *fakeActions) SaveProfile(_ context.Context, p profile.Profile) (profile.Profile, error) {
	if f.saveErr != nil {
		return profile.Profile{}, f.saveErr
	}
	if err := p.Validate(); err != nil {
		return profile.Profile{}, err
	}
	p.UserID = "user_2"
	return p, nil
}

func (f *fakeActions) PlanNow(_ context.Context, mealType, day string) (*autonom.TriggerResult, error) {
	f.planDay = day
	return f.planResult, f.planErr
}

func (f *fakeActions) SubmitResponse(_ context.Context, text string) error {
	if text == "" {
		return controller.ErrEmptyResponse
	}
	f.submitted = text
	return f.submitErr
}

func (f *fakeActions) DismissModal() { f.dismissed++ }

func (f *fakeActions) OpenApproval(string) error { return f.approvalErr }

func (f *fakeActions) DismissCelebration() { f.dismissed++ }

func (f *fakeActions) ActiveSessions(context.Context) ([]status.SessionSummary, error) {
	return f.active, f.activeErr
}

func (f *fakeActions) Activity(_ context.Context, opts ports.ActivityListOptions) ([]*domain.ActivityEvent, error) {
	f.activityOpt = opts
	return nil, nil
}

func newTestServer(t *testing.T, keys ...auth.Key) (*Server, *fakeActions, *status.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	actions := &fakeActions{}
	store := status.NewStore()
	metrics := telemetry.NewMetrics()

	s := New(8080, logger, auth.NewAuthenticator(keys), metrics)
	api := NewAPI(actions, store, metrics, logger)
	api.heartbeat = 20 * time.Millisecond
	s.Mount(api)
	return s, actions, store
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "autonom_http_requests_total")
}

func TestGetStatus(t *testing.T) {
	s, _, store := newTestServer(t)
	store.Notify(status.LevelInfo, "hello")

	rec := do(t, s, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap status.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "No Active Session", snap.Title)
	require.Len(t, snap.Notifications, 1)

	rec = do(t, s, http.MethodPost, "/api/notifications/1/dismiss", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, store.Snapshot().Notifications)

	rec = do(t, s, http.MethodPost, "/api/notifications/abc/dismiss", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUsersRoutes(t *testing.T) {
	s, actions, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"user_1"`)

	rec = do(t, s, http.MethodPut, "/api/users/current", `{"user_id":"user_1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user_1", actions.user)

	rec = do(t, s, http.MethodGet, "/api/users/current", "")
	assert.JSONEq(t, `{"user_id":"user_1"}`, rec.Body.String())

	rec = do(t, s, http.MethodPut, "/api/users/current", `{"user_id":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/users", `{"name":"Ana"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "profile without meal slots")

	rec = do(t, s, http.MethodPost, "/api/users", `{"name":"Ana","meals":[{"type":"Lunch"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"user_2"`)

	actions.saveErr = &autonom.APIError{StatusCode: http.StatusInternalServerError, Message: "db down"}
	rec = do(t, s, http.MethodPost, "/api/users", `{"name":"Ana","meals":[{"type":"Lunch"}]}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/users", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlanMeal(t *testing.T) {
	s, actions, _ := newTestServer(t)

	actions.planResult = &autonom.TriggerResult{SessionID: "s1", WorkflowStatus: "MEAL_PLANNING_STARTED"}
	rec := do(t, s, http.MethodPost, "/api/meals/Lunch/plan?day=th", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"session_id":"s1"`)
	assert.Equal(t, "th", actions.planDay)

	actions.planResult = nil
	rec = do(t, s, http.MethodPost, "/api/meals/Lunch/plan", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	actions.planErr = controller.ErrNoUser
	rec = do(t, s, http.MethodPost, "/api/meals/Lunch/plan", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeedbackAndModal(t *testing.T) {
	s, actions, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/feedback", `{"response":"Pizza please"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "Pizza please", actions.submitted)

	rec = do(t, s, http.MethodPost, "/api/feedback", `{"response":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	actions.submitErr = controller.ErrNoSession
	rec = do(t, s, http.MethodPost, "/api/feedback", `{"response":"Salad"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodPost, "/api/modal/dismiss", "").Code)
	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodPost, "/api/celebration/dismiss", "").Code)
	assert.Equal(t, 2, actions.dismissed)
}

func TestOpenApproval(t *testing.T) {
	s, actions, _ := newTestServer(t)

	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodPost, "/api/sessions/s1/approval", "").Code)

	actions.approvalErr = controller.ErrNoApproval
	assert.Equal(t, http.StatusConflict, do(t, s, http.MethodPost, "/api/sessions/s1/approval", "").Code)

	actions.approvalErr = errors.Join(errors.New("session s9"), controller.ErrNoSession)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPost, "/api/sessions/s9/approval", "").Code)
}

func TestListActiveSessions(t *testing.T) {
	s, actions, _ := newTestServer(t)
	actions.active = []status.SessionSummary{{SessionID: "s2", Label: "Awaiting Approval", NeedsApproval: true}}

	rec := do(t, s, http.MethodGet, "/api/sessions/active", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []status.SessionSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, actions.active, got)

	actions.activeErr = controller.ErrNoUser
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/sessions/active", "").Code)
}

func TestStatusForBackendErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unavailable", &autonom.APIError{StatusCode: http.StatusServiceUnavailable}, http.StatusServiceUnavailable},
		{"rate limited", &autonom.APIError{StatusCode: http.StatusTooManyRequests}, http.StatusServiceUnavailable},
		{"rejected", &autonom.APIError{StatusCode: http.StatusUnprocessableEntity}, http.StatusBadGateway},
		{"backend bug", &autonom.APIError{StatusCode: http.StatusInternalServerError}, http.StatusBadGateway},
		{"wrapped", fmt.Errorf("list active sessions: %w", &autonom.APIError{StatusCode: http.StatusBadGateway}), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestListActivity(t *testing.T) {
	s, actions, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/activity?session_id=s1&limit=5&offset=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Equal(t, ports.ActivityListOptions{SessionID: "s1", Limit: 5, Offset: 10}, actions.activityOpt)

	rec = do(t, s, http.MethodGet, "/api/activity?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIRequiresKeyWhenConfigured(t *testing.T) {
	s, _, _ := newTestServer(t, auth.Key{KeyHash: auth.HashAPIKey("secret"), Description: "test"})

	rec := do(t, s, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", "").Code, "health stays open")
}

func TestStatusStream(t *testing.T) {
	s, _, store := newTestServer(t)
	ts := httptest.NewServer(s.Router)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/status/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	next := func() status.Snapshot {
		t.Helper()
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if data, ok := strings.CutPrefix(strings.TrimRight(line, "\n"), "data: "); ok {
				var snap status.Snapshot
				require.NoError(t, json.Unmarshal([]byte(data), &snap))
				return snap
			}
		}
	}

	first := next()
	assert.Empty(t, first.Notifications)

	store.Notify(status.LevelSuccess, "Profile saved successfully!")
	second := next()
	require.Len(t, second.Notifications, 1)
	assert.Equal(t, "Profile saved successfully!", second.Notifications[0].Text)
	assert.Greater(t, second.Version, first.Version)
}
