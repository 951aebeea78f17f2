package autonom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/autonom-console/internal/session"
	"github.com/tjfontaine/autonom-console/internal/testutil"
	"github.com/tjfontaine/autonom-console/internal/workflow"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(WithBaseURL(srv.URL+"/"), WithHTTPClient(srv.Client()))
}

func TestListUsers(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/users" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("User-Agent"); got != defaultUserAgent {
			t.Errorf("User-Agent = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"id":"u1","name":"Tony","schedule":{"days":["m","w"],"meals":[{"type":"Lunch","start":"12:00","end":"13:00"}]}}]`)
	})

	users, err := c.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(users) != 1 || users[0].Name != "Tony" || len(users[0].Schedule.Meals) != 1 {
		t.Errorf("unexpected users: %+v", users)
	}
}

func TestSaveUserSendsBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var u User
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if r.Method != http.MethodPost || u.Name != "Pepper" {
			t.Errorf("unexpected save %s %+v", r.Method, u)
		}
		u.ID = "u2"
		json.NewEncoder(w).Encode(u)
	})

	saved, err := c.SaveUser(context.Background(), User{Name: "Pepper"})
	if err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}
	if saved.ID != "u2" {
		t.Errorf("saved.ID = %q, want u2", saved.ID)
	}
}

func TestListSessionsShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"wrapped", `{"sessions":[{"session_id":"s1"},{"session_id":"s2"}]}`},
		{"bare", `[{"session_id":"s1"},{"session_id":"s2"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/users/u1/sessions" {
					t.Errorf("path = %s", r.URL.Path)
				}
				io.WriteString(w, tt.body)
			})
			sessions, err := c.ListSessions(context.Background(), "u1")
			if err != nil {
				t.Fatalf("ListSessions failed: %v", err)
			}
			if len(sessions) != 2 || sessions[1].ID != "s2" {
				t.Errorf("unexpected sessions: %+v", sessions)
			}
		})
	}
}

func TestGetSessionStateNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users/u1/active-sessions/s1/state" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"detail":"Session not found"}`)
	})

	_, err := c.GetSessionState(context.Background(), "u1", "s1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "Session not found" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestGetSessionStateNullBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `null`)
	})
	if _, err := c.GetSessionState(context.Background(), "u1", "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestServerErrorIsTemporary(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := c.ListSessions(context.Background(), "u1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if !apiErr.Temporary() || errors.Is(err, ErrNotFound) {
		t.Errorf("unexpected classification for %v", apiErr)
	}
}

func TestTriggerPlan(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/api/users/u1/meals/Post-Patrol%20Meal/trigger" {
			t.Errorf("path = %s", r.URL.EscapedPath())
		}
		if r.URL.Query().Get("streaming") != "false" || r.URL.Query().Get("day") != "th" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		io.WriteString(w, `{"session_id":"s1","workflow_status":"STARTED"}`)
	})

	res, err := c.TriggerPlan(context.Background(), "u1", "Post-Patrol Meal", &TriggerOptions{Day: "th"})
	if err != nil {
		t.Fatalf("TriggerPlan failed: %v", err)
	}
	if res.SessionID != "s1" || res.WorkflowStatus != workflow.Started {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestSubmitResume(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		var req ResumeRequest
		json.NewDecoder(r.Body).Decode(&req)
		if r.URL.Path != "/api/sessions/s1/resume" || r.URL.Query().Get("streaming") != "false" || req.Choice != "the pizza" {
			t.Errorf("unexpected resume %s %+v", r.URL, req)
		}
		fmt.Fprintf(w, `{"session_id":"s1","workflow_status":"USER_APPROVAL_RECEIVED","user_choice":%q}`, req.Choice)
	}))
	defer srv.Close()
	c := NewClient(WithBaseURL(srv.URL), WithTokenSource(staticToken("secret")))

	res, err := c.SubmitResume(context.Background(), "s1", "the pizza")
	if err != nil {
		t.Fatalf("SubmitResume failed: %v", err)
	}
	if res.WorkflowStatus != workflow.UserApprovalReceived || len(res.UserChoice) != 1 || res.UserChoice[0] != "the pizza" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestChoicesUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{`"one"`, 1},
		{`""`, 0},
		{`["a","b"]`, 2},
		{`null`, 0},
	}
	for _, tt := range tests {
		var c Choices
		if err := json.Unmarshal([]byte(tt.in), &c); err != nil {
			t.Fatalf("Unmarshal(%s) failed: %v", tt.in, err)
		}
		if len(c) != tt.want {
			t.Errorf("Unmarshal(%s) len = %d, want %d", tt.in, len(c), tt.want)
		}
	}
}

func TestStreamTriggerPlan(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" || r.URL.Query().Get("streaming") != "true" {
			t.Errorf("unexpected stream request %s", r.URL)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "event: message\n")
		io.WriteString(w, `data: {"type":"ToolCall","calls":[{"name":"restaurant_scout_agent","arguments":{"request":"lunch"}}]}`+"\n\n")
		io.WriteString(w, `data: {"type":"ToolResponse","responses":[{"name":"restaurant_scout_agent","response":{"status":"success"}}]}`+"\n\n")
		io.WriteString(w, "data: thinking...\n\n")
		io.WriteString(w, `data: {"type":"TextResponse","isFinalResponse":true,"text":"Done"}`+"\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
		io.WriteString(w, `data: {"type":"TextResponse","text":"after sentinel"}`+"\n\n")
	})

	ch, err := c.StreamTriggerPlan(context.Background(), "u1", "Lunch", nil)
	if err != nil {
		t.Fatalf("StreamTriggerPlan failed: %v", err)
	}

	var events []*StreamEvent
	for res := range ch {
		if res.Err != nil {
			t.Fatalf("stream error: %v", res.Err)
		}
		events = append(events, res.Event)
	}

	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
	if events[0].Type != EventToolCall || events[0].Calls[0].Name != "restaurant_scout_agent" {
		t.Errorf("event 0 = %+v", events[0])
	}
	if events[1].Type != EventToolResponse || len(events[1].Responses) != 1 {
		t.Errorf("event 1 = %+v", events[1])
	}
	if events[2].Type != EventTextResponse || events[2].Text != "thinking..." {
		t.Errorf("event 2 = %+v", events[2])
	}
	if !events[3].IsFinalResponse || len(events[3].Raw) == 0 {
		t.Errorf("event 3 = %+v", events[3])
	}
}

func TestStreamFallsBackToJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"session_id":"s9","workflow_status":"STARTED"}`)
	})

	ch, err := c.StreamResume(context.Background(), "s9", "yes")
	if err != nil {
		t.Fatalf("StreamResume failed: %v", err)
	}
	res, ok := <-ch
	if !ok || res.Err != nil || res.Event.SessionID != "s9" {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, ok := <-ch; ok {
		t.Error("channel should close after the single result")
	}
}

func TestStreamCancelReleasesReader(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 0; ; i++ {
			if _, err := fmt.Fprintf(w, "data: {\"type\":\"TextResponse\",\"text\":\"%d\"}\n\n", i); err != nil {
				return
			}
			flusher.Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.StreamTriggerPlan(ctx, "u1", "Lunch", nil)
	if err != nil {
		t.Fatalf("StreamTriggerPlan failed: %v", err)
	}
	<-ch
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close after cancel")
		}
	}
}

func TestStreamErrorStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"detail":"unknown meal type"}`)
	})

	_, err := c.StreamTriggerPlan(context.Background(), "u1", "Brunch", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !strings.Contains(apiErr.Error(), "unknown meal type") {
		t.Fatalf("err = %v", err)
	}
}

func TestRecordedSessionFlow(t *testing.T) {
	rec, cleanup := testutil.NewVCRRecorder(t, "autonom_session_flow")
	defer cleanup()

	c := NewClient(WithBaseURL(testutil.RecordBaseURL), WithHTTPClient(testutil.VCRHTTPClient(rec)))
	ctx := context.Background()

	trig, err := c.TriggerPlan(ctx, "u1", "Lunch", nil)
	if err != nil {
		t.Fatalf("TriggerPlan failed: %v", err)
	}
	if trig.SessionID != "s1" || trig.WorkflowStatus != workflow.Started {
		t.Fatalf("unexpected trigger %+v", trig)
	}

	state, err := c.GetSessionState(ctx, "u1", trig.SessionID)
	if err != nil {
		t.Fatalf("GetSessionState failed: %v", err)
	}
	if session.WorkflowStatus(state) != workflow.AwaitingUserApproval {
		t.Errorf("status = %s", session.WorkflowStatus(state))
	}
	if session.VerificationMessage(state) != "Pick one" {
		t.Errorf("message = %q", session.VerificationMessage(state))
	}
	choices := session.MealChoices(state)
	if len(choices) != 1 || choices[0].MenuItemName != "Pizza" || choices[0].Price != 12.5 {
		t.Errorf("choices = %+v", choices)
	}

	res, err := c.SubmitResume(ctx, trig.SessionID, "Pizza please")
	if err != nil {
		t.Fatalf("SubmitResume failed: %v", err)
	}
	if res.WorkflowStatus != workflow.UserApprovalReceived {
		t.Errorf("resume status = %s", res.WorkflowStatus)
	}

	if _, err := c.GetSessionState(ctx, "u1", "gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
