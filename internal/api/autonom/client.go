// Package autonom is a client for the meal-ordering backend's REST and
// server-sent-event API.
package autonom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tidwall/gjson"

	"github.com/tjfontaine/autonom-console/internal/session"
)

const (
	defaultBaseURL   = "http://localhost:8000"
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "autonom-console/1.0"
)

// TokenSource supplies a bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets the backend base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout bounds non-streaming calls. Streams are bounded by their context only.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithTokenSource adds a bearer token to every request.
func WithTokenSource(ts TokenSource) ClientOption {
	return func(c *Client) {
		c.tokens = ts
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// Client talks to the backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	tokens     TokenSource
	userAgent  string
}

// NewClient creates a new backend client. Requests are traced through an
// otelhttp transport unless a custom HTTP client is supplied.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		timeout:    defaultTimeout,
		userAgent:  defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListUsers returns every user profile.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.doJSON(ctx, http.MethodGet, "/api/users", nil, &users); err != nil {
		return nil, err
	}
	if users == nil {
		users = []User{}
	}
	return users, nil
}

// SaveUser creates or updates a user profile and returns the stored copy.
func (c *Client) SaveUser(ctx context.Context, user User) (*User, error) {
	var saved User
	if err := c.doJSON(ctx, http.MethodPost, "/api/users", user, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

// ListSessions returns every session of a user.
func (c *Client) ListSessions(ctx context.Context, userID string) ([]session.Session, error) {
	return c.listSessions(ctx, "/api/users/"+url.PathEscape(userID)+"/sessions")
}

// ListActiveSessions returns the user's sessions that have not finished.
func (c *Client) ListActiveSessions(ctx context.Context, userID string) ([]session.Session, error) {
	return c.listSessions(ctx, "/api/users/"+url.PathEscape(userID)+"/active-sessions")
}

// GetSessionState returns the latest document of a session. A session the
// backend no longer knows yields an error matching ErrNotFound.
func (c *Client) GetSessionState(ctx context.Context, userID, sessionID string) (session.Session, error) {
	path := "/api/users/" + url.PathEscape(userID) + "/active-sessions/" + url.PathEscape(sessionID) + "/state"

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return session.Session{}, err
	}
	if len(bytes.TrimSpace(body)) == 0 || string(bytes.TrimSpace(body)) == "null" {
		return session.Session{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	s, err := session.Parse(body)
	if err != nil {
		return session.Session{}, fmt.Errorf("failed to parse session state: %w", err)
	}
	return s, nil
}

// TriggerPlan starts planning a meal and waits for the backend to accept it.
func (c *Client) TriggerPlan(ctx context.Context, userID, mealType string, opts *TriggerOptions) (*TriggerResult, error) {
	var result TriggerResult
	if err := c.doJSON(ctx, http.MethodPost, triggerPath(userID, mealType, false, opts), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SubmitResume sends the user's answer to an approval prompt.
func (c *Client) SubmitResume(ctx context.Context, sessionID, choice string) (*ResumeResult, error) {
	var result ResumeResult
	if err := c.doJSON(ctx, http.MethodPost, resumePath(sessionID, false), ResumeRequest{Choice: choice}, &result); err != nil {
		return nil, err
	}
	if result.UserChoice == nil {
		result.UserChoice = Choices{}
	}
	return &result, nil
}

func triggerPath(userID, mealType string, streaming bool, opts *TriggerOptions) string {
	q := url.Values{}
	q.Set("streaming", strconv.FormatBool(streaming))
	if opts != nil && opts.Day != "" {
		q.Set("day", opts.Day)
	}
	return "/api/users/" + url.PathEscape(userID) + "/meals/" + url.PathEscape(mealType) + "/trigger?" + q.Encode()
}

func resumePath(sessionID string, streaming bool) string {
	return "/api/sessions/" + url.PathEscape(sessionID) + "/resume?streaming=" + strconv.FormatBool(streaming)
}

// listSessions accepts both {"sessions": [...]} and a bare array.
func (c *Client) listSessions(ctx context.Context, path string) ([]session.Session, error) {
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("failed to parse sessions: invalid JSON")
	}

	doc := gjson.ParseBytes(body)
	list := doc
	if doc.IsObject() {
		list = doc.Get("sessions")
	}

	sessions := []session.Session{}
	for _, item := range list.Array() {
		s, err := session.Parse([]byte(item.Raw))
		if err != nil {
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	body, err := c.do(ctx, method, path, in)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in any) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.send(ctx, method, path, in, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

func (c *Client) send(ctx context.Context, method, path string, in any, accept string) (*http.Response, error) {
	var reader io.Reader
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if err := c.setHeaders(ctx, req, accept); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) setHeaders(ctx context.Context, req *http.Request, accept string) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", c.userAgent)

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to get token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}
