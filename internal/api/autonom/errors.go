package autonom

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// ErrNotFound is matched by errors.Is for any 404 from the backend. For
// session state it means the session has ended.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("autonom API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("autonom API error (status %d)", e.StatusCode)
}

// Is reports 404 responses as ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Temporary reports whether retrying the request later may succeed.
func (e *APIError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// parseError builds an APIError from a response body. FastAPI style
// {"detail": ...} and {"error": ...} bodies are both understood.
func parseError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	if gjson.ValidBytes(body) {
		doc := gjson.ParseBytes(body)
		for _, path := range []string{"detail", "error.message", "error", "message"} {
			if r := doc.Get(path); r.Exists() && r.Type == gjson.String {
				apiErr.Message = r.Str
				break
			}
		}
	}
	if apiErr.Message == "" && len(body) > 0 && len(body) <= 256 && !gjson.ValidBytes(body) {
		apiErr.Message = string(body)
	}
	return apiErr
}
