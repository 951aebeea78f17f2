// Package session wraps the backend's session documents. The document shape
// has drifted several times, so this package is the only place that knows
// where fields live; everything else goes through its accessors.
package session

import (
	"errors"
	"slices"
	"time"

	"github.com/tidwall/gjson"
)

// ErrInvalidDocument is returned when a session payload is not valid JSON.
var ErrInvalidDocument = errors.New("invalid session document")

// Session is one end-to-end planning-and-ordering attempt as reported by the
// backend. The raw document is kept so accessors can read optional fields
// regardless of which schema revision produced them.
type Session struct {
	ID         string
	UserID     string
	CreateTime time.Time
	UpdateTime time.Time

	raw []byte
}

// Parse builds a Session from a raw backend document.
func Parse(raw []byte) (Session, error) {
	if !gjson.ValidBytes(raw) {
		return Session{}, ErrInvalidDocument
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return Session{}, ErrInvalidDocument
	}

	s := Session{
		ID:         firstString(doc, "session_id", "id"),
		UserID:     firstString(doc, "user_id", "userId"),
		CreateTime: parseTimestamp(doc.Get("create_time")),
		UpdateTime: parseTimestamp(first(doc, "update_time", "last_update_time")),
		raw:        slices.Clone(raw),
	}
	return s, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Session) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalJSON returns the original document so renderers see exactly what the
// backend sent.
func (s Session) MarshalJSON() ([]byte, error) {
	if len(s.raw) == 0 {
		return []byte("null"), nil
	}
	return s.raw, nil
}

// IsZero reports whether s holds no document.
func (s Session) IsZero() bool {
	return len(s.raw) == 0
}

func (s Session) get(path string) gjson.Result {
	if len(s.raw) == 0 {
		return gjson.Result{}
	}
	return gjson.GetBytes(s.raw, path)
}

func first(doc gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := doc.Get(p); r.Exists() && r.Type != gjson.Null {
			return r
		}
	}
	return gjson.Result{}
}

func firstString(doc gjson.Result, paths ...string) string {
	return first(doc, paths...).String()
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp accepts unix seconds (possibly fractional) or an ISO-8601
// string. Anything else yields the zero time.
func parseTimestamp(r gjson.Result) time.Time {
	switch r.Type {
	case gjson.Number:
		f := r.Float()
		sec := int64(f)
		nsec := int64((f - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC()
	case gjson.String:
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, r.Str); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}

// SortNewestFirst orders sessions by creation time, newest first. Sessions
// with equal timestamps keep their relative order.
func SortNewestFirst(sessions []Session) []Session {
	sorted := slices.Clone(sessions)
	slices.SortStableFunc(sorted, func(a, b Session) int {
		return b.CreateTime.Compare(a.CreateTime)
	})
	return sorted
}

// Merge replaces the session with the same id in history, or prepends s when
// it is not there yet. The input slice is not modified.
func Merge(history []Session, s Session) []Session {
	out := slices.Clone(history)
	for i := range out {
		if out[i].ID == s.ID {
			out[i] = s
			return out
		}
	}
	return append([]Session{s}, out...)
}

// Find returns the session with the given id.
func Find(history []Session, id string) (Session, bool) {
	for _, s := range history {
		if s.ID == id {
			return s, true
		}
	}
	return Session{}, false
}
