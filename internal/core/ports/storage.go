package ports

import (
	"context"
	"errors"

	"github.com/tjfontaine/autonom-console/internal/core/domain"
)

// ErrPreferenceNotFound is returned when a preference key has never been set.
var ErrPreferenceNotFound = errors.New("preference not found")

// ActivityStore persists the per-session activity timeline.
type ActivityStore interface {
	// AppendActivity appends an event. A missing ID or timestamp is filled in.
	AppendActivity(ctx context.Context, event *domain.ActivityEvent) error

	// ListActivity returns events newest first.
	ListActivity(ctx context.Context, opts ActivityListOptions) ([]*domain.ActivityEvent, error)
}

// ActivityListOptions filters ListActivity.
type ActivityListOptions struct {
	UserID    string
	SessionID string
	Limit     int
	Offset    int
}

// PreferenceStore keeps small pieces of client state across restarts, such as
// the last selected user.
type PreferenceStore interface {
	SetPreference(ctx context.Context, key, value string) error
	GetPreference(ctx context.Context, key string) (string, error)
	DeletePreference(ctx context.Context, key string) error
}
