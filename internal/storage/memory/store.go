// Package memory is an in-process storage provider for runs without a
// database file.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/autonom-console/internal/core/domain"
	"github.com/tjfontaine/autonom-console/internal/core/ports"
)

const maxEvents = 1000

// Store keeps activity and preferences in memory.
type Store struct {
	mu     sync.RWMutex
	events []*domain.ActivityEvent
	prefs  map[string]string
}

var _ ports.StorageProvider = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		prefs: make(map[string]string),
	}
}

func (s *Store) AppendActivity(ctx context.Context, event *domain.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	cp := *event
	s.events = append(s.events, &cp)
	if len(s.events) > maxEvents {
		s.events = slices.Clone(s.events[len(s.events)-maxEvents:])
	}
	return nil
}

func (s *Store) ListActivity(ctx context.Context, opts ports.ActivityListOptions) ([]*domain.ActivityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := []*domain.ActivityEvent{}
	for i := len(s.events) - 1; i >= 0; i-- {
		ev := s.events[i]
		if opts.UserID != "" && ev.UserID != opts.UserID {
			continue
		}
		if opts.SessionID != "" && ev.SessionID != opts.SessionID {
			continue
		}
		cp := *ev
		matched = append(matched, &cp)
	}
	slices.SortStableFunc(matched, func(a, b *domain.ActivityEvent) int {
		return b.Timestamp.Compare(a.Timestamp)
	})

	if opts.Offset >= len(matched) {
		return []*domain.ActivityEvent{}, nil
	}
	matched = matched[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[key] = value
	return nil
}

func (s *Store) GetPreference(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.prefs[key]
	if !ok {
		return "", ports.ErrPreferenceNotFound
	}
	return v, nil
}

func (s *Store) DeletePreference(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prefs, key)
	return nil
}

func (s *Store) Close() error {
	return nil
}
