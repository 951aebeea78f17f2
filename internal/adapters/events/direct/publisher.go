// Package direct provides a direct event publisher that writes to storage.
package direct

import (
	"context"
	"fmt"
	"time"

	"github.com/tjfontaine/autonom-console/internal/core/domain"
	"github.com/tjfontaine/autonom-console/internal/core/ports"
)

// Publisher implements ports.EventPublisher by writing directly to storage.
// This is the default implementation for single-instance deployments.
type Publisher struct {
	store ports.ActivityStore
	now   func() time.Time
}

var _ ports.EventPublisher = (*Publisher)(nil)

// NewPublisher creates a new direct event publisher.
func NewPublisher(store ports.ActivityStore) (*Publisher, error) {
	if store == nil {
		return nil, fmt.Errorf("storage provider required")
	}

	return &Publisher{
		store: store,
		now:   time.Now,
	}, nil
}

// Publish appends the event to the activity log.
func (p *Publisher) Publish(ctx context.Context, event *domain.ActivityEvent) error {
	if event == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now().UTC()
	}
	if err := p.store.AppendActivity(ctx, event); err != nil {
		return fmt.Errorf("append activity %s: %w", event.Type, err)
	}
	return nil
}

// Close is a no-op for direct publisher.
func (p *Publisher) Close() error {
	return nil
}
