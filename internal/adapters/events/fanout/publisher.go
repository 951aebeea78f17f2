// Package fanout delivers each activity event to several publishers.
package fanout

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tjfontaine/autonom-console/internal/core/domain"
	"github.com/tjfontaine/autonom-console/internal/core/ports"
)

// Publisher forwards events to every target in order. A failing target is
// logged and does not stop delivery to the others.
type Publisher struct {
	targets []ports.EventPublisher
	logger  *slog.Logger
}

var _ ports.EventPublisher = (*Publisher)(nil)

// NewPublisher creates a fan-out publisher. Nil targets are ignored.
func NewPublisher(logger *slog.Logger, targets ...ports.EventPublisher) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{logger: logger.With("component", "events")}
	for _, t := range targets {
		if t != nil {
			p.targets = append(p.targets, t)
		}
	}
	return p
}

// Publish sends event to all targets and returns the joined errors.
func (p *Publisher) Publish(ctx context.Context, event *domain.ActivityEvent) error {
	var errs []error
	for _, t := range p.targets {
		if err := t.Publish(ctx, event); err != nil {
			p.logger.Warn("publish activity event failed",
				slog.String("type", string(event.Type)),
				slog.String("session_id", event.SessionID),
				slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every target.
func (p *Publisher) Close() error {
	var errs []error
	for _, t := range p.targets {
		errs = append(errs, t.Close())
	}
	return errors.Join(errs...)
}
