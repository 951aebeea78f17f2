package ports

import (
	"context"

	"github.com/tjfontaine/autonom-console/internal/core/domain"
	"github.com/tjfontaine/autonom-console/internal/pkg/config"
)

// ConfigProvider loads and manages configuration.
// Implementations: file-based (default).
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	Watch(ctx context.Context, onChange func(*config.Config)) error
	Close() error
}

// StorageProvider manages all storage operations.
// Implementations: SQLite (default), memory.
type StorageProvider interface {
	ActivityStore
	PreferenceStore

	Close() error
}

// EventPublisher publishes session activity events.
// Implementations: direct storage (default), Telegram, fan-out.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.ActivityEvent) error
	Close() error
}
