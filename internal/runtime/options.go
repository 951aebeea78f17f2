package runtime

import (
	"fmt"
	"log/slog"

	"github.com/tjfontaine/autonom-console/internal/adapters/config/file"
	"github.com/tjfontaine/autonom-console/internal/adapters/storage/sqlite"
	"github.com/tjfontaine/autonom-console/internal/core/ports"
	"github.com/tjfontaine/autonom-console/internal/storage/memory"
	"github.com/tjfontaine/autonom-console/internal/telemetry"
)

// Option is a functional option for configuring a Console.
type Option func(*Console) error

// WithFileConfig uses file-based configuration with hot-reload (default).
// The path should point to a config.yaml file that will be watched for changes.
func WithFileConfig(path string) Option {
	return func(c *Console) error {
		provider, err := file.NewProvider(path, c.logger)
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		c.config = provider
		return nil
	}
}

// WithSQLite uses SQLite storage regardless of the configured storage type.
func WithSQLite(path string) Option {
	return func(c *Console) error {
		store, err := sqlite.NewProvider(path)
		if err != nil {
			return fmt.Errorf("create sqlite storage: %w", err)
		}
		c.storage = store
		return nil
	}
}

// WithMemoryStorage keeps activity and preferences in memory.
func WithMemoryStorage() Option {
	return func(c *Console) error {
		c.storage = memory.New()
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Console) error {
		c.logger = logger
		return nil
	}
}

// WithConfigProvider sets a custom config provider.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(c *Console) error {
		c.config = provider
		return nil
	}
}

// WithStorageProvider sets a custom storage provider.
func WithStorageProvider(provider ports.StorageProvider) Option {
	return func(c *Console) error {
		c.storage = provider
		return nil
	}
}

// WithEventPublisher adds a publisher that receives every activity event
// next to the storage publisher.
func WithEventPublisher(publisher ports.EventPublisher) Option {
	return func(c *Console) error {
		c.extraEvents = append(c.extraEvents, publisher)
		return nil
	}
}

// WithBackend replaces the HTTP client for the meal-ordering backend.
func WithBackend(b Backend) Option {
	return func(c *Console) error {
		c.backend = b
		return nil
	}
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Console) error {
		c.metrics = m
		return nil
	}
}

// WithoutServer skips the HTTP listener; Handler still serves requests.
func WithoutServer() Option {
	return func(c *Console) error {
		c.noListen = true
		return nil
	}
}
