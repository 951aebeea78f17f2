// Package storage opens the configured storage backend.
package storage

import (
	"fmt"

	"github.com/tjfontaine/autonom-console/internal/adapters/storage/sqlite"
	"github.com/tjfontaine/autonom-console/internal/core/ports"
	"github.com/tjfontaine/autonom-console/internal/pkg/config"
	"github.com/tjfontaine/autonom-console/internal/storage/memory"
)

// CurrentUserKey is the preference key holding the selected user id.
const CurrentUserKey = "autonom_current_user"

// Open returns the storage provider named by cfg.Type.
func Open(cfg config.StorageConfig) (ports.StorageProvider, error) {
	switch cfg.Type {
	case "", "sqlite":
		p, err := sqlite.NewProvider(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		return p, nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
