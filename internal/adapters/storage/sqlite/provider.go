// Package sqlite provides the SQLite storage adapter for the console.
package sqlite

import (
	"github.com/tjfontaine/autonom-console/internal/core/ports"
	"github.com/tjfontaine/autonom-console/internal/storage/sqlite"
)

// Provider implements ports.StorageProvider using SQLite.
type Provider struct {
	*sqlite.Store
}

// NewProvider creates a new SQLite storage provider.
func NewProvider(path string) (*Provider, error) {
	store, err := sqlite.New(path)
	if err != nil {
		return nil, err
	}

	return &Provider{
		Store: store,
	}, nil
}

// Ensure Provider implements ports.StorageProvider at compile time.
var _ ports.StorageProvider = (*Provider)(nil)
