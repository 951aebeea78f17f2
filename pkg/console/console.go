// Package console provides the public API for embedding the meal-ordering
// console. This is the stable API for external consumers.
package console

import (
	"github.com/tjfontaine/autonom-console/internal/runtime"
)

// Console is the main entry point for running the console.
// See internal/runtime.Console for full documentation.
type Console = runtime.Console

// Option is a functional option for configuring a Console.
type Option = runtime.Option

// Backend is the meal-ordering backend as the console uses it.
type Backend = runtime.Backend

// New creates a new Console with the given options.
// Example:
//
//	c, err := console.New(
//	    console.WithFileConfig("config.yaml"),
//	    console.WithSQLite("./data/console.db"),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithFileConfig     = runtime.WithFileConfig
	WithConfigProvider = runtime.WithConfigProvider

	// Storage
	WithSQLite          = runtime.WithSQLite
	WithMemoryStorage   = runtime.WithMemoryStorage
	WithStorageProvider = runtime.WithStorageProvider

	// Events
	WithEventPublisher = runtime.WithEventPublisher

	// Advanced options
	WithLogger    = runtime.WithLogger
	WithMetrics   = runtime.WithMetrics
	WithBackend   = runtime.WithBackend
	WithoutServer = runtime.WithoutServer
)
