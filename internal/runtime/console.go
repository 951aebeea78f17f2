// Package runtime wires the console together and manages its lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/tjfontaine/autonom-console/internal/adapters/events/direct"
	"github.com/tjfontaine/autonom-console/internal/adapters/events/fanout"
	"github.com/tjfontaine/autonom-console/internal/api/autonom"
	"github.com/tjfontaine/autonom-console/internal/auth"
	"github.com/tjfontaine/autonom-console/internal/controller"
	"github.com/tjfontaine/autonom-console/internal/core/ports"
	"github.com/tjfontaine/autonom-console/internal/pkg/config"
	"github.com/tjfontaine/autonom-console/internal/server"
	"github.com/tjfontaine/autonom-console/internal/status"
	"github.com/tjfontaine/autonom-console/internal/storage"
	"github.com/tjfontaine/autonom-console/internal/synchronizer"
	"github.com/tjfontaine/autonom-console/internal/telegram"
	"github.com/tjfontaine/autonom-console/internal/telemetry"
)

// Backend is everything the console calls on the meal-ordering backend.
type Backend interface {
	controller.Backend
	synchronizer.Client
}

// Console is the running application: storage, backend client, session
// synchronizer, user actions and the HTTP surface.
type Console struct {
	// Dependencies (injected via options)
	config      ports.ConfigProvider
	storage     ports.StorageProvider
	extraEvents []ports.EventPublisher
	backend     Backend
	metrics     *telemetry.Metrics
	logger      *slog.Logger
	noListen    bool

	// Built in Start
	cfg     *config.Config
	events  ports.EventPublisher
	store   *status.Store
	syncer  *synchronizer.Synchronizer
	actions *controller.Controller
	server  *server.Server
	errc    chan error

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// New creates a Console with the given options. A config provider is
// required; everything else defaults from the loaded configuration.
func New(opts ...Option) (*Console, error) {
	c := &Console{
		logger: slog.Default(),
		errc:   make(chan error, 1),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if c.config == nil {
		return nil, fmt.Errorf("config provider required (use WithFileConfig)")
	}
	return c, nil
}

// Start loads configuration, starts polling and begins serving HTTP.
func (c *Console) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ctx, c.cancel = context.WithCancel(ctx)

	cfg, err := c.config.Load(c.ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c.cfg = cfg

	if c.storage == nil {
		if c.storage, err = storage.Open(cfg.Storage); err != nil {
			return err
		}
	}
	if c.metrics == nil {
		c.metrics = telemetry.NewMetrics()
	}
	if c.backend == nil {
		if c.backend, err = newBackend(cfg.Backend); err != nil {
			return fmt.Errorf("create backend client: %w", err)
		}
	}
	if c.events, err = c.newPublisher(cfg); err != nil {
		return fmt.Errorf("create event publisher: %w", err)
	}

	c.store = status.NewStore()
	c.syncer = synchronizer.New(c.backend, c.store,
		synchronizer.WithLogger(c.logger),
		synchronizer.WithMetrics(c.metrics),
		synchronizer.WithPublisher(c.events),
		synchronizer.WithIntervals(intervals(cfg.Polling)),
	)
	c.actions = controller.New(c.backend, c.store, c.syncer, c.storage,
		controller.WithLogger(c.logger),
		controller.WithMetrics(c.metrics),
		controller.WithPublisher(c.events),
		controller.WithStreaming(cfg.Backend.Streaming),
	)

	c.syncer.Start(c.ctx)
	if _, err := c.actions.RestoreUser(c.ctx); err != nil {
		c.logger.Warn("could not restore current user", slog.String("error", err.Error()))
	}

	keys := make([]auth.Key, 0, len(cfg.Server.APIKeys))
	for _, k := range cfg.Server.APIKeys {
		keys = append(keys, auth.Key{KeyHash: k.KeyHash, Description: k.Description})
	}
	c.server = server.New(cfg.Server.Port, c.logger, auth.NewAuthenticator(keys), c.metrics)
	c.server.Mount(server.NewAPI(c.actions, c.store, c.metrics, c.logger))

	if !c.noListen {
		go func() {
			if err := c.server.Start(); err != nil {
				c.logger.Error("server stopped", slog.String("error", err.Error()))
				c.errc <- err
			}
		}()
	}

	// Watch for config changes
	c.watchConfig()

	c.logger.Info("console started",
		slog.Int("port", cfg.Server.Port),
		slog.String("backend", cfg.Backend.BaseURL),
		slog.Bool("streaming", cfg.Backend.Streaming),
		slog.Bool("telegram", cfg.Telegram.BotToken != ""))
	return nil
}

// Err reports a fatal server error.
func (c *Console) Err() <-chan error {
	return c.errc
}

// Handler returns the console's HTTP handler.
func (c *Console) Handler() http.Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.server == nil {
		return http.NotFoundHandler()
	}
	return c.server.Router
}

// Store returns the status store. It is nil before Start.
func (c *Console) Store() *status.Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store
}

// Shutdown gracefully stops the console.
func (c *Console) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("shutting down console")

	if c.cancel != nil {
		c.cancel()
	}

	var errs []error
	if c.server != nil {
		if err := c.server.Shutdown(ctx); err != nil {
			c.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if c.actions != nil {
		c.actions.Close()
	}
	if c.syncer != nil {
		c.syncer.Stop()
	}

	// Close resources
	if c.events != nil {
		if err := c.events.Close(); err != nil {
			c.logger.Error("failed to close events", slog.String("error", err.Error()))
		}
	}
	if c.storage != nil {
		if err := c.storage.Close(); err != nil {
			c.logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}
	if c.config != nil {
		if err := c.config.Close(); err != nil {
			c.logger.Error("failed to close config", slog.String("error", err.Error()))
		}
	}

	c.logger.Info("console shutdown complete")
	return errors.Join(errs...)
}

// watchConfig re-applies polling intervals when the config file changes.
// Other settings take effect on restart.
func (c *Console) watchConfig() {
	onChange := func(newCfg *config.Config) {
		c.mu.Lock()
		c.cfg = newCfg
		c.mu.Unlock()
		c.logger.Info("config changed, applying polling intervals")
		c.syncer.SetIntervals(intervals(newCfg.Polling))
	}

	if err := c.config.Watch(c.ctx, onChange); err != nil {
		if !errors.Is(err, context.Canceled) {
			c.logger.Warn("config watch failed", slog.String("error", err.Error()))
		}
	}
}

func (c *Console) newPublisher(cfg *config.Config) (ports.EventPublisher, error) {
	storePub, err := direct.NewPublisher(c.storage)
	if err != nil {
		return nil, err
	}
	targets := []ports.EventPublisher{storePub}

	if cfg.Telegram.BotToken != "" {
		n, err := telegram.New(cfg.Telegram.BotToken, cfg.Telegram.ChatID, c.logger)
		if err != nil {
			// Chat notifications are optional; the console runs without them.
			c.logger.Error("telegram disabled", slog.String("error", err.Error()))
		} else {
			targets = append(targets, n)
		}
	}
	targets = append(targets, c.extraEvents...)
	return fanout.NewPublisher(c.logger, targets...), nil
}

func newBackend(cfg config.BackendConfig) (*autonom.Client, error) {
	opts := []autonom.ClientOption{
		autonom.WithBaseURL(cfg.BaseURL),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, autonom.WithTimeout(cfg.Timeout))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, autonom.WithUserAgent(cfg.UserAgent))
	}
	if cfg.Auth.SigningKey != "" {
		ts, err := auth.NewServiceTokenSource(cfg.Auth.SigningKey, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.TTL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, autonom.WithTokenSource(ts))
	}
	return autonom.NewClient(opts...), nil
}

func intervals(p config.PollingConfig) synchronizer.Intervals {
	return synchronizer.Intervals{
		History:            p.HistoryInterval,
		Session:            p.SessionInterval,
		ResumeDelay:        p.ResumeDelay,
		CelebrationDisplay: p.CelebrationDisplay,
	}
}
