package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xyz-jphil/ccapis/internal/application/usecase"
	"github.com/xyz-jphil/ccapis/internal/domain/service"
	"github.com/xyz-jphil/ccapis/internal/infrastructure/config"
	"github.com/xyz-jphil/ccapis/internal/infrastructure/txlog"
	"github.com/xyz-jphil/ccapis/internal/infrastructure/upstream"
	httpServer "github.com/xyz-jphil/ccapis/internal/interfaces/http"
	"github.com/xyz-jphil/ccapis/pkg/safego"
)

// Version is reported by the health endpoint and the version subcommand.
const Version = "0.3.1"

// validateParallelism caps concurrent startup probes so a large pool does
// not hammer upstream the moment the proxy comes up.
const validateParallelism = 4

// probeTimeout bounds a single validation or ping call.
const probeTimeout = 30 * time.Second

// App wires the proxy together (dependency injection container).
type App struct {
	settings *config.Settings
	logger   *zap.Logger

	watcher  *config.PoolWatcher
	health   *service.HealthMonitor
	upstream *upstream.Client
	selector *service.Selector
	recorder *txlog.Recorder

	completions *usecase.CompletionUseCase

	httpServer *httpServer.Server
}

// NewApp builds the full proxy from settings.
func NewApp(settings *config.Settings, logger *zap.Logger) (*App, error) {
	// Bootstrap: ensure the configuration home exists with defaults on
	// first run.
	if err := config.Bootstrap(logger); err != nil {
		logger.Warn("Bootstrap failed (non-fatal)", zap.Error(err))
	}

	app := &App{
		settings: settings,
		logger:   logger,
	}

	if err := app.initCredentials(); err != nil {
		return nil, fmt.Errorf("init credentials: %w", err)
	}
	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}
	if err := app.initApplicationServices(); err != nil {
		return nil, fmt.Errorf("init application services: %w", err)
	}
	if err := app.initInterfaces(); err != nil {
		return nil, fmt.Errorf("init interfaces: %w", err)
	}

	return app, nil
}

// initCredentials loads the initial credential pool. A broken credentials
// file at startup is fatal; later edits are handled by the watcher.
func (app *App) initCredentials() error {
	app.logger.Info("Loading credentials", zap.String("path", app.settings.CredentialsFile))

	watcher, err := config.NewPoolWatcher(app.settings.CredentialsFile, app.logger)
	if err != nil {
		return err
	}
	app.watcher = watcher

	pool := watcher.Pool()
	app.logger.Info("Credential pool loaded",
		zap.Int("credentials", pool.Len()),
		zap.Int("active", len(pool.Active())),
	)
	return nil
}

// initInfrastructure creates the health monitor, the upstream client, and
// the optional transaction recorder.
func (app *App) initInfrastructure() error {
	app.logger.Info("Initializing infrastructure")

	cb := app.settings.CircuitBreaker
	app.health = service.NewHealthMonitor(service.BreakerConfig{
		Enabled:           cb.Enabled,
		FailureThreshold:  cb.FailureThreshold,
		GenericCooldown:   cb.GenericCooldown,
		RateLimitCooldown: cb.RateLimitCooldown,
		UsageStaleness:    cb.UsageStaleness,
	}, app.logger)

	app.upstream = upstream.NewClient(upstream.Options{
		RequestTimeout: app.settings.Upstream.RequestTimeout,
		StreamTimeout:  app.settings.Upstream.StreamTimeout,
		UserAgent:      app.settings.Upstream.UserAgent,
	}, app.logger)

	if app.settings.ConversationLog.Enabled {
		app.recorder = txlog.NewRecorder(app.settings.ConversationLog.Dir, app.logger)
		app.logger.Info("Transaction log enabled", zap.String("dir", app.recorder.Dir()))
	}

	return nil
}

// initApplicationServices creates the selector and the completion use case.
func (app *App) initApplicationServices() error {
	app.logger.Info("Initializing application services")

	app.selector = service.NewSelector(app.watcher, app.health, app.upstream, app.logger)
	app.completions = usecase.NewCompletionUseCase(
		app.selector,
		app.health,
		app.upstream,
		app.recorder,
		app.settings.Upstream.KeepConversations,
		app.logger,
	)
	return nil
}

// initInterfaces creates the HTTP server.
func (app *App) initInterfaces() error {
	app.logger.Info("Initializing interfaces")

	app.httpServer = httpServer.NewServer(
		httpServer.Config{
			Host: app.settings.Server.Host,
			Port: app.settings.Server.Port,
			Mode: app.settings.Log.Level,
		},
		app.completions,
		app.watcher,
		app.health,
		Version,
		app.logger,
	)
	return nil
}

// Start brings the proxy up: credentials watcher, optional startup probes,
// optional session pinger, then the HTTP listener. Background work is bound
// to ctx and exits when it is canceled.
func (app *App) Start(ctx context.Context) error {
	app.logger.Info("Starting application", zap.String("version", Version))

	if err := app.watcher.Start(ctx); err != nil {
		return fmt.Errorf("start credentials watcher: %w", err)
	}

	if app.settings.ValidateOnStart {
		app.validateCredentials(ctx)
	}

	if app.settings.PingInterval > 0 {
		app.startSessionPinger(ctx)
	}

	if err := app.httpServer.Start(ctx); err != nil {
		return fmt.Errorf("start HTTP server: %w", err)
	}

	app.logger.Info("Application started",
		zap.String("listen", fmt.Sprintf("%s:%d", app.settings.Server.Host, app.settings.Server.Port)),
		zap.Int("credentials", app.watcher.Pool().Len()),
		zap.Int("active", len(app.watcher.Pool().Active())),
	)
	return nil
}

// Stop shuts the HTTP server down gracefully.
func (app *App) Stop(ctx context.Context) error {
	app.logger.Info("Stopping application")

	if err := app.httpServer.Stop(ctx); err != nil {
		app.logger.Error("Failed to stop HTTP server", zap.Error(err))
	}

	app.logger.Info("Application stopped")
	return nil
}

// validateCredentials probes each active credential with a cheap
// conversation-list call. Findings are logged and dead credentials are
// recorded in the health monitor; validation never blocks startup.
func (app *App) validateCredentials(ctx context.Context) {
	active := app.watcher.Pool().Active()
	if len(active) == 0 {
		app.logger.Warn("No active credentials to validate")
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(validateParallelism)
	for _, c := range active {
		cred := c
		g.Go(func() error {
			conversations, err := app.upstream.ListConversations(probeCtx, cred)
			if err != nil {
				kind := service.ClassifyFailure(err)
				app.health.RecordFailure(cred.ID(), kind)
				app.logger.Warn("Credential validation failed",
					zap.String("credential", cred.ID()),
					zap.String("kind", kind.String()),
					zap.Error(err),
				)
				return nil
			}
			app.logger.Info("Credential validated",
				zap.String("credential", cred.ID()),
				zap.Int("conversations", len(conversations)),
			)
			return nil
		})
	}
	_ = g.Wait()
}

// startSessionPinger touches ping-flagged sessions on a fixed interval so
// upstream keeps them signed in through idle stretches.
func (app *App) startSessionPinger(ctx context.Context) {
	interval := app.settings.PingInterval
	app.logger.Info("Session pinger enabled", zap.Duration("interval", interval))

	safego.Loop(ctx, app.logger, "session-pinger", time.Minute, func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				app.pingSessions(ctx)
			}
		}
	})
}

func (app *App) pingSessions(ctx context.Context) {
	pool := app.watcher.Pool()
	if pool == nil {
		return
	}
	for _, cred := range pool.Active() {
		if !cred.Flags().Ping {
			continue
		}
		pingCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		_, err := app.upstream.ListConversations(pingCtx, cred)
		cancel()
		if err != nil {
			app.logger.Warn("Session ping failed",
				zap.String("credential", cred.ID()),
				zap.Error(err),
			)
			continue
		}
		app.logger.Debug("Session pinged", zap.String("credential", cred.ID()))
	}
}
