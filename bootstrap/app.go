package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"argus/api"
	"argus/config"
	"argus/core"
	"argus/notify"
	"argus/service"
	"argus/storage"
)

// App represents the Argus application with all its components.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	// Storage
	DB         *storage.SQLite
	Playbooks  *storage.SQLitePlaybookStorage
	Executions *storage.SQLiteExecutionStorage
	Events     *storage.SQLiteEventStorage
	Rules      *storage.SQLiteAlertRuleStorage

	// Services
	Registry    *service.Registry
	Engine      *service.Engine
	AlertEngine *service.AlertEngine
	Notifier    *notify.Notifier
	Cache       *core.RedisCache
	Hub         *api.Hub
	APIServer   *api.API

	serviceWg *sync.WaitGroup
}

// NewApp creates a new application instance and initializes all components.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{
		serviceWg: &sync.WaitGroup{},
	}

	logger, sugar, err := InitLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("Argus SOC backend starting...")

	cfg, err := InitConfig(sugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	if err := EnsureDataDir(cfg.DataPaths.DataDir, sugar); err != nil {
		return nil, fmt.Errorf("pre-flight check failed: %w", err)
	}

	db, err := storage.NewSQLite(cfg.GetSQLitePath(), sugar)
	if err != nil {
		sugar.Error(ClassifySQLiteError(err, cfg.GetSQLitePath()))
		return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}
	app.DB = db
	app.Playbooks = storage.NewSQLitePlaybookStorage(db, sugar)
	app.Executions = storage.NewSQLiteExecutionStorage(db, sugar)
	app.Events = storage.NewSQLiteEventStorage(db, sugar)
	app.Rules = storage.NewSQLiteAlertRuleStorage(db, sugar)

	app.Notifier = notify.NewNotifier(notificationConfigs(cfg), sugar)

	if cfg.Redis.Enabled {
		cache := core.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, sugar)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := cache.Ping(pingCtx)
		cancel()
		if err != nil {
			sugar.Warnw("Redis unreachable, dashboard cache disabled", "addr", cfg.Redis.Addr, "error", err)
			_ = cache.Close()
		} else {
			app.Cache = cache
			sugar.Infow("Redis cache connected", "addr", cfg.Redis.Addr)
		}
	}

	app.Hub = api.NewHub(ctx, sugar)

	app.Registry = service.NewRegistry(app.Playbooks, sugar)
	app.Engine = service.NewEngine(app.Playbooks, app.Executions, app.Notifier, app.Hub, sugar)
	app.AlertEngine = service.NewAlertEngine(app.Rules, app.Events, app.Playbooks, app.Engine, app.Notifier, app.Hub, sugar)

	app.APIServer = api.NewAPI(app.Registry, app.Engine, app.AlertEngine, app.Events, app.Rules,
		app.Cache, app.Hub, cfg, sugar)

	return app, nil
}

// Start starts the WebSocket hub and the API server.
func (a *App) Start(ctx context.Context) error {
	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		a.Hub.Start()
	}()

	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		addr := fmt.Sprintf(":%d", a.Config.API.Port)
		a.Sugar.Infow("API server started", "addr", addr, "tls", a.Config.API.TLS)

		if err := a.APIServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Sugar.Errorf("API server error: %v", err)
		}
	}()

	return nil
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	if a.APIServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.APIServer.Stop(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop API server", "error", err)
		}
		cancel()
	}

	if a.Hub != nil {
		a.Hub.Stop()
	}

	done := make(chan struct{})
	go func() {
		a.serviceWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		a.Sugar.Warn("Service goroutine shutdown timed out")
	}

	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.Sugar.Errorw("Failed to close Redis connection", "error", err)
		}
	}

	if a.DB != nil {
		a.DB.Close()
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}

// notificationConfigs maps the notifications section of the config onto the
// notifier's channel configs. Disabled channels are still passed through so
// the notifier can report them as unavailable rather than unknown.
func notificationConfigs(cfg *config.Config) []notify.NotificationConfig {
	n := cfg.Notifications
	return []notify.NotificationConfig{
		{
			Type:        notify.NotificationTypeLog,
			Enabled:     n.Log.Enabled,
			MinSeverity: core.Severity(n.Log.MinSeverity),
		},
		{
			Type:        notify.NotificationTypeWebhook,
			Enabled:     n.Webhook.Enabled,
			MinSeverity: core.Severity(n.Webhook.MinSeverity),
			WebhookURL:  n.Webhook.URL,
		},
		{
			Type:        notify.NotificationTypeSlack,
			Enabled:     n.Slack.Enabled,
			MinSeverity: core.Severity(n.Slack.MinSeverity),
			WebhookURL:  n.Slack.WebhookURL,
		},
		{
			Type:         notify.NotificationTypeEmail,
			Enabled:      n.Email.Enabled,
			MinSeverity:  core.Severity(n.Email.MinSeverity),
			SMTPHost:     n.Email.SMTPHost,
			SMTPPort:     n.Email.SMTPPort,
			SMTPUsername: n.Email.Username,
			SMTPPassword: n.Email.Password,
			FromAddress:  n.Email.FromAddress,
			ToAddresses:  n.Email.ToAddresses,
		},
	}
}
