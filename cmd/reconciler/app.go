package main

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/rsk-balance-reconciler/internal/config"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/connection"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/ledger"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/metrics"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/models"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/notification"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/reconciler"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/server"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/storage"
	"github.com/smartdevs17/rsk-balance-reconciler/pkg/utils"
)

// Application wires every component of the reconciler
type Application struct {
	config       *config.Config
	logger       *logrus.Logger
	metrics      *metrics.Manager
	storage      storage.Storage
	pool         *connection.ConnectionPool
	client       *connection.RSKClient
	orchestrator *reconciler.Orchestrator
	scheduler    *reconciler.Scheduler
	server       *server.HTTPServer
	closeLock    func() error
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewApplication builds the full reconciliation stack
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config:  cfg,
		metrics: metrics.NewManager(),
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := initializeLogger(cfg); err != nil {
		cancel()
		return nil, err
	}
	app.logger = utils.GetLogger()

	if err := app.initializeComponents(); err != nil {
		app.Stop()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

func initializeLogger(cfg *config.Config) error {
	logCfg := cfg.Logging
	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	store, err := openStorage(app.ctx, &app.config.Storage, app.config.Reconciliation.NativeAsset, app.metrics)
	if err != nil {
		return err
	}
	app.storage = store

	// Ledger access
	app.pool = connection.NewConnectionPool(&app.config.RSK, app.metrics)
	app.client = connection.NewRSKClient(app.pool, app.metrics)
	chain := ledger.NewRSKLedger(app.client, &app.config.RSK, app.config.Reconciliation.NativeAsset,
		ledger.WithTokens(ledger.TokensFromConfig(app.config.RSK.TrackedTokens)...),
		ledger.WithMetrics(app.metrics),
	)

	// Alerts
	webhook := notification.NewWebhookSender(&app.config.Notifications)
	notifier := notification.NewManagerWithMetrics(
		notification.NewManager(store, webhook, app.config.Notifications.Enabled),
		app.metrics,
	)
	alerter := reconciler.NewAlerter(notifier, notifier, app.config.Reconciliation.NativeAsset)

	// Engine
	recCfg := app.config.Reconciliation
	thresholds, err := thresholdsFromConfig(&recCfg)
	if err != nil {
		return err
	}

	lock, closeLock, err := reconciler.NewRunLock(&app.config.Lock)
	if err != nil {
		return err
	}
	app.closeLock = closeLock

	app.orchestrator = reconciler.NewOrchestrator(
		store,
		store,
		reconciler.NewReconciler(chain, store, alerter, thresholds, recCfg.LedgerTimeout),
		reconciler.NewSynchronizer(store, recCfg.NativeAsset, thresholds.Minor),
		lock,
		recCfg.BatchSize,
		recCfg.Concurrency,
		app.metrics,
	)
	app.scheduler = reconciler.NewScheduler(app.orchestrator, recCfg.Interval, recCfg.RunOnStart)
	app.server = server.NewHTTPServer(&app.config.Server, AppVersion, app.orchestrator, store, app.client, app.metrics)

	app.logger.Info("All components initialized successfully")
	return nil
}

// Start launches the HTTP server and the scheduler
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
		"node":        app.config.RSK.NodeURL,
	}).Info("Starting RSK balance reconciler")

	if err := app.server.Start(app.ctx); err != nil {
		return err
	}
	return app.scheduler.Start(app.ctx)
}

// Stop stops every component in reverse order
func (app *Application) Stop() {
	app.cancel()

	if app.scheduler != nil {
		app.scheduler.Stop()
	}

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	if app.closeLock != nil {
		if err := app.closeLock(); err != nil {
			app.logger.WithError(err).Error("Failed to close lock backend")
		}
	}

	if app.pool != nil {
		if err := app.pool.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close RSK connections")
		}
	}

	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}

	app.logger.Info("RSK balance reconciler stopped")
}

// openStorage connects, migrates and seeds the native asset
func openStorage(ctx context.Context, cfg *config.StorageConfig, nativeAsset string, mm *metrics.Manager) (storage.Storage, error) {
	base, err := storage.NewStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	if err := base.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to storage: %w", err)
	}

	if err := base.Migrate(); err != nil {
		base.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	var store storage.Storage = base
	if mm != nil {
		store = storage.NewStorageWithMetrics(base, mm)
	}

	if err := ensureNativeAsset(ctx, store, nativeAsset); err != nil {
		store.Close()
		return nil, err
	}

	return store, nil
}

func ensureNativeAsset(ctx context.Context, store storage.BalanceStore, symbol string) error {
	asset, err := store.GetAssetBySymbol(ctx, symbol)
	if err != nil {
		return fmt.Errorf("failed to look up native asset: %w", err)
	}
	if asset != nil {
		return nil
	}

	return store.SaveAsset(ctx, &models.Asset{
		ID:       utils.GenerateID(),
		Symbol:   symbol,
		Decimals: 18,
		PriceUSD: decimal.Zero,
		IsNative: true,
	})
}

func thresholdsFromConfig(cfg *config.ReconciliationConfig) (reconciler.Thresholds, error) {
	minor, err := cfg.MinorThresholdValue()
	if err != nil {
		return reconciler.Thresholds{}, fmt.Errorf("invalid minor threshold: %w", err)
	}
	major, err := cfg.MajorThresholdValue()
	if err != nil {
		return reconciler.Thresholds{}, fmt.Errorf("invalid major threshold: %w", err)
	}
	return reconciler.Thresholds{Minor: minor, Major: major}, nil
}
