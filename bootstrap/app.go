// Package bootstrap wires the Argus components together: configuration,
// logging, storage, the normalization pipeline, the correlation engine and
// the stateful pattern detector.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"argus/config"
	"argus/correlate"
	"argus/detect"
	"argus/normalize"
	"argus/storage"
)

// App holds the assembled Argus application.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Store     *storage.Store
	Processor *normalize.Processor
	Engine    *correlate.Engine
	Detector  *detect.Detector

	metricsServer *http.Server
	feedWg        sync.WaitGroup
	feedCancel    context.CancelFunc
}

// NewApp creates the application and initializes every component. The
// returned app is ready to Start.
func NewApp(ctx context.Context, configPath string) (*App, error) {
	app := &App{}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	app.Config = cfg

	logger, sugar, err := InitLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("Argus correlation core starting...")

	if err := EnsureDataDir(cfg, sugar); err != nil {
		return nil, fmt.Errorf("pre-flight check failed: %w", err)
	}

	store, err := storage.New(cfg.SQLitePath, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.Store = store

	app.Processor = normalize.NewProcessor(sugar)
	RegisterBuiltinNormalizers(app.Processor)

	app.Engine = correlate.NewEngine(cfg.Engine.MaxContextEvents, cfg.Engine.GCInterval, sugar)
	if cfg.Engine.BuiltinRules {
		for _, rule := range correlate.BuiltinRules() {
			if err := app.Engine.AddRule(rule); err != nil {
				return nil, fmt.Errorf("failed to load builtin rule %s: %w", rule.ID, err)
			}
		}
	}
	if cfg.Engine.RulesFile != "" {
		n, err := app.Engine.LoadRulesFile(cfg.Engine.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load rules file: %w", err)
		}
		sugar.Infow("Correlation rules loaded", "file", cfg.Engine.RulesFile, "count", n)
	}

	app.Detector = detect.NewDetector(store, detect.Options{
		BruteforceWindow:    cfg.Detector.BruteforceWindow,
		BruteforceThreshold: cfg.Detector.BruteforceThreshold,
		SuccessAfterFailMin: cfg.Detector.SuccessAfterFailMin,
		EvidenceLimit:       cfg.Detector.EvidenceLimit,
	}, sugar)

	return app, nil
}

// Start connects the pipeline stages and begins consuming the stdin feed.
func (a *App) Start(ctx context.Context) error {
	a.wirePipeline()

	if a.Config.Metrics.Addr != "" {
		if err := a.startMetricsServer(); err != nil {
			return err
		}
	}

	feedCtx, cancel := context.WithCancel(ctx)
	a.feedCancel = cancel
	a.feedWg.Add(1)
	go func() {
		defer a.feedWg.Done()
		a.runFeed(feedCtx, os.Stdin)
	}()

	a.Sugar.Info("Argus started, reading events from stdin")
	return nil
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	if a.feedCancel != nil {
		a.feedCancel()
	}

	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.Sugar.Warnw("Metrics server shutdown failed", "error", err)
		}
		cancel()
	}

	if a.Engine != nil {
		a.Engine.Stop()
	}

	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Sugar.Warnw("Storage close failed", "error", err)
		}
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}

func (a *App) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.metricsServer = &http.Server{
		Addr:              a.Config.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.Sugar.Infow("Metrics server listening", "addr", a.Config.Metrics.Addr)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Sugar.Errorw("Metrics server failed", "error", err)
		}
	}()
	return nil
}
