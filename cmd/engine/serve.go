package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/codecalc/junction-engine/internal/api"
	"github.com/codecalc/junction-engine/internal/catalog"
	"github.com/codecalc/junction-engine/internal/config"
	"github.com/codecalc/junction-engine/internal/db"
	"github.com/codecalc/junction-engine/internal/junction"
	"github.com/codecalc/junction-engine/internal/metrics"
	"github.com/codecalc/junction-engine/internal/notify"
	"github.com/codecalc/junction-engine/internal/shadow"
	"github.com/codecalc/junction-engine/internal/sheets"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (default)",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting junction engine",
		zap.String("port", cfg.Port),
		zap.Int("exact_threshold", cfg.Solver.ExactThreshold),
		zap.Float64("epsilon", cfg.Solver.Epsilon),
		zap.Int("max_frontier_states", cfg.Solver.MaxFrontierStates))

	var store db.Store
	if cfg.Store.Driver != "" {
		store, err = openStore(ctx, cfg.Store)
		if err != nil {
			logger.Warn("continuing without persistence", zap.String("driver", cfg.Store.Driver), zap.Error(err))
			store = nil
		} else {
			defer store.Close()
		}
	}

	source, closeSource, err := newSource(ctx, cfg.Sheets, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	m := metrics.New()
	cat := catalog.New(source, cfg.Sheets.Prefix, logger)
	cat.OnRefresh = m.SetCatalogCertificates

	hub := api.NewHub(logger)
	deps := junction.Deps{Certificates: cat, Hub: hub, Metrics: m}
	if store != nil {
		deps.Store = store
	}
	if cfg.Webhook.URL != "" {
		deps.Notifier = notify.NewWebhook(cfg.Webhook.URL, cfg.Webhook.Timeout, cfg.Webhook.MaxTries, logger)
	}
	if cfg.Shadow.Enabled {
		var saver shadow.Saver
		if store != nil {
			saver = store
		}
		runner := shadow.NewRunner(saver, cfg.Solver, logger)
		runner.OnCompare = m.ObserveShadow
		deps.Shadow = runner
	}
	service := junction.NewService(deps, junctionOptions(cfg), logger)
	defer service.Wait()

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	if cfg.AuthToken == "" && gin.Mode() == gin.ReleaseMode {
		logger.Warn("API_AUTH_TOKEN is not set in release mode; mutating endpoints are public")
	}

	router := api.SetupRouter(api.Server{
		Junctions: service,
		Catalog:   cat,
		Store:     store,
		Hub:       hub,
		Metrics:   m,
		Solver:    cfg.Solver,
		Logger:    logger,
	}, api.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		AuthToken:      cfg.AuthToken,
		Limiter:        api.NewRateLimiter(ctx, cfg.RateLimit.PerMinute, cfg.RateLimit.Burst),
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		cat.Run(gctx, cfg.Sheets.RefreshInterval)
		return nil
	})
	g.Go(func() error {
		logger.Info("engine listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 15*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.StoreConfig) (db.Store, error) {
	dsn := cfg.DatabaseURL
	if cfg.Driver == "sqlite" {
		dsn = cfg.SQLitePath
	}
	store, err := db.Open(ctx, cfg.Driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := store.InitSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// newSource picks the bucket when one is configured, else the local directory.
func newSource(ctx context.Context, cfg config.SheetsConfig, logger *zap.Logger) (sheets.Source, func(), error) {
	switch {
	case cfg.Bucket != "":
		src, err := sheets.NewGCSSource(ctx, cfg.Bucket, cfg.CredentialsJSON, logger)
		if err != nil {
			return nil, nil, err
		}
		return src, func() { _ = src.Close() }, nil
	case cfg.Dir != "":
		return sheets.DirSource{Dir: cfg.Dir, Logger: logger}, func() {}, nil
	default:
		return nil, nil, errors.New("no certificate source: set GCS_BUCKET or SHEETS_DIR")
	}
}

func junctionOptions(cfg *config.Config) junction.Options {
	return junction.Options{
		Solver:                 cfg.Solver,
		BaseCommission:         cfg.Junction.BaseCommission,
		DefaultExtraCommission: cfg.Junction.DefaultExtraCommission,
		DefaultEntryCeiling:    cfg.Junction.DefaultEntryCeiling,
		MaxResults:             cfg.Junction.MaxResults,
		Workers:                cfg.Junction.Workers,
	}
}
