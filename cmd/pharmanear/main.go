package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"pharmanear/m/internal/api"
	"pharmanear/m/internal/auth"
	"pharmanear/m/internal/config"
	"pharmanear/m/internal/database"
	"pharmanear/m/internal/logging"
	"pharmanear/m/internal/medicines"
	"pharmanear/m/internal/migrations"
	"pharmanear/m/internal/pharmacies"
	"pharmanear/m/internal/seed"
	"pharmanear/m/internal/stock"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:          "pharmanear",
		Short:        "PharmaNear pharmacy stock and drug availability server",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reloadCatalogCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Migrate the database and start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := logging.Setup(cfg.Env, cfg.LogLevel)

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			logger.Info().Str("driver", database.DriverFor(cfg.DatabaseDSN)).Msg("schema is up to date")
			return nil
		},
	}
}

func reloadCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reload-catalog",
		Short: "Fetch the RxTerms catalog and replace the stored medicines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := logging.Setup(cfg.Env, cfg.LogLevel)
			if url, _ := cmd.Flags().GetString("url"); url != "" {
				cfg.CatalogURL = url
			}

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			loader := seed.NewLoader(seed.NewClient(cfg.CatalogURL, nil), medicines.New(db), logger)
			res, err := loader.Reload(logger.WithContext(ctx))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %d medicines (%d fetched) in %s.\n", res.Stored, res.Fetched, res.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().String("url", "", "Override CATALOG_URL")
	return cmd
}

func openDatabase(cfg config.Config) (*sqlx.DB, error) {
	db, err := database.Connect(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func runServer() error {
	cfg := config.Load()
	logger := logging.Setup(cfg.Env, cfg.LogLevel)

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open database")
		return err
	}
	defer db.Close()
	logger.Info().Str("driver", database.DriverFor(cfg.DatabaseDSN)).Msg("connected to database")

	issuer := auth.NewIssuer(cfg.Secret, cfg.TokenTTL)
	meds := medicines.New(db)
	directory := pharmacies.New(db, auth.NewHasher(), issuer)
	ledger := stock.NewLedger(db, meds)
	availability := stock.NewAvailability(db, meds, directory)

	loader := seed.NewLoader(seed.NewClient(cfg.CatalogURL, nil), meds, logger)
	reloader := seed.NewReloader(loader)
	scheduler := seed.NewScheduler(reloader, cfg.CatalogRefreshAt, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("failed to start catalog scheduler")
		return err
	}
	defer scheduler.Stop()
	defer reloader.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.CatalogLoadOnStart {
		if n, err := meds.Count(ctx); err == nil && n > 0 {
			logger.Info().Int("medicines", n).Msg("catalog already loaded, skipping startup reload")
		} else {
			reloader.Trigger(logger.WithContext(ctx))
		}
	}

	handler := api.New(directory, ledger, availability, issuer, reloader, db, logger, api.Options{
		CORSOrigin:     cfg.CORSOrigin,
		AdminToken:     cfg.AdminToken,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})
	go handler.Limiter().RunSweeper(ctx, 30*time.Minute)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return logger.WithContext(context.Background()) },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.HTTPPort).Msg("PharmaNear server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server error")
			return err
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	if reloader.Running() {
		logger.Warn().Msg("cancelling catalog reload in progress")
	}
	reloader.Shutdown()
	scheduler.Stop()
	logger.Info().Msg("server stopped")
	return nil
}
