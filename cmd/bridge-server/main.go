package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hrp/abdm-bridge/internal/config"
	"github.com/hrp/abdm-bridge/internal/domain/consent"
	"github.com/hrp/abdm-bridge/internal/domain/healthinfo"
	"github.com/hrp/abdm-bridge/internal/domain/linking"
	"github.com/hrp/abdm-bridge/internal/platform/apierror"
	"github.com/hrp/abdm-bridge/internal/platform/correlator"
	"github.com/hrp/abdm-bridge/internal/platform/db"
	"github.com/hrp/abdm-bridge/internal/platform/gateway"
	"github.com/hrp/abdm-bridge/internal/platform/hrp"
	"github.com/hrp/abdm-bridge/internal/platform/middleware"
	"github.com/hrp/abdm-bridge/internal/platform/worker"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bridge-server",
		Short: "Health data exchange bridge",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

// collaborators returns the host-platform hooks for this deployment. A real
// installation replaces these with adapters onto its own record system; nil
// fields surface as "unsupported" on the wire.
func collaborators() hrp.Collaborators {
	return hrp.Collaborators{}
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	gwClient := gateway.NewClient(gateway.Config{
		BaseURL:      cfg.GatewayURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		CMID:         cfg.CMID,
		Timeout:      time.Duration(cfg.GatewayTimeout) * time.Second,
	}, logger)

	pollInterval := time.Duration(cfg.CallbackPollInterval) * time.Millisecond
	callbackTTL := 2 * time.Duration(cfg.CallbackPollAttempts) * pollInterval
	store := correlator.NewInMemoryStore()
	store.StartCleanup(ctx, time.Minute)
	corr := correlator.New(store, callbackTTL)

	runner := worker.NewRunner(logger, gateway.IsRetryable)
	collab := collaborators()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	api := e.Group("/api/v1")
	gwGroup := e.Group("/v0.5")
	gwGroup.Use(gateway.CallbackAuth(cfg.CallbackAuthSecret))

	e.GET("/health", db.HealthHandler(pool))

	hipResp := apierror.NewResponder(apierror.PrefixHIP, cfg.IncludeErrorDetails)
	hiuResp := apierror.NewResponder(apierror.PrefixHIU, cfg.IncludeErrorDetails)

	consentRepo := consent.NewRepoPG(pool)
	consentSvc := consent.NewService(consentRepo, gwClient, corr, runner, consent.ServiceConfig{
		HIPID:        cfg.HIPID,
		HIUID:        cfg.HIUID,
		PollAttempts: cfg.CallbackPollAttempts,
		PollInterval: pollInterval,
	}, logger)
	consentSvc.StartSweeper(ctx, time.Hour)
	consent.NewHandler(consentSvc, hiuResp).RegisterRoutes(api, gwGroup)

	linkRepo := linking.NewRepoPG(pool)
	if cfg.HIPEnabled() {
		linkSvc := linking.NewService(linkRepo, gwClient, corr, runner, collab, linking.ServiceConfig{
			HIPID:        cfg.HIPID,
			PollAttempts: cfg.CallbackPollAttempts,
			PollInterval: pollInterval,
		}, logger)
		linking.NewHandler(linkSvc, hipResp).RegisterRoutes(api, gwGroup)
	}

	hiRepo := healthinfo.NewRepoPG(pool)
	hiSvc := healthinfo.NewService(hiRepo, consentRepo, linkRepo, gwClient, corr, runner, collab, healthinfo.ServiceConfig{
		HIPID:          cfg.HIPID,
		HIUID:          cfg.HIUID,
		DataPushURL:    cfg.DataPushURL,
		EntriesPerPage: cfg.EntriesPerPage,
		PollAttempts:   cfg.CallbackPollAttempts,
		PollInterval:   pollInterval,
	}, logger)
	healthinfo.NewHandler(hiSvc, hiuResp).RegisterRoutes(api, gwGroup)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	return nil
}
