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

	"github.com/telehq/intake/internal/config"
	"github.com/telehq/intake/internal/domain/audit"
	"github.com/telehq/intake/internal/domain/draft"
	"github.com/telehq/intake/internal/domain/flow"
	"github.com/telehq/intake/internal/domain/intake"
	"github.com/telehq/intake/internal/domain/issuance"
	"github.com/telehq/intake/internal/domain/review"
	"github.com/telehq/intake/internal/platform/auth"
	"github.com/telehq/intake/internal/platform/blobstore"
	"github.com/telehq/intake/internal/platform/db"
	"github.com/telehq/intake/internal/platform/middleware"
	"github.com/telehq/intake/internal/platform/notification"
	"github.com/telehq/intake/internal/platform/render"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "intake-server",
		Short: "Clinical intake workflow API server",
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
		Short: "Start the intake API server",
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
			if dir == "" {
				dir = cfg.MigrationsDir
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
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
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
			if dir == "" {
				dir = cfg.MigrationsDir
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
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
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

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	flows, err := flow.LoadDir(cfg.FlowsDir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.FlowsDir).Msg("failed to load flow definitions")
	}
	logger.Info().Strs("flows", flows.IDs()).Msg("loaded flow definitions")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.SanitizeWithLogger(logger))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(middleware.BodyLimit("1M", "5M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware. Health endpoints stay reachable without a token.
	if cfg.ResolvedAuthMode() == "development" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		jwtMW := auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		})
		e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
			authed := jwtMW(next)
			return func(c echo.Context) error {
				if auth.AuthSkipper(c) {
					return next(c)
				}
				return authed(c)
			}
		})
	}

	api := e.Group("/api")
	api.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))

	// Platform services
	txRunner := db.NewTxRunner(pool)
	renderer := render.NewEngine()
	blobs := blobstore.NewInMemoryBlobStore()

	templates := notification.NewTemplateEngine()
	notifier := notification.NewManager(
		&notification.LogEmailSender{Logger: logger},
		&notification.LogSMSSender{Logger: logger},
		templates,
		logger,
	)

	// Domain services
	auditRepo := audit.NewRepoPG(pool)
	auditSvc := audit.NewService(auditRepo)

	draftRepo := draft.NewRepoPG(pool)
	draftSvc := draft.NewService(draftRepo)

	caseRepo := intake.NewCaseRepoPG(pool)
	intakeSvc := intake.NewService(caseRepo, draftRepo, flows, auditSvc, txRunner, logger)

	claimStore := review.NewClaimStorePG(pool)
	reviewSvc := review.NewService(claimStore, auditSvc, txRunner, cfg.ClaimTTL(), logger)

	issuanceRepo := issuance.NewRepoPG(pool)
	issuanceSvc := issuance.NewService(
		issuanceRepo, caseRepo, reviewSvc, renderer, blobs, auditSvc, notifier, txRunner, logger,
	)

	// Routes
	flow.NewHandler(flows).RegisterRoutes(api)
	draft.NewHandler(draftSvc).RegisterRoutes(api)
	intake.NewHandler(intakeSvc).RegisterRoutes(api)
	review.NewHandler(reviewSvc).RegisterRoutes(api)
	issuance.NewHandler(issuanceSvc).RegisterRoutes(api)
	audit.NewHandler(auditSvc).RegisterRoutes(api)
	blobstore.NewBlobHandler(blobs).RegisterRoutes(api)
	notification.NewHandler(notifier).RegisterRoutes(api)

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/ready", db.HealthHandler(pool))
	e.GET("/health/db", db.HealthHandler(pool))

	// Background workers
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	flusher := draft.NewFlusher(draftSvc, cfg.DraftFlushInterval(), logger)
	go flusher.Start(workerCtx)

	sweeper := review.NewSweeper(reviewSvc, cfg.ClaimSweepInterval(), logger)
	go sweeper.Start(workerCtx)

	expirer := intake.NewExpirer(intakeSvc, time.Hour, cfg.CaseExpiry(), logger)
	go expirer.Start(workerCtx)

	go notifier.StartRetryLoop(workerCtx, cfg.NotifyRetryInterval())

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stopWorkers()
	notifier.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
