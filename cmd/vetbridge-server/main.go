package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vetbridge/vetbridge/internal/config"
	"github.com/vetbridge/vetbridge/internal/domain/commission"
	"github.com/vetbridge/vetbridge/internal/domain/encounter"
	"github.com/vetbridge/vetbridge/internal/domain/party"
	"github.com/vetbridge/vetbridge/internal/domain/pending"
	"github.com/vetbridge/vetbridge/internal/domain/pos"
	"github.com/vetbridge/vetbridge/internal/domain/remoteapi"
	"github.com/vetbridge/vetbridge/internal/domain/scheduling"
	"github.com/vetbridge/vetbridge/internal/platform/auth"
	"github.com/vetbridge/vetbridge/internal/platform/cache"
	"github.com/vetbridge/vetbridge/internal/platform/db"
	"github.com/vetbridge/vetbridge/internal/platform/middleware"
	"github.com/vetbridge/vetbridge/internal/platform/possync"
	"github.com/vetbridge/vetbridge/internal/platform/reqctx"
	"github.com/vetbridge/vetbridge/internal/platform/sequence"
	"github.com/vetbridge/vetbridge/internal/platform/telemetry"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vetbridge-server",
		Short: "Clinic encounter and billing bridge server",
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
		Short: "Start the API server",
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

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Restore from a backup or write a forward migration instead.")
			return nil
		},
	})

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Snapshot cache, disabled when no Redis URL is configured
	snapshots, err := cache.New(ctx, cfg.RedisURL, time.Duration(cfg.RedisSnapshotTTL)*time.Second)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	if snapshots == nil {
		logger.Warn().Msg("REDIS_URL not set; snapshot caching disabled")
	} else {
		defer snapshots.Close()
	}

	// Terminal sync hub and document sequences
	hub := possync.NewHub()
	seq := sequence.NewPG(pool)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Effective-Date", "X-Suppress-Owner-Suffix"},
	}))

	tp := telemetry.NewProvider(telemetry.Config{
		ServiceName: "vetbridge-server",
		Environment: cfg.Env,
	})
	e.Use(tp.MetricsMiddleware())
	e.GET("/metrics", tp.PrometheusHandler())
	e.GET("/health", db.HealthHandler(pool))

	// The staff API and the terminal channel require authentication; the
	// owner-facing booking API is public and reports failures in-band.
	var authMW echo.MiddlewareFunc
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware()
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.JWTIssuer,
			SigningKey: []byte(cfg.JWTSecret),
		})
	}
	apiV1 := e.Group("/api/v1", authMW, requestContextMiddleware())
	wsGroup := e.Group("/ws", authMW)
	remoteGroup := e.Group("/api/medical")

	// -- Domain wiring --

	partyRepo := party.NewRepo(pool)
	partySvc := party.NewService(partyRepo, seq, hub)
	owners := &OwnerResolverAdapter{parties: partySvc}

	pendingRepo := pending.NewRepo(pool)
	pendingSvc := pending.NewService(pendingRepo, owners, cfg.VetMode, hub)

	encRepo := encounter.NewRepo(pool)
	encSvc := encounter.NewService(encRepo, &BillingQueueAdapter{queue: pendingSvc}, seq, owners, cfg.VetMode, hub)

	schedRepo := scheduling.NewRepo(pool)
	schedSvc := scheduling.NewService(schedRepo,
		&EncounterLedgerAdapter{encounters: encSvc},
		&WalkinMinterAdapter{parties: partySvc},
		owners, seq, pool,
		scheduling.Config{
			DefaultSlotMinutes: cfg.DefaultSlotMinutes,
			VetMode:            cfg.VetMode,
		}, hub)

	commissionRepo := commission.NewRepo(pool)
	commissionSvc := commission.NewService(commissionRepo, "")

	posRepo := pos.NewRepo(pool)
	posSvc := pos.NewService(posRepo,
		&PosQueueAdapter{queue: pendingSvc},
		encSvc,
		&CommissionLedgerAdapter{commissions: commissionSvc},
		seq, pool, "")

	// Terminal data-load sources
	loader := pos.NewDataLoader(snapshots)
	loader.Register(possync.ModelParty, snapshotSource(possync.ModelParty, func(ctx context.Context) (interface{}, error) {
		parties, _, err := partySvc.ListActive(ctx, 1000, 0)
		return parties, err
	}))
	loader.Register(possync.ModelEncounter, snapshotSource(possync.ModelEncounter, func(ctx context.Context) (interface{}, error) {
		encounters, _, err := encSvc.List(ctx, 1000, 0)
		return encounters, err
	}))
	loader.Register(possync.ModelPendingItem, snapshotSource(possync.ModelPendingItem, func(ctx context.Context) (interface{}, error) {
		return pendingSvc.ListByState(ctx, pending.StatePending, 1000)
	}))
	loader.Register(possync.ModelAppointment, snapshotSource(possync.ModelAppointment, func(ctx context.Context) (interface{}, error) {
		appts, _, err := schedSvc.List(ctx, 1000, 0)
		return appts, err
	}))
	loader.Register(possync.ModelRoom, snapshotSource(possync.ModelRoom, func(ctx context.Context) (interface{}, error) {
		return schedSvc.Rooms(ctx)
	}))
	loader.Register(possync.ModelResource, snapshotSource(possync.ModelResource, func(ctx context.Context) (interface{}, error) {
		return schedSvc.Resources(ctx, "")
	}))
	loader.Register(possync.ModelPartnerType, snapshotSource(possync.ModelPartnerType, func(ctx context.Context) (interface{}, error) {
		return partySvc.ListTypes(ctx)
	}))

	// -- Routes --

	party.NewHandler(partySvc).RegisterRoutes(apiV1)
	scheduling.NewHandler(schedSvc).RegisterRoutes(apiV1)
	encounter.NewHandler(encSvc).RegisterRoutes(apiV1)
	pending.NewHandler(pendingSvc).RegisterRoutes(apiV1)
	pos.NewHandler(posSvc, loader).RegisterRoutes(apiV1)
	commission.NewHandler(commissionSvc).RegisterRoutes(apiV1)

	remoteSched := &RemoteSchedulerAdapter{sched: schedSvc, parties: partySvc}
	remoteapi.NewHandler(
		remoteSched,
		remoteSched,
		&RemoteHistoryAdapter{parties: partySvc, encounters: encSvc},
		&RemotePendingAdapter{queue: pendingSvc},
	).RegisterRoutes(remoteGroup)

	possync.NewHandler(hub).RegisterRoutes(wsGroup)

	// -- Background work --

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	go gaugeLoop(bgCtx, tp, pool, hub)
	go reminderLoop(bgCtx, schedSvc, cfg.ReminderHour, logger)

	// Serve
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server listening")
		errCh <- e.Start(":" + cfg.Port)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server stopped")
			return err
		}
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// requestContextMiddleware lifts the authenticated actor and the optional
// per-request header knobs into the request context read by the services.
func requestContextMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rc := reqctx.RequestContext{}
			if actor, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context())); err == nil {
				rc.Actor = actor
			}
			if v := c.Request().Header.Get("X-Effective-Date"); v != "" {
				if d, err := time.Parse("2006-01-02", v); err == nil {
					rc.EffectiveDate = d
					rc.ForcePeriodDate = true
				}
			}
			if c.Request().Header.Get("X-Suppress-Owner-Suffix") == "true" {
				rc.SuppressOwnerSuffix = true
			}
			ctx := reqctx.With(c.Request().Context(), rc)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// gaugeLoop samples pool and terminal gauges for the metrics endpoint.
func gaugeLoop(ctx context.Context, tp *telemetry.Provider, pool *pgxpool.Pool, hub *possync.Hub) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tp.SetDBPoolActive(int64(pool.Stat().AcquiredConns()))
			tp.SetTerminalsConnected(int64(hub.ClientCount()))
		}
	}
}

// reminderLoop fires the next-day appointment reminder scan once per day at
// the configured local hour.
func reminderLoop(ctx context.Context, sched *scheduling.Service, hour int, logger zerolog.Logger) {
	for {
		now := time.Now()
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
		if !next.After(now) {
			next = next.Add(24 * time.Hour)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}
		sent := sched.RemindTomorrow(ctx)
		logger.Info().Int("reminders", sent).Msg("appointment reminder scan complete")
	}
}
