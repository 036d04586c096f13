package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/carelink/carelink/internal/config"
	"github.com/carelink/carelink/internal/domain/audit"
	"github.com/carelink/carelink/internal/domain/connection"
	"github.com/carelink/carelink/internal/domain/encounter"
	"github.com/carelink/carelink/internal/domain/integration"
	"github.com/carelink/carelink/internal/domain/prescription"
	"github.com/carelink/carelink/internal/domain/progressnote"
	"github.com/carelink/carelink/internal/platform/apperr"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/internal/platform/cache"
	"github.com/carelink/carelink/internal/platform/db"
	"github.com/carelink/carelink/internal/platform/middleware"
	"github.com/carelink/carelink/internal/platform/notification"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "carelink-server",
		Short: "CareLink clinical records API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(sweepCmd())

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
			schema, _ := cmd.Flags().GetString("schema")
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
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
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
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
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
	statusCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new tenant schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

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

			fmt.Printf("Creating tenant schema: tenant_%s\n", name)
			if err := db.CreateTenantSchema(ctx, pool, name, "./migrations"); err != nil {
				return err
			}
			fmt.Println("Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

// sweepCmd runs the periodic maintenance passes. A scheduler invokes these
// on a cron; they are also reachable through the admin API.
func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run maintenance sweeps",
	}

	var tenant string

	expireCmd := &cobra.Command{
		Use:   "expire",
		Short: "Expire active prescriptions past their end date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTenantPool(tenant, func(ctx context.Context, cfg *config.Config, pool *poolDeps) error {
				svc := prescription.NewService(
					prescription.NewRepo(pool.pool),
					connection.NewGuard(connection.NewRepo(pool.pool)),
					audit.NewRecorder(audit.NewRepo(pool.pool), pool.logger),
					&notification.LogSender{Logger: pool.logger},
					pool.logger)
				count, err := svc.ExpireActive(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Expired %d prescription(s).\n", count)
				return nil
			})
		},
	}

	retryCmd := &cobra.Command{
		Use:   "retry",
		Short: "Reprocess parked ingestion errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTenantPool(tenant, func(ctx context.Context, cfg *config.Config, pool *poolDeps) error {
				svc := integration.NewService(
					integration.NewRepo(pool.pool),
					payloadReprocessor(),
					pool.logger)
				res, err := svc.Sweep(ctx, cfg.SweepBatchSize)
				if err != nil {
					return err
				}
				fmt.Printf("Attempted %d, resolved %d, failed %d.\n", res.Attempted, res.Resolved, res.Failed)
				return nil
			})
		},
	}

	cmd.PersistentFlags().StringVar(&tenant, "tenant", "default", "Tenant to sweep")
	cmd.AddCommand(expireCmd)
	cmd.AddCommand(retryCmd)
	return cmd
}

type poolDeps struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// withTenantPool opens a pool, pins the connection to the tenant schema and
// runs fn with it.
func withTenantPool(tenant string, fn func(ctx context.Context, cfg *config.Config, deps *poolDeps) error) error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

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

	ctx, release, err := db.WithTenant(ctx, pool, tenant)
	if err != nil {
		return err
	}
	defer release()

	return fn(ctx, cfg, &poolDeps{pool: pool, logger: logger})
}

// payloadReprocessor replays a parked payload through the same validation
// the inbound interface applies. Rows park when the upstream parser rejects
// them; once the payload (or the parser) is fixed the replay resolves them.
func payloadReprocessor() integration.Reprocessor {
	return integration.ReprocessorFunc(func(ctx context.Context, e *integration.IngestError) error {
		var doc map[string]interface{}
		if err := json.Unmarshal(e.Payload, &doc); err != nil {
			return fmt.Errorf("payload is not valid JSON: %w", err)
		}
		if _, ok := doc["result_type"]; !ok {
			return fmt.Errorf("payload missing result_type")
		}
		return nil
	})
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

	readCache := cache.New(ctx, cfg.RedisURL, time.Duration(cfg.CacheTTLSecs)*time.Second, logger)
	defer readCache.Close()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	}

	e.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))

	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Shared infrastructure.
	auditRepo := audit.NewRepo(pool)
	recorder := audit.NewRecorder(auditRepo, logger)
	notifier := &notification.LogSender{Logger: logger}

	// Access control. The guard reads the link store on every decision;
	// the cache only speeds up the connection list endpoints.
	linkRepo := connection.NewRepo(pool)
	guard := connection.NewGuard(linkRepo)
	connectionSvc := connection.NewService(linkRepo, recorder, readCache)

	// Clinical domains.
	encounterRepo := encounter.NewRepo(pool)
	encounterSvc := encounter.NewService(encounterRepo, guard, recorder)

	noteSvc := progressnote.NewService(progressnote.NewRepo(pool), encounterRepo, guard, recorder)

	rxSvc := prescription.NewService(prescription.NewRepo(pool), guard, recorder, notifier, logger)

	integrationSvc := integration.NewService(integration.NewRepo(pool), payloadReprocessor(), logger)

	// Routes.
	connection.NewHandler(connectionSvc).RegisterRoutes(apiV1)
	encounter.NewHandler(encounterSvc).RegisterRoutes(apiV1)
	progressnote.NewHandler(noteSvc).RegisterRoutes(apiV1)
	prescription.NewHandler(rxSvc).RegisterRoutes(apiV1)
	integration.NewHandler(integrationSvc, cfg.SweepBatchSize).RegisterRoutes(apiV1)
	audit.NewHandler(audit.NewService(auditRepo)).RegisterRoutes(apiV1)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
