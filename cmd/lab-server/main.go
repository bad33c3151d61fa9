package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lrlichardi/laboratory/internal/config"
	"github.com/lrlichardi/laboratory/internal/domain/nomenclador"
	"github.com/lrlichardi/laboratory/internal/domain/refrange"
	"github.com/lrlichardi/laboratory/internal/domain/results"
	"github.com/lrlichardi/laboratory/internal/platform/backend"
	"github.com/lrlichardi/laboratory/internal/platform/db"
	"github.com/lrlichardi/laboratory/internal/platform/middleware"
	"github.com/lrlichardi/laboratory/internal/platform/reporting"
	"github.com/lrlichardi/laboratory/internal/platform/telemetry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "lab-server",
		Short:        "Laboratory results API server",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(resolveCmd())
	return rootCmd
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the results API server",
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

	openMigrator := func(cmd *cobra.Command) (*db.Migrator, func(), error) {
		schema, _ := cmd.Flags().GetString("schema")
		dir, _ := cmd.Flags().GetString("dir")

		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		if cfg.BackendMode != config.BackendPostgres {
			return nil, nil, fmt.Errorf("migrations need BACKEND_MODE=postgres, got %q", cfg.BackendMode)
		}
		if dir == "" {
			dir = cfg.MigrationsDir
		}

		pool, err := db.NewPool(cmd.Context(), cfg.DatabaseURL, db.PoolConfig{MaxConns: 2})
		if err != nil {
			return nil, nil, err
		}
		return db.NewMigrator(pool, dir).WithSchema(schema), pool.Close, nil
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeFn, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := m.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeFn, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := m.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatuses(cmd.OutOrStdout(), statuses)
			return nil
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("schema", "", "Target schema (default public)")
		c.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
		cmd.AddCommand(c)
	}
	return cmd
}

func printStatuses(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// resolveCmd resolves a reference text offline, reading it from --text or
// stdin.
func resolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a reference-range text for a patient's sex and age",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, _ := cmd.Flags().GetString("text")
			sex, _ := cmd.Flags().GetString("sex")
			age, _ := cmd.Flags().GetInt("age")
			apply, _ := cmd.Flags().GetBool("apply")
			asJSON, _ := cmd.Flags().GetBool("json")

			if text == "" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = strings.TrimRight(string(b), "\r\n")
			}
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("a reference text is required (--text or stdin)")
			}
			if age < 0 {
				return fmt.Errorf("--age must not be negative")
			}

			res := refrange.NewResolver(1).Explain(text, sex, age, apply)
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			fmt.Fprintln(out, res.Text)
			return nil
		},
	}
	cmd.Flags().String("text", "", "Reference text (read from stdin when empty)")
	cmd.Flags().String("sex", "", "Patient sex (F, M, Femenino, Masculino...)")
	cmd.Flags().Int("age", 0, "Patient age in whole years")
	cmd.Flags().Bool("apply", true, "Apply sex/age filtering; false prints the text unchanged")
	cmd.Flags().Bool("json", false, "Print the resolution outcome as JSON")
	return cmd
}

// orderBackend bundles the repositories of the configured backend mode.
type orderBackend struct {
	orders  results.OrderRepository
	catalog nomenclador.Repository
	health  db.Pinger
	pool    *pgxpool.Pool
	close   func()
}

func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*orderBackend, error) {
	if cfg.BackendMode == config.BackendREST {
		client, err := backend.New(backend.Config{
			BaseURL: cfg.BackendURL,
			Timeout: cfg.BackendTimeout,
			RPS:     cfg.BackendRPS,
		}, logger)
		if err != nil {
			return nil, err
		}
		return &orderBackend{orders: client, catalog: client, health: client, close: func() {}}, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return nil, err
	}
	return &orderBackend{
		orders:  results.NewOrderRepoPG(pool),
		catalog: nomenclador.NewRepoPG(pool),
		health:  pool,
		pool:    pool,
		close:   pool.Close,
	}, nil
}

// newServer wires the services and routes over an already opened backend.
func newServer(cfg *config.Config, logger zerolog.Logger, b *orderBackend, rules results.Rules) *echo.Echo {
	resultsSvc := results.NewService(b.orders, rules, refrange.NewResolver(cfg.RangeCacheSize), results.ServiceOptions{
		SessionTTL:  cfg.SessionTTL,
		MaxSessions: cfg.SessionMax,
		Logger:      logger,
	})
	nomenSvc := nomenclador.NewService(b.catalog, 0, logger)
	renderer := reporting.NewRenderer(reporting.Letterhead{
		Name:     cfg.LabName,
		Subtitle: cfg.LabSubtitle,
		Address:  cfg.LabAddress,
	})

	metrics := telemetry.NewProvider()
	metrics.RegisterGauge("lab_open_sessions", "Edit sessions held in memory.", func() float64 {
		return float64(resultsSvc.OpenSessions())
	})
	if b.pool != nil {
		pool := b.pool
		metrics.RegisterGauge("db_pool_acquired_connections", "Connections currently in use.", func() float64 {
			return float64(pool.Stat().AcquiredConns())
		})
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	apiV1.Use(middleware.BodyLimit("1M"))
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	results.NewHandler(resultsSvc, renderer).RegisterRoutes(apiV1)
	nomenclador.NewHandler(nomenSvc).RegisterRoutes(apiV1)

	e.GET("/health", db.HealthHandler(b.health, b.pool))
	e.GET("/metrics", metrics.Handler())
	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		l := newLogger(os.Getenv("ENV"))
		l.Error().Err(err).Msg("failed to load config")
		return err
	}
	logger := newLogger(cfg.Env)

	rules, err := results.LoadRules(cfg.RulesFile)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load rules")
		return err
	}

	ctx := context.Background()
	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Str("mode", cfg.BackendMode).Msg("failed to open backend")
		return err
	}
	defer b.close()
	logger.Info().Str("mode", cfg.BackendMode).Msg("backend ready")

	e := newServer(cfg, logger, b, rules)

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
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
