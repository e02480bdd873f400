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

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/carefacility/care/internal/config"
	"github.com/carefacility/care/internal/domain/healthtask"
	"github.com/carefacility/care/internal/platform/clock"
	"github.com/carefacility/care/internal/platform/db"
	"github.com/carefacility/care/internal/platform/logging"
	"github.com/carefacility/care/internal/platform/middleware"
	"github.com/carefacility/care/internal/platform/reporting"
	"github.com/carefacility/care/internal/platform/sweep"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "care-server",
		Short:        "Care facility health task scheduler",
		SilenceUsage: true,
	}

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(migrateCmd())
	cmd.AddCommand(tasksCmd())
	cmd.AddCommand(sweepCmd())
	return cmd
}

// store is the storage backend selected by DATABASE_URL.
type store struct {
	repo    healthtask.Repository
	reports reporting.Executor
	pinger  db.Pinger
	stats   func() *db.PoolStats
	close   func()
}

func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	if cfg.UsesSQLite() {
		sqlDB, err := db.OpenSQLite(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &store{
			repo:    healthtask.NewRepoSQLite(sqlDB),
			reports: reporting.SQLExecutor{DB: sqlDB},
			pinger:  db.SQLPinger(sqlDB),
			stats:   func() *db.PoolStats { return db.GetSQLStats(sqlDB) },
			close:   func() { sqlDB.Close() },
		}, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	return &store{
		repo:    healthtask.NewRepoPG(pool),
		reports: reporting.PGExecutor{Pool: pool},
		pinger:  pool,
		stats:   func() *db.PoolStats { return db.GetPoolStats(pool) },
		close:   pool.Close,
	}, nil
}

func loadConfig() (*config.Config, *time.Location, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}
	return cfg, loc, nil
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

func runServer() error {
	cfg, loc, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Env, cfg.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open database")
		return err
	}
	defer st.close()
	logger.Info().Bool("sqlite", cfg.UsesSQLite()).Str("timezone", loc.String()).Msg("connected to database")

	svc := healthtask.NewService(st.repo, clock.RealClock{Location: loc}, loc)

	var sweeper *sweep.Sweeper
	if cfg.SweepEnabled {
		sweeper, err = sweep.New(svc, cfg.SweepSchedule, loc, logger)
		if err != nil {
			return err
		}
		sweeper.Start(ctx)
		defer func() { <-sweeper.Stop().Done() }()
	}

	e := newServer(cfg, st, svc, sweeper, loc, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer wires middleware and routes. sweeper may be nil.
func newServer(cfg *config.Config, st *store, svc *healthtask.Service, sweeper *sweep.Sweeper, loc *time.Location, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Accept-Language", "Content-Type", middleware.RequestIDHeader},
	}))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	healthtask.NewHandler(svc).RegisterRoutes(apiV1)
	reporting.NewHandler(st.reports, clock.RealClock{Location: loc}, loc).RegisterRoutes(apiV1)

	e.GET("/health", func(c echo.Context) error {
		body := map[string]interface{}{
			"status":   "ok",
			"version":  version,
			"timezone": loc.String(),
		}
		if sweeper != nil {
			body["sweep"] = map[string]interface{}{
				"next_run": sweeper.Next(),
				"last":     sweeper.Last(),
			}
		}
		return c.JSON(http.StatusOK, body)
	})
	e.GET("/health/db", db.HealthHandler(st.pinger, st.stats))

	return e
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	withMigrator := func(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator) error) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.UsesSQLite() {
			fmt.Fprintln(cmd.OutOrStdout(), "SQLite stores apply their embedded schema on open; nothing to do.")
			return nil
		}
		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = cfg.MigrationsDir
		}

		ctx := cmd.Context()
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()
		return fn(ctx, db.NewMigrator(pool, os.DirFS(dir)))
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage health tasks",
	}
	cmd.AddCommand(importCmd())
	cmd.AddCommand(previewCmd())
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create health tasks from a YAML file, all or nothing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read import file: %w", err)
			}
			tasks, err := healthtask.ParseImport(data)
			if err != nil {
				return err
			}

			cfg, loc, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.close()

			svc := healthtask.NewService(st.repo, clock.RealClock{Location: loc}, loc)
			n, err := svc.Import(cmd.Context(), tasks)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d health task(s).\n", n)
			return nil
		},
	}
}

func previewCmd() *cobra.Command {
	var (
		unit      string
		every     int
		times     []string
		weekdays  []int
		monthDays []int
		from      string
		count     int
		lang      string
		tz        string
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Print upcoming due times for a recurrence rule without storing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := clock.ParseLocation(tz)
			if err != nil {
				return err
			}
			rule := &healthtask.HealthTask{
				FrequencyUnit:       healthtask.FrequencyUnit(unit),
				FrequencyValue:      every,
				SpecificTimes:       times,
				SpecificDaysOfWeek:  weekdays,
				SpecificDaysOfMonth: monthDays,
			}

			var start time.Time
			if from != "" {
				start, err = time.ParseInLocation(time.RFC3339, from, loc)
				if err != nil {
					return fmt.Errorf("--from must be RFC3339: %w", err)
				}
			}

			svc := healthtask.NewService(nil, clock.RealClock{Location: loc}, loc)
			occ, err := svc.Preview(rule, start, count)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, healthtask.DescribeFrequency(rule, healthtask.NegotiateLocale(lang)))
			for _, t := range occ {
				fmt.Fprintln(out, t.In(loc).Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&unit, "unit", string(healthtask.FrequencyDaily), "hourly, daily, weekly, monthly or yearly")
	cmd.Flags().IntVar(&every, "every", 1, "Interval in units")
	cmd.Flags().StringSliceVar(&times, "times", nil, "Times of day, HH:MM")
	cmd.Flags().IntSliceVar(&weekdays, "weekdays", nil, "ISO weekdays, 1=Monday ... 7=Sunday")
	cmd.Flags().IntSliceVar(&monthDays, "month-days", nil, "Days of month, 1-31")
	cmd.Flags().StringVar(&from, "from", "", "Reference instant, RFC3339 (default now)")
	cmd.Flags().IntVar(&count, "count", healthtask.DefaultPreviewCount, "Number of occurrences")
	cmd.Flags().StringVar(&lang, "lang", "en", "Description language")
	cmd.Flags().StringVar(&tz, "tz", envOr("FACILITY_TIMEZONE", "+08:00"), "Facility time zone")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweep pass now and print its summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, loc, err := loadConfig()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Env, cfg.LogLevel, cmd.ErrOrStderr())

			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.close()

			svc := healthtask.NewService(st.repo, clock.RealClock{Location: loc}, loc)
			sweeper, err := sweep.New(svc, cfg.SweepSchedule, loc, logger)
			if err != nil {
				return err
			}
			res, err := sweeper.RunOnce(cmd.Context())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
