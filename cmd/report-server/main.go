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

	"github.com/hispls/dreams-reports/internal/api"
	"github.com/hispls/dreams-reports/internal/config"
	"github.com/hispls/dreams-reports/internal/export"
	"github.com/hispls/dreams-reports/internal/platform/auth"
	"github.com/hispls/dreams-reports/internal/platform/db"
	"github.com/hispls/dreams-reports/internal/platform/dhis2"
	"github.com/hispls/dreams-reports/internal/platform/middleware"
	"github.com/hispls/dreams-reports/internal/report"
	"github.com/hispls/dreams-reports/internal/reportstore"
	"github.com/hispls/dreams-reports/internal/runner"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "report-server",
		Short: "DREAMS/OVC report aggregation server for DHIS2",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func newDHIS2Client(cfg *config.Config, logger zerolog.Logger) *dhis2.Client {
	opts := []dhis2.Option{dhis2.WithLogger(logger)}
	if cfg.DHIS2Token != "" {
		opts = append(opts, dhis2.WithToken(cfg.DHIS2Token))
	} else {
		opts = append(opts, dhis2.WithBasicAuth(cfg.DHIS2Username, cfg.DHIS2Password))
	}
	return dhis2.NewClient(cfg.DHIS2BaseURL, opts...)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the report API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	reports, err := report.LoadConfigDir(cfg.ReportConfigDir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.ReportConfigDir).Msg("failed to load report definitions")
	}
	logger.Info().Int("reports", len(reports)).Msg("report definitions loaded")

	client := newDHIS2Client(cfg, logger)
	store := reportstore.NewStore(pool)
	svc := runner.NewService(reports, client, store, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(60 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", auth.APIKeyHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1")
	switch {
	case cfg.IsDev():
		apiV1.Use(auth.DevAuthMiddleware())
	case cfg.JWTSecret != "":
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{Secret: []byte(cfg.JWTSecret)}))
	default:
		apiV1.Use(auth.APIKeyMiddleware(cfg.APIKeys))
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	api.NewHandler(svc, store).RegisterRoutes(apiV1)

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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one report to a file without the HTTP layer",
		RunE: func(cmd *cobra.Command, args []string) error {
			reportID, _ := cmd.Flags().GetString("report")
			orgUnits, _ := cmd.Flags().GetStringSlice("ou")
			periods, _ := cmd.Flags().GetStringSlice("pe")
			out, _ := cmd.Flags().GetString("out")
			formatFlag, _ := cmd.Flags().GetString("format")
			if reportID == "" {
				return fmt.Errorf("--report is required")
			}

			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			reports, err := report.LoadConfigDir(cfg.ReportConfigDir)
			if err != nil {
				return err
			}
			client := newDHIS2Client(cfg, logger)
			svc := runner.NewService(reports, client, nil, logger)

			format, err := export.ParseFormat(formatFlag)
			if err != nil {
				return err
			}
			if out == "" {
				out = export.FileName(reportID, format, time.Now().UTC())
			}

			res, err := svc.Generate(context.Background(), reportID, report.Dimensions{
				OrgUnits: orgUnits,
				Periods:  periods,
			})
			if err != nil {
				return err
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := export.Write(f, format, reportID, res.Columns, res.Rows); err != nil {
				return err
			}

			fmt.Printf("Wrote %d row(s) to %s\n", len(res.Rows), out)
			if len(res.FailedPages) > 0 {
				fmt.Printf("WARNING: %d page fetch(es) failed; the report has reduced coverage.\n", len(res.FailedPages))
			}
			return nil
		},
	}
	cmd.Flags().String("report", "", "Report definition id")
	cmd.Flags().StringSlice("ou", nil, "Organisation unit ids")
	cmd.Flags().StringSlice("pe", nil, "Period ids (e.g. 2024, 202405, 2024Q2)")
	cmd.Flags().String("out", "", "Output file path (default: <report>-<timestamp>.<format>)")
	cmd.Flags().String("format", "xlsx", "Output format: xlsx or csv")
	return cmd
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
	upCmd.Flags().String("dir", "", "Path to migrations directory")
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
	statusCmd.Flags().String("dir", "", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}
