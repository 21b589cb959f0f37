package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/rongwang/cryptotrace-server/internal/analysis"
	"github.com/rongwang/cryptotrace-server/internal/api"
	"github.com/rongwang/cryptotrace-server/internal/config"
	"github.com/rongwang/cryptotrace-server/internal/payment"
	"github.com/rongwang/cryptotrace-server/internal/repository"
	"github.com/rongwang/cryptotrace-server/internal/service"
	"github.com/rongwang/cryptotrace-server/internal/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "cryptotrace-server",
	Short:         "CryptoTrace case management and tracing API",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file (or set CONFIG_FILE)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(bootstrapAdminCmd)
	rootCmd.AddCommand(signupTokenCmd)
	rootCmd.AddCommand(departmentCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app holds everything a command needs once config is loaded
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *sqlx.DB
	svc    *service.DefaultService
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
	_ = a.logger.Sync()
}

// newApp loads config, opens the migrated database and builds the service
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := utils.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	db, err := config.SetupDatabase(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up database: %w", err)
	}

	payments, err := newPaymentProcessor(cfg.Payments)
	if err != nil {
		db.Close()
		return nil, err
	}
	analyzer, err := newAnalyzer(ctx, cfg.Analysis)
	if err != nil {
		db.Close()
		return nil, err
	}

	repo := repository.NewSQLRepository(db)
	svc := service.NewDefaultService(repo, payments, analyzer, logger, service.Options{
		JWTSecret:         cfg.Auth.JWTSecret,
		TokenTTL:          cfg.Auth.TokenTTL,
		SignupTokenTTL:    cfg.Auth.SignupTokenTTL,
		PremiumPriceCents: cfg.Payments.PremiumPriceCents,
		Currency:          cfg.Payments.Currency,
		StandardETA:       cfg.Traces.StandardETA,
		PremiumETA:        cfg.Traces.PremiumETA,
	})

	return &app{cfg: cfg, logger: logger, db: db, svc: svc}, nil
}

func newPaymentProcessor(cfg config.PaymentsConfig) (payment.Processor, error) {
	switch cfg.Provider {
	case "stripe":
		return payment.NewStripeProcessor(cfg.StripeSecretKey, cfg.WebhookSecret, nil), nil
	case "fake":
		return payment.NewFake(cfg.WebhookSecret), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}

func newAnalyzer(ctx context.Context, cfg config.AnalysisConfig) (analysis.Analyzer, error) {
	switch cfg.Provider {
	case "genai":
		a, err := analysis.NewGenAIAnalyzer(ctx, cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create analyzer: %w", err)
		}
		return a, nil
	case "fake":
		return analysis.NewFake(), nil
	default:
		return nil, fmt.Errorf("unknown analysis provider %q", cfg.Provider)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Auth.PipelineToken == "" {
		a.logger.Warn("pipeline token not set, pipeline status routes are disabled")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	handler := api.NewHandler(a.svc, a.logger, api.Config{
		PipelineToken:  a.cfg.Auth.PipelineToken,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:         net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Server.Port)),
		Handler:      router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()

		a.logger.Info("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	db, err := config.OpenDatabase(cmd.Context(), cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	version, err := config.Migrate(cmd.Context(), db)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "database at version %d\n", version)
	return nil
}
