package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nandasafiqal/access-grant-management/internal"
	auditPostgres "github.com/nandasafiqal/access-grant-management/internal/audit/postgres"
	"github.com/nandasafiqal/access-grant-management/internal/auth"
	"github.com/nandasafiqal/access-grant-management/internal/core/events"
	"github.com/nandasafiqal/access-grant-management/internal/grant"
	grantPostgres "github.com/nandasafiqal/access-grant-management/internal/grant/postgres"
	"github.com/nandasafiqal/access-grant-management/internal/notification"
	"github.com/nandasafiqal/access-grant-management/internal/policy"
	policyPostgres "github.com/nandasafiqal/access-grant-management/internal/policy/postgres"
	"github.com/nandasafiqal/access-grant-management/internal/provider"
	"github.com/nandasafiqal/access-grant-management/internal/transport/rest"
	"github.com/nandasafiqal/access-grant-management/pkg/logger"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	gormPostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config  *internal.Config
	DB      *sqlx.DB
	GormDB  *gorm.DB
	Router  *chi.Mux
	Service *grant.Service
	Logger  *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	slog.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      deps.Router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		if err := deps.DB.Close(); err != nil {
			slog.Error("Database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(os.Getenv("APP_ENV"))
	lg := logger.L()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := initGorm(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	svc, _ := buildGrantService(config, gormDB, lg)

	validator := auth.NewTokenValidator(config.Security.JWTSecret)
	grantHandler := grant.NewHandler(svc)
	policyStore := policy.NewStore(policyPostgres.NewPolicyRepository(gormDB), lg)
	policyHandler := policy.NewHandler(policyStore, auth.NewPermissionChecker())

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, db.DB, validator, grantHandler, policyHandler, lg)

	return &Dependencies{
		Config:  config,
		Logger:  lg,
		DB:      db,
		GormDB:  gormDB,
		Router:  router,
		Service: svc,
	}, nil
}

// buildGrantService wires the lifecycle service and its notification path;
// shared between the HTTP server and the scheduler so both drive identical
// transitions.
func buildGrantService(config *internal.Config, gormDB *gorm.DB, lg *slog.Logger) (*grant.Service, *notification.Dispatcher) {
	eventBus := events.NewEventBus(lg)

	dispatcher := notification.NewDispatcher(notification.NewLogSender(lg), lg)
	notification.NewEventHandler(dispatcher, lg).RegisterEventHandlers(eventBus)

	grantRepo := grantPostgres.NewGrantRepository(gormDB)
	auditRepo := auditPostgres.NewAuditRepository(gormDB)
	policyStore := policy.NewStore(policyPostgres.NewPolicyRepository(gormDB), lg)

	providerClient := provider.NewClient(provider.Config{
		APIURL:         config.Provider.APIURL,
		APIKey:         config.Provider.APIKey,
		RequestTimeout: config.Provider.RequestTimeout,
		MaxAttempts:    config.Provider.MaxAttempts,
		BackoffBase:    config.Provider.BackoffBase,
		MaxConcurrent:  config.Provider.MaxConcurrent,
	}, lg)

	svc := grant.NewService(
		grantRepo,
		providerClient,
		policyStore,
		auditRepo,
		auth.NewPermissionChecker(),
		eventBus,
		grant.SystemClock{},
		lg,
	)
	return svc, dispatcher
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm layers GORM over the already-open pgx connection pool so both
// query paths share one pool and one set of limits.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(gormPostgres.New(gormPostgres.Config{Conn: db.DB}), &gorm.Config{})
}
