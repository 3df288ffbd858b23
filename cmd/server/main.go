package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/claimdesk/be-expense-approvals/internal/client"
	"github.com/claimdesk/be-expense-approvals/internal/config"
	"github.com/claimdesk/be-expense-approvals/internal/database"
	"github.com/claimdesk/be-expense-approvals/internal/handler"
	"github.com/claimdesk/be-expense-approvals/internal/repository"
	"github.com/claimdesk/be-expense-approvals/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Expense Approvals Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	expenseRepo := repository.NewExpenseRepository(db)
	flowRepo := repository.NewFlowRepository(db)
	ruleRepo := repository.NewRuleRepository(db)
	approvalRepo := repository.NewApprovalRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	directoryClient := client.NewDirectoryClient(cfg.Directory.BaseURL, cfg.Directory.Timeout)

	var natsConn *nats.Conn
	if cfg.NATS.URL != "" {
		natsConn, err = nats.Connect(cfg.NATS.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer natsConn.Drain()
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	} else {
		log.Warn().Msg("NATS_URL not set; notification publishing disabled")
	}
	notifier := client.NewNotificationPublisher(natsConn, log)

	converter := service.NewCurrencyConverter(cfg.Currency.Reference, cfg.Currency.Rates)
	resolver := service.NewFlowResolver(flowRepo, approvalRepo, directoryClient, log)
	evaluator := service.NewRuleEvaluator(ruleRepo, flowRepo, approvalRepo, log)

	expenseService := service.NewExpenseService(db, expenseRepo, auditRepo, log)
	approvalService := service.NewApprovalService(db, expenseRepo, approvalRepo, auditRepo,
		resolver, evaluator, directoryClient, notifier, log)
	workflowService := service.NewWorkflowService(flowRepo, ruleRepo, directoryClient, log)
	conditionalService := service.NewConditionalService(converter, log)

	httpHandler := handler.NewHTTPHandler(expenseService, approvalService, workflowService, conditionalService, log)

	router := mux.NewRouter()
	httpHandler.Register(router)

	var h http.Handler = router
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", duration).
			Msg("Request handled")
	})(h)
	h = hlog.RequestIDHandler("request_id", "X-Request-ID")(h)
	h = hlog.NewHandler(log)(h)
	h = cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-User-ID", "X-Request-ID"},
		AllowCredentials: true,
	}).Handler(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Service.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	log := zerolog.New(os.Stdout).Level(level).With().
		Timestamp().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Logger()

	if cfg.Service.Environment == "development" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return log
}
