package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"newroi/ledger-service/internal/config"
	"newroi/ledger-service/internal/handler"
	"newroi/ledger-service/internal/notify"
	"newroi/ledger-service/internal/repository"
	"newroi/ledger-service/internal/scheduler"
	"newroi/ledger-service/internal/service"
	"newroi/ledger-service/pkg/auth"
	"newroi/ledger-service/pkg/db"
	"newroi/ledger-service/pkg/logger"
	"newroi/ledger-service/pkg/metrics"
)

func main() {
	envFile := config.LoadEnvFiles()

	log := logger.NewLogger("ledger-service")
	if envFile != "" {
		log.WithField("path", envFile).Info("Loaded environment file")
	} else {
		log.Warn(".env file not found, using process environment")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}

	database, err := db.NewConnection(cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer database.Close()
	log.Info("Successfully connected to database")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := db.NewSchemaGuard(database.DB).ValidateTables(ctx, repository.ExpectedSchema); err != nil {
		log.WithError(err).Fatal("Database schema does not match the ledger")
	}

	redisClient, err := db.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisClient.Close()
	log.Info("Successfully connected to Redis")

	var serviceMetrics *metrics.Metrics
	if cfg.Server.MetricsEnabled {
		serviceMetrics = metrics.NewMetrics("ledger", prometheus.DefaultRegisterer)
	}

	notifiers := []notify.Notifier{notify.NewRedisPublisher(redisClient)}
	if cfg.Telegram.Enabled() {
		telegram, err := notify.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.AdminChatID)
		if err != nil {
			log.WithError(err).Warn("Telegram notifier disabled")
		} else {
			notifiers = append(notifiers, telegram)
		}
	}
	dispatcher := notify.NewDispatcher(log, notifiers...)

	store := repository.NewStore(database.DB)
	ledger := service.NewLedgerService(store, log)
	settings := service.NewSettingsService(store, log)
	if _, err := settings.Load(ctx); err != nil {
		log.WithError(err).Fatal("Failed to load system settings")
	}
	otp := service.NewOTPService(repository.NewOTPStore(redisClient), dispatcher, log)
	distribution := service.NewDistributionService(store, ledger, settings, dispatcher, serviceMetrics, log, cfg.Distribution.Location)

	svc := handler.Services{
		Wallet:         service.NewWalletService(store, ledger, settings, otp, dispatcher, log),
		Investments:    service.NewInvestmentService(store, ledger, settings, dispatcher, log),
		Referrals:      service.NewReferralService(store, settings, log),
		Settings:       settings,
		OTP:            otp,
		Distribution:   distribution,
		Reconciliation: service.NewReconciliationService(store, log),
		Remediation:    service.NewRemediationService(store, log),
	}

	tokens := auth.NewRedisTokenValidator(redisClient)

	var metricsHandler http.Handler
	if serviceMetrics != nil {
		metricsHandler = promhttp.Handler()
		go recordPoolStats(ctx, database, serviceMetrics)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.HTTPPort,
		Handler:           handler.NewHandler(svc, log).Routes(tokens, serviceMetrics, metricsHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer, healthServer := handler.NewGRPCServer(log, serviceMetrics, tokens)
	lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
	if err != nil {
		log.WithError(err).WithField("port", cfg.Server.GRPCPort).Fatal("Failed to listen")
	}

	schedulerDone := make(chan struct{})
	if cfg.Distribution.SchedulerEnabled {
		daily := scheduler.New(distribution, cfg.Distribution.Location, cfg.Distribution.Hour, log)
		go func() {
			defer close(schedulerDone)
			daily.Start(ctx)
		}()
	} else {
		log.Info("Distribution scheduler disabled")
		close(schedulerDone)
	}

	go func() {
		log.WithField("port", cfg.Server.GRPCPort).Info("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			log.WithError(err).Error("gRPC server stopped")
		}
	}()

	go func() {
		log.WithField("port", cfg.Server.HTTPPort).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server stopped")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down gracefully...")

	healthServer.Shutdown()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown incomplete")
	}
	grpcServer.GracefulStop()
	// a running distribution stops after its current investment
	<-schedulerDone
	dispatcher.Wait()

	log.Info("Shutdown complete")
}

func recordPoolStats(ctx context.Context, database *db.Connection, m *metrics.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RecordDBPoolStats(database.DB.Stats())
		}
	}
}
