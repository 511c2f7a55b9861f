// Command server runs the credit ledger and its anchoring engine behind the
// admin HTTP surface. All dependencies are constructed here and injected
// explicitly; nothing is ambient.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"karbon/internal/admin"
	"karbon/internal/anchor"
	"karbon/internal/anchor/chain"
	"karbon/internal/anchor/wallet"
	"karbon/internal/chainio/gate"
	"karbon/internal/chainio/retry"
	"karbon/internal/credit/handler"
	creditmetrics "karbon/internal/credit/metrics"
	"karbon/internal/credit/service"
	"karbon/internal/credit/store"
	"karbon/internal/directory"
	"karbon/internal/events"
	"karbon/internal/monitor"
	"karbon/internal/platform/config"
	"karbon/internal/platform/httpserver"
	"karbon/internal/platform/logger"
	"karbon/internal/platform/postgres"
	redisplatform "karbon/internal/platform/redis"
	"karbon/pkg/platform/middleware/requestid"
	"karbon/pkg/platform/middleware/requesttime"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		log.Error("postgres unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	ledger := store.NewPostgres(db)
	dir := directory.New(db)

	retrier := retry.New(retry.Config{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		BaseDelay:         cfg.Retry.BaseDelay,
		MaxDelay:          cfg.Retry.MaxDelay,
		FallbackThreshold: cfg.Retry.FallbackThreshold,
	}, retry.WithLogger(log))

	var submissionGate gate.Gate
	redisClient, err := redisplatform.New(cfg.Redis)
	if err != nil {
		log.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		submissionGate = gate.NewRedis(redisClient.Client, cfg.Gate, log)
		log.Info("submission gate using redis")
	} else {
		submissionGate = gate.NewMemory(cfg.Gate)
		log.Info("submission gate using in-memory window")
	}

	mon := monitor.New(nil)

	svcOpts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(creditmetrics.New()),
		service.WithSerialPrefix(cfg.Anchor.SerialPrefix),
	}

	if cfg.Chain.Endpoint != "" {
		w, err := wallet.Load(ctx, wallet.EnvSecretSource{Var: cfg.Anchor.RecoveryPhraseEnv}, cfg.Chain.NetworkTag)
		if err != nil {
			log.Error("custodial wallet unavailable", "error", err)
			os.Exit(1)
		}
		engine := anchor.NewEngine(
			chain.NewHTTPClient(cfg.Chain),
			w,
			retrier,
			submissionGate,
			ledger,
			anchor.WithLogger(log),
			anchor.WithMonitor(mon),
			anchor.WithRegistryName(cfg.Anchor.RegistryName),
		)
		svcOpts = append(svcOpts, service.WithAnchorer(engine))
		log.Info("anchoring enabled", "network", cfg.Chain.NetworkTag, "wallet", w.Address())
	} else {
		log.Warn("no chain endpoint configured, credits will be issued unanchored")
	}

	publisher, err := events.NewPublisher(cfg.Kafka.Brokers,
		events.WithLogger(log), events.WithTopic(cfg.Kafka.Topic))
	if err != nil {
		log.Error("kafka unavailable", "error", err)
		os.Exit(1)
	}
	if publisher != nil {
		svcOpts = append(svcOpts, service.WithPublisher(publisher))
	}

	svc := service.New(ledger, dir, dir, dir, svcOpts...)

	router := chi.NewRouter()
	router.Use(chimiddleware.Recoverer)
	router.Use(requestid.Middleware)
	router.Use(requesttime.Middleware)
	handler.New(svc, log).Register(router)
	admin.New(mon, retrier, nil, log).Register(router)

	srv := httpserver.New(cfg.Server, router)
	go func() {
		log.Info("admin surface listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	if err := publisher.Close(shutdownCtx); err != nil {
		log.Warn("kafka flush failed", "error", err)
	}
}
