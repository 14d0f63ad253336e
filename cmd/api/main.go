package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/haldenbank/corebank/internal/api"
	"github.com/haldenbank/corebank/internal/config"
	"github.com/haldenbank/corebank/internal/ledger"
	"github.com/haldenbank/corebank/internal/logger"
	"github.com/haldenbank/corebank/internal/notify"
	"github.com/haldenbank/corebank/internal/posting"
	"github.com/haldenbank/corebank/internal/store"
	"github.com/haldenbank/corebank/internal/transfer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	zlog, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatal(err)
	}
	defer zlog.Sync()

	if cfg.MigrationsDir != "" {
		if err := store.RunMigrations(cfg.DBSource, cfg.MigrationsDir); err != nil {
			zlog.Fatal("migrations failed", zap.Error(err))
		}
	}

	db, err := store.NewPostgres(context.Background(), cfg.DBSource)
	if err != nil {
		zlog.Fatal("unable to connect to database", zap.Error(err))
	}
	defer db.Close()

	var notifier notify.Notifier = notify.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		k := notify.NewKafka(cfg.KafkaBrokers, cfg.NotifyTopic)
		defer k.Close()
		notifier = k
	}

	// Initialize layers
	ledgerSvc := ledger.New(db, zlog)
	engine := posting.New(db, zlog)
	transferSvc := transfer.New(db, ledgerSvc, engine, notifier, zlog)
	handler := api.NewHandler(db, ledgerSvc, transferSvc, zlog)

	// Router
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", handler.HealthCheckHandler).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.Use(api.AccessLog(zlog))
	apiV1.Use(api.Authenticate)
	handler.RegisterRoutes(apiV1)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		zlog.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zlog.Error("shutdown failed", zap.Error(err))
	}
	zlog.Info("server stopped")
}
