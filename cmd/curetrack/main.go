package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"curetrack/infrastructure/argon"
	"curetrack/infrastructure/audit"
	"curetrack/infrastructure/cache"
	"curetrack/infrastructure/config"
	httpserver "curetrack/infrastructure/http"
	"curetrack/infrastructure/logging"
	"curetrack/infrastructure/metrics"
	"curetrack/infrastructure/rbac"
	"curetrack/infrastructure/scheduler"
	"curetrack/infrastructure/sqlite"
	"curetrack/processing/batches"
	"curetrack/processing/sales"
	"curetrack/processing/stages"
)

func main() {
	envFile := flag.String("env", "", "optional .env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.Must(logging.New(cfg.LogLevel))
	defer func() { _ = logger.Sync() }()

	db, err := sqlite.OpenDB(cfg.Database.Path)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	if err := sqlite.ApplyMigrations(context.Background(), db, cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("apply migrations", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	views := &cache.Views{
		Store:   cache.NewLRUReadModel(cfg.Cache.Size, cfg.Cache.TTL, m),
		TTL:     cfg.Cache.TTL,
		Log:     logging.Named(logger, "cache"),
		Metrics: m,
	}
	auditSvc := audit.NewService()
	stageSvc := &stages.Service{
		DB:                          db,
		Views:                       views,
		Audit:                       auditSvc,
		Log:                         logging.Named(logger, "stages"),
		Metrics:                     m,
		RequireDryingBeforeFinalize: cfg.Processing.FinalizeRequiresDrying,
	}
	batchSvc := &batches.Service{
		DB:           db,
		Stages:       stageSvc,
		Views:        views,
		Audit:        auditSvc,
		Log:          logging.Named(logger, "batches"),
		Metrics:      m,
		CodeAttempts: cfg.Processing.BatchCodeMaxAttempts,
	}
	saleSvc := &sales.Service{
		DB:      db,
		Views:   views,
		Audit:   auditSvc,
		Log:     logging.Named(logger, "sales"),
		Metrics: m,
	}

	sessionCache := cache.NewUserSessionCache()
	rbacCache := cache.NewRbacRolesCache()

	jobs := scheduler.New(db, sessionCache, logging.Named(logger, "scheduler"))
	if err := jobs.Start(cfg.Session.PurgeSchedule); err != nil {
		logger.Fatal("start scheduler", zap.Error(err))
	}
	defer jobs.Stop()

	server := httpserver.NewServer(cfg.Server.Addr, httpserver.Deps{
		DB:           db,
		SessionCache: sessionCache,
		RbacCache:    rbacCache,
		Rbac:         rbac.New(rbacCache),
		Hasher:       argon.NewHasher(argon.DefaultParams),
		Audit:        auditSvc,
		Batches:      batchSvc,
		Stages:       stageSvc,
		Sales:        saleSvc,
		Gatherer:     reg,
		Log:          logger,
		SessionTTL:   cfg.Session.TTL,
	})
	if err := server.Start(); err != nil {
		logger.Fatal("start server", zap.Error(err))
	}
	logger.Info("curetrack listening", zap.String("addr", cfg.Server.Addr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	if err := server.Stop(); err != nil {
		logger.Error("graceful shutdown error", zap.Error(err))
	}
}
