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

	"github.com/ariefcatur/go-worklist-sync/internal/config"
	"github.com/ariefcatur/go-worklist-sync/internal/httpx"
	kafkax "github.com/ariefcatur/go-worklist-sync/internal/kafka"
	"github.com/ariefcatur/go-worklist-sync/internal/logx"
	"github.com/ariefcatur/go-worklist-sync/internal/orders"
	"github.com/ariefcatur/go-worklist-sync/internal/postgres"
	"github.com/ariefcatur/go-worklist-sync/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger, err := logx.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers, one per table topic
	pOrders := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicFor(orders.TableOrders), 1024, logger)
	pOrders.Start(ctx)
	pCustomers := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicFor(orders.TableCustomers), 1024, logger)
	pCustomers.Start(ctx)
	feed := &kafkax.RowEvents{Orders: pOrders, Customers: pCustomers, Service: cfg.ServiceName}

	// Repo & handlers
	repo := &orders.Repo{DB: db}
	router := httpx.NewRouter(logger)
	router.Group(func(r chi.Router) {
		r.Use(httpx.Identity(repo, logger))
		(&httpx.OrdersHandler{Store: repo, Feed: feed, Idem: redisx.Idempotency{RDB: rdb}, Log: logger}).Register(r)
		(&httpx.CustomersHandler{Store: repo, Feed: feed, Log: logger}).Register(r)
		(&httpx.StatsHandler{Source: repo, Log: logger}).Register(r)
		(&httpx.SyncHandler{Hints: redisx.SyncHints{RDB: rdb}, Log: logger}).Register(r)
	})
	if cfg.EnableAdmin {
		logger.Warn("admin reset endpoint enabled")
		(&httpx.AdminHandler{Resetter: repo, Log: logger}).Register(router)
	}

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	pOrders.Close()
	pCustomers.Close()
	pOrders.WaitClosed()
	pCustomers.WaitClosed()
}
