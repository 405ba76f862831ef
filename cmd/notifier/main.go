package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ariefcatur/go-worklist-sync/internal/config"
	kafkax "github.com/ariefcatur/go-worklist-sync/internal/kafka"
	"github.com/ariefcatur/go-worklist-sync/internal/logx"
	"github.com/ariefcatur/go-worklist-sync/internal/notifier"
	"github.com/ariefcatur/go-worklist-sync/internal/orders"
	"github.com/ariefcatur/go-worklist-sync/internal/redisx"
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

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &notifier.Service{
		Dedup:       redisx.Dedup{RDB: rdb},
		Hints:       redisx.SyncHints{RDB: rdb},
		ServiceName: cfg.ServiceName + "-notifier",
		Log:         logger,
	}

	var wg sync.WaitGroup
	for _, topic := range []string{orders.TopicOrdersChanged, orders.TopicCustomersChanged} {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, topic, cfg.NotifierWorkers, logger)
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			logger.Info("notifier consumer started",
				zap.String("group", cfg.NotifierGroup), zap.String("topic", topic), zap.Int("workers", cfg.NotifierWorkers))
			if err := cons.Start(ctx, svc.HandleRowChanged); err != nil {
				logger.Error("consumer exit", zap.String("topic", topic), zap.Error(err))
				cancel()
			}
		}(topic)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down consumers")
	cancel()
	wg.Wait()
}
