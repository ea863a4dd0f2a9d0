package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quangminh-smart-border/consignment-service/internal/config"
	"github.com/quangminh-smart-border/consignment-service/internal/logger"
	"github.com/quangminh-smart-border/consignment-service/internal/metrics"
	"github.com/quangminh-smart-border/consignment-service/internal/repo"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/segmentio/kafka-go"
)

func main() {
	path := "internal/config/config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true, TranslateError: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}

	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.Hash{},
	}
	defer kw.Close()

	// the poller never reads the cache
	repo := repo.NewRepository(gdb, nil, kw, 0, log)

	m := metrics.New("consignment_poller")
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		addr := fmt.Sprintf(":%d", cfg.Server.Port+1)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Errorf("metrics listener: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(cfg.Poller.Interval)
	defer ticker.Stop()

	log.Info("consignment-poller started")
	for {
		select {
		case <-ctx.Done():
			log.Info("consignment-poller stopped")
			return
		case <-ticker.C:
		}
		events, err := repo.PollOutbox(ctx, cfg.Poller.Batch)
		if err != nil {
			log.Errorf("poll outbox: %v", err)
			continue
		}
		for _, evt := range events {
			if err := repo.PublishEvent(ctx, evt); err != nil {
				m.RecordOutboxPublish(evt.EventType, false)
				log.Errorf("publish id=%d: %v", evt.ID, err)
				// keep per-consignment order: stop the batch, retry next tick
				break
			}
			m.RecordOutboxPublish(evt.EventType, true)
			if err := repo.MarkOutboxProcessed(ctx, evt.ID); err != nil {
				log.Errorf("mark processed id=%d: %v", evt.ID, err)
			} else {
				log.Infof("event %d sent", evt.ID)
			}
		}
	}
}
