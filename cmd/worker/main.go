package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/counsel-platform/internal/analysis"
	"github.com/suPer8Hu/counsel-platform/internal/chat"
	"github.com/suPer8Hu/counsel-platform/internal/config"
	"github.com/suPer8Hu/counsel-platform/internal/db"
	"github.com/suPer8Hu/counsel-platform/internal/logger"
	"github.com/suPer8Hu/counsel-platform/internal/msgcrypt"
	"github.com/suPer8Hu/counsel-platform/internal/store/rabbitmq"
	"go.uber.org/zap"
)

const maxAttempts = 5

// Processor handles one feedback event.
type Processor interface {
	Process(ctx context.Context, ev chat.FeedbackEvent) error
}

// Retrier parks a delivery for a later attempt.
type Retrier interface {
	Retry(ctx context.Context, d amqp.Delivery, attempt int, delay time.Duration) error
}

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	models := append(chat.Models(), analysis.Models()...)
	gdb, err := db.Connect(cfg.DBDSN, log, models...)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	cipher, err := msgcrypt.NewFromBase64(cfg.MessageKey)
	if err != nil {
		log.Fatal("message key", zap.Error(err))
	}
	svc := analysis.NewService(gdb, chat.NewRepo(gdb, log), cipher, log)

	concurrency := cfg.WorkerConcurrency
	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, concurrency)
	if err != nil {
		log.Fatal("rabbit consumer", zap.Error(err))
	}
	defer func() { _ = consumer.Close() }()

	msgs, err := consumer.Deliveries()
	if err != nil {
		log.Fatal("consume", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker started", zap.String("queue", cfg.RabbitQueue), zap.Int("concurrency", concurrency))

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wlog := log.With(zap.Int("worker", workerID))
			for d := range jobs {
				handleDelivery(ctx, wlog, svc, consumer, d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Error("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}

// handleDelivery acks processed events, sends malformed or permanently
// failing ones to the dead-letter queue and parks transient failures in the
// retry queue with exponential backoff.
func handleDelivery(ctx context.Context, log *zap.Logger, p Processor, r Retrier, d amqp.Delivery) {
	var ev chat.FeedbackEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil || ev.MessageID == 0 || ev.FeedbackID == 0 {
		log.Warn("bad message", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	err := p.Process(ctx, ev)
	if err == nil {
		if err := d.Ack(false); err != nil {
			log.Error("ack failed", zap.String("event_id", ev.EventID), zap.Error(err))
		}
		return
	}

	attempt := rabbitmq.Attempt(d) + 1
	fields := []zap.Field{
		zap.String("event_id", ev.EventID),
		zap.Uint64("message_id", ev.MessageID),
		zap.Int("attempt", attempt),
		zap.Duration("cost", time.Since(start)),
		zap.Error(err),
	}
	if errors.Is(err, analysis.ErrPermanent) || attempt >= maxAttempts {
		log.Error("event dead-lettered", fields...)
		_ = d.Nack(false, false)
		return
	}

	log.Warn("event failed, retrying", fields...)
	if err := r.Retry(ctx, d, attempt, backoff(attempt)); err != nil {
		log.Error("retry publish failed", zap.String("event_id", ev.EventID), zap.Error(err))
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

func backoff(attempt int) time.Duration {
	d := time.Second << (attempt - 1)
	if d > time.Minute {
		d = time.Minute
	}
	return d
}
