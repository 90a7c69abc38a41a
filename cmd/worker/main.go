package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/OFFIS-RIT/kiwi/retrieval/internal/bootstrap"
	"github.com/OFFIS-RIT/kiwi/retrieval/internal/config"
	"github.com/OFFIS-RIT/kiwi/retrieval/internal/queue"
	"github.com/OFFIS-RIT/kiwi/retrieval/internal/util"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/logger"
)

func main() {
	util.LoadEnv()
	cfg := config.Load()
	bootstrap.InitLogger(cfg, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.New(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to start services", "err", err)
	}
	defer svc.Close(context.Background())

	conn, err := queue.Dial(cfg.RabbitMQ)
	if err != nil {
		logger.Fatal("Failed to connect to queue", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()
	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	processor := queue.NewProcessor(queue.NewProcessorParams{
		Ingester:  svc.Engine,
		Validator: svc.Validator,
		Locker:    svc.Locker,
		Publisher: ch,
	})

	// One consumer channel with prefetch=1 delivers a single message at a
	// time across all queues.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()
	if err := consumerCh.Qos(1, 0, true); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	type queuedMessage struct {
		msg       amqp.Delivery
		queueName string
	}
	messageChan := make(chan queuedMessage)

	for _, queueName := range queue.Queues {
		msgs, err := consumerCh.Consume(queueName, queueName+"_consumer", false, false, false, false, nil)
		if err != nil {
			logger.Fatal("Failed to start consuming", "queue", queueName, "err", err)
		}
		go func() {
			for {
				select {
				case <-ctx.Done():
					logger.Info("Stopping consumer", "queue", queueName)
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("Message channel closed", "queue", queueName)
						return
					}
					select {
					case messageChan <- queuedMessage{msg: msg, queueName: queueName}:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}

	logger.Info("Listening for messages", "queues", queue.Queues)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, exiting...")
			return
		case qm := <-messageChan:
			start := time.Now()
			logger.Info("Received message", "queue", qm.queueName, "correlation_id", qm.msg.CorrelationId)

			if err := processor.Handle(ctx, qm.queueName, qm.msg.Body); err != nil {
				logger.Error("Error processing message", "queue", qm.queueName, "err", err)
				queue.HandleFailure(ctx, ch, qm.msg, qm.queueName, err, queue.DefaultMaxRetries)
			} else {
				if err := qm.msg.Ack(false); err != nil {
					logger.Error("Failed to ack message", "err", err)
				}
				logger.Info("Message processed successfully", "queue", qm.queueName)
			}

			m := svc.AI.GetMetrics()
			logger.Info(
				"AI Metrics",
				"input_tokens", m.InputTokens,
				"output_tokens", m.OutputTokens,
				"total_tokens", m.TotalTokens,
				"duration", clock(time.Duration(m.DurationMs)*time.Millisecond),
			)
			logger.Info("Processing time", "duration", clock(time.Since(start)))
			svc.AI.ResetMetrics()
		}
	}
}

func clock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}
