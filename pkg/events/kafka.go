package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/modelbench-go/pkg/logger"
)

// KafkaBridge relays bus events to a Kafka topic so external consumers can
// observe the cluster without holding a WebSocket open. The bridge is a plain
// subscriber: it inherits the bus's lossy semantics and never back-pressures
// publishers.
type KafkaBridge struct {
	writer *kafka.Writer
	sub    *Subscription
	logger logger.Logger
	done   chan struct{}
}

type KafkaBridgeConfig struct {
	Brokers []string
	Topic   string
}

func NewKafkaBridge(cfg KafkaBridgeConfig, bus *Bus, log logger.Logger) *KafkaBridge {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	})

	return &KafkaBridge{
		writer: writer,
		sub:    bus.Subscribe(),
		logger: log,
		done:   make(chan struct{}),
	}
}

// Start pumps events from the bus subscription into Kafka until Close.
func (b *KafkaBridge) Start(ctx context.Context) {
	go func() {
		defer close(b.done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-b.sub.C():
				if !ok {
					return
				}
				if err := b.relay(ctx, event); err != nil {
					b.logger.Warn("Failed to relay event to Kafka", "eventType", event.Type, "error", err)
				}
			}
		}
	}()
}

func (b *KafkaBridge) relay(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Subject),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	})
}

func (b *KafkaBridge) Close() error {
	b.sub.Unsubscribe()
	<-b.done
	return b.writer.Close()
}
