package invalidation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// Producer publishes record-change events synchronously so a confirmed write
// is on the wire before the HTTP response goes out.
type Producer struct {
	logger zerolog.Logger
	topic  string
	source string
	prod   sarama.SyncProducer
}

func NewProducer(logger zerolog.Logger, brokers []string, topic, source string) (*Producer, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("invalidation: create producer: %w", err)
	}
	return &Producer{
		logger: logger.With().Str("component", "invalidation_producer").Logger(),
		topic:  topic,
		source: source,
		prod:   prod,
	}, nil
}

func (p *Producer) Publish(ctx context.Context, ev Event) error {
	if ev.Version == 0 {
		ev.Version = 1
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	if ev.Source == "" {
		ev.Source = p.source
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalidation: invalid event: %w", err)
	}

	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("invalidation: marshal event: %w", err)
	}
	partition, offset, err := p.prod.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.Key()),
		Value: sarama.ByteEncoder(b),
	})
	if err != nil {
		return fmt.Errorf("invalidation: send: %w", err)
	}
	p.logger.Debug().
		Str("table", ev.TableID).Str("op", ev.Op).
		Int32("partition", partition).Int64("offset", offset).
		Msg("published change event")
	return nil
}

// RecordsChanged satisfies the grid session's notifier hook. Publish errors
// are logged, not surfaced; the write itself already succeeded.
func (p *Producer) RecordsChanged(ctx context.Context, tableID string) {
	err := p.Publish(ctx, Event{Op: "bulk", TableID: tableID})
	if err != nil {
		p.logger.Error().Err(err).Str("table", tableID).Msg("change event dropped")
	}
}

func (p *Producer) Close() error {
	return p.prod.Close()
}
