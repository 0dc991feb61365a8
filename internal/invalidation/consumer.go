package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/geogismaps/geogrid/internal/observability"
)

// CacheInvalidator bumps a table's snapshot version; the record cache
// implements it.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, tableID string) error
}

type ConsumerConfig struct {
	Brokers             []string
	Topic               string
	GroupID             string
	Source              string // this instance's id, its own events are skipped
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
}

func ConsumerConfigFromEnv() ConsumerConfig {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = "localhost:9092"
	}
	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "record-changes"
	}
	group := os.Getenv("KAFKA_GROUP_ID")
	if group == "" {
		group = "geogrid-invalidator"
	}
	return ConsumerConfig{
		Brokers:             splitCSV(brokers),
		Topic:               topic,
		GroupID:             group,
		SessionTimeout:      30 * time.Second,
		Heartbeat:           3 * time.Second,
		RebalanceTimeout:    30 * time.Second,
		InitialOffsetOldest: false,
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

const dedupeWindow = 1024

type Consumer struct {
	cfg    ConsumerConfig
	logger zerolog.Logger
	inv    CacheInvalidator
	seen   *lru.Cache[string, struct{}]
}

func NewConsumer(cfg ConsumerConfig, logger zerolog.Logger, inv CacheInvalidator) (*Consumer, error) {
	if inv == nil {
		return nil, errors.New("invalidation: consumer needs a cache invalidator")
	}
	seen, err := lru.New[string, struct{}](dedupeWindow)
	if err != nil {
		return nil, fmt.Errorf("invalidation: dedupe cache: %w", err)
	}
	return &Consumer{
		cfg:    cfg,
		logger: logger.With().Str("component", "invalidation_consumer").Logger(),
		inv:    inv,
		seen:   seen,
	}, nil
}

// Start consumes until ctx is done. Group errors back off and retry; a dead
// broker must not take the serving path down with it.
func (c *Consumer) Start(ctx context.Context) error {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("invalidation: create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}
	c.logger.Info().
		Strs("brokers", c.cfg.Brokers).Str("topic", c.cfg.Topic).Str("group", c.cfg.GroupID).
		Msg("invalidation consumer starting")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error().Err(err).Msg("consumer error")
				time.Sleep(2 * time.Second)
			}
		}
	}
}

// ProcessOne handles a single change event: decode, validate, dedupe, bump
// the table's cache version.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		observability.ObserveCacheOp("invalidate_decode", err)
		return fmt.Errorf("json decode: %w", err)
	}
	if err := ev.Validate(); err != nil {
		// malformed events are logged and skipped, not retried forever
		c.logger.Warn().Err(err).
			Str("topic", msg.Topic).Int32("partition", msg.Partition).Int64("offset", msg.Offset).
			Msg("invalid change event")
		return nil
	}
	if c.cfg.Source != "" && ev.Source == c.cfg.Source {
		return nil
	}

	key := fmt.Sprintf("%s|%s|%s|%d", ev.TableID, ev.Op, ev.RecordID, ev.TS.UnixNano())
	if _, dup := c.seen.Get(key); dup {
		c.logger.Debug().Str("table", ev.TableID).Msg("duplicate change event skipped")
		return nil
	}

	if err := c.inv.Invalidate(ctx, ev.TableID); err != nil {
		return fmt.Errorf("invalidate table %s: %w", ev.TableID, err)
	}
	c.seen.Add(key, struct{}{})

	c.logger.Debug().
		Str("table", ev.TableID).Str("op", ev.Op).Str("source", ev.Source).
		Msg("table cache invalidated")
	return nil
}
