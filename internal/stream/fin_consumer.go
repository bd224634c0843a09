package stream

import (
	"context"
	"time"

	"finanzas/adapter/in/worker"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// ConsumerConfig tunes the stream consumer loop.
type ConsumerConfig struct {
	BatchSize    int64
	Block        time.Duration
	ReclaimIdle  time.Duration
	ReclaimEvery time.Duration
}

func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		BatchSize:    20,
		Block:        5 * time.Second,
		ReclaimIdle:  5 * time.Minute,
		ReclaimEvery: time.Minute,
	}
}

// Consumer bridges the redis streams to the job handler. Entries are
// processed in-line and acked on success, so an unacked entry is retried by
// the reclaim loop after a crash.
type Consumer struct {
	stream  *RedisStream
	handler *worker.Handler
	name    string
	cfg     ConsumerConfig
	log     zerolog.Logger
}

func NewConsumer(stream *RedisStream, handler *worker.Handler, name string, cfg ConsumerConfig, log zerolog.Logger) *Consumer {
	return &Consumer{
		stream:  stream,
		handler: handler,
		name:    name,
		cfg:     cfg,
		log:     log.With().Str("component", "consumer").Str("consumer", name).Logger(),
	}
}

func (c *Consumer) Start(ctx context.Context) {
	streams := []string{StreamSync, StreamScan}
	for _, s := range streams {
		if err := c.stream.CreateGroup(ctx, s); err != nil {
			c.log.Error().Err(err).Str("stream", s).Msg("failed to create consumer group")
		}
	}

	for _, s := range streams {
		go c.consume(ctx, s)
		go c.reclaimLoop(ctx, s)
	}
}

func (c *Consumer) consume(ctx context.Context, stream string) {
	c.stream.Consume(ctx, stream, c.name, c.cfg.BatchSize, c.cfg.Block, c.handle)
}

func (c *Consumer) reclaimLoop(ctx context.Context, stream string) {
	ticker := time.NewTicker(c.cfg.ReclaimEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.stream.Reclaim(ctx, stream, c.name, c.cfg.ReclaimIdle, c.handle); err != nil && ctx.Err() == nil {
				c.log.Warn().Err(err).Str("stream", stream).Msg("reclaim failed")
			}
		}
	}
}

func (c *Consumer) handle(id string, data []byte) error {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		c.log.Error().Err(err).Str("entry", id).Msg("unmarshal job failed, dropping")
		// Nil ack: a permanently malformed entry must not stay pending.
		return nil
	}

	msg := &worker.Message{
		ID:        job.ID,
		Type:      job.Type,
		Payload:   job.Payload,
		CreatedAt: job.CreatedAt,
	}
	if manual, ok := job.Payload["manual"].(bool); ok && manual {
		msg.Priority = worker.PriorityHigh
	}

	return c.handler.Process(context.Background(), msg)
}
