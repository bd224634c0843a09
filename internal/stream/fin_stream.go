// Package stream is the redis-streams job transport between the API process
// and the worker process. Jobs survive restarts; a crashed consumer's
// pending entries are reclaimed by the next one.
package stream

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	StreamSync = "finanzas:sync"
	StreamScan = "finanzas:scan"
)

type RedisStream struct {
	client *redis.Client
	group  string
	log    zerolog.Logger
}

func NewRedisStream(client *redis.Client, group string, log zerolog.Logger) *RedisStream {
	return &RedisStream{
		client: client,
		group:  group,
		log:    log.With().Str("component", "stream").Logger(),
	}
}

func (s *RedisStream) CreateGroup(ctx context.Context, stream string) error {
	err := s.client.XGroupCreateMkStream(ctx, stream, s.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (s *RedisStream) Publish(ctx context.Context, stream string, data any) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"data": jsonData},
	}).Result()
}

// Consume reads the stream as part of the consumer group and calls handler
// per entry. Entries are acked only after the handler returns nil; failures
// stay pending and get reclaimed.
func (s *RedisStream) Consume(ctx context.Context, stream, consumer string, count int64, block time.Duration, handler func(id string, data []byte) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    count,
			Block:    block,
		}).Result()
		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				s.log.Warn().Err(err).Str("stream", stream).Msg("stream read error")
				time.Sleep(time.Second)
			}
			continue
		}

		for _, st := range streams {
			for _, msg := range st.Messages {
				s.handleEntry(ctx, st.Stream, consumer, msg, handler)
			}
		}
	}
}

// Reclaim takes over entries another consumer left pending longer than
// minIdle and processes them here.
func (s *RedisStream) Reclaim(ctx context.Context, stream, consumer string, minIdle time.Duration, handler func(id string, data []byte) error) error {
	start := "0-0"
	for {
		msgs, next, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    s.group,
			Consumer: consumer,
			MinIdle:  minIdle,
			Start:    start,
			Count:    50,
		}).Result()
		if err != nil {
			return err
		}

		for _, msg := range msgs {
			s.handleEntry(ctx, stream, consumer, msg, handler)
		}

		if next == "0-0" || len(msgs) == 0 {
			return nil
		}
		start = next
	}
}

func (s *RedisStream) handleEntry(ctx context.Context, stream, consumer string, msg redis.XMessage, handler func(id string, data []byte) error) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		// Malformed entry, drop it so it cannot wedge the group.
		s.client.XAck(ctx, stream, s.group, msg.ID)
		return
	}

	if err := handler(msg.ID, []byte(data)); err != nil {
		s.log.Error().Err(err).
			Str("stream", stream).
			Str("entry", msg.ID).
			Str("consumer", consumer).
			Msg("handler error, entry stays pending")
		return
	}

	s.client.XAck(ctx, stream, s.group, msg.ID)
}

func (s *RedisStream) Ack(ctx context.Context, stream, id string) error {
	return s.client.XAck(ctx, stream, s.group, id).Err()
}

func (s *RedisStream) Pending(ctx context.Context, stream string) (int64, error) {
	info, err := s.client.XPending(ctx, stream, s.group).Result()
	if err != nil {
		return 0, err
	}
	return info.Count, nil
}
