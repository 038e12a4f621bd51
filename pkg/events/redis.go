package events

import (
	"context"
	"encoding/json"
	"fmt"
)

// RedisWriter is the subset of the Redis client the sink needs.
type RedisWriter interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	XAdd(ctx context.Context, stream string, values map[string]interface{}) (string, error)
}

// RedisSink publishes events on the pool's pub/sub channel and appends them to the pool's stream.
// The live feed reads the channel; the archiver reads the stream.
type RedisSink struct {
	client RedisWriter
}

func NewRedisSink(client RedisWriter) *RedisSink {
	return &RedisSink{client: client}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Write(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	if err := s.client.Publish(ctx, Channel(ev.PoolID, ev.Type), payload); err != nil {
		return err
	}
	if _, err := s.client.XAdd(ctx, Stream(ev.PoolID), map[string]interface{}{
		"event":  ev.Type,
		"poolId": ev.PoolID,
		"data":   string(payload),
	}); err != nil {
		return err
	}
	return nil
}
