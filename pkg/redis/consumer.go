package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StreamSource is the part of Client a StreamConsumer reads through.
type StreamSource interface {
	XRead(ctx context.Context, stream, lastID string, count int64, block time.Duration) ([]redis.XStream, error)
	XReadGroup(ctx context.Context, group, consumer, stream, id string, count int64, block time.Duration) ([]redis.XStream, error)
	XAck(ctx context.Context, stream, group string, ids ...string) (int64, error)
	XGroupCreate(ctx context.Context, stream, group, start string) error
}

// StreamConsumerConfig configures a StreamConsumer.
type StreamConsumerConfig struct {
	Stream string

	// Group and Consumer switch on consumer-group mode. Handled entries are
	// acknowledged; failed ones stay pending and are delivered again.
	Group    string
	Consumer string

	// Start is where a plain consumer begins. Default "0", the head of the stream.
	Start string

	Count int64         // default 100
	Block time.Duration // default 5s

	// PendingEvery is how often a group consumer goes back over its own
	// unacknowledged entries. Default 30s.
	PendingEvery time.Duration

	RetryInterval    time.Duration // default 1s
	MaxRetryInterval time.Duration // default 30s

	Logger *zap.Logger
}

// MessageHandler handles one entry. A non-nil error leaves a group entry pending.
type MessageHandler func(ctx context.Context, msg Message) error

// Message is one stream entry.
type Message struct {
	ID     string
	Stream string
	Values map[string]interface{}
}

// StreamConsumer reads a stream in a loop and survives connection loss.
type StreamConsumer struct {
	src    StreamSource
	cfg    StreamConsumerConfig
	logger *zap.Logger
}

// NewStreamConsumer validates cfg and fills in defaults.
func NewStreamConsumer(src StreamSource, cfg StreamConsumerConfig) (*StreamConsumer, error) {
	switch {
	case src == nil:
		return nil, errors.New("redis client is required")
	case cfg.Stream == "":
		return nil, errors.New("stream name is required")
	case cfg.Group != "" && cfg.Consumer == "":
		return nil, errors.New("consumer name is required when using consumer groups")
	}
	if cfg.Start == "" {
		cfg.Start = "0"
	}
	if cfg.Count <= 0 {
		cfg.Count = 100
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.PendingEvery <= 0 {
		cfg.PendingEvery = 30 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	if cfg.MaxRetryInterval <= 0 {
		cfg.MaxRetryInterval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamConsumer{
		src:    src,
		cfg:    cfg,
		logger: logger.With(zap.String("stream", cfg.Stream), zap.String("group", cfg.Group)),
	}, nil
}

// Run calls handler for every entry until ctx is cancelled.
func (sc *StreamConsumer) Run(ctx context.Context, handler MessageHandler) error {
	grouped := sc.cfg.Group != ""
	if grouped {
		if err := sc.src.XGroupCreate(ctx, sc.cfg.Stream, sc.cfg.Group, "0"); err != nil {
			return err
		}
		sc.logger.Info("Consumer group ready", zap.String("consumer", sc.cfg.Consumer))
	}

	cursor := sc.cfg.Start
	wait := sc.cfg.RetryInterval
	// zero time forces a pending pass before the first new read
	var lastPending time.Time

	for {
		if err := ctx.Err(); err != nil {
			sc.logger.Info("Stream consumer shutting down")
			return err
		}

		if grouped && time.Since(lastPending) >= sc.cfg.PendingEvery {
			if err := sc.drainPending(ctx, handler); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				sc.logger.Warn("Pending pass failed", zap.Error(err))
			}
			lastPending = time.Now()
		}

		batch, err := sc.read(ctx, cursor)
		switch {
		case err == nil:
			wait = sc.cfg.RetryInterval
		case errors.Is(err, redis.Nil):
			continue
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		default:
			sc.logger.Warn("Stream read failed", zap.Error(err), zap.Duration("retryIn", wait))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			wait = min(wait*2, sc.cfg.MaxRetryInterval)
			continue
		}

		for _, msg := range batch {
			sc.handle(ctx, handler, msg)
			if !grouped {
				cursor = msg.ID
			}
		}
	}
}

// drainPending re-delivers this consumer's unacknowledged entries once, oldest first.
func (sc *StreamConsumer) drainPending(ctx context.Context, handler MessageHandler) error {
	after := "0"
	for {
		streams, err := sc.src.XReadGroup(ctx, sc.cfg.Group, sc.cfg.Consumer, sc.cfg.Stream, after, sc.cfg.Count, 0)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		batch := flatten(streams)
		if len(batch) == 0 {
			return nil
		}
		for _, msg := range batch {
			sc.handle(ctx, handler, msg)
		}
		after = batch[len(batch)-1].ID
	}
}

func (sc *StreamConsumer) read(ctx context.Context, cursor string) ([]Message, error) {
	var (
		streams []redis.XStream
		err     error
	)
	if sc.cfg.Group != "" {
		streams, err = sc.src.XReadGroup(ctx, sc.cfg.Group, sc.cfg.Consumer, sc.cfg.Stream, ">", sc.cfg.Count, sc.cfg.Block)
	} else {
		streams, err = sc.src.XRead(ctx, sc.cfg.Stream, cursor, sc.cfg.Count, sc.cfg.Block)
	}
	if err != nil {
		return nil, err
	}
	return flatten(streams), nil
}

func flatten(streams []redis.XStream) []Message {
	var out []Message
	for _, s := range streams {
		for _, m := range s.Messages {
			out = append(out, Message{ID: m.ID, Stream: s.Stream, Values: m.Values})
		}
	}
	return out
}

func (sc *StreamConsumer) handle(ctx context.Context, handler MessageHandler, msg Message) {
	if err := handler(ctx, msg); err != nil {
		sc.logger.Error("Stream entry not handled", zap.String("id", msg.ID), zap.Error(err))
		return
	}
	if sc.cfg.Group == "" {
		return
	}
	if _, err := sc.src.XAck(ctx, sc.cfg.Stream, sc.cfg.Group, msg.ID); err != nil {
		sc.logger.Warn("Ack failed", zap.String("id", msg.ID), zap.Error(err))
	}
}

func (m *Message) field(name string) string {
	switch v := m.Values[name].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}

// GetData returns the JSON-encoded pool event, or nil.
func (m *Message) GetData() []byte {
	if s := m.field("data"); s != "" {
		return []byte(s)
	}
	return nil
}

// GetEventType returns the "event" field.
func (m *Message) GetEventType() string { return m.field("event") }

// GetPoolID returns the "poolId" field.
func (m *Message) GetPoolID() string { return m.field("poolId") }
