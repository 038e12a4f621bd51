package reporter

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/canopy-network/mutualpool/pkg/db/clickhouse"
	"github.com/canopy-network/mutualpool/pkg/events"
	"github.com/canopy-network/mutualpool/pkg/redis"
)

// EventWriter stores archived rows.
type EventWriter interface {
	InsertEvents(ctx context.Context, rows []clickhouse.EventRow) error
}

// Archiver copies the pool's event stream into the history table. The stream
// entry id becomes the row id, so an entry delivered twice collapses to one row.
type Archiver struct {
	Consumer *redis.StreamConsumer
	Writer   EventWriter
	Logger   *zap.Logger
}

// NewArchiver joins the archive consumer group of the pool's stream.
func NewArchiver(client *redis.Client, writer EventWriter, poolID, consumer string, logger *zap.Logger) (*Archiver, error) {
	sc, err := redis.NewStreamConsumer(client, redis.StreamConsumerConfig{
		Stream:   events.Stream(poolID),
		Group:    "archive",
		Consumer: consumer,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	return &Archiver{Consumer: sc, Writer: writer, Logger: logger}, nil
}

// Run blocks until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	return a.Consumer.Run(ctx, a.Handle)
}

// Handle stores one stream entry. Malformed entries are logged and acknowledged so they do not block the group.
func (a *Archiver) Handle(ctx context.Context, msg redis.Message) error {
	data := msg.GetData()
	if data == nil {
		a.Logger.Warn("Skipping stream entry without data", zap.String("id", msg.ID), zap.String("stream", msg.Stream))
		return nil
	}
	var ev events.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		a.Logger.Warn("Skipping undecodable stream entry", zap.String("id", msg.ID), zap.Error(err))
		return nil
	}
	if ev.PoolID == "" {
		ev.PoolID = msg.GetPoolID()
	}
	if ev.Type == "" {
		ev.Type = msg.GetEventType()
	}

	row, err := clickhouse.NewEventRow(msg.ID, ev)
	if err != nil {
		return fmt.Errorf("convert stream entry %s: %w", msg.ID, err)
	}
	if err := a.Writer.InsertEvents(ctx, []clickhouse.EventRow{row}); err != nil {
		return fmt.Errorf("archive stream entry %s: %w", msg.ID, err)
	}
	a.Logger.Debug("Event archived", zap.String("id", msg.ID), zap.String("event", ev.Type))
	return nil
}
