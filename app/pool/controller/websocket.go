package controller

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v4"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/canopy-network/mutualpool/app/pool/controller/types"
	"github.com/canopy-network/mutualpool/pkg/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Subscriptions tracks the event types a websocket client wants.
type Subscriptions struct {
	types *xsync.Map[string, struct{}]
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{types: xsync.NewMap[string, struct{}]()}
}

func (s *Subscriptions) Subscribe(eventType string) { s.types.Store(eventType, struct{}{}) }

func (s *Subscriptions) Unsubscribe(eventType string) { s.types.Delete(eventType) }

// IsSubscribed reports whether eventType should be forwarded. "*" matches every type.
func (s *Subscriptions) IsSubscribed(eventType string) bool {
	if _, ok := s.types.Load("*"); ok {
		return true
	}
	_, ok := s.types.Load(eventType)
	return ok
}

// HandleWebSocket upgrades the connection and streams committed pool events.
//
// Protocol:
// Client sends: {"action": "subscribe", "event": "claim.triggered"}
// Client sends: {"action": "subscribe", "event": "*"}
// Client sends: {"action": "unsubscribe", "event": "claim.triggered"}
//
// Server sends:
// - {"type": "claim.triggered", "payload": {...}}
// - {"type": "subscribed", "payload": {"event": "claim.triggered"}}
// - {"type": "unsubscribed", "payload": {"event": "claim.triggered"}}
// - {"type": "error", "payload": {"message": "..."}}
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if c.App.RedisClient == nil {
		http.Error(w, "Real-time events not available (Redis disabled)", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func(conn *websocket.Conn) {
		if err := conn.Close(); err != nil {
			c.App.Logger.Debug("Failed to close WebSocket connection", zap.Error(err))
		}
	}(conn)

	c.App.Logger.Info("WebSocket client connected", zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	subs := NewSubscriptions()
	send := make(chan types.WSServerMessage, 256)

	var wg sync.WaitGroup
	guard := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					c.App.Logger.Error("Panic in websocket goroutine",
						zap.String("goroutine", name),
						zap.Any("panic", rec),
						zap.String("stack", string(debug.Stack())),
						zap.String("remote_addr", r.RemoteAddr))
					cancel()
				}
			}()
			fn()
		}()
	}

	guard("subscriber", func() { c.subscribeToRedis(ctx, send, subs) })
	guard("pinger", func() { c.sendPings(ctx, conn) })
	// the writer exits when send is closed, not on ctx
	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		c.writeMessages(conn, send)
	}()

	// blocks until the connection closes
	c.readClientMessages(ctx, conn, cancel, subs, send)

	cancel()
	wg.Wait()
	close(send)
	writer.Wait()

	c.App.Logger.Info("WebSocket client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

// subscribeToRedis forwards the pool's pub/sub events, reconnecting with backoff when Redis drops.
func (c *Controller) subscribeToRedis(ctx context.Context, send chan<- types.WSServerMessage, subs *Subscriptions) {
	poolID := c.App.Pool.PoolID()
	pattern := events.ChannelPattern(poolID)

	const (
		initialBackoff = 1 * time.Second
		maxBackoff     = 30 * time.Second
		backoffFactor  = 2.0
		jitterFactor   = 0.1
	)

	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		err := c.attemptRedisSubscription(ctx, poolID, pattern, send, subs, attempt)
		if ctx.Err() != nil {
			return
		}
		c.App.Logger.Warn("Redis subscription ended, will retry",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff))

		if !trySend(ctx, send, types.WSServerMessage{
			Type: "error",
			Payload: map[string]interface{}{
				"message":     "Redis connection lost, attempting to reconnect...",
				"retryIn":     backoff.Seconds(),
				"attempt":     attempt,
				"recoverable": true,
			},
		}) {
			return
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = CalculateNextBackoff(backoff, maxBackoff, backoffFactor, jitterFactor)
	}
}

func (c *Controller) attemptRedisSubscription(
	ctx context.Context,
	poolID, pattern string,
	send chan<- types.WSServerMessage,
	subs *Subscriptions,
	attempt int,
) error {
	pubsub := c.App.RedisClient.PSubscribe(ctx, pattern)
	defer func() {
		if err := pubsub.Close(); err != nil {
			c.App.Logger.Debug("Error closing Redis subscription", zap.Error(err))
		}
	}()

	receiveCtx, receiveCancel := context.WithTimeout(ctx, 5*time.Second)
	defer receiveCancel()
	if _, err := pubsub.Receive(receiveCtx); err != nil {
		return fmt.Errorf("failed to confirm Redis subscription: %w", err)
	}

	if attempt > 1 && !trySend(ctx, send, types.WSServerMessage{
		Type:    "info",
		Payload: map[string]interface{}{"message": "Redis connection established", "attempt": attempt},
	}) {
		return ctx.Err()
	}

	return c.processRedisMessages(ctx, poolID, pubsub, send, subs)
}

func (c *Controller) processRedisMessages(
	ctx context.Context,
	poolID string,
	pubsub *goredis.PubSub,
	send chan<- types.WSServerMessage,
	subs *Subscriptions,
) error {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			eventType := EventTypeFromChannel(poolID, msg.Channel)
			if eventType == "" || !subs.IsSubscribed(eventType) {
				continue
			}
			var payload map[string]interface{}
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				c.App.Logger.Error("Failed to parse Redis message", zap.Error(err), zap.String("channel", msg.Channel))
				continue
			}
			if !trySend(ctx, send, types.WSServerMessage{Type: eventType, Payload: payload}) {
				return ctx.Err()
			}
		}
	}
}

func trySend(ctx context.Context, send chan<- types.WSServerMessage, msg types.WSServerMessage) bool {
	select {
	case send <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// CalculateNextBackoff grows current by factor, caps it at max and adds +/- jitterFactor of jitter.
func CalculateNextBackoff(current, max time.Duration, factor, jitterFactor float64) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		next = max
	}
	jitter := float64(next) * jitterFactor * (2*rand.Float64() - 1)
	withJitter := time.Duration(float64(next) + jitter)
	if withJitter < current {
		withJitter = current
	}
	if withJitter > max {
		withJitter = max
	}
	return withJitter
}

// EventTypeFromChannel extracts the event type from "pool:{poolId}:{eventType}".
// Channels of other pools yield "".
func EventTypeFromChannel(poolID, channel string) string {
	prefix := events.Channel(poolID, "")
	if !strings.HasPrefix(channel, prefix) {
		return ""
	}
	return strings.TrimPrefix(channel, prefix)
}

// sendPings keeps the connection alive; the client's pong resets the read deadline.
func (c *Controller) sendPings(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				c.App.Logger.Debug("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

func (c *Controller) writeMessages(conn *websocket.Conn, send <-chan types.WSServerMessage) {
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			c.App.Logger.Debug("Failed to write WebSocket message", zap.Error(err))
			// keep draining so producers never block on a dead connection
			for range send {
			}
			return
		}
	}
}

func (c *Controller) readClientMessages(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc, subs *Subscriptions, send chan<- types.WSServerMessage) {
	if err := conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	reply := func(msg types.WSServerMessage) bool { return trySend(ctx, send, msg) }

	for ctx.Err() == nil {
		var msg types.WSClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.App.Logger.Debug("WebSocket read error", zap.Error(err))
			}
			cancel()
			return
		}
		if err := conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			cancel()
			return
		}

		var ok bool
		switch {
		case msg.Action != "subscribe" && msg.Action != "unsubscribe":
			ok = reply(types.WSServerMessage{Type: "error", Payload: map[string]string{"message": "unknown action: " + msg.Action}})
		case msg.Event == "":
			ok = reply(types.WSServerMessage{Type: "error", Payload: map[string]string{"message": "event is required"}})
		case msg.Action == "subscribe":
			subs.Subscribe(msg.Event)
			ok = reply(types.WSServerMessage{Type: "subscribed", Payload: map[string]string{"event": msg.Event}})
		default:
			subs.Unsubscribe(msg.Event)
			ok = reply(types.WSServerMessage{Type: "unsubscribed", Payload: map[string]string{"event": msg.Event}})
		}
		if !ok {
			return
		}
	}
}
