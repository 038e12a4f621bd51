package types

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/canopy-network/mutualpool/pkg/asset"
	"github.com/canopy-network/mutualpool/pkg/db/clickhouse"
	"github.com/canopy-network/mutualpool/pkg/db/postgres"
	"github.com/canopy-network/mutualpool/pkg/events"
	"github.com/canopy-network/mutualpool/pkg/pool/insurance"
	"github.com/canopy-network/mutualpool/pkg/redis"
)

// User is an identity allowed to open a session, with its bcrypt password hash.
type User struct {
	Identity string `json:"identity"`
	Hash     []byte `json:"-"`
}

type App struct {
	// Pool is the single entry point for every pool operation
	Pool *insurance.Orchestrator

	// Token is the asset the pool moves contributions with
	Token asset.Token

	// StateDB is nil when state lives in memory
	StateDB *postgres.StateStore

	// History is nil when ClickHouse is disabled
	History *clickhouse.History

	// Redis Client (pub/sub for the websocket feed, stream for the archiver)
	RedisClient *redis.Client

	// Dispatcher fans committed events out to Redis and ClickHouse
	Dispatcher *events.Dispatcher

	// Zap Logger
	Logger *zap.Logger

	// HTTP Server
	Server *http.Server
}

// Start serves HTTP until ctx is cancelled, then releases every connection.
func (a *App) Start(ctx context.Context) {
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	<-ctx.Done()

	a.Logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Server.Shutdown(shutdownCtx)

	a.Close()

	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}

// Close drains the event dispatcher before closing the sinks it writes to.
func (a *App) Close() {
	if a.Dispatcher != nil {
		a.Logger.Info("draining event dispatcher")
		a.Dispatcher.Close()
	}
	if a.History != nil {
		if err := a.History.Close(); err != nil {
			a.Logger.Error("Failed to close clickhouse connection", zap.Error(err))
		}
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close redis connection", zap.Error(err))
		}
	}
	if a.StateDB != nil {
		a.Logger.Info("closing state database connection")
		a.StateDB.Close()
	}
}
