package pool

import (
	"context"

	"go.uber.org/zap"

	"github.com/canopy-network/mutualpool/app/pool/types"
	"github.com/canopy-network/mutualpool/pkg/asset"
	"github.com/canopy-network/mutualpool/pkg/db/clickhouse"
	"github.com/canopy-network/mutualpool/pkg/db/memory"
	"github.com/canopy-network/mutualpool/pkg/db/postgres"
	"github.com/canopy-network/mutualpool/pkg/events"
	"github.com/canopy-network/mutualpool/pkg/logging"
	"github.com/canopy-network/mutualpool/pkg/pool/insurance"
	pooltypes "github.com/canopy-network/mutualpool/pkg/pool/types"
	"github.com/canopy-network/mutualpool/pkg/redis"
	"github.com/canopy-network/mutualpool/pkg/utils"
)

const component = "pool_api"

// Initialize wires the pool service from the environment. Redis and ClickHouse are optional;
// the state store and the asset backend are not.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New(component)
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	poolID := utils.Env("POOL_ID", "default")
	address := pooltypes.Identity(utils.Env("POOL_ADDRESS", "pool"))
	deployer := pooltypes.Identity(utils.Env("POOL_DEPLOYER", "admin"))

	token, err := asset.NewFromEnv(logger)
	if err != nil {
		logger.Fatal("Unable to initialize asset backend", zap.Error(err))
	}

	app := &types.App{
		Token:  token,
		Logger: logger,
	}

	var store insurance.Store
	switch backend := utils.Env("STATE_BACKEND", "memory"); backend {
	case "postgres":
		stateDB, err := postgres.NewStateStore(ctx, logger, component)
		if err != nil {
			logger.Fatal("Unable to initialize state database", zap.Error(err))
		}
		app.StateDB = stateDB
		store = stateDB
	case "memory":
		logger.Warn("Pool state is kept in memory and will not survive a restart")
		store = memory.NewStore()
	default:
		logger.Fatal("Unknown state backend", zap.String("backend", backend))
	}

	// Initialize Redis client for the live feed and the event stream (optional)
	var sinks []events.Sink
	if utils.EnvBool("REDIS_ENABLED", false) {
		redisClient, err := redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - live events will be disabled", zap.Error(err))
		} else {
			app.RedisClient = redisClient
			sinks = append(sinks, events.NewRedisSink(redisClient))
			logger.Info("Redis client initialized for pool events")
		}
	} else {
		logger.Info("Redis disabled - live events will not be available")
	}

	if utils.EnvBool("CLICKHOUSE_ENABLED", false) {
		history, err := clickhouse.NewHistory(ctx, logger, utils.Env("CLICKHOUSE_DB", "mutualpool"), component)
		if err != nil {
			logger.Warn("Failed to initialize ClickHouse - event history will be disabled", zap.Error(err))
		} else {
			app.History = history
			// with Redis on, the reporter archives the stream; writing here too would only add duplicates
			if app.RedisClient == nil {
				sinks = append(sinks, history)
			}
		}
	}

	var publisher events.Publisher = events.Nop{}
	if len(sinks) > 0 {
		app.Dispatcher = events.NewDispatcher(logger, utils.EnvInt("EVENT_QUEUE", events.DefaultQueueSize), sinks...)
		publisher = app.Dispatcher
	}

	orchestrator, err := insurance.New(ctx, insurance.Config{
		PoolID:    poolID,
		Address:   address,
		Escrow:    pooltypes.Identity(utils.Env("POOL_ESCROW", "")),
		Deployer:  deployer,
		Token:     token,
		Store:     store,
		Publisher: publisher,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Unable to load pool", zap.String("poolId", poolID), zap.Error(err))
	}
	app.Pool = orchestrator

	logger.Info("Pool ready",
		zap.String("poolId", poolID),
		zap.String("address", address.String()),
		zap.String("escrow", orchestrator.Escrow().String()),
		zap.Int("sinks", len(sinks)))

	return app
}
