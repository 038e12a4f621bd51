package reporter

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/canopy-network/mutualpool/pkg/asset"
	"github.com/canopy-network/mutualpool/pkg/db/clickhouse"
	"github.com/canopy-network/mutualpool/pkg/db/postgres"
	"github.com/canopy-network/mutualpool/pkg/events"
	"github.com/canopy-network/mutualpool/pkg/logging"
	"github.com/canopy-network/mutualpool/pkg/pool/insurance"
	"github.com/canopy-network/mutualpool/pkg/pool/types"
	"github.com/canopy-network/mutualpool/pkg/redis"
	"github.com/canopy-network/mutualpool/pkg/utils"
)

const component = "reporter"

type App struct {
	Cron        *cron.Cron
	Reporter    *Reporter
	Archiver    *Archiver
	StateDB     *postgres.StateStore
	History     *clickhouse.History
	RedisClient *redis.Client
	Dispatcher  *events.Dispatcher
	Logger      *zap.Logger

	wg sync.WaitGroup
}

// Start schedules the report, runs the archiver and blocks until the context is canceled.
func (a *App) Start(ctx context.Context) {
	a.Cron.Start()

	if a.Archiver != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.Archiver.Run(ctx); err != nil && ctx.Err() == nil {
				a.Logger.Error("Archiver stopped", zap.Error(err))
			}
		}()
	}

	// one report at startup so a fresh deployment does not wait a full period
	a.Reporter.Run(ctx)

	<-ctx.Done()
	a.Stop()
}

// Stop waits for a running report, then closes every connection.
func (a *App) Stop() {
	<-a.Cron.Stop().Done()
	a.wg.Wait()
	if a.Dispatcher != nil {
		a.Dispatcher.Close()
	}
	if a.History != nil {
		_ = a.History.Close()
	}
	if a.RedisClient != nil {
		_ = a.RedisClient.Close()
	}
	if a.StateDB != nil {
		a.StateDB.Close()
	}
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}

// Initialize initializes the application.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New(component)
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	poolID := utils.Env("POOL_ID", "default")
	address := types.Identity(utils.Env("POOL_ADDRESS", "pool"))
	escrow := types.Identity(utils.Env("POOL_ESCROW", ""))
	if escrow.Empty() {
		escrow = insurance.EscrowFor(address)
	}

	stateDB, err := postgres.NewStateStore(ctx, logger, component)
	if err != nil {
		logger.Fatal("Unable to initialize state database", zap.Error(err))
	}

	token, err := asset.NewFromEnv(logger)
	if err != nil {
		logger.Fatal("Unable to initialize asset backend", zap.Error(err))
	}

	app := &App{StateDB: stateDB, Logger: logger}

	if utils.EnvBool("CLICKHOUSE_ENABLED", false) {
		history, err := clickhouse.NewHistory(ctx, logger, utils.Env("CLICKHOUSE_DB", "mutualpool"), component)
		if err != nil {
			logger.Fatal("Unable to initialize ClickHouse", zap.Error(err))
		}
		app.History = history
	}

	var sinks []events.Sink
	if utils.EnvBool("REDIS_ENABLED", false) {
		redisClient, err := redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - reports will not be published", zap.Error(err))
		} else {
			app.RedisClient = redisClient
			sinks = append(sinks, events.NewRedisSink(redisClient))
		}
	}
	if app.History != nil {
		if app.RedisClient != nil {
			hostname, _ := os.Hostname()
			archiver, err := NewArchiver(app.RedisClient, app.History, poolID, utils.Env("ARCHIVE_CONSUMER", hostname), logger)
			if err != nil {
				logger.Fatal("Unable to initialize archiver", zap.Error(err))
			}
			app.Archiver = archiver
		} else {
			sinks = append(sinks, app.History)
		}
	}

	reporter := &Reporter{
		PoolID:    poolID,
		Escrow:    escrow,
		Window:    utils.EnvDuration("REPORT_WINDOW", 24*time.Hour),
		State:     stateDB,
		Balances:  token,
		Publisher: events.Nop{},
		Logger:    logger.Named("report"),
	}
	// an untyped nil History would pass the reporter's nil check
	if app.History != nil {
		reporter.History = app.History
	}
	if len(sinks) > 0 {
		app.Dispatcher = events.NewDispatcher(logger, 0, sinks...)
		reporter.Publisher = app.Dispatcher
	}
	app.Reporter = reporter

	spec := utils.Env("REPORT_CRON", "@every 1h")
	c := cron.New(cron.WithLogger(cron.PrintfLogger(zap.NewStdLog(logger))))
	if _, err := c.AddFunc(spec, func() { reporter.Run(ctx) }); err != nil {
		logger.Fatal("Invalid REPORT_CRON", zap.String("spec", spec), zap.Error(err))
	}
	app.Cron = c

	logger.Info("Reporter ready",
		zap.String("poolId", poolID),
		zap.String("schedule", spec),
		zap.Bool("archiver", app.Archiver != nil))
	return app
}
