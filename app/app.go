package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mohitkumar/stepflow/access"
	"github.com/mohitkumar/stepflow/analytics"
	"github.com/mohitkumar/stepflow/catalog"
	"github.com/mohitkumar/stepflow/cluster"
	"github.com/mohitkumar/stepflow/config"
	"github.com/mohitkumar/stepflow/engine"
	"github.com/mohitkumar/stepflow/executor"
	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/metrics"
	"github.com/mohitkumar/stepflow/persistence"
	"github.com/mohitkumar/stepflow/persistence/memory"
	"github.com/mohitkumar/stepflow/persistence/postgres"
	rd "github.com/mohitkumar/stepflow/persistence/redis"
	"github.com/mohitkumar/stepflow/rest"
	"github.com/mohitkumar/stepflow/rpc"
	"github.com/mohitkumar/stepflow/seed"
	"github.com/mohitkumar/stepflow/trigger"
	"go.uber.org/zap"
)

const pingRetries = 5

type memberDirectory interface {
	access.Directory
	seed.MemberRegistry
}

// App wires one stepflow node: storage, queue, engine, executors, triggers
// and the http and grpc servers.
type App struct {
	Config       config.Config
	storage      persistence.Storage
	queue        persistence.TaskQueue
	ring         *cluster.Ring
	directory    memberDirectory
	engine       *engine.Engine
	catalog      catalog.Service
	executors    *executor.Container
	scheduler    *trigger.Scheduler
	httpServer   *rest.Server
	grpcServer   *rpc.Server
	shutdown     bool
	shutdownLock sync.Mutex
	wg           sync.WaitGroup
}

func New(conf config.Config) (*App, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	a := &App{
		Config: conf,
	}
	setup := []func() error{
		a.setupAnalytics,
		a.setupStorage,
		a.setupQueue,
		a.setupRing,
		a.setupDirectory,
		a.setupEngine,
		a.setupSeed,
		a.setupExecutors,
		a.setupScheduler,
		a.setupHttpServer,
		a.setupGrpcServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *App) setupAnalytics() error {
	if err := analytics.InitDataCollector(a.Config.AnalyticsConfig); err != nil {
		return err
	}
	return metrics.Register()
}

func (a *App) setupStorage() error {
	ctx := context.Background()
	switch a.Config.StorageType {
	case config.STORAGE_TYPE_REDIS:
		a.storage = rd.NewRedisStorage(a.redisConfig())
	case config.STORAGE_TYPE_POSTGRES:
		var storage persistence.Storage
		err := retry(ctx, func() error {
			var err error
			storage, err = postgres.NewPostgresStorage(ctx, postgres.Config{
				DSN:      a.Config.PostgresConfig.DSN,
				MaxConns: a.Config.PostgresConfig.MaxConns,
			})
			return err
		})
		if err != nil {
			return err
		}
		a.storage = storage
	default:
		a.storage = memory.NewMemoryStore()
	}
	if err := retry(ctx, func() error { return a.storage.Ping(ctx) }); err != nil {
		logger.Error("storage not reachable", zap.String("storage", string(a.Config.StorageType)), zap.Error(err))
		return err
	}
	return nil
}

func (a *App) setupQueue() error {
	switch a.Config.QueueType {
	case config.QUEUE_TYPE_REDIS:
		a.queue = rd.NewRedisDelayQueue(a.redisConfig())
	default:
		a.queue = memory.NewMemoryQueue(nil)
	}
	return nil
}

func (a *App) redisConfig() rd.Config {
	return rd.Config{
		Addrs:     a.Config.RedisConfig.Addrs,
		Namespace: a.Config.RedisConfig.Namespace,
		PoolSize:  a.Config.RedisConfig.PoolSize,
		Password:  a.Config.RedisConfig.Password,
	}
}

func (a *App) setupRing() error {
	a.ring = cluster.NewRing(cluster.RingConfig{
		PartitionCount: a.Config.ClusterConfig.PartitionCount,
		NodeName:       a.Config.ClusterConfig.NodeName,
		NodeAddr:       a.Config.ClusterConfig.BindAddr,
	})
	return nil
}

func (a *App) setupDirectory() error {
	a.directory = access.NewMemoryDirectory()
	return nil
}

func (a *App) setupEngine() error {
	a.engine = engine.NewEngine(a.storage, a.queue, a.ring, a.directory, nil, engine.Config{
		DelayMode: a.Config.DelayMode,
	})
	a.catalog = catalog.NewService(a.storage, a.directory)
	return nil
}

func (a *App) setupSeed() error {
	if len(a.Config.SeedFile) == 0 {
		return nil
	}
	f, err := seed.Load(a.Config.SeedFile)
	if err != nil {
		return err
	}
	f.ApplyMembers(a.directory)
	_, err = f.ApplyWorkflows(context.Background(), a.catalog)
	return err
}

func (a *App) setupExecutors() error {
	a.executors = executor.NewContainer()
	for _, p := range a.ring.GetPartitions() {
		ex := executor.NewTaskExecutor(p, a.Config.BatchSize, a.Config.PollInterval, a.queue, a.engine, &a.wg)
		a.executors.Register(fmt.Sprintf("task-%d", p), ex)
	}
	if a.Config.RecoveryConfig.Interval > 0 {
		a.executors.Register("recovery", executor.NewRecoveryExecutor(a.engine, a.Config.RecoveryConfig.Grace,
			a.Config.RecoveryConfig.Interval, &a.wg))
	}
	if a.Config.SLAConfig.Threshold > 0 {
		a.executors.Register("sla", executor.NewSLAExecutor(a.engine, a.Config.SLAConfig.Threshold,
			a.Config.SLAConfig.ScanInterval, &a.wg))
	}
	return nil
}

func (a *App) setupScheduler() error {
	if !a.Config.SchedulerConfig.Enabled {
		return nil
	}
	a.scheduler = trigger.NewScheduler(a.storage, a.engine, a.Config.SchedulerConfig.Resync, &a.wg)
	return nil
}

func (a *App) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.catalog, a.engine, a.storage)
	return err
}

func (a *App) setupGrpcServer() error {
	var err error
	a.grpcServer, err = rpc.NewGrpcServer(a.Config.GrpcPort)
	return err
}

func (a *App) Start() error {
	a.executors.Start()
	logger.Info("executors started", zap.Int("count", a.executors.Len()))
	if a.scheduler != nil {
		if err := a.scheduler.Start(context.Background()); err != nil {
			return err
		}
	}
	go func() {
		if err := a.httpServer.Start(); err != nil {
			logger.Error("http server failed", zap.Error(err))
			_ = a.Shutdown()
		}
	}()
	go func() {
		if err := a.grpcServer.Start(); err != nil {
			logger.Error("grpc server failed", zap.Error(err))
			_ = a.Shutdown()
		}
	}()
	return nil
}

func (a *App) Shutdown() error {
	logger.Info("shutting down server")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true

	shutdown := []func() error{
		a.grpcServer.Stop,
		a.httpServer.Stop,
		func() error {
			if a.scheduler != nil {
				a.scheduler.Stop()
			}
			a.executors.Stop()
			return nil
		},
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	logger.Info("waiting for all services to shutdown...")
	a.wg.Wait()

	metrics.Unregister()
	if err := a.queue.Close(); err != nil {
		return err
	}
	if err := a.storage.Close(); err != nil {
		return err
	}
	return analytics.Close()
}

func retry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond)), pingRetries), ctx)
	return backoff.Retry(op, policy)
}
