package bootstrap

import (
	"context"
	"os"
	"time"

	"finanzas/adapter/in/worker"
	"finanzas/config"
	"finanzas/internal/stream"
	"finanzas/pkg/logger"
)

// Worker bundles the job pool, the scheduler and the stream consumer.
type Worker struct {
	pool      *worker.Pool
	scheduler *worker.Scheduler
	consumer  *stream.Consumer
	deps      *Dependencies

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorker builds the worker runtime: pool for in-process jobs, stream
// consumer for durable jobs, scheduler for the periodic passes.
func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	initLogger(cfg, "finanzas-worker")

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("dependency init failed")
		return nil, nil, err
	}

	zlog := zlogFor("worker")

	syncProcessor := worker.NewSyncProcessor(deps.Syncs, deps.Aggregates, zlog)
	scanProcessor := worker.NewScanProcessor(
		deps.Recurring,
		deps.Anomaly,
		deps.Transactions,
		deps.Duplicates,
		zlog,
	)
	handler := worker.NewHandler(syncProcessor, scanProcessor, zlog)

	poolConfig := worker.DefaultPoolConfig()
	if cfg.WorkerMin > 0 {
		poolConfig.MinWorkers = cfg.WorkerMin
	}
	if cfg.WorkerMax > 0 {
		poolConfig.MaxWorkers = cfg.WorkerMax
	}
	if cfg.WorkerQueueSize > 0 {
		poolConfig.QueueSize = cfg.WorkerQueueSize
	}
	if cfg.ConsumerMaxRetries > 0 {
		poolConfig.MaxRetries = cfg.ConsumerMaxRetries
	}
	pool := worker.NewPool(handler, poolConfig, zlog)

	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		pool: pool,
		deps: deps,

		ctx:    ctx,
		cancel: cancel,
	}

	consumerCfg := stream.DefaultConsumerConfig()
	if cfg.ConsumerBatchSize > 0 {
		consumerCfg.BatchSize = int64(cfg.ConsumerBatchSize)
	}
	if cfg.ConsumerBlockMS > 0 {
		consumerCfg.Block = time.Duration(cfg.ConsumerBlockMS) * time.Millisecond
	}
	w.consumer = stream.NewConsumer(deps.Stream, handler, consumerName(), consumerCfg, zlog)

	if cfg.SchedulerEnabled {
		w.scheduler = worker.NewScheduler(deps.Profiles, pool, cfg.SyncInterval, zlog)
	}

	return w, cleanup, nil
}

// Start launches the pool, the consumer and the scheduler. Non-blocking.
func (w *Worker) Start() {
	w.pool.Start()
	w.consumer.Start(w.ctx)
	if w.scheduler != nil {
		w.scheduler.Start(w.ctx)
	}
}

// Stop drains the pool and stops the loops.
func (w *Worker) Stop() {
	w.cancel()
	w.pool.Stop()
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "finanzas-worker"
	}
	return host
}
