package app

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/lockdrop/internal/api"
	"github.com/dharsanguruparan/lockdrop/internal/queue"
	"github.com/dharsanguruparan/lockdrop/internal/worker"
)

// Serve runs the HTTP API until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	q := queue.NewClient(RedisOpt(a.Cfg))
	defer q.Close()

	srv := api.New(api.Options{
		Address:           a.Cfg.Address,
		PublicURL:         a.Cfg.PublicURL,
		MaxFileSize:       a.Cfg.MaxFileSize,
		AdminPasswordHash: a.Cfg.AdminPasswordHash,
	}, a.Service, a.Tokens, a.Hasher, q, a.Log)
	return srv.Run(ctx)
}

// RunWorker processes background tasks and, when a cron schedule is configured,
// schedules the periodic reconcile. It blocks until ctx is cancelled.
func (a *App) RunWorker(ctx context.Context) error {
	redis := RedisOpt(a.Cfg)
	server := asynq.NewServer(redis, asynq.Config{
		Concurrency: a.Cfg.WorkerCount,
		Logger:      a.Log.Named("asynq").Sugar(),
	})

	var scheduler *asynq.Scheduler
	if a.Cfg.ReconcileCron != "" {
		scheduler = asynq.NewScheduler(redis, &asynq.SchedulerOpts{Logger: a.Log.Named("scheduler").Sugar()})
		// Orphans are only reported on schedule; adopting them is an explicit decision.
		id, err := worker.Schedule(scheduler, a.Cfg.ReconcileCron, false)
		if err != nil {
			return err
		}
		a.Log.Info("reconcile scheduled", zap.String("cron", a.Cfg.ReconcileCron), zap.String("entry", id))
		if err := scheduler.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	go func() {
		<-ctx.Done()
		if scheduler != nil {
			scheduler.Shutdown()
		}
		server.Shutdown()
	}()

	a.Log.Info("worker started", zap.Int("concurrency", a.Cfg.WorkerCount))
	if err := server.Run(worker.NewProcessor(a.Service, a.Log).Handler()); err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}
	return nil
}
