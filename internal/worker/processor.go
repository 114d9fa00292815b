// Package worker runs LockDrop's background jobs on asynq.
package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/lockdrop/internal/model"
	"github.com/dharsanguruparan/lockdrop/internal/queue"
)

// Reconciler is the part of the custody service the worker needs.
type Reconciler interface {
	Reconcile(ctx context.Context, recatalog bool) (*model.ReconcileReport, error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	svc Reconciler
	log *zap.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(svc Reconciler, log *zap.Logger) *Processor {
	return &Processor{svc: svc, log: log.Named("worker")}
}

// Handler registers the job handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ReconcileTask, p.handleReconcile)
	return mux
}

func (p *Processor) handleReconcile(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.DecodeReconcile(task)
	if err != nil {
		// A payload that cannot be decoded will never succeed.
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	report, err := p.svc.Reconcile(ctx, payload.Recatalog)
	if err != nil {
		p.log.Error("reconcile failed", zap.Error(err))
		return err
	}
	p.log.Info("reconcile completed",
		zap.Int("orphans", len(report.Orphans)),
		zap.Int("dangling", len(report.Dangling)),
		zap.Int("unreadable", len(report.Unreadable)),
		zap.Int("recataloged", len(report.Recataloged)))
	return nil
}

// Schedule registers the periodic reconcile run on s.
func Schedule(s *asynq.Scheduler, cronspec string, recatalog bool) (string, error) {
	task, err := queue.NewReconcileTask(recatalog)
	if err != nil {
		return "", err
	}
	id, err := s.Register(cronspec, task)
	if err != nil {
		return "", fmt.Errorf("register reconcile schedule %q: %w", cronspec, err)
	}
	return id, nil
}
