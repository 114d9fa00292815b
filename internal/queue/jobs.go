// Package queue defines the asynq tasks LockDrop runs in the background.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/lockdrop/internal/errs"
)

const (
	// ReconcileTask scans the store against the catalog.
	ReconcileTask = "artifact:reconcile"

	// DefaultQueue is where reconcile runs are enqueued.
	DefaultQueue = "default"

	// UniqueWindow is how long an enqueued reconcile blocks an identical one.
	UniqueWindow = 10 * time.Minute
)

// ReconcilePayload is serialized into the task payload.
type ReconcilePayload struct {
	Recatalog bool `json:"recatalog"`
}

// NewReconcileTask builds a reconcile task. Scheduled and on-demand runs use
// the same task and asynq's uniqueness lock, so at most one run per payload
// is pending within UniqueWindow.
func NewReconcileTask(recatalog bool) (*asynq.Task, error) {
	data, err := json.Marshal(ReconcilePayload{Recatalog: recatalog})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(ReconcileTask, data, reconcileOptions()...), nil
}

func reconcileOptions() []asynq.Option {
	return []asynq.Option{
		asynq.MaxRetry(3),
		asynq.Timeout(10 * time.Minute),
		asynq.Queue(DefaultQueue),
		asynq.Unique(UniqueWindow),
	}
}

// Client enqueues background work. The zero value is not usable; build it
// with NewClient.
type Client struct {
	client *asynq.Client
}

// NewClient connects to Redis lazily; asynq dials on first use.
func NewClient(opt asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(opt)}
}

// Close releases the Redis connection.
func (c *Client) Close() error { return c.client.Close() }

// EnqueueReconcile enqueues a reconcile run and returns the task id.
func (c *Client) EnqueueReconcile(ctx context.Context, recatalog bool) (string, error) {
	task, err := NewReconcileTask(recatalog)
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", enqueueErr(err)
	}
	return info.ID, nil
}

func enqueueErr(err error) error {
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return errs.Invalid("already_queued", "a reconcile run is already queued")
	}
	return fmt.Errorf("enqueue reconcile task: %w", err)
}

// DecodeReconcile parses a reconcile payload.
func DecodeReconcile(task *asynq.Task) (ReconcilePayload, error) {
	var p ReconcilePayload
	if len(task.Payload()) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}
