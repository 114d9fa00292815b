// Package events carries the audit trail of the custody pipeline. The
// pipeline only sees the Sink interface; production wires it to zap.
package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Names emitted by the pipeline.
const (
	UploadSucceeded    = "upload.succeeded"
	UploadRejected     = "upload.rejected"
	DownloadAuthorized = "download.authorized"
	DownloadRejected   = "download.rejected"
	DownloadCompleted  = "download.completed"
	DownloadFailed     = "download.failed"
	ReconcileOrphan    = "reconcile.orphan_found"
	ReconcileDangling  = "reconcile.dangling_found"
	ReconcileUnread    = "reconcile.unreadable_found"
	ReconcileRecatalog = "reconcile.recataloged"
	ArtifactPurged     = "artifact.purged"
)

// Sink receives structured audit events.
type Sink interface {
	Emit(ctx context.Context, name string, fields ...zap.Field)
}

// Rejected returns the event name for a rejection, e.g. "upload.rejected:extension".
func Rejected(base, reason string) string {
	if reason == "" {
		return base
	}
	return base + ":" + reason
}

type zapSink struct {
	log *zap.Logger
}

// NewZapSink writes events as info-level log lines tagged with event=<name>.
func NewZapSink(log *zap.Logger) Sink {
	return &zapSink{log: log.Named("audit")}
}

func (s *zapSink) Emit(_ context.Context, name string, fields ...zap.Field) {
	s.log.Info(name, append([]zap.Field{zap.String("event", name)}, fields...)...)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Emit(context.Context, string, ...zap.Field) {}

// Event is one recorded emission.
type Event struct {
	Name   string
	Fields map[string]any
}

// Recorder keeps events in memory. Tests assert on it.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, name string, fields ...zap.Field) {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Name: name, Fields: enc.Fields})
}

// Names returns the recorded event names in order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
