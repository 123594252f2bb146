package notify

import (
	"context"
	"hash/fnv"
	"log/slog"
	"time"
)

// Elector decides whether this instance is the designated queue
// consumer, by hashing a stable per-instance identifier modulo the
// server count. Because the queue pop is destructive, at most one
// instance ever receives a given item regardless of election; this is a
// load-shedding knob, not a correctness requirement.
type Elector struct {
	InstanceID  string
	ServerCount int
}

// Elected reports whether this instance should consume the queue.
func (e Elector) Elected() bool {
	if e.ServerCount <= 1 {
		return true
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(e.InstanceID))
	return h.Sum32()%uint32(e.ServerCount) == 0
}

// Worker drains the shared notification FIFO and hands events to the
// dispatcher. Non-elected instances idle-poll.
type Worker struct {
	queue      Queue
	dispatcher *Dispatcher
	elector    Elector
	logger     *slog.Logger

	pollTimeout time.Duration
	idleDelay   time.Duration
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithPollTimeout overrides the blocking-pop timeout.
func WithPollTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) { w.pollTimeout = d }
}

// WithWorkerLogger overrides the default logger.
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = l }
}

func NewWorker(queue Queue, dispatcher *Dispatcher, elector Elector, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:       queue,
		dispatcher:  dispatcher,
		elector:     elector,
		logger:      slog.Default(),
		pollTimeout: time.Second,
		idleDelay:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run consumes until the context is done.
func (w *Worker) Run(ctx context.Context) {
	elected := w.elector.Elected()
	w.logger.Info("notification worker starting",
		"instance_id", w.elector.InstanceID, "elected", elected)
	for {
		if ctx.Err() != nil {
			return
		}
		if !elected {
			sleepCtx(ctx, w.idleDelay)
			continue
		}
		w.consumeOne(ctx)
	}
}

func (w *Worker) consumeOne(ctx context.Context) {
	ev, ok, err := w.queue.DequeueNotification(ctx, w.pollTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Warn("queue pop failed", "error", err)
		sleepCtx(ctx, time.Second)
		return
	}
	if !ok {
		return
	}
	if err := w.dispatcher.Dispatch(ctx, ev); err != nil {
		// leave the marker to expire so the trigger may re-enqueue
		w.logger.Error("notification dispatch failed",
			"business_key", ev.BusinessKey, "error", err)
		return
	}
	if err := w.queue.MarkEventCompleted(ctx, ev.BusinessKey); err != nil {
		w.logger.Warn("failed to clear processing marker",
			"business_key", ev.BusinessKey, "error", err)
	}
}
