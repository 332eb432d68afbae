// Package jobs runs the durable background queue. Workers claim jobs
// with FOR UPDATE SKIP LOCKED, heartbeat their lease while a handler
// runs, and retry failures with exponential backoff up to the handler's
// attempt budget. A sweeper returns jobs whose lease lapsed to the
// pending state so crashed workers cannot strand work.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/logger"
	"github.com/lorehq/lore/pkg/observability"
	"github.com/lorehq/lore/pkg/protocol"
	"github.com/lorehq/lore/pkg/store"
)

const (
	heartbeatInterval = 30 * time.Second
	sweepInterval     = time.Minute
	retryBaseDelay    = 30 * time.Second
	retryMaxDelay     = 10 * time.Minute
)

// Handler runs one kind of job. MaxAttempts bounds how many times the
// queue will offer a failing job; zero falls back to the pool default
// and one disables retries.
type Handler struct {
	Kind        string
	MaxAttempts int
	Run         func(ctx context.Context, job *store.Job, sink protocol.Sink) error
}

// Queue is the persistence surface the runner needs.
type Queue interface {
	ClaimJob(ctx context.Context, workerID string, kinds []string) (*store.Job, error)
	CompleteJob(ctx context.Context, id uuid.UUID) error
	FailJob(ctx context.Context, id uuid.UUID, cause string, retryIn time.Duration) error
	HeartbeatJob(ctx context.Context, id uuid.UUID, workerID string) error
	RequeueStaleJobs(ctx context.Context, lease time.Duration) (int64, error)
}

// Runner is a worker pool over the job queue.
type Runner struct {
	queue    Queue
	cfg      config.JobsConfig
	sink     protocol.Sink
	log      *slog.Logger
	hostname string

	mu       sync.RWMutex
	handlers map[string]Handler
	kinds    []string
}

// NewRunner builds a pool. The sink receives job progress events; a nil
// sink drops them.
func NewRunner(queue Queue, cfg config.JobsConfig, sink protocol.Sink) *Runner {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "worker"
	}
	return &Runner{
		queue:    queue,
		cfg:      cfg,
		sink:     sink,
		log:      logger.Component("jobs"),
		hostname: hostname,
		handlers: map[string]Handler{},
	}
}

// Register adds a handler. Registering a kind twice is a programming
// error.
func (r *Runner) Register(h Handler) error {
	if h.Kind == "" || h.Run == nil {
		return fmt.Errorf("job handler needs a kind and a run function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.Kind]; exists {
		return fmt.Errorf("job handler for %q already registered", h.Kind)
	}
	r.handlers[h.Kind] = h
	r.kinds = append(r.kinds, h.Kind)
	return nil
}

// Run blocks processing jobs until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.RLock()
	registered := len(r.kinds)
	r.mu.RUnlock()
	if registered == 0 {
		return fmt.Errorf("no job handlers registered")
	}

	r.log.Info("job runner started", "workers", r.cfg.Workers, "kinds", registered)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Workers; i++ {
		workerID := fmt.Sprintf("%s-%d", r.hostname, i)
		g.Go(func() error {
			r.worker(gctx, workerID)
			return nil
		})
	}
	g.Go(func() error {
		r.sweeper(gctx)
		return nil
	})
	err := g.Wait()
	r.log.Info("job runner stopped")
	return err
}

// worker claims and runs jobs until ctx is cancelled, sleeping through
// empty polls.
func (r *Runner) worker(ctx context.Context, workerID string) {
	for {
		job, err := r.queue.ClaimJob(ctx, workerID, r.kindList())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Error("claim failed", "worker", workerID, "error", err)
		}
		if job != nil {
			r.runJob(ctx, workerID, job)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

func (r *Runner) runJob(ctx context.Context, workerID string, job *store.Job) {
	handler, ok := r.handler(job.Kind)
	if !ok {
		// Claimed kinds always have handlers; this guards a kind list
		// raced by registration.
		r.failJob(ctx, job, fmt.Errorf("no handler for kind %q", job.Kind), 0)
		return
	}

	tracer := observability.GetTracer("jobs")
	ctx, span := tracer.Start(ctx, observability.SpanJob,
		trace.WithAttributes(
			attribute.String("job.kind", job.Kind),
			attribute.String("job.id", job.ID.String()),
		))
	defer span.End()

	r.log.Info("job started",
		"job_id", job.ID, "kind", job.Kind, "attempt", job.Attempts, "worker", workerID)

	stopHeartbeat := r.heartbeat(ctx, job.ID, workerID)
	start := time.Now()
	err := handler.Run(ctx, job, r.sink)
	duration := time.Since(start)
	stopHeartbeat()

	observability.GetGlobalMetrics().RecordJob(ctx, job.Kind, duration, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.failJob(ctx, job, err, r.retryIn(handler, job))
		return
	}

	span.SetStatus(codes.Ok, "done")
	// Like failJob, the completion must land even mid-shutdown, or the
	// sweeper would hand a finished job to another worker.
	if err := r.queue.CompleteJob(context.WithoutCancel(ctx), job.ID); err != nil {
		r.log.Error("complete failed", "job_id", job.ID, "error", err)
		return
	}
	r.log.Info("job done", "job_id", job.ID, "kind", job.Kind, "duration", duration)
}

// retryIn computes the backoff before the next attempt, or zero when the
// attempt budget is spent.
func (r *Runner) retryIn(handler Handler, job *store.Job) time.Duration {
	maxAttempts := handler.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = r.cfg.MaxAttempts
	}
	if job.Attempts >= maxAttempts {
		return 0
	}
	delay := retryBaseDelay
	for i := 1; i < job.Attempts; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return delay
}

func (r *Runner) failJob(ctx context.Context, job *store.Job, cause error, retryIn time.Duration) {
	// The row update must land even when the worker is shutting down.
	ctx = context.WithoutCancel(ctx)
	if err := r.queue.FailJob(ctx, job.ID, cause.Error(), retryIn); err != nil {
		r.log.Error("fail update failed", "job_id", job.ID, "error", err)
		return
	}
	if retryIn > 0 {
		r.log.Warn("job failed, will retry",
			"job_id", job.ID, "kind", job.Kind, "attempt", job.Attempts, "retry_in", retryIn, "error", cause)
		return
	}
	r.log.Error("job failed",
		"job_id", job.ID, "kind", job.Kind, "attempt", job.Attempts, "error", cause)
}

// heartbeat extends the lease until the returned stop function runs.
func (r *Runner) heartbeat(ctx context.Context, jobID uuid.UUID, workerID string) func() {
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.queue.HeartbeatJob(ctx, jobID, workerID); err != nil {
					r.log.Warn("heartbeat failed", "job_id", jobID, "error", err)
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

// sweeper returns lease-expired jobs to pending.
func (r *Runner) sweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.queue.RequeueStaleJobs(ctx, r.cfg.LeaseDuration)
			if err != nil {
				if ctx.Err() == nil {
					r.log.Error("sweep failed", "error", err)
				}
				continue
			}
			if n > 0 {
				r.log.Warn("requeued stale jobs", "count", n)
			}
		}
	}
}

func (r *Runner) handler(kind string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

func (r *Runner) kindList() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.kinds...)
}
