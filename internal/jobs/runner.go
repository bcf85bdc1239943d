package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Func runs one pass of a job and reports how many items it processed.
type Func func(ctx context.Context) (int64, error)

// Job is a named Func run on a fixed interval.
type Job struct {
	Name     string
	Interval time.Duration
	// Timeout bounds each run. Zero means no limit beyond the runner's context.
	Timeout time.Duration
	Run     Func
}

// Runner schedules jobs. Each job runs on its own ticker; runs of the same
// job never overlap.
type Runner struct {
	clock   clock.Clock
	logger  *slog.Logger
	metrics *Metrics

	mu     sync.Mutex
	jobs   []Job
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner. A nil clock uses the wall clock; nil metrics
// disables recording.
func NewRunner(clk clock.Clock, logger *slog.Logger, metrics *Metrics) *Runner {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{clock: clk, logger: logger, metrics: metrics}
}

// Add registers a job. Jobs added after Start are not scheduled.
func (r *Runner) Add(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
}

// Start launches every job. It returns immediately.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	for _, job := range r.jobs {
		if job.Interval <= 0 || job.Run == nil {
			r.logger.Warn("skipping invalid job", slog.String("job", job.Name))
			continue
		}
		r.wg.Add(1)
		go r.loop(ctx, job)
	}
}

// Stop cancels running jobs and waits for them to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context, job Job) {
	defer r.wg.Done()
	ticker := r.clock.Ticker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx, job)
		}
	}
}

// RunOnce runs job immediately and records the outcome.
func (r *Runner) RunOnce(ctx context.Context, job Job) (int64, error) {
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	start := r.clock.Now()
	n, err := job.Run(ctx)
	elapsed := r.clock.Since(start)

	if r.metrics != nil {
		r.metrics.ObserveJobDuration(job.Name, elapsed.Seconds())
		if err != nil {
			r.metrics.IncJobsTotal(job.Name, StatusFailure)
			r.metrics.IncJobErrors(job.Name, errorType(err))
		} else {
			r.metrics.IncJobsTotal(job.Name, StatusSuccess)
			r.metrics.AddItems(job.Name, n)
		}
	}

	switch {
	case err != nil:
		r.logger.Warn("background job failed",
			slog.String("job", job.Name),
			slog.Duration("duration", elapsed),
			slog.String("error", err.Error()))
	case n > 0:
		r.logger.Info("background job completed",
			slog.String("job", job.Name),
			slog.Int64("items", n),
			slog.Duration("duration", elapsed))
	}
	return n, err
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
