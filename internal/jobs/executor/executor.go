package executor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/archivolt/mnemos/internal/data/repos"
	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/jobs/runtime"
	"github.com/archivolt/mnemos/internal/observability"
	"github.com/archivolt/mnemos/internal/pipeerr"
	"github.com/archivolt/mnemos/internal/platform/dbctx"
	"github.com/archivolt/mnemos/internal/platform/envutil"
	"github.com/archivolt/mnemos/internal/platform/logger"
)

// Notifier publishes run lifecycle events. Nil-safe throughout the executor.
type Notifier interface {
	RunEvent(ctx context.Context, runID uuid.UUID, event string, fields map[string]any)
}

// BackoffPolicy shapes retry delays: base * 2^attempt, capped, with jitter.
type BackoffPolicy struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

func BackoffFromEnv() BackoffPolicy {
	return BackoffPolicy{
		Base:   envutil.Duration("RETRY_BACKOFF_BASE", 5*time.Second),
		Max:    envutil.Duration("RETRY_BACKOFF_MAX", 5*time.Minute),
		Jitter: envutil.Float("RETRY_BACKOFF_JITTER", 0.2),
	}
}

func (p BackoffPolicy) Delay(attempt int) time.Duration {
	d := p.Base
	for i := 0; i < attempt && d < p.Max; i++ {
		d *= 2
	}
	if d > p.Max {
		d = p.Max
	}
	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d += time.Duration((rand.Float64()*2 - 1) * spread)
		if d < 0 {
			d = 0
		}
	}
	return d
}

// Executor claims stage jobs and drives runs through the stage sequence. It
// owns every run status transition that execution causes: pending/retrying to
// running, running to pending (next stage), completed, retrying, or failed.
type Executor struct {
	runs     repos.PipelineRunRepo
	jobs     repos.StageJobRepo
	registry *runtime.Registry
	backoff  BackoffPolicy
	notifier Notifier
	metrics  *observability.Metrics
	log      *logger.Logger

	heartbeatEvery time.Duration
}

func New(runs repos.PipelineRunRepo, jobs repos.StageJobRepo, registry *runtime.Registry,
	backoff BackoffPolicy, notifier Notifier, metrics *observability.Metrics, baseLog *logger.Logger) *Executor {
	return &Executor{
		runs:           runs,
		jobs:           jobs,
		registry:       registry,
		backoff:        backoff,
		notifier:       notifier,
		metrics:        metrics,
		log:            baseLog.With("component", "StageExecutor"),
		heartbeatEvery: envutil.Duration("JOB_HEARTBEAT_INTERVAL", 15*time.Second),
	}
}

// ExecuteNext claims and runs one job. Returns false when the queue is empty.
func (e *Executor) ExecuteNext(ctx dbctx.Context) (bool, error) {
	job, err := e.jobs.Claim(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	return true, e.execute(ctx, job)
}

func (e *Executor) execute(ctx dbctx.Context, job *domain.StageJob) error {
	log := e.log.With("run_id", job.RunID, "stage", job.Stage, "job_id", job.ID)

	run, err := e.runs.GetByID(ctx, job.RunID)
	if err != nil {
		return e.jobs.MarkFailed(ctx, job.ID, fmt.Sprintf("load run: %v", err))
	}

	// A job for a stage the run has already moved past is leftover queue
	// noise, not work.
	if run.Stage != job.Stage {
		log.Warn("dropping stale job", "run_stage", run.Stage)
		return e.jobs.MarkDone(ctx, job.ID)
	}

	if err := e.claimRun(ctx, run); err != nil {
		if errors.Is(err, repos.ErrStaleTransition) {
			log.Info("run claimed elsewhere, releasing job")
			return e.jobs.MarkDone(ctx, job.ID)
		}
		return err
	}

	handler, ok := e.registry.Get(run.Stage)
	if !ok {
		return e.fail(ctx, run, job, fmt.Errorf("no handler for stage %q", run.Stage))
	}

	if e.metrics != nil {
		e.metrics.StageStarted()
	}
	e.notify(ctx.Ctx, run.ID, "stage_started", map[string]any{"stage": run.Stage})

	stop := e.keepAlive(ctx, job.ID)
	started := time.Now()
	metrics, execErr := e.runHandler(handler, &runtime.Context{DB: ctx, Run: run, Job: job, Log: log})
	stop()
	if e.metrics != nil {
		e.metrics.ObserveStageDuration(run.Stage, time.Since(started))
	}

	if execErr == nil {
		execErr = validateMetrics(metrics)
	}
	if execErr != nil {
		return e.handleFailure(ctx, run, job, execErr)
	}
	return e.succeed(ctx, run, job, metrics)
}

// claimRun moves the run into running from whichever resumable status it is
// in. Paused runs are not resumable by workers; only the orchestrator's
// Resume can leave paused.
func (e *Executor) claimRun(ctx dbctx.Context, run *domain.PipelineRun) error {
	now := time.Now().UTC()
	updates := map[string]any{"stage_started_at": now, "error": ""}
	for _, from := range []string{domain.RunPending, domain.RunRetrying} {
		err := e.runs.TransitionStatus(ctx, run.ID, from, domain.RunRunning, updates)
		if err == nil {
			run.Status = domain.RunRunning
			return nil
		}
		if !errors.Is(err, repos.ErrStaleTransition) {
			return err
		}
	}
	return fmt.Errorf("claim run %s: %w", run.ID, repos.ErrStaleTransition)
}

// runHandler converts panics into errors so one bad stage cannot take the
// worker down.
func (e *Executor) runHandler(h runtime.Handler, rctx *runtime.Context) (m map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panicked: %v", r)
		}
	}()
	return h.Execute(rctx)
}

func (e *Executor) keepAlive(ctx dbctx.Context, jobID uuid.UUID) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(e.heartbeatEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := e.jobs.Heartbeat(ctx, jobID); err != nil {
					e.log.Warn("heartbeat failed", "job_id", jobID, "error", err)
				}
			}
		}
	}()
	return func() { close(done) }
}

// validateMetrics rejects implausible stage results: a stage that reports
// eligible input but zero processed output did not actually do its work.
func validateMetrics(metrics map[string]any) error {
	eligible, eok := asInt(metrics["eligible"])
	processed, pok := asInt(metrics["processed"])
	if eok && pok && eligible > 0 && processed == 0 {
		return pipeerr.InvalidDataf("stage reported 0 processed against %d eligible", eligible)
	}
	return nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func (e *Executor) succeed(ctx dbctx.Context, run *domain.PipelineRun, job *domain.StageJob, metrics map[string]any) error {
	if metrics != nil {
		if err := e.runs.AppendStageMetrics(ctx, run.ID, run.Stage, metrics); err != nil {
			return err
		}
	}

	next, hasNext := domain.NextStage(run.Stage)
	if hasNext {
		err := e.runs.TransitionStatus(ctx, run.ID, domain.RunRunning, domain.RunPending, map[string]any{
			"stage":            next,
			"stage_started_at": nil,
			"retry_count":      0,
		})
		if err != nil {
			return err
		}
		if _, err := e.jobs.Enqueue(ctx, run.ID, next); err != nil {
			return err
		}
	} else {
		err := e.runs.TransitionStatus(ctx, run.ID, domain.RunRunning, domain.RunCompleted, nil)
		if err != nil {
			return err
		}
	}

	if e.metrics != nil {
		e.metrics.StageSucceeded()
	}
	event := "stage_completed"
	fields := map[string]any{"stage": run.Stage}
	if !hasNext {
		event = "run_completed"
	} else {
		fields["next_stage"] = next
	}
	e.notify(ctx.Ctx, run.ID, event, fields)
	return e.jobs.MarkDone(ctx, job.ID)
}

func (e *Executor) handleFailure(ctx dbctx.Context, run *domain.PipelineRun, job *domain.StageJob, execErr error) error {
	log := e.log.With("run_id", run.ID, "stage", run.Stage)

	if pipeerr.Retryable(execErr) && run.RetryCount < run.MaxRetries {
		attempt := run.RetryCount + 1
		delay := e.backoff.Delay(attempt)
		now := time.Now().UTC()
		err := e.runs.TransitionStatus(ctx, run.ID, domain.RunRunning, domain.RunRetrying, map[string]any{
			"retry_count":   attempt,
			"error":         execErr.Error(),
			"last_error_at": now,
		})
		if err != nil {
			return err
		}
		if _, err := e.jobs.EnqueueAfter(ctx, run.ID, run.Stage, delay); err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.RetryScheduled()
		}
		log.Warn("stage failed, retry scheduled",
			"attempt", attempt, "max_retries", run.MaxRetries,
			"delay", delay, "error", execErr)
		e.notify(ctx.Ctx, run.ID, "stage_retrying", map[string]any{
			"stage": run.Stage, "attempt": attempt, "delay_ms": delay.Milliseconds(),
		})
		return e.jobs.MarkFailed(ctx, job.ID, execErr.Error())
	}

	return e.fail(ctx, run, job, execErr)
}

// fail marks the run failed. Non-retryable failures (invalid data, abort,
// panics) are stamped terminal so the watchdog leaves them for an operator;
// exhausted transient failures keep their budget-based semantics.
func (e *Executor) fail(ctx dbctx.Context, run *domain.PipelineRun, job *domain.StageJob, execErr error) error {
	now := time.Now().UTC()
	err := e.runs.TransitionStatus(ctx, run.ID, domain.RunRunning, domain.RunFailed, map[string]any{
		"error":            execErr.Error(),
		"last_error_at":    now,
		"failure_terminal": !pipeerr.Retryable(execErr),
	})
	if err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.StageFailed()
	}
	e.log.Error("run failed", "run_id", run.ID, "stage", run.Stage,
		"retryable", pipeerr.IsTransient(execErr), "error", execErr)
	e.notify(ctx.Ctx, run.ID, "run_failed", map[string]any{
		"stage": run.Stage, "error": execErr.Error(),
	})
	return e.jobs.MarkFailed(ctx, job.ID, execErr.Error())
}

func (e *Executor) notify(ctx context.Context, runID uuid.UUID, event string, fields map[string]any) {
	if e.notifier == nil {
		return
	}
	e.notifier.RunEvent(ctx, runID, event, fields)
}
