package watchdog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/archivolt/mnemos/internal/data/repos"
	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/gates"
	"github.com/archivolt/mnemos/internal/observability"
	"github.com/archivolt/mnemos/internal/platform/dbctx"
	"github.com/archivolt/mnemos/internal/platform/envutil"
	"github.com/archivolt/mnemos/internal/platform/logger"
)

// Notifier mirrors the executor's notifier; nil-safe.
type Notifier interface {
	RunEvent(ctx context.Context, runID uuid.UUID, event string, fields map[string]any)
}

// Watchdog is the shared supervisor for all active runs. Each tick it walks
// the active set and takes exactly one corrective or advancing action per run
// at most: firing gates for completed runs, resuming failed runs with budget
// left, and re-dispatching stalled runs whose queue has gone quiet.
type Watchdog struct {
	runs     repos.PipelineRunRepo
	jobs     repos.StageJobRepo
	gates    *gates.Runner
	notifier Notifier
	metrics  *observability.Metrics
	log      *logger.Logger

	tickEvery      time.Duration
	stuckThreshold time.Duration
	now            func() time.Time
}

func New(runs repos.PipelineRunRepo, jobs repos.StageJobRepo, gatesRunner *gates.Runner,
	notifier Notifier, metrics *observability.Metrics, baseLog *logger.Logger) *Watchdog {
	return &Watchdog{
		runs:           runs,
		jobs:           jobs,
		gates:          gatesRunner,
		notifier:       notifier,
		metrics:        metrics,
		log:            baseLog.With("component", "Watchdog"),
		tickEvery:      envutil.Duration("WATCHDOG_INTERVAL", 30*time.Second),
		stuckThreshold: envutil.Duration("WATCHDOG_STUCK_THRESHOLD", 10*time.Minute),
		now:            time.Now,
	}
}

// SetClock overrides the watchdog's clock for stuck-threshold tests.
func (w *Watchdog) SetClock(fn func() time.Time) {
	if fn != nil {
		w.now = fn
	}
}

// Run blocks, ticking until the context is canceled.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.tickEvery)
	defer ticker.Stop()
	w.log.Info("watchdog started", "interval", w.tickEvery, "stuck_threshold", w.stuckThreshold)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Tick(dbctx.New(ctx)); err != nil {
				w.log.Error("watchdog tick failed", "error", err)
			}
		}
	}
}

// Tick inspects every active run once.
func (w *Watchdog) Tick(ctx dbctx.Context) error {
	runs, err := w.runs.ListActive(ctx)
	if err != nil {
		return err
	}
	for i := range runs {
		run := &runs[i]
		if err := w.inspect(ctx, run); err != nil {
			w.log.Error("inspection failed", "run_id", run.ID, "error", err)
		}
	}
	return nil
}

func (w *Watchdog) inspect(ctx dbctx.Context, run *domain.PipelineRun) error {
	switch run.Status {
	case domain.RunCompleted:
		return w.fireGates(ctx, run)
	case domain.RunFailed:
		return w.resumeFailed(ctx, run)
	case domain.RunRunning, domain.RunRetrying, domain.RunPending:
		return w.redispatchStalled(ctx, run)
	case domain.RunPaused:
		// Observed, never acted on. Only an operator resume moves it.
		return nil
	}
	return nil
}

// fireGates runs the acceptance battery for a freshly completed run. The
// gates_ran_at stamp is the exactly-once guard: the first watchdog to stamp
// wins, and the report rides into the run's metrics under "gates".
func (w *Watchdog) fireGates(ctx dbctx.Context, run *domain.PipelineRun) error {
	if run.GatesRanAt != nil {
		return nil
	}
	report, err := w.gates.Run(ctx, run.ID)
	if err != nil {
		return err
	}
	won, err := w.runs.MarkGatesRan(ctx, run.ID, report.Passed)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	raw, err := json.Marshal(report)
	if err == nil {
		_ = w.runs.UpdateFields(ctx, run.ID, map[string]any{"metrics": appendGates(run.Metrics, raw)})
	}

	if w.metrics != nil {
		w.metrics.GatesRan()
	}
	w.log.Info("gates fired", "run_id", run.ID, "passed", report.Passed)
	w.notify(ctx.Ctx, run.ID, "gates_finished", map[string]any{"passed": report.Passed})
	return nil
}

func appendGates(existing datatypes.JSON, report []byte) datatypes.JSON {
	doc := map[string]json.RawMessage{}
	if len(existing) > 0 {
		_ = json.Unmarshal(existing, &doc)
	}
	doc["gates"] = report
	out, err := json.Marshal(doc)
	if err != nil {
		return existing
	}
	return datatypes.JSON(out)
}

// resumeFailed puts a failed run back in the queue when it still has retry
// budget. Runs that failed on a non-retryable error stay failed no matter the
// budget; only an operator resume moves them. Out-of-budget runs likewise
// stay failed and are only logged.
func (w *Watchdog) resumeFailed(ctx dbctx.Context, run *domain.PipelineRun) error {
	if run.FailureTerminal {
		w.log.Warn("run failed on a non-retryable error, awaiting operator",
			"run_id", run.ID, "stage", run.Stage, "error", run.Error)
		return nil
	}
	if run.RetryCount >= run.MaxRetries {
		w.log.Warn("run failed terminally", "run_id", run.ID, "stage", run.Stage,
			"retry_count", run.RetryCount, "error", run.Error)
		return nil
	}

	state, err := w.jobs.ClaimStatus(ctx, run.ID, run.Stage)
	if err != nil {
		return err
	}
	if state != repos.ClaimStateNone {
		return nil
	}

	if err := w.runs.TransitionStatus(ctx, run.ID, domain.RunFailed, domain.RunPending, nil); err != nil {
		return err
	}
	if _, err := w.jobs.Enqueue(ctx, run.ID, run.Stage); err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.WatchdogActed()
	}
	w.log.Info("resumed failed run", "run_id", run.ID, "stage", run.Stage, "retry_count", run.RetryCount)
	w.notify(ctx.Ctx, run.ID, "run_resumed", map[string]any{"stage": run.Stage, "by": "watchdog"})
	return nil
}

// redispatchStalled enqueues one job for a run that has been sitting in an
// in-flight status past the stuck threshold with nothing queued or claimed
// for its stage. The ClaimStatus guard is what prevents a duplicate dispatch
// when a slow worker is still going.
func (w *Watchdog) redispatchStalled(ctx dbctx.Context, run *domain.PipelineRun) error {
	ref := run.UpdatedAt
	if run.StageStartedAt != nil && run.StageStartedAt.After(ref) {
		ref = *run.StageStartedAt
	}
	if w.now().Sub(ref) < w.stuckThreshold {
		return nil
	}

	state, err := w.jobs.ClaimStatus(ctx, run.ID, run.Stage)
	if err != nil {
		return err
	}
	if state != repos.ClaimStateNone {
		return nil
	}

	// A stuck running run lost its worker; move it back so the next claim
	// can win the CAS.
	if run.Status == domain.RunRunning {
		if err := w.runs.TransitionStatus(ctx, run.ID, domain.RunRunning, domain.RunPending, nil); err != nil {
			return err
		}
	}
	if _, err := w.jobs.Enqueue(ctx, run.ID, run.Stage); err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.WatchdogActed()
	}
	w.log.Warn("re-dispatched stalled run", "run_id", run.ID, "stage", run.Stage, "was_status", run.Status)
	w.notify(ctx.Ctx, run.ID, "run_redispatched", map[string]any{"stage": run.Stage})
	return nil
}

func (w *Watchdog) notify(ctx context.Context, runID uuid.UUID, event string, fields map[string]any) {
	if w.notifier == nil {
		return
	}
	w.notifier.RunEvent(ctx, runID, event, fields)
}
