package watchdog_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/archivolt/mnemos/internal/data/graph"
	"github.com/archivolt/mnemos/internal/data/repos"
	"github.com/archivolt/mnemos/internal/data/repos/testutil"
	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/gates"
	"github.com/archivolt/mnemos/internal/glossary"
	"github.com/archivolt/mnemos/internal/jobs/executor"
	"github.com/archivolt/mnemos/internal/jobs/runtime"
	"github.com/archivolt/mnemos/internal/jobs/watchdog"
	"github.com/archivolt/mnemos/internal/pipeerr"
)

type env struct {
	runs repos.PipelineRunRepo
	jobs repos.StageJobRepo
	dog  *watchdog.Watchdog
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.OpenDB(t)
	log := testutil.Logger(t)
	gloss, err := glossary.Load()
	if err != nil {
		t.Fatalf("load glossary: %v", err)
	}

	runs := repos.NewPipelineRunRepo(db, log)
	jobs := repos.NewStageJobRepo(db, log)
	store := graph.NewMemoryStore()
	runner := gates.NewRunner(
		repos.NewContentUnitRepo(db, log),
		repos.NewStagedRepo(db, log),
		repos.NewDeliverableRepo(db, log),
		store, gloss, log,
	)
	dog := watchdog.New(runs, jobs, runner, nil, nil, log)
	return &env{runs: runs, jobs: jobs, dog: dog}
}

func (e *env) createRun(t *testing.T, stage, status string, retryCount int) *domain.PipelineRun {
	t.Helper()
	run := &domain.PipelineRun{
		OwnerID:         uuid.New(),
		KnowledgeBaseID: uuid.New(),
		Stage:           stage,
		MaxRetries:      3,
	}
	if err := e.runs.Create(testutil.Ctx(), run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if status != domain.RunPending {
		err := e.runs.TransitionStatus(testutil.Ctx(), run.ID, domain.RunPending, status,
			map[string]any{"retry_count": retryCount})
		if err != nil {
			t.Fatalf("set status: %v", err)
		}
	}
	return run
}

func (e *env) queuedJobs(t *testing.T, runID uuid.UUID, stage string) repos.ClaimState {
	t.Helper()
	state, err := e.jobs.ClaimStatus(testutil.Ctx(), runID, stage)
	if err != nil {
		t.Fatalf("claim status: %v", err)
	}
	return state
}

func TestGatesFireExactlyOnce(t *testing.T) {
	e := newEnv(t)
	run := e.createRun(t, domain.StageDeliverables, domain.RunCompleted, 0)

	if err := e.dog.Tick(testutil.Ctx()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	got, err := e.runs.GetByID(testutil.Ctx(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.GatesRanAt == nil || got.GatesPassed == nil {
		t.Fatalf("gates did not run: %+v", got)
	}
	firstStamp := *got.GatesRanAt

	// A second tick must not re-run the gates.
	if err := e.dog.Tick(testutil.Ctx()); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	got, err = e.runs.GetByID(testutil.Ctx(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if !got.GatesRanAt.Equal(firstStamp) {
		t.Fatalf("gates stamp changed: %v -> %v", firstStamp, got.GatesRanAt)
	}
}

func TestStalledRunRedispatchedOnce(t *testing.T) {
	e := newEnv(t)
	run := e.createRun(t, domain.StagePools, domain.RunRunning, 0)

	// Everything looks an hour stale to the watchdog.
	e.dog.SetClock(func() time.Time { return time.Now().Add(time.Hour) })

	if err := e.dog.Tick(testutil.Ctx()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	got, err := e.runs.GetByID(testutil.Ctx(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != domain.RunPending {
		t.Fatalf("stalled running run must go back to pending, got %q", got.Status)
	}
	if state := e.queuedJobs(t, run.ID, domain.StagePools); state != repos.ClaimStateQueued {
		t.Fatalf("expected one queued job, state = %q", state)
	}

	// The in-flight job now guards against a duplicate dispatch.
	if err := e.dog.Tick(testutil.Ctx()); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	n, err := e.jobs.CountByStatus(testutil.Ctx(), domain.JobQueued)
	if err != nil {
		t.Fatalf("count queued: %v", err)
	}
	if n != 1 {
		t.Fatalf("duplicate dispatch: %d queued jobs", n)
	}
}

func TestInFlightJobSuppressesRedispatch(t *testing.T) {
	e := newEnv(t)
	run := e.createRun(t, domain.StageGraph, domain.RunRunning, 0)
	if _, err := e.jobs.Enqueue(testutil.Ctx(), run.ID, domain.StageGraph); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	e.dog.SetClock(func() time.Time { return time.Now().Add(time.Hour) })
	if err := e.dog.Tick(testutil.Ctx()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, err := e.runs.GetByID(testutil.Ctx(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != domain.RunRunning {
		t.Fatalf("run with in-flight job must be left alone, got %q", got.Status)
	}
	n, err := e.jobs.CountByStatus(testutil.Ctx(), domain.JobQueued)
	if err != nil {
		t.Fatalf("count queued: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected the original job only, got %d", n)
	}
}

func TestFailedRunResumedWithinBudget(t *testing.T) {
	e := newEnv(t)
	run := e.createRun(t, domain.StageRights, domain.RunFailed, 1)

	if err := e.dog.Tick(testutil.Ctx()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	got, err := e.runs.GetByID(testutil.Ctx(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != domain.RunPending {
		t.Fatalf("failed run with budget must resume, got %q", got.Status)
	}
	if state := e.queuedJobs(t, run.ID, domain.StageRights); state != repos.ClaimStateQueued {
		t.Fatalf("expected queued job, state = %q", state)
	}
}

func TestFailedRunOutOfBudgetStaysFailed(t *testing.T) {
	e := newEnv(t)
	run := e.createRun(t, domain.StageRights, domain.RunFailed, 3)

	if err := e.dog.Tick(testutil.Ctx()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	got, err := e.runs.GetByID(testutil.Ctx(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != domain.RunFailed {
		t.Fatalf("out-of-budget run must stay failed, got %q", got.Status)
	}
	if state := e.queuedJobs(t, run.ID, domain.StageRights); state != repos.ClaimStateNone {
		t.Fatalf("no job expected, state = %q", state)
	}
}

// A run failed on invalid data must stay failed across watchdog cycles; the
// stage handler runs exactly once and only an operator resume revives it.
func TestInvalidDataFailureNotResumed(t *testing.T) {
	db := testutil.OpenDB(t)
	log := testutil.Logger(t)
	gloss, err := glossary.Load()
	if err != nil {
		t.Fatalf("load glossary: %v", err)
	}
	runs := repos.NewPipelineRunRepo(db, log)
	jobs := repos.NewStageJobRepo(db, log)
	runner := gates.NewRunner(
		repos.NewContentUnitRepo(db, log),
		repos.NewStagedRepo(db, log),
		repos.NewDeliverableRepo(db, log),
		graph.NewMemoryStore(), gloss, log,
	)
	dog := watchdog.New(runs, jobs, runner, nil, nil, log)

	calls := 0
	registry := runtime.NewRegistry()
	bad := runtime.HandlerFunc(func(rctx *runtime.Context) (map[string]any, error) {
		calls++
		return nil, pipeerr.InvalidDataf("malformed input")
	})
	if err := registry.Register(domain.StageIntake, bad); err != nil {
		t.Fatalf("register: %v", err)
	}
	exec := executor.New(runs, jobs, registry,
		executor.BackoffPolicy{Base: 0, Max: 0, Jitter: 0}, nil, nil, log)

	run := &domain.PipelineRun{
		OwnerID:         uuid.New(),
		KnowledgeBaseID: uuid.New(),
		Stage:           domain.StageIntake,
		MaxRetries:      3,
	}
	if err := runs.Create(testutil.Ctx(), run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if _, err := jobs.Enqueue(testutil.Ctx(), run.ID, domain.StageIntake); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	for cycle := 0; cycle < 5; cycle++ {
		for {
			did, err := exec.ExecuteNext(testutil.Ctx())
			if err != nil {
				t.Fatalf("cycle %d execute: %v", cycle, err)
			}
			if !did {
				break
			}
		}
		if err := dog.Tick(testutil.Ctx()); err != nil {
			t.Fatalf("cycle %d tick: %v", cycle, err)
		}
	}

	got, err := runs.GetByID(testutil.Ctx(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != domain.RunFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
	state, err := jobs.ClaimStatus(testutil.Ctx(), run.ID, domain.StageIntake)
	if err != nil {
		t.Fatalf("claim status: %v", err)
	}
	if state != repos.ClaimStateNone {
		t.Fatalf("watchdog must not queue work for a terminal failure, state = %q", state)
	}
}

func TestPausedRunUntouched(t *testing.T) {
	e := newEnv(t)
	run := e.createRun(t, domain.StageLexicon, domain.RunPaused, 0)

	e.dog.SetClock(func() time.Time { return time.Now().Add(time.Hour) })
	if err := e.dog.Tick(testutil.Ctx()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	got, err := e.runs.GetByID(testutil.Ctx(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != domain.RunPaused {
		t.Fatalf("paused run must stay paused, got %q", got.Status)
	}
	if state := e.queuedJobs(t, run.ID, domain.StageLexicon); state != repos.ClaimStateNone {
		t.Fatalf("watchdog must not dispatch for paused runs, state = %q", state)
	}
}
