package repos_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/archivolt/mnemos/internal/data/repos"
	"github.com/archivolt/mnemos/internal/data/repos/testutil"
	"github.com/archivolt/mnemos/internal/domain"
)

func newRun() *domain.PipelineRun {
	return &domain.PipelineRun{
		OwnerID:         uuid.New(),
		KnowledgeBaseID: uuid.New(),
		MaxRetries:      3,
	}
}

func TestPipelineRunCreateDefaults(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := repos.NewPipelineRunRepo(db, testutil.Logger(t))
	ctx := testutil.Ctx()

	run := newRun()
	if err := repo.Create(ctx, run); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := repo.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Stage != domain.StageIntake || got.Status != domain.RunPending {
		t.Fatalf("defaults: stage=%q status=%q", got.Stage, got.Status)
	}
}

func TestTransitionStatusCAS(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := repos.NewPipelineRunRepo(db, testutil.Logger(t))
	ctx := testutil.Ctx()

	run := newRun()
	if err := repo.Create(ctx, run); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.TransitionStatus(ctx, run.ID, domain.RunPending, domain.RunRunning, nil); err != nil {
		t.Fatalf("pending->running: %v", err)
	}

	// Second actor still expecting pending must lose.
	err := repo.TransitionStatus(ctx, run.ID, domain.RunPending, domain.RunRunning, nil)
	if !errors.Is(err, repos.ErrStaleTransition) {
		t.Fatalf("expected ErrStaleTransition, got %v", err)
	}

	got, err := repo.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.RunRunning {
		t.Fatalf("status = %q", got.Status)
	}
}

func TestAppendStageMetrics(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := repos.NewPipelineRunRepo(db, testutil.Logger(t))
	ctx := testutil.Ctx()

	run := newRun()
	if err := repo.Create(ctx, run); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.AppendStageMetrics(ctx, run.ID, domain.StageIntake, map[string]any{"units_created": 12}); err != nil {
		t.Fatalf("append intake: %v", err)
	}
	if err := repo.AppendStageMetrics(ctx, run.ID, domain.StageRights, map[string]any{"units_stamped": 12}); err != nil {
		t.Fatalf("append rights: %v", err)
	}

	got, err := repo.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	doc := string(got.Metrics)
	for _, want := range []string{"intake", "units_created", "rights", "units_stamped"} {
		if !strings.Contains(doc, want) {
			t.Fatalf("metrics doc missing %q: %s", want, doc)
		}
	}
}

func TestMarkGatesRanOnce(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := repos.NewPipelineRunRepo(db, testutil.Logger(t))
	ctx := testutil.Ctx()

	run := newRun()
	if err := repo.Create(ctx, run); err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := repo.MarkGatesRan(ctx, run.ID, true)
	if err != nil {
		t.Fatalf("mark gates: %v", err)
	}
	if !first {
		t.Fatalf("first stamp must win")
	}
	second, err := repo.MarkGatesRan(ctx, run.ID, false)
	if err != nil {
		t.Fatalf("mark gates again: %v", err)
	}
	if second {
		t.Fatalf("second stamp must be a no-op")
	}

	got, err := repo.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.GatesRanAt == nil || got.GatesPassed == nil || !*got.GatesPassed {
		t.Fatalf("first result must survive: %+v", got)
	}
}

func TestListActiveExcludesGatedCompleted(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := repos.NewPipelineRunRepo(db, testutil.Logger(t))
	ctx := testutil.Ctx()

	done := newRun()
	if err := repo.Create(ctx, done); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.TransitionStatus(ctx, done.ID, domain.RunPending, domain.RunCompleted, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := repo.MarkGatesRan(ctx, done.ID, true); err != nil {
		t.Fatalf("gates: %v", err)
	}

	pending := newRun()
	if err := repo.Create(ctx, pending); err != nil {
		t.Fatalf("create: %v", err)
	}

	active, err := repo.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != pending.ID {
		t.Fatalf("expected only the pending run, got %d", len(active))
	}
}
