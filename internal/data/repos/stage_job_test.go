package repos_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/archivolt/mnemos/internal/data/repos"
	"github.com/archivolt/mnemos/internal/data/repos/testutil"
	"github.com/archivolt/mnemos/internal/domain"
)

func TestEnqueueClaimFinish(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := repos.NewStageJobRepo(db, testutil.Logger(t))
	ctx := testutil.Ctx()
	runID := uuid.New()

	job, err := repo.Enqueue(ctx, runID, domain.StageIntake)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Status != domain.JobQueued {
		t.Fatalf("status = %q", job.Status)
	}

	claimed, err := repo.Claim(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.ID != job.ID {
		t.Fatalf("expected to claim the enqueued job")
	}
	if claimed.Status != domain.JobClaimed || claimed.Attempts != 1 {
		t.Fatalf("claimed job: status=%q attempts=%d", claimed.Status, claimed.Attempts)
	}

	// Queue is empty now.
	next, err := repo.Claim(ctx)
	if err != nil {
		t.Fatalf("claim empty: %v", err)
	}
	if next != nil {
		t.Fatalf("claimed from empty queue: %+v", next)
	}

	if err := repo.MarkDone(ctx, claimed.ID); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	got, err := repo.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.JobDone {
		t.Fatalf("status = %q", got.Status)
	}
}

func TestEnqueueRejectsUnknownStage(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := repos.NewStageJobRepo(db, testutil.Logger(t))

	if _, err := repo.Enqueue(testutil.Ctx(), uuid.New(), "transmutation"); err == nil {
		t.Fatalf("unknown stage must be rejected")
	}
}

func TestClaimStatus(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := repos.NewStageJobRepo(db, testutil.Logger(t))
	ctx := testutil.Ctx()
	runID := uuid.New()

	state, err := repo.ClaimStatus(ctx, runID, domain.StageGraph)
	if err != nil {
		t.Fatalf("claim status: %v", err)
	}
	if state != repos.ClaimStateNone {
		t.Fatalf("empty queue: state = %q", state)
	}

	job, err := repo.Enqueue(ctx, runID, domain.StageGraph)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	state, err = repo.ClaimStatus(ctx, runID, domain.StageGraph)
	if err != nil {
		t.Fatalf("claim status: %v", err)
	}
	if state != repos.ClaimStateQueued {
		t.Fatalf("queued job: state = %q", state)
	}

	if _, err := repo.Claim(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	state, err = repo.ClaimStatus(ctx, runID, domain.StageGraph)
	if err != nil {
		t.Fatalf("claim status: %v", err)
	}
	if state != repos.ClaimStateClaimed {
		t.Fatalf("claimed job: state = %q", state)
	}

	if err := repo.MarkDone(ctx, job.ID); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	state, err = repo.ClaimStatus(ctx, runID, domain.StageGraph)
	if err != nil {
		t.Fatalf("claim status: %v", err)
	}
	if state != repos.ClaimStateNone {
		t.Fatalf("done job must not count as in flight: state = %q", state)
	}
}

func TestRequeueStale(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := repos.NewStageJobRepo(db, testutil.Logger(t))
	ctx := testutil.Ctx()

	job, err := repo.Enqueue(ctx, uuid.New(), domain.StagePools)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := repo.Claim(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Age the heartbeat past the cutoff.
	old := time.Now().UTC().Add(-time.Hour)
	if err := db.Model(&domain.StageJob{}).
		Where("id = ?", job.ID).
		Update("heartbeat_at", old).Error; err != nil {
		t.Fatalf("age heartbeat: %v", err)
	}

	n, err := repo.RequeueStale(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("requeue stale: %v", err)
	}
	if n != 1 {
		t.Fatalf("requeued %d jobs", n)
	}
	got, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.JobQueued {
		t.Fatalf("status = %q", got.Status)
	}

	// Reclaim counts a second attempt.
	claimed, err := repo.Claim(ctx)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if claimed == nil || claimed.Attempts != 2 {
		t.Fatalf("expected attempts=2, got %+v", claimed)
	}
}

func TestHeartbeatOnlyTouchesClaimed(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := repos.NewStageJobRepo(db, testutil.Logger(t))
	ctx := testutil.Ctx()

	job, err := repo.Enqueue(ctx, uuid.New(), domain.StageLexicon)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := repo.Heartbeat(ctx, job.ID); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	got, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.HeartbeatAt != nil {
		t.Fatalf("queued job must not receive heartbeats")
	}
}
