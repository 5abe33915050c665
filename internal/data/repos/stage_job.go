package repos

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/platform/dbctx"
	"github.com/archivolt/mnemos/internal/platform/logger"
)

// ClaimState summarizes the in-flight queue state for a (run, stage) pair.
// The watchdog consults it before re-dispatching a stuck run.
type ClaimState string

const (
	ClaimStateQueued  ClaimState = "queued"
	ClaimStateClaimed ClaimState = "claimed"
	ClaimStateNone    ClaimState = "none"
)

// StageJobRepo is the durable work queue. Claim is a CAS update on status so
// at most one worker wins each job; execution stays at-least-once because a
// worker can die after claiming, which stale recovery handles.
type StageJobRepo interface {
	Enqueue(ctx dbctx.Context, runID uuid.UUID, stage string) (*domain.StageJob, error)
	EnqueueAfter(ctx dbctx.Context, runID uuid.UUID, stage string, delay time.Duration) (*domain.StageJob, error)
	Claim(ctx dbctx.Context) (*domain.StageJob, error)
	ClaimStatus(ctx dbctx.Context, runID uuid.UUID, stage string) (ClaimState, error)
	Heartbeat(ctx dbctx.Context, jobID uuid.UUID) error
	MarkDone(ctx dbctx.Context, jobID uuid.UUID) error
	MarkFailed(ctx dbctx.Context, jobID uuid.UUID, errMsg string) error
	RequeueStale(ctx dbctx.Context, olderThan time.Duration) (int, error)
	GetByID(ctx dbctx.Context, jobID uuid.UUID) (*domain.StageJob, error)
	CountByStatus(ctx dbctx.Context, status string) (int64, error)
}

type stageJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStageJobRepo(db *gorm.DB, baseLog *logger.Logger) StageJobRepo {
	return &stageJobRepo{db: db, log: baseLog.With("repo", "StageJob")}
}

func (r *stageJobRepo) conn(ctx dbctx.Context) *gorm.DB {
	if ctx.Tx != nil {
		return ctx.Tx.WithContext(ctx.Ctx)
	}
	return r.db.WithContext(ctx.Ctx)
}

func (r *stageJobRepo) Enqueue(ctx dbctx.Context, runID uuid.UUID, stage string) (*domain.StageJob, error) {
	return r.EnqueueAfter(ctx, runID, stage, 0)
}

// EnqueueAfter schedules a job that becomes claimable once the delay elapses.
// Retry backoff rides on this instead of an in-process timer, so a restarted
// worker fleet still honors it.
func (r *stageJobRepo) EnqueueAfter(ctx dbctx.Context, runID uuid.UUID, stage string, delay time.Duration) (*domain.StageJob, error) {
	if !domain.ValidStage(stage) {
		return nil, fmt.Errorf("enqueue: unknown stage %q", stage)
	}
	job := &domain.StageJob{
		ID:     uuid.New(),
		RunID:  runID,
		Stage:  stage,
		Status: domain.JobQueued,
	}
	if delay > 0 {
		at := time.Now().UTC().Add(delay)
		job.NotBefore = &at
	}
	if err := r.conn(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("enqueue %s for run %s: %w", stage, runID, err)
	}
	return job, nil
}

// Claim picks the oldest queued job and flips it to claimed with a CAS. A
// lost race simply moves on to the next candidate.
func (r *stageJobRepo) Claim(ctx dbctx.Context) (*domain.StageJob, error) {
	conn := r.conn(ctx)
	for range 5 {
		var job domain.StageJob
		err := conn.
			Where("status = ? AND (not_before IS NULL OR not_before <= ?)",
				domain.JobQueued, time.Now().UTC()).
			Order("created_at ASC").
			First(&job).Error
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("find queued job: %w", err)
		}

		now := time.Now().UTC()
		res := conn.
			Model(&domain.StageJob{}).
			Where("id = ? AND status = ?", job.ID, domain.JobQueued).
			Updates(map[string]any{
				"status":       domain.JobClaimed,
				"attempts":     gorm.Expr("attempts + 1"),
				"claimed_at":   now,
				"heartbeat_at": now,
				"updated_at":   now,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("claim job %s: %w", job.ID, res.Error)
		}
		if res.RowsAffected == 1 {
			return r.GetByID(ctx, job.ID)
		}
		// Another worker won this row; try the next one.
	}
	return nil, nil
}

// ClaimStatus reports whether a (run, stage) pair already has work in flight.
func (r *stageJobRepo) ClaimStatus(ctx dbctx.Context, runID uuid.UUID, stage string) (ClaimState, error) {
	var job domain.StageJob
	err := r.conn(ctx).
		Where("run_id = ? AND stage = ? AND status IN ?", runID, stage,
			[]string{domain.JobQueued, domain.JobClaimed}).
		Order("created_at DESC").
		First(&job).Error
	if err == gorm.ErrRecordNotFound {
		return ClaimStateNone, nil
	}
	if err != nil {
		return ClaimStateNone, fmt.Errorf("claim status for run %s stage %s: %w", runID, stage, err)
	}
	if job.Status == domain.JobQueued {
		return ClaimStateQueued, nil
	}
	return ClaimStateClaimed, nil
}

func (r *stageJobRepo) Heartbeat(ctx dbctx.Context, jobID uuid.UUID) error {
	now := time.Now().UTC()
	res := r.conn(ctx).
		Model(&domain.StageJob{}).
		Where("id = ? AND status = ?", jobID, domain.JobClaimed).
		Updates(map[string]any{"heartbeat_at": now, "updated_at": now})
	if res.Error != nil {
		return fmt.Errorf("heartbeat job %s: %w", jobID, res.Error)
	}
	return nil
}

func (r *stageJobRepo) MarkDone(ctx dbctx.Context, jobID uuid.UUID) error {
	return r.finish(ctx, jobID, domain.JobDone, "")
}

func (r *stageJobRepo) MarkFailed(ctx dbctx.Context, jobID uuid.UUID, errMsg string) error {
	return r.finish(ctx, jobID, domain.JobFailed, errMsg)
}

func (r *stageJobRepo) finish(ctx dbctx.Context, jobID uuid.UUID, status, errMsg string) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if errMsg != "" {
		updates["error"] = errMsg
	}
	res := r.conn(ctx).
		Model(&domain.StageJob{}).
		Where("id = ? AND status = ?", jobID, domain.JobClaimed).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("finish job %s as %s: %w", jobID, status, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("finish job %s as %s: job not claimed", jobID, status)
	}
	return nil
}

// RequeueStale returns claimed jobs whose heartbeat went silent back to the
// queue. Covers workers that died mid-execution.
func (r *stageJobRepo) RequeueStale(ctx dbctx.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res := r.conn(ctx).
		Model(&domain.StageJob{}).
		Where("status = ? AND heartbeat_at < ?", domain.JobClaimed, cutoff).
		Updates(map[string]any{
			"status":     domain.JobQueued,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		r.log.Warn("requeued stale stage jobs", "count", res.RowsAffected)
	}
	return int(res.RowsAffected), nil
}

func (r *stageJobRepo) GetByID(ctx dbctx.Context, jobID uuid.UUID) (*domain.StageJob, error) {
	var job domain.StageJob
	if err := r.conn(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return &job, nil
}

func (r *stageJobRepo) CountByStatus(ctx dbctx.Context, status string) (int64, error) {
	var n int64
	err := r.conn(ctx).
		Model(&domain.StageJob{}).
		Where("status = ?", status).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count jobs by status %q: %w", status, err)
	}
	return n, nil
}
