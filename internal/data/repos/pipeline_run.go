package repos

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/platform/dbctx"
	"github.com/archivolt/mnemos/internal/platform/logger"
)

var ErrStaleTransition = errors.New("run status changed concurrently")

// PipelineRunRepo persists runs. Status moves go through TransitionStatus,
// a compare-and-swap on the current status, so two workers racing on the same
// run cannot both win.
type PipelineRunRepo interface {
	Create(ctx dbctx.Context, run *domain.PipelineRun) error
	GetByID(ctx dbctx.Context, id uuid.UUID) (*domain.PipelineRun, error)
	ListActive(ctx dbctx.Context) ([]domain.PipelineRun, error)
	ListByKnowledgeBase(ctx dbctx.Context, kbID uuid.UUID) ([]domain.PipelineRun, error)
	TransitionStatus(ctx dbctx.Context, id uuid.UUID, from, to string, updates map[string]any) error
	UpdateFields(ctx dbctx.Context, id uuid.UUID, updates map[string]any) error
	AppendStageMetrics(ctx dbctx.Context, id uuid.UUID, stage string, metrics map[string]any) error
	MarkGatesRan(ctx dbctx.Context, id uuid.UUID, passed bool) (bool, error)
	Archive(ctx dbctx.Context, id uuid.UUID) error
}

type pipelineRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPipelineRunRepo(db *gorm.DB, baseLog *logger.Logger) PipelineRunRepo {
	return &pipelineRunRepo{db: db, log: baseLog.With("repo", "PipelineRun")}
}

func (r *pipelineRunRepo) conn(ctx dbctx.Context) *gorm.DB {
	if ctx.Tx != nil {
		return ctx.Tx.WithContext(ctx.Ctx)
	}
	return r.db.WithContext(ctx.Ctx)
}

func (r *pipelineRunRepo) Create(ctx dbctx.Context, run *domain.PipelineRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Stage == "" {
		run.Stage = domain.FirstStage()
	}
	if run.Status == "" {
		run.Status = domain.RunPending
	}
	if err := r.conn(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("create pipeline run: %w", err)
	}
	return nil
}

func (r *pipelineRunRepo) GetByID(ctx dbctx.Context, id uuid.UUID) (*domain.PipelineRun, error) {
	var run domain.PipelineRun
	if err := r.conn(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("get pipeline run %s: %w", id, err)
	}
	return &run, nil
}

// ListActive returns runs the watchdog should inspect: everything except
// completed runs whose gates already ran.
func (r *pipelineRunRepo) ListActive(ctx dbctx.Context) ([]domain.PipelineRun, error) {
	var runs []domain.PipelineRun
	err := r.conn(ctx).
		Where("status <> ? OR gates_ran_at IS NULL", domain.RunCompleted).
		Order("created_at ASC").
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("list active runs: %w", err)
	}
	return runs, nil
}

func (r *pipelineRunRepo) ListByKnowledgeBase(ctx dbctx.Context, kbID uuid.UUID) ([]domain.PipelineRun, error) {
	var runs []domain.PipelineRun
	err := r.conn(ctx).
		Where("knowledge_base_id = ?", kbID).
		Order("created_at DESC").
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("list runs for kb %s: %w", kbID, err)
	}
	return runs, nil
}

// TransitionStatus moves a run from one status to another only if it is still
// in the expected status. Returns ErrStaleTransition when another actor got
// there first.
func (r *pipelineRunRepo) TransitionStatus(ctx dbctx.Context, id uuid.UUID, from, to string, updates map[string]any) error {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = to
	updates["updated_at"] = time.Now().UTC()
	res := r.conn(ctx).
		Model(&domain.PipelineRun{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("transition run %s %s->%s: %w", id, from, to, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("transition run %s %s->%s: %w", id, from, to, ErrStaleTransition)
	}
	return nil
}

func (r *pipelineRunRepo) UpdateFields(ctx dbctx.Context, id uuid.UUID, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	res := r.conn(ctx).
		Model(&domain.PipelineRun{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update run %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update run %s: %w", id, gorm.ErrRecordNotFound)
	}
	return nil
}

// AppendStageMetrics merges a stage's metrics map under its stage key in the
// run's metrics document. Read-modify-write is safe here: only the worker that
// holds the claimed stage job writes metrics for a run.
func (r *pipelineRunRepo) AppendStageMetrics(ctx dbctx.Context, id uuid.UUID, stage string, metrics map[string]any) error {
	run, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	doc := map[string]map[string]any{}
	if len(run.Metrics) > 0 {
		if err := json.Unmarshal(run.Metrics, &doc); err != nil {
			return fmt.Errorf("decode metrics for run %s: %w", id, err)
		}
	}
	doc[stage] = metrics
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode metrics for run %s: %w", id, err)
	}
	return r.UpdateFields(ctx, id, map[string]any{"metrics": datatypes.JSON(raw)})
}

// MarkGatesRan stamps gates_ran_at exactly once. The false return means some
// other watchdog tick already ran the gates for this run.
func (r *pipelineRunRepo) MarkGatesRan(ctx dbctx.Context, id uuid.UUID, passed bool) (bool, error) {
	now := time.Now().UTC()
	res := r.conn(ctx).
		Model(&domain.PipelineRun{}).
		Where("id = ? AND gates_ran_at IS NULL", id).
		Updates(map[string]any{
			"gates_ran_at": now,
			"gates_passed": passed,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark gates ran for run %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *pipelineRunRepo) Archive(ctx dbctx.Context, id uuid.UUID) error {
	res := r.conn(ctx).Delete(&domain.PipelineRun{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("archive run %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("archive run %s: %w", id, gorm.ErrRecordNotFound)
	}
	return nil
}
