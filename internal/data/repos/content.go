package repos

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/platform/dbctx"
	"github.com/archivolt/mnemos/internal/platform/logger"
)

type SourceItemRepo interface {
	CreateBatch(ctx dbctx.Context, items []domain.SourceItem) error
	ListByRun(ctx dbctx.Context, runID uuid.UUID) ([]domain.SourceItem, error)
	CountByRun(ctx dbctx.Context, runID uuid.UUID) (int64, error)
}

type sourceItemRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSourceItemRepo(db *gorm.DB, baseLog *logger.Logger) SourceItemRepo {
	return &sourceItemRepo{db: db, log: baseLog.With("repo", "SourceItem")}
}

func (r *sourceItemRepo) conn(ctx dbctx.Context) *gorm.DB {
	if ctx.Tx != nil {
		return ctx.Tx.WithContext(ctx.Ctx)
	}
	return r.db.WithContext(ctx.Ctx)
}

func (r *sourceItemRepo) CreateBatch(ctx dbctx.Context, items []domain.SourceItem) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		if items[i].ID == uuid.Nil {
			items[i].ID = uuid.New()
		}
	}
	if err := r.conn(ctx).Create(&items).Error; err != nil {
		return fmt.Errorf("create source items: %w", err)
	}
	return nil
}

func (r *sourceItemRepo) ListByRun(ctx dbctx.Context, runID uuid.UUID) ([]domain.SourceItem, error) {
	var items []domain.SourceItem
	err := r.conn(ctx).
		Where("run_id = ?", runID).
		Order("created_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("list source items for run %s: %w", runID, err)
	}
	return items, nil
}

func (r *sourceItemRepo) CountByRun(ctx dbctx.Context, runID uuid.UUID) (int64, error) {
	var n int64
	err := r.conn(ctx).
		Model(&domain.SourceItem{}).
		Where("run_id = ?", runID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count source items for run %s: %w", runID, err)
	}
	return n, nil
}

type ContentUnitRepo interface {
	CreateBatch(ctx dbctx.Context, units []domain.ContentUnit) error
	ListByRun(ctx dbctx.Context, runID uuid.UUID) ([]domain.ContentUnit, error)
	AttachRights(ctx dbctx.Context, runID, rightsRecordID uuid.UUID) (int, error)
	CountByRun(ctx dbctx.Context, runID uuid.UUID) (int64, error)
	CountWithRights(ctx dbctx.Context, runID uuid.UUID) (int64, error)
	DeleteByRun(ctx dbctx.Context, runID uuid.UUID) error
}

type contentUnitRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewContentUnitRepo(db *gorm.DB, baseLog *logger.Logger) ContentUnitRepo {
	return &contentUnitRepo{db: db, log: baseLog.With("repo", "ContentUnit")}
}

func (r *contentUnitRepo) conn(ctx dbctx.Context) *gorm.DB {
	if ctx.Tx != nil {
		return ctx.Tx.WithContext(ctx.Ctx)
	}
	return r.db.WithContext(ctx.Ctx)
}

func (r *contentUnitRepo) CreateBatch(ctx dbctx.Context, units []domain.ContentUnit) error {
	if len(units) == 0 {
		return nil
	}
	for i := range units {
		if units[i].ID == uuid.Nil {
			units[i].ID = uuid.New()
		}
	}
	if err := r.conn(ctx).Create(&units).Error; err != nil {
		return fmt.Errorf("create content units: %w", err)
	}
	return nil
}

func (r *contentUnitRepo) ListByRun(ctx dbctx.Context, runID uuid.UUID) ([]domain.ContentUnit, error) {
	var units []domain.ContentUnit
	err := r.conn(ctx).
		Where("run_id = ?", runID).
		Order("source_item_id ASC, seq ASC").
		Find(&units).Error
	if err != nil {
		return nil, fmt.Errorf("list content units for run %s: %w", runID, err)
	}
	return units, nil
}

// AttachRights stamps the run's rights record onto every unit that does not
// have one yet. Idempotent; a rerun of the rights stage affects zero rows.
func (r *contentUnitRepo) AttachRights(ctx dbctx.Context, runID, rightsRecordID uuid.UUID) (int, error) {
	res := r.conn(ctx).
		Model(&domain.ContentUnit{}).
		Where("run_id = ? AND rights_record_id IS NULL", runID).
		Update("rights_record_id", rightsRecordID)
	if res.Error != nil {
		return 0, fmt.Errorf("attach rights for run %s: %w", runID, res.Error)
	}
	return int(res.RowsAffected), nil
}

func (r *contentUnitRepo) CountByRun(ctx dbctx.Context, runID uuid.UUID) (int64, error) {
	var n int64
	err := r.conn(ctx).
		Model(&domain.ContentUnit{}).
		Where("run_id = ?", runID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count content units for run %s: %w", runID, err)
	}
	return n, nil
}

func (r *contentUnitRepo) CountWithRights(ctx dbctx.Context, runID uuid.UUID) (int64, error) {
	var n int64
	err := r.conn(ctx).
		Model(&domain.ContentUnit{}).
		Where("run_id = ? AND rights_record_id IS NOT NULL", runID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count rights-bearing units for run %s: %w", runID, err)
	}
	return n, nil
}

// DeleteByRun clears intake output so a retried intake stage starts clean.
func (r *contentUnitRepo) DeleteByRun(ctx dbctx.Context, runID uuid.UUID) error {
	if err := r.conn(ctx).Delete(&domain.ContentUnit{}, "run_id = ?", runID).Error; err != nil {
		return fmt.Errorf("delete content units for run %s: %w", runID, err)
	}
	return nil
}
