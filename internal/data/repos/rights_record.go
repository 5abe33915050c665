package repos

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/platform/dbctx"
	"github.com/archivolt/mnemos/internal/platform/logger"
)

// RightsRecordRepo is append-only. Records are created once and referenced by
// id from then on; there is no update path.
type RightsRecordRepo interface {
	Create(ctx dbctx.Context, rec *domain.RightsRecord) error
	GetByID(ctx dbctx.Context, id uuid.UUID) (*domain.RightsRecord, error)
	GetByRun(ctx dbctx.Context, runID uuid.UUID) (*domain.RightsRecord, error)
	ListByRun(ctx dbctx.Context, runID uuid.UUID) ([]domain.RightsRecord, error)
}

type rightsRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRightsRecordRepo(db *gorm.DB, baseLog *logger.Logger) RightsRecordRepo {
	return &rightsRecordRepo{db: db, log: baseLog.With("repo", "RightsRecord")}
}

func (r *rightsRecordRepo) conn(ctx dbctx.Context) *gorm.DB {
	if ctx.Tx != nil {
		return ctx.Tx.WithContext(ctx.Ctx)
	}
	return r.db.WithContext(ctx.Ctx)
}

func (r *rightsRecordRepo) Create(ctx dbctx.Context, rec *domain.RightsRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.ConsentStatus == "" {
		rec.ConsentStatus = domain.ConsentUnknown
	}
	if err := r.conn(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("create rights record: %w", err)
	}
	return nil
}

func (r *rightsRecordRepo) GetByID(ctx dbctx.Context, id uuid.UUID) (*domain.RightsRecord, error) {
	var rec domain.RightsRecord
	if err := r.conn(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("get rights record %s: %w", id, err)
	}
	return &rec, nil
}

// GetByRun returns the newest rights record for a run, the one the rights
// stage established for this ingestion context.
func (r *rightsRecordRepo) GetByRun(ctx dbctx.Context, runID uuid.UUID) (*domain.RightsRecord, error) {
	var rec domain.RightsRecord
	err := r.conn(ctx).
		Where("run_id = ?", runID).
		Order("created_at DESC").
		First(&rec).Error
	if err != nil {
		return nil, fmt.Errorf("get rights record for run %s: %w", runID, err)
	}
	return &rec, nil
}

func (r *rightsRecordRepo) ListByRun(ctx dbctx.Context, runID uuid.UUID) ([]domain.RightsRecord, error) {
	var recs []domain.RightsRecord
	err := r.conn(ctx).
		Where("run_id = ?", runID).
		Order("created_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list rights records for run %s: %w", runID, err)
	}
	return recs, nil
}
