package repos

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/platform/dbctx"
	"github.com/archivolt/mnemos/internal/platform/logger"
)

// EmbeddingRepo stores per-entity vectors, keyed on the entity's merge
// identity so a rerun overwrites instead of duplicating.
type EmbeddingRepo interface {
	Upsert(ctx dbctx.Context, embs []domain.EntityEmbedding) error
	CountByRun(ctx dbctx.Context, runID uuid.UUID) (int64, error)
}

type embeddingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEmbeddingRepo(db *gorm.DB, baseLog *logger.Logger) EmbeddingRepo {
	return &embeddingRepo{db: db, log: baseLog.With("repo", "Embedding")}
}

func (r *embeddingRepo) conn(ctx dbctx.Context) *gorm.DB {
	if ctx.Tx != nil {
		return ctx.Tx.WithContext(ctx.Ctx)
	}
	return r.db.WithContext(ctx.Ctx)
}

func (r *embeddingRepo) Upsert(ctx dbctx.Context, embs []domain.EntityEmbedding) error {
	if len(embs) == 0 {
		return nil
	}
	for i := range embs {
		if embs[i].ID == uuid.Nil {
			embs[i].ID = uuid.New()
		}
	}
	err := r.conn(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}, {Name: "pool"}, {Name: "canonical_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"dims", "vector"}),
		}).
		Create(&embs).Error
	if err != nil {
		return fmt.Errorf("upsert embeddings: %w", err)
	}
	return nil
}

func (r *embeddingRepo) CountByRun(ctx dbctx.Context, runID uuid.UUID) (int64, error) {
	var n int64
	err := r.conn(ctx).
		Model(&domain.EntityEmbedding{}).
		Where("run_id = ?", runID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count embeddings for run %s: %w", runID, err)
	}
	return n, nil
}

// DeliverableRepo stores finished artifacts, one per (run, kind).
type DeliverableRepo interface {
	Upsert(ctx dbctx.Context, d *domain.Deliverable) error
	ListByRun(ctx dbctx.Context, runID uuid.UUID) ([]domain.Deliverable, error)
	GetByRunAndKind(ctx dbctx.Context, runID uuid.UUID, kind string) (*domain.Deliverable, error)
}

type deliverableRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDeliverableRepo(db *gorm.DB, baseLog *logger.Logger) DeliverableRepo {
	return &deliverableRepo{db: db, log: baseLog.With("repo", "Deliverable")}
}

func (r *deliverableRepo) conn(ctx dbctx.Context) *gorm.DB {
	if ctx.Tx != nil {
		return ctx.Tx.WithContext(ctx.Ctx)
	}
	return r.db.WithContext(ctx.Ctx)
}

func (r *deliverableRepo) Upsert(ctx dbctx.Context, d *domain.Deliverable) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	err := r.conn(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}, {Name: "kind"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload"}),
		}).
		Create(d).Error
	if err != nil {
		return fmt.Errorf("upsert deliverable %s: %w", d.Kind, err)
	}
	return nil
}

func (r *deliverableRepo) ListByRun(ctx dbctx.Context, runID uuid.UUID) ([]domain.Deliverable, error) {
	var out []domain.Deliverable
	err := r.conn(ctx).
		Where("run_id = ?", runID).
		Order("kind ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list deliverables for run %s: %w", runID, err)
	}
	return out, nil
}

func (r *deliverableRepo) GetByRunAndKind(ctx dbctx.Context, runID uuid.UUID, kind string) (*domain.Deliverable, error) {
	var d domain.Deliverable
	err := r.conn(ctx).
		Where("run_id = ? AND kind = ?", runID, kind).
		First(&d).Error
	if err != nil {
		return nil, fmt.Errorf("get deliverable %s for run %s: %w", kind, runID, err)
	}
	return &d, nil
}
