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

// StagedRepo holds the pools stage's extraction output: entities and
// relations parked in Postgres until the graph stage loads them. Writes are
// upserts keyed on the merge identity so reruns converge.
type StagedRepo interface {
	UpsertEntities(ctx dbctx.Context, ents []domain.StagedEntity) error
	UpsertRelations(ctx dbctx.Context, rels []domain.StagedRelation) error
	ListEntitiesByRun(ctx dbctx.Context, runID uuid.UUID) ([]domain.StagedEntity, error)
	ListRelationsByRun(ctx dbctx.Context, runID uuid.UUID) ([]domain.StagedRelation, error)
	CountEntitiesByRun(ctx dbctx.Context, runID uuid.UUID) (int64, error)
	RecordMerge(ctx dbctx.Context, audit *domain.MergeAudit) error
	ListMergesByRun(ctx dbctx.Context, runID uuid.UUID) ([]domain.MergeAudit, error)
}

type stagedRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStagedRepo(db *gorm.DB, baseLog *logger.Logger) StagedRepo {
	return &stagedRepo{db: db, log: baseLog.With("repo", "Staged")}
}

func (r *stagedRepo) conn(ctx dbctx.Context) *gorm.DB {
	if ctx.Tx != nil {
		return ctx.Tx.WithContext(ctx.Ctx)
	}
	return r.db.WithContext(ctx.Ctx)
}

func (r *stagedRepo) UpsertEntities(ctx dbctx.Context, ents []domain.StagedEntity) error {
	if len(ents) == 0 {
		return nil
	}
	for i := range ents {
		if ents[i].ID == uuid.Nil {
			ents[i].ID = uuid.New()
		}
		if !ents[i].Pool.Valid() {
			return fmt.Errorf("upsert staged entities: invalid pool %q", ents[i].Pool)
		}
	}
	err := r.conn(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "run_id"}, {Name: "pool"}, {Name: "canonical_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"label", "repr_text", "valid_from", "valid_to",
				"attributes", "confidence", "rights_record_id",
			}),
		}).
		Create(&ents).Error
	if err != nil {
		return fmt.Errorf("upsert staged entities: %w", err)
	}
	return nil
}

func (r *stagedRepo) UpsertRelations(ctx dbctx.Context, rels []domain.StagedRelation) error {
	if len(rels) == 0 {
		return nil
	}
	for i := range rels {
		if rels[i].ID == uuid.Nil {
			rels[i].ID = uuid.New()
		}
	}
	err := r.conn(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "run_id"}, {Name: "source_pool"}, {Name: "source_key"},
				{Name: "verb"}, {Name: "target_pool"}, {Name: "target_key"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"evidence", "confidence"}),
		}).
		Create(&rels).Error
	if err != nil {
		return fmt.Errorf("upsert staged relations: %w", err)
	}
	return nil
}

func (r *stagedRepo) ListEntitiesByRun(ctx dbctx.Context, runID uuid.UUID) ([]domain.StagedEntity, error) {
	var ents []domain.StagedEntity
	err := r.conn(ctx).
		Where("run_id = ?", runID).
		Order("pool ASC, canonical_key ASC").
		Find(&ents).Error
	if err != nil {
		return nil, fmt.Errorf("list staged entities for run %s: %w", runID, err)
	}
	return ents, nil
}

func (r *stagedRepo) ListRelationsByRun(ctx dbctx.Context, runID uuid.UUID) ([]domain.StagedRelation, error) {
	var rels []domain.StagedRelation
	err := r.conn(ctx).
		Where("run_id = ?", runID).
		Order("created_at ASC").
		Find(&rels).Error
	if err != nil {
		return nil, fmt.Errorf("list staged relations for run %s: %w", runID, err)
	}
	return rels, nil
}

func (r *stagedRepo) CountEntitiesByRun(ctx dbctx.Context, runID uuid.UUID) (int64, error) {
	var n int64
	err := r.conn(ctx).
		Model(&domain.StagedEntity{}).
		Where("run_id = ?", runID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count staged entities for run %s: %w", runID, err)
	}
	return n, nil
}

func (r *stagedRepo) RecordMerge(ctx dbctx.Context, audit *domain.MergeAudit) error {
	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if err := r.conn(ctx).Create(audit).Error; err != nil {
		return fmt.Errorf("record merge audit: %w", err)
	}
	return nil
}

func (r *stagedRepo) ListMergesByRun(ctx dbctx.Context, runID uuid.UUID) ([]domain.MergeAudit, error) {
	var audits []domain.MergeAudit
	err := r.conn(ctx).
		Where("run_id = ?", runID).
		Order("created_at ASC").
		Find(&audits).Error
	if err != nil {
		return nil, fmt.Errorf("list merge audits for run %s: %w", runID, err)
	}
	return audits, nil
}

// LexiconRepo stores canonical vocabulary terms from the lexicon stage.
type LexiconRepo interface {
	UpsertTerms(ctx dbctx.Context, runID uuid.UUID, counts map[string]int) error
	ListByRun(ctx dbctx.Context, runID uuid.UUID) ([]domain.LexiconTerm, error)
	CountByRun(ctx dbctx.Context, runID uuid.UUID) (int64, error)
}

type lexiconRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLexiconRepo(db *gorm.DB, baseLog *logger.Logger) LexiconRepo {
	return &lexiconRepo{db: db, log: baseLog.With("repo", "Lexicon")}
}

func (r *lexiconRepo) conn(ctx dbctx.Context) *gorm.DB {
	if ctx.Tx != nil {
		return ctx.Tx.WithContext(ctx.Ctx)
	}
	return r.db.WithContext(ctx.Ctx)
}

func (r *lexiconRepo) UpsertTerms(ctx dbctx.Context, runID uuid.UUID, counts map[string]int) error {
	if len(counts) == 0 {
		return nil
	}
	terms := make([]domain.LexiconTerm, 0, len(counts))
	for term, count := range counts {
		terms = append(terms, domain.LexiconTerm{
			ID:    uuid.New(),
			RunID: runID,
			Term:  term,
			Count: count,
		})
	}
	err := r.conn(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}, {Name: "term"}},
			DoUpdates: clause.AssignmentColumns([]string{"count"}),
		}).
		Create(&terms).Error
	if err != nil {
		return fmt.Errorf("upsert lexicon terms for run %s: %w", runID, err)
	}
	return nil
}

func (r *lexiconRepo) ListByRun(ctx dbctx.Context, runID uuid.UUID) ([]domain.LexiconTerm, error) {
	var terms []domain.LexiconTerm
	err := r.conn(ctx).
		Where("run_id = ?", runID).
		Order("count DESC, term ASC").
		Find(&terms).Error
	if err != nil {
		return nil, fmt.Errorf("list lexicon terms for run %s: %w", runID, err)
	}
	return terms, nil
}

func (r *lexiconRepo) CountByRun(ctx dbctx.Context, runID uuid.UUID) (int64, error) {
	var n int64
	err := r.conn(ctx).
		Model(&domain.LexiconTerm{}).
		Where("run_id = ?", runID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count lexicon terms for run %s: %w", runID, err)
	}
	return n, nil
}
