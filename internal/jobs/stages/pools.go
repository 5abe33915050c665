package stages

import (
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/jobs/runtime"
	"github.com/archivolt/mnemos/internal/pipeerr"
)

// pools runs extraction over the content units and parks the results as
// staged entities and relations. Entities land in their extracted pool with
// the run's rights record attached; anything claiming a pool outside the
// closed set is skipped and counted, never invented.
func (s *Stages) pools(rctx *runtime.Context) (map[string]any, error) {
	units, err := s.deps.Units.ListByRun(rctx.DB, rctx.Run.ID)
	if err != nil {
		return nil, pipeerr.Transientf("list units: %v", err)
	}
	rec, err := s.deps.Rights.ForRun(rctx.DB, rctx.Run.ID)
	if err != nil {
		return nil, pipeerr.InvalidDataf("pools before rights: %v", err)
	}

	result, err := s.deps.Extractor.Extract(rctx.DB.Ctx, units)
	if err != nil {
		return nil, err
	}

	var ents []domain.StagedEntity
	skippedEnts := 0
	for _, e := range result.Entities {
		pool, perr := domain.ParsePool(e.Pool)
		if perr != nil {
			skippedEnts++
			rctx.Log.Warn("extracted entity skipped", "pool", e.Pool, "label", e.Label, "error", perr)
			continue
		}
		var attrs datatypes.JSON
		if len(e.Attributes) > 0 {
			raw, merr := json.Marshal(e.Attributes)
			if merr != nil {
				return nil, pipeerr.InvalidDataf("encode attributes for %q: %v", e.Label, merr)
			}
			attrs = datatypes.JSON(raw)
		}
		ents = append(ents, domain.StagedEntity{
			RunID:          rctx.Run.ID,
			Pool:           pool,
			CanonicalKey:   domain.CanonicalKey(e.Label),
			Label:          e.Label,
			ReprText:       e.ReprText,
			ValidFrom:      e.ValidFrom,
			ValidTo:        e.ValidTo,
			Attributes:     attrs,
			Confidence:     e.Confidence,
			RightsRecordID: &rec.ID,
		})
	}
	if err := s.deps.Staged.UpsertEntities(rctx.DB, ents); err != nil {
		return nil, pipeerr.Transientf("persist staged entities: %v", err)
	}

	var rels []domain.StagedRelation
	skippedRels := 0
	for _, r := range result.Relations {
		sp, serr := domain.ParsePool(r.SourcePool)
		tp, terr := domain.ParsePool(r.TargetPool)
		if serr != nil || terr != nil {
			skippedRels++
			continue
		}
		rels = append(rels, domain.StagedRelation{
			RunID:      rctx.Run.ID,
			SourcePool: sp,
			SourceKey:  domain.CanonicalKey(r.SourceLabel),
			TargetPool: tp,
			TargetKey:  domain.CanonicalKey(r.TargetLabel),
			Verb:       r.Verb,
			Evidence:   r.Evidence,
			Confidence: r.Confidence,
		})
	}
	if err := s.deps.Staged.UpsertRelations(rctx.DB, rels); err != nil {
		return nil, pipeerr.Transientf("persist staged relations: %v", err)
	}

	return map[string]any{
		"eligible":          len(units),
		"processed":         len(ents),
		"entities_staged":   len(ents),
		"entities_skipped":  skippedEnts,
		"relations_staged":  len(rels),
		"relations_skipped": skippedRels,
	}, nil
}
