package stages

import (
	"github.com/archivolt/mnemos/internal/jobs/runtime"
	"github.com/archivolt/mnemos/internal/pipeerr"
)

// rights establishes the run's rights record before any extraction and stamps
// it onto every content unit. Establish is idempotent, so a retry reuses the
// existing record instead of minting a second.
func (s *Stages) rights(rctx *runtime.Context) (map[string]any, error) {
	items, err := s.deps.Sources.ListByRun(rctx.DB, rctx.Run.ID)
	if err != nil {
		return nil, pipeerr.Transientf("list source items: %v", err)
	}

	attrs, err := s.deps.Inferrer.Infer(rctx.DB.Ctx, items)
	if err != nil {
		return nil, err
	}

	rec, err := s.deps.Rights.Establish(rctx.DB, rctx.Run.ID, rctx.Run.KnowledgeBaseID, attrs)
	if err != nil {
		return nil, pipeerr.InvalidDataf("establish rights record: %v", err)
	}

	total, err := s.deps.Units.CountByRun(rctx.DB, rctx.Run.ID)
	if err != nil {
		return nil, pipeerr.Transientf("count units: %v", err)
	}
	stamped, err := s.deps.Units.AttachRights(rctx.DB, rctx.Run.ID, rec.ID)
	if err != nil {
		return nil, pipeerr.Transientf("attach rights: %v", err)
	}
	covered, err := s.deps.Units.CountWithRights(rctx.DB, rctx.Run.ID)
	if err != nil {
		return nil, pipeerr.Transientf("count covered units: %v", err)
	}

	return map[string]any{
		"eligible":         total,
		"processed":        covered,
		"newly_stamped":    stamped,
		"rights_record_id": rec.ID.String(),
		"consent_status":   rec.ConsentStatus,
		"license_type":     rec.LicenseType,
	}, nil
}
