package rights

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/archivolt/mnemos/internal/data/repos"
	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/platform/dbctx"
	"github.com/archivolt/mnemos/internal/platform/logger"
)

// Attributes are the inferred usage terms for an ingestion context.
type Attributes struct {
	ConsentStatus string
	LicenseType   string
	Trainable     bool
	Publishable   bool
	EmbargoDate   *time.Time
	Confidence    float64
}

// Registry owns rights records. Establish runs before any extraction for the
// run; everything created afterwards references the returned record by id.
// Records are immutable once written.
type Registry struct {
	records repos.RightsRecordRepo
	log     *logger.Logger
}

func NewRegistry(records repos.RightsRecordRepo, baseLog *logger.Logger) *Registry {
	return &Registry{records: records, log: baseLog.With("component", "RightsRegistry")}
}

// Establish creates the rights record for a run's ingestion context. Calling
// it again for the same run returns the existing record unchanged, so a
// retried rights stage does not mint a second one.
func (r *Registry) Establish(ctx dbctx.Context, runID, kbID uuid.UUID, attrs Attributes) (*domain.RightsRecord, error) {
	existing, err := r.records.GetByRun(ctx, runID)
	if err == nil {
		return existing, nil
	}
	// Only a genuine miss may fall through to Create; a transient lookup
	// failure must not mint a duplicate record.
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if attrs.ConsentStatus == "" {
		attrs.ConsentStatus = domain.ConsentUnknown
	}
	switch attrs.ConsentStatus {
	case domain.ConsentGranted, domain.ConsentDeclined, domain.ConsentUnknown:
	default:
		return nil, fmt.Errorf("rights: unknown consent status %q", attrs.ConsentStatus)
	}
	if attrs.LicenseType == "" {
		return nil, fmt.Errorf("rights: license type required")
	}

	rec := &domain.RightsRecord{
		ID:              uuid.New(),
		RunID:           runID,
		KnowledgeBaseID: kbID,
		ConsentStatus:   attrs.ConsentStatus,
		LicenseType:     attrs.LicenseType,
		Trainable:       attrs.Trainable,
		Publishable:     attrs.Publishable,
		EmbargoDate:     attrs.EmbargoDate,
		Confidence:      attrs.Confidence,
	}
	if err := r.records.Create(ctx, rec); err != nil {
		return nil, err
	}
	r.log.Info("rights record established",
		"run_id", runID, "rights_record_id", rec.ID,
		"consent", rec.ConsentStatus, "license", rec.LicenseType)
	return rec, nil
}

// ForRun returns the run's rights record.
func (r *Registry) ForRun(ctx dbctx.Context, runID uuid.UUID) (*domain.RightsRecord, error) {
	return r.records.GetByRun(ctx, runID)
}

// Embargoed reports whether the record's embargo is still in force.
func Embargoed(rec *domain.RightsRecord, now time.Time) bool {
	return rec != nil && rec.EmbargoDate != nil && now.Before(*rec.EmbargoDate)
}
