package rights_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/archivolt/mnemos/internal/data/repos"
	"github.com/archivolt/mnemos/internal/data/repos/testutil"
	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/platform/dbctx"
	"github.com/archivolt/mnemos/internal/rights"
)

func newRegistry(t *testing.T) (*rights.Registry, repos.RightsRecordRepo) {
	t.Helper()
	db := testutil.OpenDB(t)
	log := testutil.Logger(t)
	records := repos.NewRightsRecordRepo(db, log)
	return rights.NewRegistry(records, log), records
}

func TestEstablishIdempotent(t *testing.T) {
	reg, records := newRegistry(t)
	runID, kbID := uuid.New(), uuid.New()
	attrs := rights.Attributes{
		ConsentStatus: domain.ConsentGranted,
		LicenseType:   "cc-by",
		Trainable:     true,
		Confidence:    0.9,
	}

	first, err := reg.Establish(testutil.Ctx(), runID, kbID, attrs)
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	second, err := reg.Establish(testutil.Ctx(), runID, kbID, attrs)
	if err != nil {
		t.Fatalf("re-establish: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("retried establish minted a new record: %s vs %s", first.ID, second.ID)
	}

	recs, err := records.ListByRun(testutil.Ctx(), runID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected one record, got %d", len(recs))
	}
}

func TestEstablishRequiresLicense(t *testing.T) {
	reg, _ := newRegistry(t)
	_, err := reg.Establish(testutil.Ctx(), uuid.New(), uuid.New(), rights.Attributes{
		ConsentStatus: domain.ConsentGranted,
	})
	if err == nil {
		t.Fatalf("establish without a license must fail")
	}
}

// flakyRecords fails every lookup with a non-notfound error and counts
// creates.
type flakyRecords struct {
	lookupErr error
	creates   int
}

func (f *flakyRecords) Create(ctx dbctx.Context, rec *domain.RightsRecord) error {
	f.creates++
	return nil
}

func (f *flakyRecords) GetByID(ctx dbctx.Context, id uuid.UUID) (*domain.RightsRecord, error) {
	return nil, f.lookupErr
}

func (f *flakyRecords) GetByRun(ctx dbctx.Context, runID uuid.UUID) (*domain.RightsRecord, error) {
	return nil, f.lookupErr
}

func (f *flakyRecords) ListByRun(ctx dbctx.Context, runID uuid.UUID) ([]domain.RightsRecord, error) {
	return nil, f.lookupErr
}

func TestEstablishPropagatesLookupError(t *testing.T) {
	records := &flakyRecords{lookupErr: errors.New("connection reset")}
	reg := rights.NewRegistry(records, testutil.Logger(t))

	_, err := reg.Establish(testutil.Ctx(), uuid.New(), uuid.New(), rights.Attributes{
		ConsentStatus: domain.ConsentGranted,
		LicenseType:   "cc-by",
	})
	if err == nil {
		t.Fatalf("lookup failure must surface, not fall through")
	}
	if records.creates != 0 {
		t.Fatalf("lookup failure must not create a record, creates = %d", records.creates)
	}
}
