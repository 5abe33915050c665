package gates

import (
	"testing"

	"github.com/google/uuid"

	"github.com/archivolt/mnemos/internal/data/graph"
	"github.com/archivolt/mnemos/internal/data/repos"
	"github.com/archivolt/mnemos/internal/data/repos/testutil"
	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/glossary"
	"github.com/archivolt/mnemos/internal/platform/dbctx"
)

type fixture struct {
	runner *Runner
	units  repos.ContentUnitRepo
	staged repos.StagedRepo
	arts   repos.DeliverableRepo
	store  *graph.MemoryStore
	runID  uuid.UUID
	ctx    dbctx.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	log := testutil.Logger(t)

	gloss, err := glossary.Load()
	if err != nil {
		t.Fatalf("load glossary: %v", err)
	}

	units := repos.NewContentUnitRepo(db, log)
	staged := repos.NewStagedRepo(db, log)
	arts := repos.NewDeliverableRepo(db, log)
	store := graph.NewMemoryStore()
	if err := store.EnsureSchema(testutil.Ctx().Ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	return &fixture{
		runner: NewRunner(units, staged, arts, store, gloss, log),
		units:  units,
		staged: staged,
		arts:   arts,
		store:  store,
		runID:  uuid.New(),
		ctx:    testutil.Ctx(),
	}
}

func (f *fixture) seedUnit(t *testing.T, withRights bool) {
	t.Helper()
	u := domain.ContentUnit{
		RunID:        f.runID,
		SourceItemID: uuid.New(),
		Seq:          0,
		Text:         "a unit of content",
	}
	if withRights {
		rid := uuid.New()
		u.RightsRecordID = &rid
	}
	if err := f.units.CreateBatch(f.ctx, []domain.ContentUnit{u}); err != nil {
		t.Fatalf("seed unit: %v", err)
	}
}

func (f *fixture) seedEntity(t *testing.T, key string) {
	t.Helper()
	rid := uuid.New()
	err := f.staged.UpsertEntities(f.ctx, []domain.StagedEntity{{
		RunID:          f.runID,
		Pool:           domain.PoolIdea,
		CanonicalKey:   key,
		Label:          key,
		Confidence:     1,
		RightsRecordID: &rid,
	}})
	if err != nil {
		t.Fatalf("seed entity: %v", err)
	}
}

func (f *fixture) seedNode(t *testing.T, pool domain.Pool, key string) {
	t.Helper()
	err := f.store.UpsertNodes(f.ctx.Ctx, f.runID.String(), []graph.Node{{
		Pool:           pool,
		Key:            key,
		Label:          key,
		RightsRecordID: uuid.NewString(),
	}})
	if err != nil {
		t.Fatalf("seed node: %v", err)
	}
}

func (f *fixture) seedDeliverables(t *testing.T, kinds ...string) {
	t.Helper()
	for _, kind := range kinds {
		err := f.arts.Upsert(f.ctx, &domain.Deliverable{
			RunID:   f.runID,
			Kind:    kind,
			Payload: []byte(`{}`),
		})
		if err != nil {
			t.Fatalf("seed deliverable %s: %v", kind, err)
		}
	}
}

func allKinds() []string {
	return []string{
		domain.DeliverableRunSummary,
		domain.DeliverableLiteracyReport,
		domain.DeliverableGraphManifest,
	}
}

func check(t *testing.T, report *Report, id string) Check {
	t.Helper()
	for _, c := range report.Checks {
		if c.ID == id {
			return c
		}
	}
	t.Fatalf("check %s missing from report", id)
	return Check{}
}

func TestGatesAllPass(t *testing.T) {
	f := newFixture(t)
	f.seedUnit(t, true)
	f.seedEntity(t, "meditation")
	f.seedNode(t, domain.PoolIdea, "meditation")
	f.seedNode(t, domain.PoolManifest, "temple")
	if err := f.store.UpsertEdges(f.ctx.Ctx, f.runID.String(), []graph.Edge{
		{
			Source: graph.NodeKey{Pool: domain.PoolIdea, Key: "meditation"},
			Target: graph.NodeKey{Pool: domain.PoolManifest, Key: "temple"},
			Verb:   "embodies",
		},
		{
			Source: graph.NodeKey{Pool: domain.PoolManifest, Key: "temple"},
			Target: graph.NodeKey{Pool: domain.PoolIdea, Key: "meditation"},
			Verb:   "is_embodiment_of",
		},
	}); err != nil {
		t.Fatalf("seed edges: %v", err)
	}
	f.seedDeliverables(t, allKinds()...)

	report, err := f.runner.Run(f.ctx, f.runID)
	if err != nil {
		t.Fatalf("run gates: %v", err)
	}
	if !report.Passed {
		t.Fatalf("report failed: %+v", report.Checks)
	}
	if len(report.Checks) != 5 {
		t.Fatalf("expected 5 checks, got %d", len(report.Checks))
	}
}

func TestGatesRightsCoverageFails(t *testing.T) {
	f := newFixture(t)
	f.seedUnit(t, true)
	f.seedUnit(t, false)
	f.seedDeliverables(t, allKinds()...)

	report, err := f.runner.Run(f.ctx, f.runID)
	if err != nil {
		t.Fatalf("run gates: %v", err)
	}
	if report.Passed {
		t.Fatal("report passed despite uncovered unit")
	}
	if c := check(t, report, "rights_coverage"); c.Passed {
		t.Fatal("rights_coverage passed despite uncovered unit")
	}
}

func TestGatesEmptyGraphWithStagedEntitiesFails(t *testing.T) {
	f := newFixture(t)
	f.seedUnit(t, true)
	f.seedEntity(t, "meditation")
	f.seedDeliverables(t, allKinds()...)

	report, err := f.runner.Run(f.ctx, f.runID)
	if err != nil {
		t.Fatalf("run gates: %v", err)
	}
	if c := check(t, report, "graph_populated"); c.Passed {
		t.Fatal("graph_populated passed on an empty graph with staged entities")
	}
}

func TestGatesMissingReverseFails(t *testing.T) {
	f := newFixture(t)
	f.seedUnit(t, true)
	f.seedNode(t, domain.PoolIdea, "meditation")
	f.seedNode(t, domain.PoolManifest, "temple")
	if err := f.store.UpsertEdges(f.ctx.Ctx, f.runID.String(), []graph.Edge{{
		Source: graph.NodeKey{Pool: domain.PoolIdea, Key: "meditation"},
		Target: graph.NodeKey{Pool: domain.PoolManifest, Key: "temple"},
		Verb:   "embodies",
	}}); err != nil {
		t.Fatalf("seed edge: %v", err)
	}
	f.seedDeliverables(t, allKinds()...)

	report, err := f.runner.Run(f.ctx, f.runID)
	if err != nil {
		t.Fatalf("run gates: %v", err)
	}
	if c := check(t, report, "reverse_presence"); c.Passed {
		t.Fatal("reverse_presence passed with the reverse edge missing")
	}
}

func TestGatesMissingDeliverableFails(t *testing.T) {
	f := newFixture(t)
	f.seedUnit(t, true)
	f.seedDeliverables(t, domain.DeliverableRunSummary)

	report, err := f.runner.Run(f.ctx, f.runID)
	if err != nil {
		t.Fatalf("run gates: %v", err)
	}
	c := check(t, report, "deliverables_present")
	if c.Passed {
		t.Fatal("deliverables_present passed with two kinds missing")
	}
}
