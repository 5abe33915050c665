package stages_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/archivolt/mnemos/internal/assembler"
	"github.com/archivolt/mnemos/internal/data/graph"
	"github.com/archivolt/mnemos/internal/data/repos"
	"github.com/archivolt/mnemos/internal/data/repos/testutil"
	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/gateways"
	"github.com/archivolt/mnemos/internal/glossary"
	"github.com/archivolt/mnemos/internal/jobs/executor"
	"github.com/archivolt/mnemos/internal/jobs/runtime"
	"github.com/archivolt/mnemos/internal/jobs/stages"
	"github.com/archivolt/mnemos/internal/rights"
)

// TestFullPipeline drives one run through all eight stages with the local
// gateway implementations and the in-memory graph store.
func TestFullPipeline(t *testing.T) {
	db := testutil.OpenDB(t)
	log := testutil.Logger(t)
	gloss, err := glossary.Load()
	if err != nil {
		t.Fatalf("load glossary: %v", err)
	}

	runs := repos.NewPipelineRunRepo(db, log)
	jobs := repos.NewStageJobRepo(db, log)
	sources := repos.NewSourceItemRepo(db, log)
	units := repos.NewContentUnitRepo(db, log)
	lexicon := repos.NewLexiconRepo(db, log)
	staged := repos.NewStagedRepo(db, log)
	embeddings := repos.NewEmbeddingRepo(db, log)
	deliverables := repos.NewDeliverableRepo(db, log)
	rightsRepo := repos.NewRightsRecordRepo(db, log)

	store := graph.NewMemoryStore()
	asm := assembler.New(store, staged, gloss, assembler.Config{
		MinEdgeConfidence: 0.4,
		OrphanWindow:      15 * time.Minute,
	}, log)

	deps := stages.Deps{
		Sources:      sources,
		Units:        units,
		Lexicon:      lexicon,
		Staged:       staged,
		Embeddings:   embeddings,
		Deliverables: deliverables,
		Rights:       rights.NewRegistry(rightsRepo, log),
		Inferrer:     gateways.NewStaticRightsInferrer(),
		Extractor:    gateways.NewHeuristicExtractor(log),
		Embedder:     gateways.NewLocalEmbedder(32),
		Assembler:    asm,
		Graph:        store,
		Glossary:     gloss,
		Log:          log,
	}

	registry := runtime.NewRegistry()
	if err := stages.New(deps).Register(registry); err != nil {
		t.Fatalf("register stages: %v", err)
	}
	if err := registry.Complete(); err != nil {
		t.Fatalf("registry incomplete: %v", err)
	}

	exec := executor.New(runs, jobs, registry,
		executor.BackoffPolicy{}, nil, nil, log)

	run := &domain.PipelineRun{
		OwnerID:         uuid.New(),
		KnowledgeBaseID: uuid.New(),
		MaxRetries:      3,
	}
	ctx := testutil.Ctx()
	if err := runs.Create(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	meta, _ := json.Marshal(map[string]any{
		"text": "Radical inclusion welcomes every participant without precondition.\n\n" +
			"Gifting means offering without expectation of return or exchange.\n\n" +
			"Decommodification protects the culture from sponsorship and transaction.",
	})
	err = sources.CreateBatch(ctx, []domain.SourceItem{{
		RunID:    run.ID,
		URI:      "mem://principles.txt",
		Kind:     "text",
		Title:    "Principles",
		Metadata: datatypes.JSON(meta),
	}})
	if err != nil {
		t.Fatalf("create source item: %v", err)
	}

	if _, err := jobs.Enqueue(ctx, run.ID, domain.FirstStage()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	for i := 0; i < 40; i++ {
		did, err := exec.ExecuteNext(ctx)
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		if !did {
			break
		}
	}

	got, err := runs.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != domain.RunCompleted {
		t.Fatalf("run did not complete: status=%q stage=%q error=%q", got.Status, got.Stage, got.Error)
	}

	// Every stage left metrics behind.
	var doc map[string]map[string]any
	if err := json.Unmarshal(got.Metrics, &doc); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	for _, stage := range domain.Stages() {
		if _, ok := doc[stage]; !ok {
			t.Fatalf("no metrics recorded for stage %q", stage)
		}
	}

	// Rights-first: everything in the graph carries the run's rights record.
	rec, err := rightsRepo.GetByRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("rights record: %v", err)
	}
	nodes, err := store.NodesByRun(ctx.Ctx, run.ID.String())
	if err != nil {
		t.Fatalf("nodes by run: %v", err)
	}
	if len(nodes) == 0 {
		t.Fatalf("graph is empty")
	}
	for _, n := range nodes {
		if n.RightsRecordID != rec.ID.String() {
			t.Fatalf("node %s/%s has rights %q, want %q", n.Pool, n.Key, n.RightsRecordID, rec.ID)
		}
	}

	// Vectors for every staged entity.
	stagedCount, err := staged.CountEntitiesByRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("count staged: %v", err)
	}
	vectors, err := embeddings.CountByRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("count embeddings: %v", err)
	}
	if vectors != stagedCount {
		t.Fatalf("embeddings %d != staged entities %d", vectors, stagedCount)
	}

	// All three deliverables present.
	arts, err := deliverables.ListByRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("list deliverables: %v", err)
	}
	kinds := map[string]bool{}
	for _, a := range arts {
		kinds[a.Kind] = true
	}
	for _, want := range []string{
		domain.DeliverableRunSummary,
		domain.DeliverableLiteracyReport,
		domain.DeliverableGraphManifest,
	} {
		if !kinds[want] {
			t.Fatalf("missing deliverable %q, have %v", want, kinds)
		}
	}
}
