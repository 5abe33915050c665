package repos_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/archivolt/mnemos/internal/data/repos"
	"github.com/archivolt/mnemos/internal/data/repos/testutil"
	"github.com/archivolt/mnemos/internal/domain"
)

func TestUpsertEntitiesConverges(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := repos.NewStagedRepo(db, testutil.Logger(t))
	ctx := testutil.Ctx()
	runID := uuid.New()

	ents := []domain.StagedEntity{{
		RunID:        runID,
		Pool:         domain.PoolIdea,
		CanonicalKey: "radical_inclusion",
		Label:        "Radical Inclusion",
		Confidence:   0.8,
	}}
	if err := repo.UpsertEntities(ctx, ents); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Rerun with updated confidence must update, not duplicate.
	ents[0].ID = uuid.Nil
	ents[0].Confidence = 0.95
	if err := repo.UpsertEntities(ctx, ents); err != nil {
		t.Fatalf("upsert again: %v", err)
	}

	got, err := repo.ListEntitiesByRun(ctx, runID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(got))
	}
	if got[0].Confidence != 0.95 {
		t.Fatalf("confidence = %v", got[0].Confidence)
	}
}

func TestUpsertEntitiesRejectsInvalidPool(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := repos.NewStagedRepo(db, testutil.Logger(t))

	err := repo.UpsertEntities(testutil.Ctx(), []domain.StagedEntity{{
		RunID:        uuid.New(),
		Pool:         domain.Pool("mystery"),
		CanonicalKey: "x",
		Label:        "X",
	}})
	if err == nil {
		t.Fatalf("invalid pool must be rejected")
	}
}

func TestUpsertRelationsConverges(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := repos.NewStagedRepo(db, testutil.Logger(t))
	ctx := testutil.Ctx()
	runID := uuid.New()

	rels := []domain.StagedRelation{{
		RunID:      runID,
		SourcePool: domain.PoolIdea,
		SourceKey:  "radical_inclusion",
		TargetPool: domain.PoolManifest,
		TargetKey:  "open_door_policy",
		Verb:       "embodies",
		Confidence: 0.7,
	}}
	if err := repo.UpsertRelations(ctx, rels); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	rels[0].ID = uuid.Nil
	rels[0].Evidence = "stated in charter"
	if err := repo.UpsertRelations(ctx, rels); err != nil {
		t.Fatalf("upsert again: %v", err)
	}

	got, err := repo.ListRelationsByRun(ctx, runID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 relation, got %d", len(got))
	}
	if got[0].Evidence != "stated in charter" {
		t.Fatalf("evidence = %q", got[0].Evidence)
	}
}

func TestLexiconUpsertTerms(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := repos.NewLexiconRepo(db, testutil.Logger(t))
	ctx := testutil.Ctx()
	runID := uuid.New()

	if err := repo.UpsertTerms(ctx, runID, map[string]int{"playa": 3, "burn": 1}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.UpsertTerms(ctx, runID, map[string]int{"playa": 5}); err != nil {
		t.Fatalf("upsert again: %v", err)
	}

	terms, err := repo.ListByRun(ctx, runID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(terms) != 2 {
		t.Fatalf("expected 2 terms, got %d", len(terms))
	}
	if terms[0].Term != "playa" || terms[0].Count != 5 {
		t.Fatalf("top term: %+v", terms[0])
	}
}
