package assembler_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/archivolt/mnemos/internal/assembler"
	"github.com/archivolt/mnemos/internal/data/graph"
	"github.com/archivolt/mnemos/internal/data/repos"
	"github.com/archivolt/mnemos/internal/data/repos/testutil"
	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/glossary"
)

type fixture struct {
	store  *graph.MemoryStore
	staged repos.StagedRepo
	asm    *assembler.Assembler
	runID  uuid.UUID
	rights uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	log := testutil.Logger(t)
	gloss, err := glossary.Load()
	if err != nil {
		t.Fatalf("load glossary: %v", err)
	}
	store := graph.NewMemoryStore()
	staged := repos.NewStagedRepo(db, log)
	asm := assembler.New(store, staged, gloss, assembler.Config{
		MinEdgeConfidence: 0.5,
		OrphanWindow:      15 * time.Minute,
	}, log)
	return &fixture{
		store:  store,
		staged: staged,
		asm:    asm,
		runID:  uuid.New(),
		rights: uuid.New(),
	}
}

func (f *fixture) entity(t *testing.T, pool domain.Pool, key, label string) {
	t.Helper()
	f.entityWithRights(t, pool, key, label, &f.rights)
}

func (f *fixture) entityWithRights(t *testing.T, pool domain.Pool, key, label string, rightsID *uuid.UUID) {
	t.Helper()
	err := f.staged.UpsertEntities(testutil.Ctx(), []domain.StagedEntity{{
		RunID:          f.runID,
		Pool:           pool,
		CanonicalKey:   key,
		Label:          label,
		ReprText:       label,
		Confidence:     0.9,
		RightsRecordID: rightsID,
	}})
	if err != nil {
		t.Fatalf("stage entity %s: %v", key, err)
	}
}

func (f *fixture) relation(t *testing.T, sp domain.Pool, sk string, verb string, tp domain.Pool, tk string) {
	t.Helper()
	err := f.staged.UpsertRelations(testutil.Ctx(), []domain.StagedRelation{{
		RunID:      f.runID,
		SourcePool: sp,
		SourceKey:  sk,
		TargetPool: tp,
		TargetKey:  tk,
		Verb:       verb,
		Confidence: 0.8,
	}})
	if err != nil {
		t.Fatalf("stage relation %s: %v", verb, err)
	}
}

func TestAssembleRightsFirst(t *testing.T) {
	f := newFixture(t)
	f.entity(t, domain.PoolIdea, "radical_inclusion", "Radical Inclusion")
	f.entityWithRights(t, domain.PoolManifest, "open_door_policy", "Open Door Policy", nil)

	res, err := f.asm.Assemble(testutil.Ctx(), f.runID)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if res.NodesLoaded != 1 || res.NodesExcluded != 1 {
		t.Fatalf("loaded=%d excluded=%d", res.NodesLoaded, res.NodesExcluded)
	}

	key := graph.NodeKey{Pool: domain.PoolIdea, Key: "radical_inclusion"}
	rid, ok := f.store.RightsLinkFor(key)
	if !ok || rid != f.rights.String() {
		t.Fatalf("rights link missing or wrong: %q ok=%v", rid, ok)
	}
}

func TestAssembleAutoReverse(t *testing.T) {
	f := newFixture(t)
	f.entity(t, domain.PoolIdea, "radical_inclusion", "Radical Inclusion")
	f.entity(t, domain.PoolManifest, "open_door_policy", "Open Door Policy")
	f.relation(t, domain.PoolIdea, "radical_inclusion", "embodies", domain.PoolManifest, "open_door_policy")

	res, err := f.asm.Assemble(testutil.Ctx(), f.runID)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if res.EdgesLoaded != 1 || res.ReverseEdges != 1 {
		t.Fatalf("edges=%d reverse=%d", res.EdgesLoaded, res.ReverseEdges)
	}

	edges, err := f.store.EdgesByRun(testutil.Ctx().Ctx, f.runID.String())
	if err != nil {
		t.Fatalf("edges by run: %v", err)
	}
	verbs := map[string]int{}
	for _, e := range edges {
		verbs[e.Verb]++
	}
	if verbs["embodies"] != 1 || verbs["is_embodiment_of"] != 1 {
		t.Fatalf("verbs: %v", verbs)
	}
}

func TestAssembleSymmetricSingleEdge(t *testing.T) {
	f := newFixture(t)
	f.entity(t, domain.PoolIdea, "gifting", "Gifting")
	f.entity(t, domain.PoolIdea, "decommodification", "Decommodification")
	// Same symmetric relation staged in both directions.
	f.relation(t, domain.PoolIdea, "gifting", "resonates_with", domain.PoolIdea, "decommodification")
	f.relation(t, domain.PoolIdea, "decommodification", "resonates_with", domain.PoolIdea, "gifting")

	_, err := f.asm.Assemble(testutil.Ctx(), f.runID)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	_, edges, err := f.store.Counts(testutil.Ctx().Ctx, f.runID.String())
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if edges != 1 {
		t.Fatalf("symmetric pair must produce one edge, got %d", edges)
	}
}

func TestAssembleConfidenceFloorDropsFallback(t *testing.T) {
	f := newFixture(t)
	f.entity(t, domain.PoolIdea, "a", "A")
	f.entity(t, domain.PoolIdea, "b", "B")
	f.relation(t, domain.PoolIdea, "a", "transmogrifies", domain.PoolIdea, "b")

	res, err := f.asm.Assemble(testutil.Ctx(), f.runID)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if res.EdgesLoaded != 0 || res.EdgesDropped != 1 {
		t.Fatalf("loaded=%d dropped=%d", res.EdgesLoaded, res.EdgesDropped)
	}
	if len(res.Warnings) == 0 {
		t.Fatalf("dropped relation must leave a warning")
	}
}

func TestAssembleIdempotent(t *testing.T) {
	f := newFixture(t)
	f.entity(t, domain.PoolIdea, "radical_inclusion", "Radical Inclusion")
	f.entity(t, domain.PoolManifest, "open_door_policy", "Open Door Policy")
	f.relation(t, domain.PoolIdea, "radical_inclusion", "embodies", domain.PoolManifest, "open_door_policy")

	if _, err := f.asm.Assemble(testutil.Ctx(), f.runID); err != nil {
		t.Fatalf("first assemble: %v", err)
	}
	n1, e1, err := f.store.Counts(testutil.Ctx().Ctx, f.runID.String())
	if err != nil {
		t.Fatalf("counts: %v", err)
	}

	if _, err := f.asm.Assemble(testutil.Ctx(), f.runID); err != nil {
		t.Fatalf("second assemble: %v", err)
	}
	n2, e2, err := f.store.Counts(testutil.Ctx().Ctx, f.runID.String())
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if n1 != n2 || e1 != e2 {
		t.Fatalf("rerun diverged: nodes %d->%d edges %d->%d", n1, n2, e1, e2)
	}
}

func TestAssembleDedupPreservesEdges(t *testing.T) {
	f := newFixture(t)
	// Two staged keys, same normalized label: dedup candidates.
	f.entity(t, domain.PoolIdea, "radical_inclusion", "Radical Inclusion")
	f.entity(t, domain.PoolIdea, "inclusion_radical", "Radical Inclusion")
	f.entity(t, domain.PoolManifest, "open_door_policy", "Open Door Policy")
	// The edge hangs off the node that will be merged away.
	f.relation(t, domain.PoolIdea, "inclusion_radical", "embodies", domain.PoolManifest, "open_door_policy")

	res, err := f.asm.Assemble(testutil.Ctx(), f.runID)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if res.Merges != 1 {
		t.Fatalf("merges = %d", res.Merges)
	}

	edges, err := f.store.EdgesByRun(testutil.Ctx().Ctx, f.runID.String())
	if err != nil {
		t.Fatalf("edges by run: %v", err)
	}
	survivor := graph.NodeKey{Pool: domain.PoolIdea, Key: "radical_inclusion"}
	found := false
	for _, e := range edges {
		if e.Verb == "embodies" && e.Source == survivor {
			found = true
		}
		if e.Source.Key == "inclusion_radical" || e.Target.Key == "inclusion_radical" {
			t.Fatalf("merged-away node still has edges: %+v", e)
		}
	}
	if !found {
		t.Fatalf("repointed edge missing from survivor")
	}

	audits, err := f.staged.ListMergesByRun(testutil.Ctx(), f.runID)
	if err != nil {
		t.Fatalf("list merges: %v", err)
	}
	if len(audits) != 1 || audits[0].SurvivorKey != "radical_inclusion" || audits[0].MergedKey != "inclusion_radical" {
		t.Fatalf("merge audit: %+v", audits)
	}
}

func TestAssembleDedupUnionsArrayProps(t *testing.T) {
	f := newFixture(t)
	stage := func(key, attrs string) {
		err := f.staged.UpsertEntities(testutil.Ctx(), []domain.StagedEntity{{
			RunID:          f.runID,
			Pool:           domain.PoolIdea,
			CanonicalKey:   key,
			Label:          "Radical Inclusion",
			ReprText:       "Radical Inclusion",
			Confidence:     0.9,
			RightsRecordID: &f.rights,
			Attributes:     datatypes.JSON(attrs),
		}})
		if err != nil {
			t.Fatalf("stage entity %s: %v", key, err)
		}
	}
	stage("radical_inclusion", `{"tags":["welcome","shared"],"origin":"essay"}`)
	stage("inclusion_radical", `{"tags":["open","shared"],"origin":"letter"}`)

	res, err := f.asm.Assemble(testutil.Ctx(), f.runID)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if res.Merges != 1 {
		t.Fatalf("merges = %d", res.Merges)
	}

	nodes, err := f.store.NodesByRun(testutil.Ctx().Ctx, f.runID.String())
	if err != nil {
		t.Fatalf("nodes by run: %v", err)
	}
	var survivor *graph.Node
	for i := range nodes {
		if nodes[i].Key == "radical_inclusion" {
			survivor = &nodes[i]
		}
	}
	if survivor == nil {
		t.Fatalf("survivor missing, nodes: %+v", nodes)
	}
	tags, ok := survivor.Props["tags"].([]any)
	if !ok {
		t.Fatalf("tags prop = %T %v", survivor.Props["tags"], survivor.Props["tags"])
	}
	got := make([]string, 0, len(tags))
	for _, v := range tags {
		got = append(got, v.(string))
	}
	want := []string{"welcome", "shared", "open"}
	if len(got) != len(want) {
		t.Fatalf("tags = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tags = %v, want %v", got, want)
		}
	}
	if survivor.Props["origin"] != "essay" {
		t.Fatalf("scalar conflict must keep the survivor's value, got %v", survivor.Props["origin"])
	}
}

func TestAssembleStampsTemporalBound(t *testing.T) {
	f := newFixture(t)
	f.entity(t, domain.PoolIdea, "immediacy", "Immediacy")

	res, err := f.asm.Assemble(testutil.Ctx(), f.runID)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	nodes, err := f.store.NodesByRun(testutil.Ctx().Ctx, f.runID.String())
	if err != nil {
		t.Fatalf("nodes by run: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("nodes = %d", len(nodes))
	}
	if nodes[0].ValidFrom == nil {
		t.Fatalf("node staged without temporal fields must be stamped at load")
	}
	for _, c := range res.Integrity.Checks {
		if c.ID == "temporal_fields" && !c.Passed {
			t.Fatalf("temporal check failed: %s", c.Details)
		}
	}
}

func TestAssembleOrphanSweep(t *testing.T) {
	f := newFixture(t)
	// Nodes created an hour ago are outside the recency window.
	past := time.Now().Add(-time.Hour)
	f.store.SetClock(func() time.Time { return past })

	f.entity(t, domain.PoolIdea, "lonely", "Lonely")
	f.entity(t, domain.PoolLexicon, "playa", "Playa")
	f.entity(t, domain.PoolIdea, "connected_a", "Connected A")
	f.entity(t, domain.PoolIdea, "connected_b", "Connected B")
	f.relation(t, domain.PoolIdea, "connected_a", "resonates_with", domain.PoolIdea, "connected_b")

	res, err := f.asm.Assemble(testutil.Ctx(), f.runID)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if res.OrphansRemoved != 1 {
		t.Fatalf("orphans removed = %d", res.OrphansRemoved)
	}
	if res.OrphansRetained != 1 {
		t.Fatalf("lexicon orphan must be retained, retained = %d", res.OrphansRetained)
	}

	nodes, err := f.store.NodesByRun(testutil.Ctx().Ctx, f.runID.String())
	if err != nil {
		t.Fatalf("nodes by run: %v", err)
	}
	for _, n := range nodes {
		if n.Key == "lonely" {
			t.Fatalf("orphan survived the sweep")
		}
	}
}

func TestIntegrityReportTemporalViolation(t *testing.T) {
	f := newFixture(t)
	f.entity(t, domain.PoolEvolutionary, "era_one", "Era One")
	f.entity(t, domain.PoolEvolutionary, "era_two", "Era Two")
	f.relation(t, domain.PoolEvolutionary, "era_one", "precedes", domain.PoolEvolutionary, "era_two")

	res, err := f.asm.Assemble(testutil.Ctx(), f.runID)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if res.Integrity == nil {
		t.Fatalf("missing integrity report")
	}
	if res.Integrity.Passed {
		t.Fatalf("evolutionary nodes without valid_from must fail integrity")
	}
	failed := map[string]bool{}
	for _, c := range res.Integrity.Checks {
		if !c.Passed {
			failed[c.ID] = true
		}
	}
	if !failed["temporal_fields"] {
		t.Fatalf("expected temporal_fields violation, failed: %v", failed)
	}
}
