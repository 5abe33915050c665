package stages

import (
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/jobs/runtime"
	"github.com/archivolt/mnemos/internal/pipeerr"
)

// deliverables assembles the final artifacts: a run summary with the counts
// an operator would ask for, and a graph manifest describing the run's slice
// of the knowledge graph.
func (s *Stages) deliverables(rctx *runtime.Context) (map[string]any, error) {
	runID := rctx.Run.ID

	units, err := s.deps.Units.CountByRun(rctx.DB, runID)
	if err != nil {
		return nil, pipeerr.Transientf("count units: %v", err)
	}
	stagedEnts, err := s.deps.Staged.CountEntitiesByRun(rctx.DB, runID)
	if err != nil {
		return nil, pipeerr.Transientf("count staged entities: %v", err)
	}
	terms, err := s.deps.Lexicon.CountByRun(rctx.DB, runID)
	if err != nil {
		return nil, pipeerr.Transientf("count lexicon terms: %v", err)
	}
	vectors, err := s.deps.Embeddings.CountByRun(rctx.DB, runID)
	if err != nil {
		return nil, pipeerr.Transientf("count embeddings: %v", err)
	}
	merges, err := s.deps.Staged.ListMergesByRun(rctx.DB, runID)
	if err != nil {
		return nil, pipeerr.Transientf("list merges: %v", err)
	}
	nodes, edges, err := s.deps.Graph.Counts(rctx.DB.Ctx, runID.String())
	if err != nil {
		return nil, pipeerr.Transientf("graph counts: %v", err)
	}

	summary := map[string]any{
		"run_id":          runID.String(),
		"content_units":   units,
		"staged_entities": stagedEnts,
		"lexicon_terms":   terms,
		"embeddings":      vectors,
		"merges":          len(merges),
		"graph_nodes":     nodes,
		"graph_edges":     edges,
	}
	if err := s.upsertDeliverable(rctx, domain.DeliverableRunSummary, summary); err != nil {
		return nil, err
	}

	graphNodes, err := s.deps.Graph.NodesByRun(rctx.DB.Ctx, runID.String())
	if err != nil {
		return nil, pipeerr.Transientf("graph nodes: %v", err)
	}
	byPool := map[string]int{}
	for _, n := range graphNodes {
		byPool[string(n.Pool)]++
	}
	manifest := map[string]any{
		"run_id":        runID.String(),
		"nodes_by_pool": byPool,
		"edge_count":    edges,
		"verbs":         s.deps.Glossary.Verbs(),
	}
	if err := s.upsertDeliverable(rctx, domain.DeliverableGraphManifest, manifest); err != nil {
		return nil, err
	}

	return map[string]any{
		"eligible":  2,
		"processed": 2,
	}, nil
}

func (s *Stages) upsertDeliverable(rctx *runtime.Context, kind string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return pipeerr.InvalidDataf("encode %s: %v", kind, err)
	}
	err = s.deps.Deliverables.Upsert(rctx.DB, &domain.Deliverable{
		RunID:   rctx.Run.ID,
		Kind:    kind,
		Payload: datatypes.JSON(raw),
	})
	if err != nil {
		return pipeerr.Transientf("persist %s: %v", kind, err)
	}
	return nil
}
