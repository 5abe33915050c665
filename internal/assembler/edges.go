package assembler

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/archivolt/mnemos/internal/data/graph"
	"github.com/archivolt/mnemos/internal/platform/dbctx"
)

// loadEdges resolves staged relations through the glossary and writes them.
// A relation survives only if both endpoints made it into the graph, its verb
// resolves above the confidence floor, and the resolved edge passes pool and
// self-loop validation. Directed verbs with a declared reverse get the
// reverse edge written automatically; symmetric verbs get exactly one edge.
func (a *Assembler) loadEdges(ctx dbctx.Context, runID uuid.UUID, loaded map[graph.NodeKey]bool, res *Result) error {
	rels, err := a.staged.ListRelationsByRun(ctx, runID)
	if err != nil {
		return err
	}

	edges := make([]graph.Edge, 0, len(rels))
	for _, rel := range rels {
		src := graph.NodeKey{Pool: rel.SourcePool, Key: rel.SourceKey}
		dst := graph.NodeKey{Pool: rel.TargetPool, Key: rel.TargetKey}

		if !loaded[src] || !loaded[dst] {
			res.EdgesDropped++
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"relation %s/%s -[%s]-> %s/%s dropped: endpoint not in graph",
				rel.SourcePool, rel.SourceKey, rel.Verb, rel.TargetPool, rel.TargetKey))
			continue
		}

		resolved := a.gloss.Resolve(rel.Verb, rel.SourcePool, rel.TargetPool)
		if resolved.Warning != "" {
			res.Warnings = append(res.Warnings, resolved.Warning)
		}
		if resolved.Confidence < a.cfg.MinEdgeConfidence {
			res.EdgesDropped++
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"relation %s/%s -[%s]-> %s/%s dropped: resolution confidence %.2f below floor %.2f",
				rel.SourcePool, rel.SourceKey, rel.Verb, rel.TargetPool, rel.TargetKey,
				resolved.Confidence, a.cfg.MinEdgeConfidence))
			continue
		}

		if resolved.Inverted {
			src, dst = dst, src
		}

		if err := a.gloss.Validate(resolved.Verb, src.Pool, dst.Pool, src.Key, dst.Key); err != nil {
			res.EdgesDropped++
			res.Warnings = append(res.Warnings, fmt.Sprintf("relation dropped: %v", err))
			continue
		}

		props := map[string]any{
			"confidence":            rel.Confidence,
			"resolution_confidence": resolved.Confidence,
		}
		if rel.Evidence != "" {
			props["evidence"] = rel.Evidence
		}

		if resolved.Symmetric {
			// One edge per symmetric pair; canonical endpoint order makes
			// reruns and flipped duplicates converge on the same edge.
			s, t := src, dst
			if orderKey(t) < orderKey(s) {
				s, t = t, s
			}
			edges = append(edges, graph.Edge{Source: s, Target: t, Verb: resolved.Verb, Props: props})
			res.EdgesLoaded++
			continue
		}

		edges = append(edges, graph.Edge{Source: src, Target: dst, Verb: resolved.Verb, Props: props})
		res.EdgesLoaded++
		if resolved.Reverse != "" {
			edges = append(edges, graph.Edge{Source: dst, Target: src, Verb: resolved.Reverse, Props: props})
			res.ReverseEdges++
		}
	}

	return a.store.UpsertEdges(ctx.Ctx, runID.String(), edges)
}

func orderKey(k graph.NodeKey) string { return string(k.Pool) + ":" + k.Key }
