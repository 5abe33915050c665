package assembler

import (
	"github.com/google/uuid"

	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/platform/dbctx"
)

// removeOrphans deletes nodes with no glossary-verb edges. Lexicon nodes are
// exempt: vocabulary terms are legitimately isolated. Nodes created inside
// the recency window are retained too, since their edges may still be on the
// way in a rerun.
func (a *Assembler) removeOrphans(ctx dbctx.Context, runID uuid.UUID, res *Result) error {
	runStr := runID.String()

	degrees, err := a.store.DomainDegrees(ctx.Ctx, runStr)
	if err != nil {
		return err
	}
	nodes, err := a.store.NodesByRun(ctx.Ctx, runStr)
	if err != nil {
		return err
	}

	cutoff := a.now().Add(-a.cfg.OrphanWindow)
	for _, n := range nodes {
		if degrees[n.NodeKey()] > 0 {
			continue
		}
		if n.Pool == domain.PoolLexicon {
			res.OrphansRetained++
			continue
		}
		if n.CreatedAt.After(cutoff) {
			res.OrphansRetained++
			continue
		}
		if err := a.store.DeleteNode(ctx.Ctx, runStr, n.NodeKey()); err != nil {
			return err
		}
		res.OrphansRemoved++
		a.log.Info("removed orphan node", "run_id", runID, "pool", n.Pool, "key", n.Key)
	}
	return nil
}
