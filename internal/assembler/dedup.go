package assembler

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/archivolt/mnemos/internal/data/graph"
	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/platform/dbctx"
)

// deduplicate folds together nodes in the same pool whose labels normalize to
// the same canonical key. The store already merges exact key matches; this
// pass catches entities staged under divergent keys ("Radical-Inclusion" vs
// "radical inclusion"). The survivor is the node whose key already equals the
// normalized form, or the lexicographically smallest otherwise. Edges are
// repointed before the loser is deleted, so no relationship is lost, and each
// merge leaves an audit row.
func (a *Assembler) deduplicate(ctx dbctx.Context, runID uuid.UUID, res *Result) error {
	nodes, err := a.store.NodesByRun(ctx.Ctx, runID.String())
	if err != nil {
		return err
	}

	type group struct {
		canonical graph.NodeKey
		members   []graph.Node
	}
	groups := map[graph.NodeKey]*group{}
	for _, n := range nodes {
		normKey := domain.CanonicalKey(n.Label)
		if normKey == "" {
			normKey = n.Key
		}
		ck := graph.NodeKey{Pool: n.Pool, Key: normKey}
		g, ok := groups[ck]
		if !ok {
			g = &group{canonical: ck}
			groups[ck] = g
		}
		g.members = append(g.members, n)
	}

	for _, g := range groups {
		if len(g.members) < 2 {
			continue
		}
		sort.Slice(g.members, func(i, j int) bool {
			// Exact canonical match wins; ties break lexicographically.
			if (g.members[i].Key == g.canonical.Key) != (g.members[j].Key == g.canonical.Key) {
				return g.members[i].Key == g.canonical.Key
			}
			return g.members[i].Key < g.members[j].Key
		})
		survivor := g.members[0]
		for _, loser := range g.members[1:] {
			if err := a.mergeNode(ctx, runID, survivor, loser); err != nil {
				return err
			}
			res.Merges++
		}
	}
	return nil
}

func (a *Assembler) mergeNode(ctx dbctx.Context, runID uuid.UUID, survivor, loser graph.Node) error {
	runStr := runID.String()

	// Fold the loser's properties into the survivor: scalars keep the
	// survivor's value, array-valued properties are unioned.
	merged := graph.Node{
		Pool:           survivor.Pool,
		Key:            survivor.Key,
		Label:          survivor.Label,
		ReprText:       survivor.ReprText,
		ValidFrom:      survivor.ValidFrom,
		ValidTo:        survivor.ValidTo,
		RightsRecordID: survivor.RightsRecordID,
		Props:          map[string]any{},
	}
	for k, v := range survivor.Props {
		merged.Props[k] = v
	}
	for k, v := range loser.Props {
		if cur, ok := merged.Props[k]; ok {
			merged.Props[k] = unionProp(cur, v)
		} else {
			merged.Props[k] = v
		}
	}
	if merged.ReprText == "" {
		merged.ReprText = loser.ReprText
	}
	if merged.ValidFrom == nil {
		merged.ValidFrom = loser.ValidFrom
	}
	if merged.ValidTo == nil {
		merged.ValidTo = loser.ValidTo
	}
	if err := a.store.UpsertNodes(ctx.Ctx, runStr, []graph.Node{merged}); err != nil {
		return err
	}

	if err := a.store.RepointEdges(ctx.Ctx, runStr, loser.NodeKey(), survivor.NodeKey()); err != nil {
		return err
	}
	if err := a.store.DeleteNode(ctx.Ctx, runStr, loser.NodeKey()); err != nil {
		return err
	}

	details, _ := json.Marshal(map[string]any{
		"survivor_label": survivor.Label,
		"merged_label":   loser.Label,
	})
	if err := a.staged.RecordMerge(ctx, &domain.MergeAudit{
		RunID:       runID,
		Pool:        survivor.Pool,
		SurvivorKey: survivor.Key,
		MergedKey:   loser.Key,
		Details:     datatypes.JSON(details),
	}); err != nil {
		return err
	}

	a.log.Info("merged duplicate node",
		"run_id", runID, "pool", survivor.Pool,
		"survivor", survivor.Key, "merged", loser.Key)
	return nil
}

// unionProp resolves a property held by both merge sides. Arrays union,
// survivor elements first and duplicates dropped; a scalar conflict keeps the
// survivor's value.
func unionProp(survivorVal, loserVal any) any {
	sv, sok := survivorVal.([]any)
	lv, lok := loserVal.([]any)
	if !sok && !lok {
		return survivorVal
	}
	if !sok {
		sv = []any{survivorVal}
	}
	if !lok {
		lv = []any{loserVal}
	}
	seen := make(map[string]bool, len(sv)+len(lv))
	out := make([]any, 0, len(sv)+len(lv))
	add := func(vals []any) {
		for _, v := range vals {
			k := fmt.Sprint(v)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, v)
		}
	}
	add(sv)
	add(lv)
	return out
}
