package assembler

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/archivolt/mnemos/internal/data/graph"
	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/pipeerr"
	"github.com/archivolt/mnemos/internal/platform/dbctx"
)

// loadNodes projects staged entities into the graph. Rights come first: an
// entity without a rights record reference never reaches the store; it is
// excluded and logged, and the rest of the batch proceeds.
func (a *Assembler) loadNodes(ctx dbctx.Context, runID uuid.UUID, res *Result) (map[graph.NodeKey]bool, error) {
	ents, err := a.staged.ListEntitiesByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	loaded := make(map[graph.NodeKey]bool, len(ents))
	nodes := make([]graph.Node, 0, len(ents))
	links := make([]graph.RightsLink, 0, len(ents))
	loadTime := a.now().UTC()

	for _, e := range ents {
		key := graph.NodeKey{Pool: e.Pool, Key: e.CanonicalKey}
		if e.RightsRecordID == nil || *e.RightsRecordID == uuid.Nil {
			mr := &pipeerr.MissingRights{Pool: string(e.Pool), Key: e.CanonicalKey}
			res.NodesExcluded++
			res.Warnings = append(res.Warnings, mr.Error())
			a.log.Warn("entity excluded from graph", "run_id", runID, "pool", e.Pool, "key", e.CanonicalKey, "reason", "no rights reference")
			continue
		}

		var props map[string]any
		if len(e.Attributes) > 0 {
			if err := json.Unmarshal(e.Attributes, &props); err != nil {
				return nil, fmt.Errorf("decode attributes for %s/%s: %w", e.Pool, e.CanonicalKey, err)
			}
		}
		node := graph.Node{
			Pool:           e.Pool,
			Key:            e.CanonicalKey,
			Label:          e.Label,
			ReprText:       e.ReprText,
			ValidFrom:      e.ValidFrom,
			ValidTo:        e.ValidTo,
			RightsRecordID: e.RightsRecordID.String(),
			Props:          props,
		}
		// Every node carries a temporal bound. When extraction supplied
		// none, the load time stands in; evolutionary entities are never
		// stamped, their ordering needs an explicit start.
		if node.ValidFrom == nil && node.ValidTo == nil && e.Pool != domain.PoolEvolutionary {
			vf := loadTime
			node.ValidFrom = &vf
		}
		nodes = append(nodes, node)
		links = append(links, graph.RightsLink{Node: key, RightsRecordID: e.RightsRecordID.String()})
		loaded[key] = true
	}

	if err := a.store.UpsertNodes(ctx.Ctx, runID.String(), nodes); err != nil {
		return nil, err
	}
	if err := a.store.UpsertRightsLinks(ctx.Ctx, runID.String(), links); err != nil {
		return nil, err
	}
	res.NodesLoaded = len(nodes)
	return loaded, nil
}
