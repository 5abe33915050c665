package gates

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/archivolt/mnemos/internal/data/graph"
	"github.com/archivolt/mnemos/internal/data/repos"
	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/glossary"
	"github.com/archivolt/mnemos/internal/platform/dbctx"
	"github.com/archivolt/mnemos/internal/platform/logger"
)

// Check is one acceptance gate outcome.
type Check struct {
	ID      string         `json:"id"`
	Passed  bool           `json:"passed"`
	Details string         `json:"details,omitempty"`
	Metrics map[string]any `json:"metrics,omitempty"`
}

// Report is the full battery result for a completed run.
type Report struct {
	RunID  uuid.UUID `json:"run_id"`
	Checks []Check   `json:"checks"`
	Passed bool      `json:"passed"`
}

// Runner executes the acceptance battery the watchdog fires once per
// completed run. Gates read, never repair.
type Runner struct {
	units        repos.ContentUnitRepo
	staged       repos.StagedRepo
	deliverables repos.DeliverableRepo
	store        graph.Store
	gloss        *glossary.Glossary
	log          *logger.Logger
}

func NewRunner(units repos.ContentUnitRepo, staged repos.StagedRepo, deliverables repos.DeliverableRepo,
	store graph.Store, gloss *glossary.Glossary, baseLog *logger.Logger) *Runner {
	return &Runner{
		units:        units,
		staged:       staged,
		deliverables: deliverables,
		store:        store,
		gloss:        gloss,
		log:          baseLog.With("component", "AcceptanceGates"),
	}
}

func (r *Runner) Run(ctx dbctx.Context, runID uuid.UUID) (*Report, error) {
	report := &Report{RunID: runID}

	checks := []func(dbctx.Context, uuid.UUID) (Check, error){
		r.rightsCoverage,
		r.graphPopulated,
		r.verbMembership,
		r.reversePresence,
		r.deliverablesPresent,
	}
	for _, fn := range checks {
		c, err := fn(ctx, runID)
		if err != nil {
			return nil, err
		}
		report.Checks = append(report.Checks, c)
	}

	report.Passed = true
	for _, c := range report.Checks {
		if !c.Passed {
			report.Passed = false
			break
		}
	}
	r.log.Info("acceptance gates finished", "run_id", runID, "passed", report.Passed)
	return report, nil
}

// rightsCoverage: every content unit carries a rights record, and every graph
// node references one.
func (r *Runner) rightsCoverage(ctx dbctx.Context, runID uuid.UUID) (Check, error) {
	total, err := r.units.CountByRun(ctx, runID)
	if err != nil {
		return Check{}, err
	}
	covered, err := r.units.CountWithRights(ctx, runID)
	if err != nil {
		return Check{}, err
	}

	nodes, err := r.store.NodesByRun(ctx.Ctx, runID.String())
	if err != nil {
		return Check{}, err
	}
	unreferenced := 0
	for _, n := range nodes {
		if n.RightsRecordID == "" {
			unreferenced++
		}
	}

	c := Check{
		ID:     "rights_coverage",
		Passed: covered == total && unreferenced == 0,
		Metrics: map[string]any{
			"units":             total,
			"units_with_rights": covered,
			"nodes":             len(nodes),
			"nodes_without_ref": unreferenced,
		},
	}
	if !c.Passed {
		c.Details = fmt.Sprintf("%d/%d units covered, %d nodes without rights reference", covered, total, unreferenced)
	}
	return c, nil
}

// graphPopulated: a run that staged entities must have produced nodes.
func (r *Runner) graphPopulated(ctx dbctx.Context, runID uuid.UUID) (Check, error) {
	stagedCount, err := r.staged.CountEntitiesByRun(ctx, runID)
	if err != nil {
		return Check{}, err
	}
	nodes, edges, err := r.store.Counts(ctx.Ctx, runID.String())
	if err != nil {
		return Check{}, err
	}
	c := Check{
		ID:     "graph_populated",
		Passed: stagedCount == 0 || nodes > 0,
		Metrics: map[string]any{
			"staged_entities": stagedCount,
			"nodes":           nodes,
			"edges":           edges,
		},
	}
	if !c.Passed {
		c.Details = fmt.Sprintf("%d staged entities produced an empty graph", stagedCount)
	}
	return c, nil
}

func (r *Runner) verbMembership(ctx dbctx.Context, runID uuid.UUID) (Check, error) {
	edges, err := r.store.EdgesByRun(ctx.Ctx, runID.String())
	if err != nil {
		return Check{}, err
	}
	bad := 0
	for _, e := range edges {
		if !r.gloss.Contains(e.Verb) {
			bad++
		}
	}
	c := Check{
		ID:      "verb_membership",
		Passed:  bad == 0,
		Metrics: map[string]any{"edges": len(edges), "outside_glossary": bad},
	}
	if bad > 0 {
		c.Details = fmt.Sprintf("%d edges use verbs outside the glossary", bad)
	}
	return c, nil
}

func (r *Runner) reversePresence(ctx dbctx.Context, runID uuid.UUID) (Check, error) {
	edges, err := r.store.EdgesByRun(ctx.Ctx, runID.String())
	if err != nil {
		return Check{}, err
	}
	type sig struct{ s, v, t string }
	present := make(map[sig]bool, len(edges))
	for _, e := range edges {
		present[sig{keyStr(e.Source), e.Verb, keyStr(e.Target)}] = true
	}
	missing := 0
	for _, e := range edges {
		entry, ok := r.gloss.Entry(e.Verb)
		if !ok || entry.Reverse == "" {
			continue
		}
		if !present[sig{keyStr(e.Target), entry.Reverse, keyStr(e.Source)}] {
			missing++
		}
	}
	c := Check{
		ID:      "reverse_presence",
		Passed:  missing == 0,
		Metrics: map[string]any{"edges": len(edges), "missing_reverse": missing},
	}
	if missing > 0 {
		c.Details = fmt.Sprintf("%d directed edges missing their reverse", missing)
	}
	return c, nil
}

func (r *Runner) deliverablesPresent(ctx dbctx.Context, runID uuid.UUID) (Check, error) {
	arts, err := r.deliverables.ListByRun(ctx, runID)
	if err != nil {
		return Check{}, err
	}
	have := map[string]bool{}
	for _, a := range arts {
		have[a.Kind] = true
	}
	var missing []string
	for _, want := range []string{
		domain.DeliverableRunSummary,
		domain.DeliverableLiteracyReport,
		domain.DeliverableGraphManifest,
	} {
		if !have[want] {
			missing = append(missing, want)
		}
	}
	c := Check{
		ID:      "deliverables_present",
		Passed:  len(missing) == 0,
		Metrics: map[string]any{"present": len(arts), "missing": len(missing)},
	}
	if len(missing) > 0 {
		c.Details = fmt.Sprintf("missing deliverables: %v", missing)
	}
	return c, nil
}

func keyStr(k graph.NodeKey) string { return string(k.Pool) + ":" + k.Key }
