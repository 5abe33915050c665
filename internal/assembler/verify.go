package assembler

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/archivolt/mnemos/internal/data/graph"
	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/platform/dbctx"
)

// IntegrityCheck is one verification outcome: a stable id, pass/fail, and
// enough detail to act on a failure.
type IntegrityCheck struct {
	ID      string         `json:"id"`
	Passed  bool           `json:"passed"`
	Details string         `json:"details,omitempty"`
	Metrics map[string]any `json:"metrics,omitempty"`
}

type IntegrityReport struct {
	Checks []IntegrityCheck `json:"checks"`
	Passed bool             `json:"passed"`
}

func (r *IntegrityReport) Violations() int {
	n := 0
	for _, c := range r.Checks {
		if !c.Passed {
			n++
		}
	}
	return n
}

func (r *IntegrityReport) add(c IntegrityCheck) {
	r.Checks = append(r.Checks, c)
}

// verify runs the post-assembly battery over the run's slice of the graph.
// It never mutates; violations are reported, not repaired.
func (a *Assembler) verify(ctx dbctx.Context, runID uuid.UUID) (*IntegrityReport, error) {
	runStr := runID.String()
	nodes, err := a.store.NodesByRun(ctx.Ctx, runStr)
	if err != nil {
		return nil, err
	}
	edges, err := a.store.EdgesByRun(ctx.Ctx, runStr)
	if err != nil {
		return nil, err
	}

	report := &IntegrityReport{}
	report.add(a.checkRightsReferences(nodes))
	report.add(a.checkTemporalFields(nodes))
	report.add(a.checkLabels(nodes))
	report.add(a.checkVerbMembership(edges))
	report.add(a.checkReversePresence(edges))

	report.Passed = report.Violations() == 0
	return report, nil
}

func (a *Assembler) checkRightsReferences(nodes []graph.Node) IntegrityCheck {
	var bad []string
	for _, n := range nodes {
		if n.RightsRecordID == "" {
			bad = append(bad, fmt.Sprintf("%s/%s", n.Pool, n.Key))
		}
	}
	return failingCheck("rights_references", bad, len(nodes), "nodes without a rights record reference")
}

// checkTemporalFields asserts every node carries at least one temporal
// bound; evolutionary nodes additionally need an explicit valid_from, since
// their ordering is the point of the pool.
func (a *Assembler) checkTemporalFields(nodes []graph.Node) IntegrityCheck {
	var bad []string
	for _, n := range nodes {
		noBound := n.ValidFrom == nil && n.ValidTo == nil
		if noBound || (n.Pool == domain.PoolEvolutionary && n.ValidFrom == nil) {
			bad = append(bad, fmt.Sprintf("%s/%s", n.Pool, n.Key))
		}
	}
	return failingCheck("temporal_fields", bad, len(nodes), "nodes without a temporal bound")
}

func (a *Assembler) checkLabels(nodes []graph.Node) IntegrityCheck {
	var bad []string
	for _, n := range nodes {
		if strings.TrimSpace(n.Label) == "" {
			bad = append(bad, fmt.Sprintf("%s/%s", n.Pool, n.Key))
		}
	}
	return failingCheck("node_labels", bad, len(nodes), "nodes with empty labels")
}

func (a *Assembler) checkVerbMembership(edges []graph.Edge) IntegrityCheck {
	var bad []string
	for _, e := range edges {
		if !a.gloss.Contains(e.Verb) {
			bad = append(bad, e.Verb)
		}
	}
	return failingCheck("verb_membership", bad, len(edges), "edges with verbs outside the glossary")
}

// checkReversePresence verifies that every directed edge whose verb declares
// a reverse has its mirror edge in the graph.
func (a *Assembler) checkReversePresence(edges []graph.Edge) IntegrityCheck {
	type edgeSig struct {
		src, verb, dst string
	}
	present := make(map[edgeSig]bool, len(edges))
	for _, e := range edges {
		present[edgeSig{orderKey(e.Source), e.Verb, orderKey(e.Target)}] = true
	}

	var bad []string
	total := 0
	for _, e := range edges {
		entry, ok := a.gloss.Entry(e.Verb)
		if !ok || entry.Reverse == "" {
			continue
		}
		total++
		if !present[edgeSig{orderKey(e.Target), entry.Reverse, orderKey(e.Source)}] {
			bad = append(bad, fmt.Sprintf("%s -[%s]-> %s", orderKey(e.Source), e.Verb, orderKey(e.Target)))
		}
	}
	return failingCheck("reverse_presence", bad, total, "directed edges missing their reverse")
}

func failingCheck(id string, bad []string, total int, what string) IntegrityCheck {
	c := IntegrityCheck{
		ID:      id,
		Passed:  len(bad) == 0,
		Metrics: map[string]any{"checked": total, "violations": len(bad)},
	}
	if len(bad) > 0 {
		sample := bad
		if len(sample) > 10 {
			sample = sample[:10]
		}
		c.Details = fmt.Sprintf("%d %s: %s", len(bad), what, strings.Join(sample, ", "))
	}
	return c
}
