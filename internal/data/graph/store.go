package graph

import (
	"context"
	"time"

	"github.com/archivolt/mnemos/internal/domain"
)

// NodeKey identifies a node by pool plus canonical key, the merge identity
// used everywhere downstream of extraction.
type NodeKey struct {
	Pool domain.Pool
	Key  string
}

// Node is the store-facing projection of a knowledge entity. RightsRecordID
// is required for every content pool; the loader refuses nodes without one.
type Node struct {
	Pool           domain.Pool
	Key            string
	Label          string
	ReprText       string
	ValidFrom      *time.Time
	ValidTo        *time.Time
	RightsRecordID string
	Props          map[string]any
	CreatedAt      time.Time // set by the store on first merge
}

func (n Node) NodeKey() NodeKey { return NodeKey{Pool: n.Pool, Key: n.Key} }

// Edge is a directed relationship between two nodes. Verb must already be a
// glossary member (forward or reverse form) by the time it reaches the store.
type Edge struct {
	Source NodeKey
	Target NodeKey
	Verb   string
	Props  map[string]any
}

// RightsLink attaches a node to its rights record node.
type RightsLink struct {
	Node           NodeKey
	RightsRecordID string
}

// Store is the injected property-graph dependency. All writes are upserts
// (merge-by-key) so retried or duplicated stage executions converge instead
// of compounding. Implementations: Neo4j, in-memory.
type Store interface {
	// EnsureSchema declares uniqueness/existence constraints. Idempotent.
	EnsureSchema(ctx context.Context) error

	// UpsertNodes merges nodes by (pool, key), tagging them with the run.
	UpsertNodes(ctx context.Context, runID string, nodes []Node) error

	// UpsertEdges merges edges by (source, verb, target).
	UpsertEdges(ctx context.Context, runID string, edges []Edge) error

	// UpsertRightsLinks attaches nodes to their rights record nodes.
	UpsertRightsLinks(ctx context.Context, runID string, links []RightsLink) error

	// NodesByRun returns every node touched by the run.
	NodesByRun(ctx context.Context, runID string) ([]Node, error)

	// EdgesByRun returns every edge written by the run.
	EdgesByRun(ctx context.Context, runID string) ([]Edge, error)

	// RepointEdges moves every edge endpoint from one node to another,
	// preserving verbs and properties. Used by deduplication; must never
	// drop a relationship held by the merged-away node.
	RepointEdges(ctx context.Context, runID string, from, to NodeKey) error

	// DeleteNode removes a node and its remaining edges.
	DeleteNode(ctx context.Context, runID string, key NodeKey) error

	// DomainDegrees counts, per node, the glossary-verb edges touching it.
	// Rights links are not structural and are excluded.
	DomainDegrees(ctx context.Context, runID string) (map[NodeKey]int, error)

	// Counts reports node and edge totals for the run (idempotency checks,
	// acceptance gates).
	Counts(ctx context.Context, runID string) (nodes int, edges int, err error)
}
