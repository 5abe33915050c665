package graph

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type edgeID struct {
	Source NodeKey
	Verb   string
	Target NodeKey
}

// MemoryStore is an in-process Store for tests and local development. It
// mirrors the merge semantics of the Neo4j implementation: nodes keyed by
// (pool, key), edges by (source, verb, target), scalar props last-wins.
type MemoryStore struct {
	mu          sync.RWMutex
	schemaReady bool
	nodes       map[NodeKey]*Node
	nodeRuns    map[NodeKey]map[string]bool
	edges       map[edgeID]*Edge
	edgeRuns    map[edgeID]map[string]bool
	rights      map[NodeKey]string
	clock       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:    map[NodeKey]*Node{},
		nodeRuns: map[NodeKey]map[string]bool{},
		edges:    map[edgeID]*Edge{},
		edgeRuns: map[edgeID]map[string]bool{},
		rights:   map[NodeKey]string{},
		clock:    time.Now,
	}
}

// SetClock overrides node creation timestamps; used by orphan-window tests.
func (s *MemoryStore) SetClock(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.clock = fn
	}
}

func (s *MemoryStore) EnsureSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemaReady = true
	return nil
}

func (s *MemoryStore) UpsertNodes(ctx context.Context, runID string, nodes []Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.schemaReady {
		return fmt.Errorf("memory store: schema not initialized")
	}
	for _, n := range nodes {
		if n.Key == "" || !n.Pool.Valid() {
			return fmt.Errorf("memory store: invalid node key %q pool %q", n.Key, n.Pool)
		}
		k := n.NodeKey()
		existing, ok := s.nodes[k]
		if !ok {
			cp := n
			cp.CreatedAt = s.clock()
			if cp.Props != nil {
				cp.Props = copyProps(cp.Props)
			}
			s.nodes[k] = &cp
		} else {
			// Merge: scalar fields last-wins when non-empty, props unioned.
			if n.Label != "" {
				existing.Label = n.Label
			}
			if n.ReprText != "" {
				existing.ReprText = n.ReprText
			}
			if n.ValidFrom != nil {
				existing.ValidFrom = n.ValidFrom
			}
			if n.ValidTo != nil {
				existing.ValidTo = n.ValidTo
			}
			if n.RightsRecordID != "" {
				existing.RightsRecordID = n.RightsRecordID
			}
			if len(n.Props) > 0 {
				if existing.Props == nil {
					existing.Props = map[string]any{}
				}
				for pk, pv := range n.Props {
					existing.Props[pk] = pv
				}
			}
		}
		s.tagNodeRun(k, runID)
	}
	return nil
}

func (s *MemoryStore) UpsertEdges(ctx context.Context, runID string, edges []Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range edges {
		id := edgeID{Source: e.Source, Verb: e.Verb, Target: e.Target}
		existing, ok := s.edges[id]
		if !ok {
			cp := e
			if cp.Props != nil {
				cp.Props = copyProps(cp.Props)
			}
			s.edges[id] = &cp
		} else if len(e.Props) > 0 {
			if existing.Props == nil {
				existing.Props = map[string]any{}
			}
			for pk, pv := range e.Props {
				existing.Props[pk] = pv
			}
		}
		if s.edgeRuns[id] == nil {
			s.edgeRuns[id] = map[string]bool{}
		}
		s.edgeRuns[id][runID] = true
	}
	return nil
}

func (s *MemoryStore) UpsertRightsLinks(ctx context.Context, runID string, links []RightsLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range links {
		if l.RightsRecordID == "" {
			return fmt.Errorf("memory store: empty rights record id for %v", l.Node)
		}
		s.rights[l.Node] = l.RightsRecordID
	}
	return nil
}

func (s *MemoryStore) NodesByRun(ctx context.Context, runID string) ([]Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Node{}
	for k, runs := range s.nodeRuns {
		if !runs[runID] {
			continue
		}
		if n, ok := s.nodes[k]; ok {
			cp := *n
			cp.Props = copyProps(n.Props)
			out = append(out, cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) EdgesByRun(ctx context.Context, runID string) ([]Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Edge{}
	for id, runs := range s.edgeRuns {
		if !runs[runID] {
			continue
		}
		if e, ok := s.edges[id]; ok {
			cp := *e
			cp.Props = copyProps(e.Props)
			out = append(out, cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) RepointEdges(ctx context.Context, runID string, from, to NodeKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.edges {
		if id.Source != from && id.Target != from {
			continue
		}
		next := *e
		nid := id
		if nid.Source == from {
			nid.Source = to
			next.Source = to
		}
		if nid.Target == from {
			nid.Target = to
			next.Target = to
		}
		runs := s.edgeRuns[id]
		delete(s.edges, id)
		delete(s.edgeRuns, id)
		if nid.Source == nid.Target {
			// Repointing collapsed the edge into a self-loop; drop it.
			continue
		}
		if existing, ok := s.edges[nid]; ok {
			for pk, pv := range next.Props {
				if existing.Props == nil {
					existing.Props = map[string]any{}
				}
				existing.Props[pk] = pv
			}
		} else {
			s.edges[nid] = &next
		}
		if s.edgeRuns[nid] == nil {
			s.edgeRuns[nid] = map[string]bool{}
		}
		for r := range runs {
			s.edgeRuns[nid][r] = true
		}
		s.edgeRuns[nid][runID] = true
	}
	if rid, ok := s.rights[from]; ok {
		if _, has := s.rights[to]; !has {
			s.rights[to] = rid
		}
		delete(s.rights, from)
	}
	return nil
}

func (s *MemoryStore) DeleteNode(ctx context.Context, runID string, key NodeKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, key)
	delete(s.nodeRuns, key)
	delete(s.rights, key)
	for id := range s.edges {
		if id.Source == key || id.Target == key {
			delete(s.edges, id)
			delete(s.edgeRuns, id)
		}
	}
	return nil
}

func (s *MemoryStore) DomainDegrees(ctx context.Context, runID string) (map[NodeKey]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[NodeKey]int{}
	for k, runs := range s.nodeRuns {
		if runs[runID] {
			out[k] = 0
		}
	}
	for id := range s.edges {
		if _, ok := out[id.Source]; ok {
			out[id.Source]++
		}
		if _, ok := out[id.Target]; ok {
			out[id.Target]++
		}
	}
	return out, nil
}

func (s *MemoryStore) Counts(ctx context.Context, runID string) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodes := 0
	for k, runs := range s.nodeRuns {
		if runs[runID] {
			if _, ok := s.nodes[k]; ok {
				nodes++
			}
		}
	}
	edges := 0
	for id, runs := range s.edgeRuns {
		if runs[runID] {
			if _, ok := s.edges[id]; ok {
				edges++
			}
		}
	}
	return nodes, edges, nil
}

// RightsLinkFor exposes the rights attachment for verification.
func (s *MemoryStore) RightsLinkFor(key NodeKey) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rid, ok := s.rights[key]
	return rid, ok
}

func (s *MemoryStore) tagNodeRun(k NodeKey, runID string) {
	if s.nodeRuns[k] == nil {
		s.nodeRuns[k] = map[string]bool{}
	}
	s.nodeRuns[k][runID] = true
}

func copyProps(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
