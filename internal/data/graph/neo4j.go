package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/platform/logger"
	"github.com/archivolt/mnemos/internal/platform/neo4jdb"
)

const rightsRelType = "HAS_RIGHTS"

// Neo4jStore implements Store on a Neo4j database. Nodes carry an :Entity
// label plus their pool label and a uid of the form "<pool>:<key>"; edges use
// the uppercased verb as relationship type. Every write is MERGE-based.
type Neo4jStore struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

func NewNeo4jStore(client *neo4jdb.Client, baseLog *logger.Logger) (*Neo4jStore, error) {
	if client == nil || client.Driver == nil {
		return nil, fmt.Errorf("neo4j store: client required")
	}
	if baseLog == nil {
		return nil, fmt.Errorf("neo4j store: logger required")
	}
	return &Neo4jStore{client: client, log: baseLog.With("store", "Neo4jGraph")}, nil
}

func uidOf(k NodeKey) string { return string(k.Pool) + ":" + k.Key }

func keyOfUID(uid string) (NodeKey, error) {
	pool, key, ok := strings.Cut(uid, ":")
	if !ok {
		return NodeKey{}, fmt.Errorf("malformed uid %q", uid)
	}
	p, err := domain.ParsePool(pool)
	if err != nil {
		return NodeKey{}, err
	}
	return NodeKey{Pool: p, Key: key}, nil
}

// relType maps a glossary verb onto a relationship type. Verbs are already
// normalized to [a-z_]; anything else is rejected rather than interpolated.
func relType(verb string) (string, error) {
	for _, r := range verb {
		if (r < 'a' || r > 'z') && r != '_' {
			return "", fmt.Errorf("verb %q not safe as relationship type", verb)
		}
	}
	if verb == "" {
		return "", fmt.Errorf("empty verb")
	}
	return strings.ToUpper(verb), nil
}

func verbOfRelType(rt string) string { return strings.ToLower(rt) }

func (s *Neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.client.Database,
	})
}

func (s *Neo4jStore) EnsureSchema(ctx context.Context) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	stmts := []string{
		`CREATE CONSTRAINT entity_uid_unique IF NOT EXISTS FOR (e:Entity) REQUIRE e.uid IS UNIQUE`,
		`CREATE CONSTRAINT rights_record_id_unique IF NOT EXISTS FOR (r:RightsRecord) REQUIRE r.id IS UNIQUE`,
		`CREATE INDEX entity_run_id IF NOT EXISTS FOR (e:Entity) ON (e.run_id)`,
	}
	// Existence constraints need enterprise; best-effort like the rest.
	stmts = append(stmts,
		`CREATE CONSTRAINT entity_rights_exists IF NOT EXISTS FOR (e:Entity) REQUIRE e.rights_record_id IS NOT NULL`,
		`CREATE CONSTRAINT entity_repr_exists IF NOT EXISTS FOR (e:Entity) REQUIRE e.repr_text IS NOT NULL`,
	)
	for _, q := range stmts {
		if res, err := session.Run(ctx, q, nil); err != nil {
			s.log.Warn("schema statement failed (continuing)", "error", err)
		} else {
			_, _ = res.Consume(ctx)
		}
	}
	return nil
}

func (s *Neo4jStore) UpsertNodes(ctx context.Context, runID string, nodes []Node) error {
	if len(nodes) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	// Labels cannot be parameterized; batch per pool.
	byPool := map[domain.Pool][]map[string]any{}
	for _, n := range nodes {
		if !n.Pool.Valid() || n.Key == "" {
			return fmt.Errorf("neo4j store: invalid node %q/%q", n.Pool, n.Key)
		}
		row := map[string]any{
			"uid":              uidOf(n.NodeKey()),
			"pool":             string(n.Pool),
			"key":              n.Key,
			"label":            n.Label,
			"repr_text":        n.ReprText,
			"rights_record_id": n.RightsRecordID,
			"run_id":           runID,
			"synced_at":        now,
		}
		if n.ValidFrom != nil {
			row["valid_from"] = n.ValidFrom.UTC().Format(time.RFC3339Nano)
		}
		if n.ValidTo != nil {
			row["valid_to"] = n.ValidTo.UTC().Format(time.RFC3339Nano)
		}
		for k, v := range n.Props {
			if _, reserved := row[k]; !reserved {
				row["attr_"+k] = v
			}
		}
		byPool[n.Pool] = append(byPool[n.Pool], row)
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for pool, rows := range byPool {
			q := fmt.Sprintf(`
UNWIND $nodes AS n
MERGE (e:Entity {uid: n.uid})
ON CREATE SET e.created_at = $created_at
SET e += n, e:%s
`, pool.GraphLabel())
			res, err := tx.Run(ctx, q, map[string]any{"nodes": rows, "created_at": now})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("neo4j store: upsert nodes: %w", err)
	}
	return nil
}

func (s *Neo4jStore) UpsertEdges(ctx context.Context, runID string, edges []Edge) error {
	if len(edges) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	byVerb := map[string][]map[string]any{}
	for _, e := range edges {
		row := map[string]any{
			"source_uid": uidOf(e.Source),
			"target_uid": uidOf(e.Target),
			"run_id":     runID,
			"synced_at":  now,
		}
		for k, v := range e.Props {
			if _, reserved := row[k]; !reserved {
				row[k] = v
			}
		}
		byVerb[e.Verb] = append(byVerb[e.Verb], row)
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for verb, rows := range byVerb {
			rt, err := relType(verb)
			if err != nil {
				return nil, err
			}
			q := fmt.Sprintf(`
UNWIND $edges AS r
MATCH (s:Entity {uid: r.source_uid})
MATCH (t:Entity {uid: r.target_uid})
MERGE (s)-[e:%s]->(t)
SET e += r
`, rt)
			res, err := tx.Run(ctx, q, map[string]any{"edges": rows})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("neo4j store: upsert edges: %w", err)
	}
	return nil
}

func (s *Neo4jStore) UpsertRightsLinks(ctx context.Context, runID string, links []RightsLink) error {
	if len(links) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(links))
	for _, l := range links {
		if l.RightsRecordID == "" {
			return fmt.Errorf("neo4j store: empty rights record id for %v", l.Node)
		}
		rows = append(rows, map[string]any{
			"uid":       uidOf(l.Node),
			"rights_id": l.RightsRecordID,
			"run_id":    runID,
		})
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, fmt.Sprintf(`
UNWIND $links AS l
MATCH (e:Entity {uid: l.uid})
MERGE (r:RightsRecord {id: l.rights_id})
MERGE (e)-[h:%s]->(r)
SET h.run_id = l.run_id
`, rightsRelType), map[string]any{"links": rows})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("neo4j store: rights links: %w", err)
	}
	return nil
}

func (s *Neo4jStore) NodesByRun(ctx context.Context, runID string) ([]Node, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	out := []Node{}
	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (e:Entity {run_id: $run_id})
RETURN e.uid AS uid, e.label AS label, e.repr_text AS repr_text,
       e.rights_record_id AS rights_record_id, e.valid_from AS valid_from,
       e.valid_to AS valid_to, e.created_at AS created_at,
       properties(e) AS props
`, map[string]any{"run_id": runID})
		if err != nil {
			return nil, err
		}
		for res.Next(ctx) {
			rec := res.Record()
			n, err := nodeFromRecord(rec)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return nil, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j store: nodes by run: %w", err)
	}
	return out, nil
}

func nodeFromRecord(rec *neo4j.Record) (Node, error) {
	uid, _ := rec.Get("uid")
	key, err := keyOfUID(asString(uid))
	if err != nil {
		return Node{}, err
	}
	n := Node{Pool: key.Pool, Key: key.Key}
	if v, ok := rec.Get("label"); ok {
		n.Label = asString(v)
	}
	if v, ok := rec.Get("repr_text"); ok {
		n.ReprText = asString(v)
	}
	if v, ok := rec.Get("rights_record_id"); ok {
		n.RightsRecordID = asString(v)
	}
	if v, ok := rec.Get("valid_from"); ok {
		n.ValidFrom = parseTimePtr(asString(v))
	}
	if v, ok := rec.Get("valid_to"); ok {
		n.ValidTo = parseTimePtr(asString(v))
	}
	if v, ok := rec.Get("created_at"); ok {
		if t := parseTimePtr(asString(v)); t != nil {
			n.CreatedAt = *t
		}
	}
	if v, ok := rec.Get("props"); ok {
		if m, ok := v.(map[string]any); ok {
			for pk, pv := range m {
				if strings.HasPrefix(pk, "attr_") {
					if n.Props == nil {
						n.Props = map[string]any{}
					}
					n.Props[strings.TrimPrefix(pk, "attr_")] = pv
				}
			}
		}
	}
	return n, nil
}

func (s *Neo4jStore) EdgesByRun(ctx context.Context, runID string) ([]Edge, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	out := []Edge{}
	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (src:Entity)-[r]->(dst:Entity)
WHERE r.run_id = $run_id AND type(r) <> $rights_type
RETURN src.uid AS source_uid, type(r) AS rel_type, dst.uid AS target_uid,
       properties(r) AS props
`, map[string]any{"run_id": runID, "rights_type": rightsRelType})
		if err != nil {
			return nil, err
		}
		for res.Next(ctx) {
			rec := res.Record()
			srcRaw, _ := rec.Get("source_uid")
			dstRaw, _ := rec.Get("target_uid")
			rtRaw, _ := rec.Get("rel_type")
			src, err := keyOfUID(asString(srcRaw))
			if err != nil {
				return nil, err
			}
			dst, err := keyOfUID(asString(dstRaw))
			if err != nil {
				return nil, err
			}
			e := Edge{Source: src, Target: dst, Verb: verbOfRelType(asString(rtRaw))}
			if v, ok := rec.Get("props"); ok {
				if m, ok := v.(map[string]any); ok {
					e.Props = m
				}
			}
			out = append(out, e)
		}
		return nil, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j store: edges by run: %w", err)
	}
	return out, nil
}

// RepointEdges rewrites each edge touching `from` onto `to` one at a time:
// relationship types cannot be parameterized, and dedup volumes are small.
func (s *Neo4jStore) RepointEdges(ctx context.Context, runID string, from, to NodeKey) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	type moved struct {
		relType  string
		otherUID string
		outgoing bool
		props    map[string]any
	}

	var edges []moved
	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (f:Entity {uid: $uid})-[r]-(o)
WHERE type(r) <> $rights_type
RETURN type(r) AS rel_type, o.uid AS other_uid,
       startNode(r).uid = $uid AS outgoing, properties(r) AS props
`, map[string]any{"uid": uidOf(from), "rights_type": rightsRelType})
		if err != nil {
			return nil, err
		}
		for res.Next(ctx) {
			rec := res.Record()
			m := moved{}
			if v, ok := rec.Get("rel_type"); ok {
				m.relType = asString(v)
			}
			if v, ok := rec.Get("other_uid"); ok {
				m.otherUID = asString(v)
			}
			if v, ok := rec.Get("outgoing"); ok {
				m.outgoing, _ = v.(bool)
			}
			if v, ok := rec.Get("props"); ok {
				m.props, _ = v.(map[string]any)
			}
			edges = append(edges, m)
		}
		return nil, res.Err()
	})
	if err != nil {
		return fmt.Errorf("neo4j store: read edges to repoint: %w", err)
	}

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, m := range edges {
			if m.otherUID == uidOf(to) {
				continue // would become a self-loop; dropped with the old node
			}
			pattern := `MATCH (a:Entity {uid: $to_uid}) MATCH (b:Entity {uid: $other_uid}) MERGE (a)-[e:%s]->(b) SET e += $props`
			if !m.outgoing {
				pattern = `MATCH (a:Entity {uid: $to_uid}) MATCH (b:Entity {uid: $other_uid}) MERGE (b)-[e:%s]->(a) SET e += $props`
			}
			props := m.props
			if props == nil {
				props = map[string]any{}
			}
			props["run_id"] = runID
			res, err := tx.Run(ctx, fmt.Sprintf(pattern, m.relType), map[string]any{
				"to_uid":    uidOf(to),
				"other_uid": m.otherUID,
				"props":     props,
			})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		res, err := tx.Run(ctx, `
MATCH (f:Entity {uid: $uid})-[r]-()
WHERE type(r) <> $rights_type
DELETE r
`, map[string]any{"uid": uidOf(from), "rights_type": rightsRelType})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("neo4j store: repoint edges: %w", err)
	}
	return nil
}

func (s *Neo4jStore) DeleteNode(ctx context.Context, runID string, key NodeKey) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (e:Entity {uid: $uid}) DETACH DELETE e`, map[string]any{"uid": uidOf(key)})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("neo4j store: delete node: %w", err)
	}
	return nil
}

func (s *Neo4jStore) DomainDegrees(ctx context.Context, runID string) (map[NodeKey]int, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	out := map[NodeKey]int{}
	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (e:Entity {run_id: $run_id})
OPTIONAL MATCH (e)-[r]-()
WHERE type(r) <> $rights_type
RETURN e.uid AS uid, count(r) AS degree
`, map[string]any{"run_id": runID, "rights_type": rightsRelType})
		if err != nil {
			return nil, err
		}
		for res.Next(ctx) {
			rec := res.Record()
			uidRaw, _ := rec.Get("uid")
			key, err := keyOfUID(asString(uidRaw))
			if err != nil {
				return nil, err
			}
			deg := 0
			if v, ok := rec.Get("degree"); ok {
				if i, ok := v.(int64); ok {
					deg = int(i)
				}
			}
			out[key] = deg
		}
		return nil, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j store: domain degrees: %w", err)
	}
	return out, nil
}

func (s *Neo4jStore) Counts(ctx context.Context, runID string) (int, int, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	nodes, edges := 0, 0
	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (e:Entity {run_id: $run_id})
RETURN count(e) AS n
`, map[string]any{"run_id": runID})
		if err != nil {
			return nil, err
		}
		if res.Next(ctx) {
			if v, ok := res.Record().Get("n"); ok {
				if i, ok := v.(int64); ok {
					nodes = int(i)
				}
			}
		}
		if err := res.Err(); err != nil {
			return nil, err
		}

		res, err = tx.Run(ctx, `
MATCH (:Entity)-[r]->(:Entity)
WHERE r.run_id = $run_id AND type(r) <> $rights_type
RETURN count(r) AS n
`, map[string]any{"run_id": runID, "rights_type": rightsRelType})
		if err != nil {
			return nil, err
		}
		if res.Next(ctx) {
			if v, ok := res.Record().Get("n"); ok {
				if i, ok := v.(int64); ok {
					edges = int(i)
				}
			}
		}
		return nil, res.Err()
	})
	if err != nil {
		return 0, 0, fmt.Errorf("neo4j store: counts: %w", err)
	}
	return nodes, edges, nil
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}
