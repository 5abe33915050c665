package assembler

import (
	"time"

	"github.com/google/uuid"

	"github.com/archivolt/mnemos/internal/data/graph"
	"github.com/archivolt/mnemos/internal/data/repos"
	"github.com/archivolt/mnemos/internal/glossary"
	"github.com/archivolt/mnemos/internal/platform/dbctx"
	"github.com/archivolt/mnemos/internal/platform/envutil"
	"github.com/archivolt/mnemos/internal/platform/logger"
)

// Config tunes assembly. MinEdgeConfidence is the floor below which resolved
// relations are dropped with a warning; OrphanWindow protects nodes created
// recently from the orphan sweep, since their edges may still be loading.
type Config struct {
	MinEdgeConfidence float64
	OrphanWindow      time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		MinEdgeConfidence: envutil.Float("GLOSSARY_MIN_CONFIDENCE", 0.5),
		OrphanWindow:      envutil.Duration("ORPHAN_RECENCY_WINDOW", 15*time.Minute),
	}
}

// Result aggregates what each sub-stage did. Counts feed the run's stage
// metrics; Warnings carry alias mappings and dropped relations.
type Result struct {
	NodesLoaded     int
	NodesExcluded   int
	EdgesLoaded     int
	EdgesDropped    int
	ReverseEdges    int
	Merges          int
	OrphansRemoved  int
	OrphansRetained int
	Warnings        []string
	Integrity       *IntegrityReport
}

func (r *Result) Metrics() map[string]any {
	m := map[string]any{
		"nodes_loaded":     r.NodesLoaded,
		"nodes_excluded":   r.NodesExcluded,
		"edges_loaded":     r.EdgesLoaded,
		"edges_dropped":    r.EdgesDropped,
		"reverse_edges":    r.ReverseEdges,
		"merges":           r.Merges,
		"orphans_removed":  r.OrphansRemoved,
		"orphans_retained": r.OrphansRetained,
		"warnings":         len(r.Warnings),
	}
	if r.Integrity != nil {
		m["integrity_passed"] = r.Integrity.Passed
		m["integrity_violations"] = r.Integrity.Violations()
	}
	return m
}

// Assembler drives the graph stage: schema setup, node load, edge load,
// dedup, orphan sweep, integrity verification. Every sub-stage is idempotent,
// so a crashed assembly can rerun from the top and converge.
type Assembler struct {
	store  graph.Store
	staged repos.StagedRepo
	gloss  *glossary.Glossary
	cfg    Config
	log    *logger.Logger
	now    func() time.Time
}

func New(store graph.Store, staged repos.StagedRepo, gloss *glossary.Glossary, cfg Config, baseLog *logger.Logger) *Assembler {
	if cfg.MinEdgeConfidence <= 0 {
		cfg.MinEdgeConfidence = 0.5
	}
	if cfg.OrphanWindow <= 0 {
		cfg.OrphanWindow = 15 * time.Minute
	}
	return &Assembler{
		store:  store,
		staged: staged,
		gloss:  gloss,
		cfg:    cfg,
		log:    baseLog.With("component", "GraphAssembler"),
		now:    time.Now,
	}
}

// SetClock overrides the assembler's clock; orphan-window tests use it.
func (a *Assembler) SetClock(fn func() time.Time) {
	if fn != nil {
		a.now = fn
	}
}

// Assemble runs the full sub-stage sequence for one run.
func (a *Assembler) Assemble(ctx dbctx.Context, runID uuid.UUID) (*Result, error) {
	res := &Result{}

	if err := a.store.EnsureSchema(ctx.Ctx); err != nil {
		return nil, err
	}

	loaded, err := a.loadNodes(ctx, runID, res)
	if err != nil {
		return nil, err
	}
	if err := a.loadEdges(ctx, runID, loaded, res); err != nil {
		return nil, err
	}
	if err := a.deduplicate(ctx, runID, res); err != nil {
		return nil, err
	}
	if err := a.removeOrphans(ctx, runID, res); err != nil {
		return nil, err
	}

	report, err := a.verify(ctx, runID)
	if err != nil {
		return nil, err
	}
	res.Integrity = report

	a.log.Info("assembly finished",
		"run_id", runID,
		"nodes", res.NodesLoaded, "excluded", res.NodesExcluded,
		"edges", res.EdgesLoaded, "dropped", res.EdgesDropped,
		"merges", res.Merges, "orphans_removed", res.OrphansRemoved,
		"integrity_passed", report.Passed)
	return res, nil
}
