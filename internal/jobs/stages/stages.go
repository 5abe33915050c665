package stages

import (
	"github.com/archivolt/mnemos/internal/assembler"
	"github.com/archivolt/mnemos/internal/data/graph"
	"github.com/archivolt/mnemos/internal/data/repos"
	"github.com/archivolt/mnemos/internal/gateways"
	"github.com/archivolt/mnemos/internal/glossary"
	"github.com/archivolt/mnemos/internal/jobs/runtime"
	"github.com/archivolt/mnemos/internal/platform/logger"
	"github.com/archivolt/mnemos/internal/rights"

	"github.com/archivolt/mnemos/internal/domain"
)

// Deps is everything the stage handlers share. One Stages value serves all
// runs; per-run state lives in the runtime context.
type Deps struct {
	Sources      repos.SourceItemRepo
	Units        repos.ContentUnitRepo
	Lexicon      repos.LexiconRepo
	Staged       repos.StagedRepo
	Embeddings   repos.EmbeddingRepo
	Deliverables repos.DeliverableRepo

	Rights    *rights.Registry
	Inferrer  gateways.RightsInferrer
	Extractor gateways.Extractor
	Embedder  gateways.Embedder

	Assembler *assembler.Assembler
	Graph     graph.Store
	Glossary  *glossary.Glossary
	Log       *logger.Logger
}

type Stages struct {
	deps Deps
	log  *logger.Logger
}

func New(deps Deps) *Stages {
	return &Stages{deps: deps, log: deps.Log.With("component", "Stages")}
}

// Register binds every pipeline stage to its handler.
func (s *Stages) Register(reg *runtime.Registry) error {
	for stage, h := range map[string]runtime.HandlerFunc{
		domain.StageIntake:       s.intake,
		domain.StageRights:       s.rights,
		domain.StageLexicon:      s.lexicon,
		domain.StagePools:        s.pools,
		domain.StageGraph:        s.graph,
		domain.StageEmbeddings:   s.embeddings,
		domain.StageLiteracy:     s.literacy,
		domain.StageDeliverables: s.deliverables,
	} {
		if err := reg.Register(stage, h); err != nil {
			return err
		}
	}
	return nil
}
