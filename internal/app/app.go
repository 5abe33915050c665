package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/archivolt/mnemos/internal/assembler"
	"github.com/archivolt/mnemos/internal/data/db"
	"github.com/archivolt/mnemos/internal/data/graph"
	"github.com/archivolt/mnemos/internal/data/repos"
	"github.com/archivolt/mnemos/internal/gates"
	"github.com/archivolt/mnemos/internal/gateways"
	"github.com/archivolt/mnemos/internal/glossary"
	mnemoshttp "github.com/archivolt/mnemos/internal/http"
	"github.com/archivolt/mnemos/internal/http/handlers"
	"github.com/archivolt/mnemos/internal/jobs/executor"
	"github.com/archivolt/mnemos/internal/jobs/runtime"
	"github.com/archivolt/mnemos/internal/jobs/stages"
	"github.com/archivolt/mnemos/internal/jobs/watchdog"
	"github.com/archivolt/mnemos/internal/jobs/worker"
	"github.com/archivolt/mnemos/internal/observability"
	"github.com/archivolt/mnemos/internal/orchestrator"
	"github.com/archivolt/mnemos/internal/platform/envutil"
	"github.com/archivolt/mnemos/internal/platform/logger"
	"github.com/archivolt/mnemos/internal/platform/neo4jdb"
	"github.com/archivolt/mnemos/internal/realtime/bus"
	"github.com/archivolt/mnemos/internal/rights"
	"github.com/archivolt/mnemos/internal/services"
)

// App wires the whole engine: relational store, graph store, job runtime,
// watchdog, and the HTTP surface.
type App struct {
	Log    *logger.Logger
	DB     *gorm.DB
	Router *gin.Engine

	Orchestrator *orchestrator.Orchestrator
	Metrics      *observability.Metrics

	pool     *worker.Pool
	dog      *watchdog.Watchdog
	bus      *bus.Bus
	neo      *neo4jdb.Client
	dbSvc    *db.Service
	shutdown func(context.Context) error
	cancel   context.CancelFunc
}

func New(ctx context.Context) (*App, error) {
	log, err := logger.New(envutil.Str("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	shutdownTracing, err := observability.InitTracing(ctx, "mnemos", log)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	metrics := observability.NewMetrics()

	dbSvc, err := db.NewService(log)
	if err != nil {
		return nil, err
	}
	if err := dbSvc.AutoMigrateAll(); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	conn := dbSvc.DB()

	runsRepo := repos.NewPipelineRunRepo(conn, log)
	jobsRepo := repos.NewStageJobRepo(conn, log)
	rightsRepo := repos.NewRightsRecordRepo(conn, log)
	sourcesRepo := repos.NewSourceItemRepo(conn, log)
	unitsRepo := repos.NewContentUnitRepo(conn, log)
	lexiconRepo := repos.NewLexiconRepo(conn, log)
	stagedRepo := repos.NewStagedRepo(conn, log)
	embeddingsRepo := repos.NewEmbeddingRepo(conn, log)
	deliverablesRepo := repos.NewDeliverableRepo(conn, log)

	gloss, err := glossary.Load()
	if err != nil {
		return nil, fmt.Errorf("load glossary: %w", err)
	}

	// Graph store: Neo4j when configured, in-memory otherwise.
	var store graph.Store
	neoClient, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		return nil, err
	}
	if neoClient != nil {
		neoStore, err := graph.NewNeo4jStore(neoClient, log)
		if err != nil {
			return nil, err
		}
		store = neoStore
	} else {
		log.Warn("NEO4J_URI unset, using in-memory graph store")
		store = graph.NewMemoryStore()
	}

	eventBus, err := bus.NewFromEnv(ctx, log)
	if err != nil {
		return nil, err
	}
	notifier := services.NewRunNotifier(eventBus, log)

	extractor, err := gateways.NewExtractorFromEnv(log)
	if err != nil {
		return nil, err
	}
	if extractor == nil {
		log.Warn("EXTRACTION_SERVICE_URL unset, using heuristic extractor")
		extractor = gateways.NewHeuristicExtractor(log)
	}

	asm := assembler.New(store, stagedRepo, gloss, assembler.ConfigFromEnv(), log)

	registry := runtime.NewRegistry()
	stageSet := stages.New(stages.Deps{
		Sources:      sourcesRepo,
		Units:        unitsRepo,
		Lexicon:      lexiconRepo,
		Staged:       stagedRepo,
		Embeddings:   embeddingsRepo,
		Deliverables: deliverablesRepo,
		Rights:       rights.NewRegistry(rightsRepo, log),
		Inferrer:     gateways.NewRightsInferrerFromEnv(log),
		Extractor:    extractor,
		Embedder:     gateways.NewEmbedderFromEnv(log),
		Assembler:    asm,
		Graph:        store,
		Glossary:     gloss,
		Log:          log,
	})
	if err := stageSet.Register(registry); err != nil {
		return nil, fmt.Errorf("register stages: %w", err)
	}

	exec := executor.New(runsRepo, jobsRepo, registry, executor.BackoffFromEnv(), notifier, metrics, log)
	pool := worker.NewPool(exec, jobsRepo, log)

	gatesRunner := gates.NewRunner(unitsRepo, stagedRepo, deliverablesRepo, store, gloss, log)
	dog := watchdog.New(runsRepo, jobsRepo, gatesRunner, notifier, metrics, log)

	orch := orchestrator.New(runsRepo, jobsRepo, sourcesRepo, notifier, log)

	runHandler := handlers.NewRunHandler(orch, deliverablesRepo, eventBus, log)
	router := mnemoshttp.NewRouter(runHandler, metrics, log)

	return &App{
		Log:          log,
		DB:           conn,
		Router:       router,
		Orchestrator: orch,
		Metrics:      metrics,
		pool:         pool,
		dog:          dog,
		bus:          eventBus,
		neo:          neoClient,
		dbSvc:        dbSvc,
		shutdown:     shutdownTracing,
	}, nil
}

// Start launches the worker pool and the watchdog.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go func() {
		if err := a.pool.Run(ctx); err != nil && ctx.Err() == nil {
			a.Log.Error("worker pool stopped", "error", err)
		}
	}()
	go func() {
		if err := a.dog.Run(ctx); err != nil && ctx.Err() == nil {
			a.Log.Error("watchdog stopped", "error", err)
		}
	}()
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.bus != nil {
		_ = a.bus.Close()
	}
	if a.neo != nil {
		_ = a.neo.Close(ctx)
	}
	if a.dbSvc != nil {
		_ = a.dbSvc.Close()
	}
	if a.shutdown != nil {
		_ = a.shutdown(ctx)
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
