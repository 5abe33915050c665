package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/archivolt/mnemos/internal/data/repos"
	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/platform/dbctx"
	"github.com/archivolt/mnemos/internal/platform/envutil"
	"github.com/archivolt/mnemos/internal/platform/logger"
)

var (
	ErrNotPausable  = errors.New("run is not in a pausable status")
	ErrNotResumable = errors.New("run is not in a resumable status")
)

// Notifier publishes run lifecycle events. Nil-safe.
type Notifier interface {
	RunEvent(ctx context.Context, runID uuid.UUID, event string, fields map[string]any)
}

// NewRunInput describes one ingestion request.
type NewRunInput struct {
	OwnerID         uuid.UUID
	KnowledgeBaseID uuid.UUID
	MaxRetries      int
	Sources         []SourceInput
}

type SourceInput struct {
	URI      string
	Kind     string
	Title    string
	Metadata map[string]any
}

// Orchestrator owns run lifecycle operations an operator or API can invoke:
// create, pause, resume. Execution itself belongs to the workers.
type Orchestrator struct {
	runs     repos.PipelineRunRepo
	jobs     repos.StageJobRepo
	sources  repos.SourceItemRepo
	notifier Notifier
	log      *logger.Logger
}

func New(runs repos.PipelineRunRepo, jobs repos.StageJobRepo, sources repos.SourceItemRepo,
	notifier Notifier, baseLog *logger.Logger) *Orchestrator {
	return &Orchestrator{
		runs:     runs,
		jobs:     jobs,
		sources:  sources,
		notifier: notifier,
		log:      baseLog.With("component", "Orchestrator"),
	}
}

// CreateRun registers the run, persists its source items, and enqueues the
// first stage.
func (o *Orchestrator) CreateRun(ctx dbctx.Context, in NewRunInput) (*domain.PipelineRun, error) {
	if len(in.Sources) == 0 {
		return nil, fmt.Errorf("create run: at least one source required")
	}
	if in.MaxRetries <= 0 {
		in.MaxRetries = envutil.Int("RUN_MAX_RETRIES", 3)
	}

	run := &domain.PipelineRun{
		ID:              uuid.New(),
		OwnerID:         in.OwnerID,
		KnowledgeBaseID: in.KnowledgeBaseID,
		Stage:           domain.FirstStage(),
		Status:          domain.RunPending,
		MaxRetries:      in.MaxRetries,
		SourceItemCount: len(in.Sources),
	}
	if err := o.runs.Create(ctx, run); err != nil {
		return nil, err
	}

	items := make([]domain.SourceItem, 0, len(in.Sources))
	for _, s := range in.Sources {
		var meta datatypes.JSON
		if len(s.Metadata) > 0 {
			raw, err := json.Marshal(s.Metadata)
			if err != nil {
				return nil, fmt.Errorf("encode source metadata: %w", err)
			}
			meta = datatypes.JSON(raw)
		}
		items = append(items, domain.SourceItem{
			RunID:    run.ID,
			URI:      s.URI,
			Kind:     s.Kind,
			Title:    s.Title,
			Metadata: meta,
		})
	}
	if err := o.sources.CreateBatch(ctx, items); err != nil {
		return nil, err
	}

	if _, err := o.jobs.Enqueue(ctx, run.ID, run.Stage); err != nil {
		return nil, err
	}

	o.log.Info("run created", "run_id", run.ID, "kb_id", run.KnowledgeBaseID, "sources", len(items))
	o.notify(ctx.Ctx, run.ID, "run_created", map[string]any{"stage": run.Stage, "sources": len(items)})
	return run, nil
}

// Pause stops a run between stage executions. Only pending and retrying runs
// pause cleanly; a running stage finishes first, and terminal runs cannot
// pause at all.
func (o *Orchestrator) Pause(ctx dbctx.Context, runID uuid.UUID) (*domain.PipelineRun, error) {
	for _, from := range []string{domain.RunPending, domain.RunRetrying, domain.RunRunning} {
		err := o.runs.TransitionStatus(ctx, runID, from, domain.RunPaused, nil)
		if err == nil {
			o.log.Info("run paused", "run_id", runID, "was", from)
			o.notify(ctx.Ctx, runID, "run_paused", nil)
			return o.runs.GetByID(ctx, runID)
		}
		if !errors.Is(err, repos.ErrStaleTransition) {
			return nil, err
		}
	}
	run, err := o.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("pause run %s in status %q: %w", runID, run.Status, ErrNotPausable)
}

// Resume returns a paused or failed run to the queue at its current stage.
// Failed runs get their retry budget back; a manual resume is an operator
// decision, not an automatic retry.
func (o *Orchestrator) Resume(ctx dbctx.Context, runID uuid.UUID) (*domain.PipelineRun, error) {
	run, err := o.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	switch run.Status {
	case domain.RunPaused, domain.RunFailed:
	default:
		return nil, fmt.Errorf("resume run %s in status %q: %w", runID, run.Status, ErrNotResumable)
	}

	updates := map[string]any{"error": ""}
	if run.Status == domain.RunFailed {
		updates["retry_count"] = 0
		updates["failure_terminal"] = false
	}
	if err := o.runs.TransitionStatus(ctx, runID, run.Status, domain.RunPending, updates); err != nil {
		return nil, err
	}

	state, err := o.jobs.ClaimStatus(ctx, runID, run.Stage)
	if err != nil {
		return nil, err
	}
	if state == repos.ClaimStateNone {
		if _, err := o.jobs.Enqueue(ctx, runID, run.Stage); err != nil {
			return nil, err
		}
	}

	o.log.Info("run resumed", "run_id", runID, "stage", run.Stage, "was", run.Status)
	o.notify(ctx.Ctx, runID, "run_resumed", map[string]any{"stage": run.Stage, "by": "operator"})
	return o.runs.GetByID(ctx, runID)
}

// Get returns the run.
func (o *Orchestrator) Get(ctx dbctx.Context, runID uuid.UUID) (*domain.PipelineRun, error) {
	return o.runs.GetByID(ctx, runID)
}

// ListByKnowledgeBase returns a knowledge base's runs, newest first.
func (o *Orchestrator) ListByKnowledgeBase(ctx dbctx.Context, kbID uuid.UUID) ([]domain.PipelineRun, error) {
	return o.runs.ListByKnowledgeBase(ctx, kbID)
}

func (o *Orchestrator) notify(ctx context.Context, runID uuid.UUID, event string, fields map[string]any) {
	if o.notifier == nil {
		return
	}
	o.notifier.RunEvent(ctx, runID, event, fields)
}
