package runtime

import (
	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/platform/dbctx"
	"github.com/archivolt/mnemos/internal/platform/logger"
)

// Context is what a stage handler executes against: the claimed job, the run
// it belongs to, a database context, and a run-scoped logger. Handlers return
// their metrics map; the executor owns persistence and status transitions.
type Context struct {
	DB  dbctx.Context
	Run *domain.PipelineRun
	Job *domain.StageJob
	Log *logger.Logger
}

// Handler implements one pipeline stage. Execute must be idempotent for its
// (run, stage) pair: the queue is at-least-once and the watchdog may dispatch
// a duplicate after a stall.
type Handler interface {
	Execute(rctx *Context) (map[string]any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(rctx *Context) (map[string]any, error)

func (f HandlerFunc) Execute(rctx *Context) (map[string]any, error) { return f(rctx) }
