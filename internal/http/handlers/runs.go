package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/archivolt/mnemos/internal/data/repos"
	"github.com/archivolt/mnemos/internal/http/response"
	"github.com/archivolt/mnemos/internal/orchestrator"
	"github.com/archivolt/mnemos/internal/platform/apierr"
	"github.com/archivolt/mnemos/internal/platform/dbctx"
	"github.com/archivolt/mnemos/internal/platform/logger"
	"github.com/archivolt/mnemos/internal/realtime/bus"
)

// RunHandler serves the run lifecycle API.
type RunHandler struct {
	orch         *orchestrator.Orchestrator
	deliverables repos.DeliverableRepo
	bus          *bus.Bus
	log          *logger.Logger
}

func NewRunHandler(orch *orchestrator.Orchestrator, deliverables repos.DeliverableRepo,
	b *bus.Bus, baseLog *logger.Logger) *RunHandler {
	return &RunHandler{
		orch:         orch,
		deliverables: deliverables,
		bus:          b,
		log:          baseLog.With("handler", "Runs"),
	}
}

func (h *RunHandler) Mount(rg *gin.RouterGroup) {
	rg.POST("/runs", h.create)
	rg.GET("/runs/:id", h.get)
	rg.POST("/runs/:id/pause", h.pause)
	rg.POST("/runs/:id/resume", h.resume)
	rg.GET("/runs/:id/gates", h.gates)
	rg.GET("/runs/:id/deliverables", h.listDeliverables)
	rg.GET("/runs/:id/events", h.streamEvents)
	rg.GET("/knowledge-bases/:id/runs", h.listByKnowledgeBase)
}

type createRunRequest struct {
	OwnerID         uuid.UUID `json:"owner_id" binding:"required"`
	KnowledgeBaseID uuid.UUID `json:"knowledge_base_id" binding:"required"`
	MaxRetries      int       `json:"max_retries"`
	Sources         []struct {
		URI      string         `json:"uri" binding:"required"`
		Kind     string         `json:"kind"`
		Title    string         `json:"title"`
		Metadata map[string]any `json:"metadata"`
	} `json:"sources" binding:"required,min=1"`
}

func (h *RunHandler) create(c *gin.Context) {
	var req createRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, apierr.New(http.StatusBadRequest, "invalid_request", err))
		return
	}

	in := orchestrator.NewRunInput{
		OwnerID:         req.OwnerID,
		KnowledgeBaseID: req.KnowledgeBaseID,
		MaxRetries:      req.MaxRetries,
	}
	for _, s := range req.Sources {
		in.Sources = append(in.Sources, orchestrator.SourceInput{
			URI:      s.URI,
			Kind:     s.Kind,
			Title:    s.Title,
			Metadata: s.Metadata,
		})
	}

	run, err := h.orch.CreateRun(dbctx.New(c.Request.Context()), in)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, http.StatusCreated, run)
}

func (h *RunHandler) get(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		response.Fail(c, err)
		return
	}
	run, err := h.orch.Get(dbctx.New(c.Request.Context()), id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, http.StatusOK, run)
}

func (h *RunHandler) pause(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		response.Fail(c, err)
		return
	}
	run, err := h.orch.Pause(dbctx.New(c.Request.Context()), id)
	if err != nil {
		if errors.Is(err, orchestrator.ErrNotPausable) {
			response.Fail(c, apierr.New(http.StatusConflict, "not_pausable", err))
			return
		}
		response.Fail(c, err)
		return
	}
	response.OK(c, http.StatusOK, run)
}

func (h *RunHandler) resume(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		response.Fail(c, err)
		return
	}
	run, err := h.orch.Resume(dbctx.New(c.Request.Context()), id)
	if err != nil {
		if errors.Is(err, orchestrator.ErrNotResumable) {
			response.Fail(c, apierr.New(http.StatusConflict, "not_resumable", err))
			return
		}
		response.Fail(c, err)
		return
	}
	response.OK(c, http.StatusOK, run)
}

// gates returns the acceptance report recorded for the run, 404 until the
// watchdog has fired it.
func (h *RunHandler) gates(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		response.Fail(c, err)
		return
	}
	run, err := h.orch.Get(dbctx.New(c.Request.Context()), id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	if run.GatesRanAt == nil {
		response.FailStatus(c, http.StatusNotFound, "gates_pending", "gates have not run yet")
		return
	}

	var doc map[string]json.RawMessage
	if len(run.Metrics) > 0 {
		if err := json.Unmarshal(run.Metrics, &doc); err != nil {
			response.Fail(c, err)
			return
		}
	}
	report, ok := doc["gates"]
	if !ok {
		response.FailStatus(c, http.StatusNotFound, "gates_pending", "gates report missing")
		return
	}
	response.OK(c, http.StatusOK, gin.H{
		"ran_at": run.GatesRanAt,
		"passed": run.GatesPassed,
		"report": report,
	})
}

func (h *RunHandler) listDeliverables(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		response.Fail(c, err)
		return
	}
	arts, err := h.deliverables.ListByRun(dbctx.New(c.Request.Context()), id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, http.StatusOK, arts)
}

// streamEvents is an SSE stream of the run's lifecycle events.
func (h *RunHandler) streamEvents(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		response.Fail(c, err)
		return
	}
	if h.bus == nil {
		response.FailStatus(c, http.StatusServiceUnavailable, "no_event_bus", "event streaming is not configured")
		return
	}

	events, stop := h.bus.Subscribe(c.Request.Context(), id.String())
	defer stop()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(ev.Event, ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *RunHandler) listByKnowledgeBase(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		response.Fail(c, err)
		return
	}
	runs, err := h.orch.ListByKnowledgeBase(dbctx.New(c.Request.Context()), id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, http.StatusOK, runs)
}

func parseID(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apierr.New(http.StatusBadRequest, "invalid_id", fmt.Errorf("invalid id %q", c.Param("id")))
	}
	return id, nil
}
