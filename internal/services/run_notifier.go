package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/archivolt/mnemos/internal/platform/logger"
	"github.com/archivolt/mnemos/internal/realtime/bus"
)

// RunNotifier fans run lifecycle events out over the bus. With no bus
// configured it degrades to logging, so callers never need a nil check
// beyond construction.
type RunNotifier struct {
	bus *bus.Bus
	log *logger.Logger
}

func NewRunNotifier(b *bus.Bus, baseLog *logger.Logger) *RunNotifier {
	return &RunNotifier{bus: b, log: baseLog.With("component", "RunNotifier")}
}

func (n *RunNotifier) RunEvent(ctx context.Context, runID uuid.UUID, event string, fields map[string]any) {
	if n.bus == nil {
		n.log.Debug("run event", "run_id", runID, "event", event)
		return
	}
	err := n.bus.Publish(ctx, bus.Event{
		RunID:  runID.String(),
		Event:  event,
		Fields: fields,
	})
	if err != nil {
		// Fanout is best effort; the pipeline never blocks on it.
		n.log.Warn("event publish failed", "run_id", runID, "event", event, "error", err)
	}
}
