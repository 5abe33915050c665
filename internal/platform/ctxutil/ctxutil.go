package ctxutil

import "context"

type traceKey struct{}

// TraceData carries cross-boundary correlation identifiers. It replaces any
// notion of ambient per-thread state: callers pass it explicitly through
// context at every boundary (orchestrator -> stage logic -> gateways).
type TraceData struct {
	TraceID   string
	RequestID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	if ctx == nil || td == nil {
		return ctx
	}
	return context.WithValue(ctx, traceKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	if ctx == nil {
		return nil
	}
	td, _ := ctx.Value(traceKey{}).(*TraceData)
	return td
}
