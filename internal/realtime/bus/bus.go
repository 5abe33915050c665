package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/archivolt/mnemos/internal/platform/envutil"
	"github.com/archivolt/mnemos/internal/platform/logger"
)

// Event is one run lifecycle message on the bus.
type Event struct {
	RunID  string         `json:"run_id"`
	Event  string         `json:"event"`
	Fields map[string]any `json:"fields,omitempty"`
	At     time.Time      `json:"at"`
}

// Bus is a Redis pub/sub fanout for run events. One channel per run, so a
// client watching a run subscribes to exactly its stream.
type Bus struct {
	client *redis.Client
	log    *logger.Logger
}

// NewFromEnv connects when REDIS_ADDR is set; otherwise returns (nil, nil)
// and callers run without realtime fanout.
func NewFromEnv(ctx context.Context, baseLog *logger.Logger) (*Bus, error) {
	addr := envutil.Str("REDIS_ADDR", "")
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: envutil.Str("REDIS_PASSWORD", ""),
		DB:       envutil.Int("REDIS_DB", 0),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Bus{client: client, log: baseLog.With("component", "RunEventBus")}, nil
}

func channelFor(runID string) string { return "runs:" + runID + ":events" }

func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.client.Publish(ctx, channelFor(ev.RunID), raw).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe streams a run's events until the context ends. The returned stop
// function closes the subscription and the channel.
func (b *Bus) Subscribe(ctx context.Context, runID string) (<-chan Event, func()) {
	sub := b.client.Subscribe(ctx, channelFor(runID))
	out := make(chan Event, 16)

	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Warn("dropping malformed event", "run_id", runID, "error", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() { _ = sub.Close() }
}

func (b *Bus) Close() error { return b.client.Close() }
