package loadbus

import (
	"context"
	"log/slog"
	"time"
)

const publishTimeout = 5 * time.Second

// Sink adapts a Publisher to internal/chatserver.LoadSink, whose
// PublishDelta is synchronous and error-less (the session remove path
// and its callers are not request/response flows a caller can retry against) —
// publish failures are logged rather than surfaced.
type Sink struct {
	Pub    *Publisher
	Logger *slog.Logger
}

// PublishDelta reports a +1/-1 load change for serverID.
func (s Sink) PublishDelta(serverID string, delta int) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	var err error
	switch {
	case delta > 0:
		err = s.Pub.PublishIncrement(ctx, serverID)
	case delta < 0:
		err = s.Pub.PublishDecrement(ctx, serverID)
	default:
		return
	}
	if err != nil {
		s.Logger.Warn("loadbus: publish delta failed", "server_id", serverID, "delta", delta, "error", err)
	}
}
