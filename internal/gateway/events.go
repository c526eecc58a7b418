// ABOUTME: Periodic tick events broadcast to every authenticated connection.
// ABOUTME: Ticks double as a liveness signal for clients behind idle proxies.

package gateway

import (
	"context"
	"time"

	"github.com/2389/coven-relay/internal/wire"
)

// tickPayload is the tick event body.
type tickPayload struct {
	Time int64 `json:"time_ms"`
}

// tickLoop emits tick events at the configured interval until the run
// context is canceled.
func (g *Gateway) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(g.config.Gateway.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.broadcastTick()
		}
	}
}

// broadcastTick sends one tick to every authenticated connection.
// Unauthenticated connections get nothing but their challenge.
func (g *Gateway) broadcastTick() {
	raw, err := wire.NewEvent(wire.EventTick, tickPayload{Time: time.Now().UnixMilli()})
	if err != nil {
		g.logger.Error("encoding tick", "error", err)
		return
	}

	for _, conn := range g.connSnapshot() {
		if conn.Client() == nil {
			continue
		}
		if err := conn.WriteFrame(raw); err != nil {
			g.logger.Debug("tick delivery failed", "connection_id", conn.id, "error", err)
		}
	}
}
