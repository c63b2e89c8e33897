package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Strob0t/lspindex/internal/domain/event"
	"github.com/Strob0t/lspindex/internal/port/broadcast"
)

var _ broadcast.Broadcaster = (*Hub)(nil)

// writeTimeout bounds a broadcast so one stalled client cannot hold the
// index pipeline.
const writeTimeout = 5 * time.Second

// Broadcast sends ev as a JSON text frame to every subscribed client.
func (h *Hub) Broadcast(ctx context.Context, ev event.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("marshal ws event", "type", ev.Type, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	h.broadcast(ctx, ev.RunID, data)
}
