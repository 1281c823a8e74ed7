package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// handleTopCustomersStream pushes every leaderboard snapshot published after
// the client connects as a Server-Sent Event.
func (h *Handler) handleTopCustomersStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc := http.NewResponseController(w)

	snapshots, err := h.leaderboard.Subscribe(ctx)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Warn("Leaderboard stream: response cannot be flushed", zap.Error(err))
		return
	}

	h.logger.Info("Leaderboard stream: client connected", zap.String("request_id", RequestIDFromContext(ctx)))
	defer h.logger.Info("Leaderboard stream: client disconnected", zap.String("request_id", RequestIDFromContext(ctx)))

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case snapshot, ok := <-snapshots:
			if !ok {
				return
			}
			data, err := json.Marshal(snapshot)
			if err != nil {
				h.logger.Error("Leaderboard stream: failed to marshal snapshot", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: top-customers\ndata: %s\n\n", data); err != nil {
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
