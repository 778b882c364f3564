package server

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// keepaliveInterval is how often an SSE comment is written to hold idle
// connections open through proxies.
const keepaliveInterval = 30 * time.Second

// handleEvents streams status snapshots over server-sent events. The
// subscriber receives the full current snapshot first, then every broadcast
// push until the client goes away.
func (s *HubServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	subscriberID, updates := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(subscriberID)
	log.Ctx(r.Context()).Debug().Str("subscriber_id", subscriberID).Msg("event stream opened")

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Ctx(r.Context()).Debug().Str("subscriber_id", subscriberID).Msg("event stream closed")
			return

		case payload, open := <-updates:
			if !open {
				return
			}
			if _, err := w.Write(append(append([]byte("data: "), payload...), '\n', '\n')); err != nil {
				return
			}
			flusher.Flush()

		case <-keepalive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
