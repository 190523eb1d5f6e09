package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// keepAliveInterval is how often an idle event stream receives an SSE
// comment so that proxies do not drop the connection.
const keepAliveInterval = 15 * time.Second

func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Subscribe before the existence check: a plan deleted after the check
	// closes this subscription, one deleted before it fails the check.
	ch, unsub := s.engine.Broker().Subscribe(id)
	defer unsub()

	if _, err := s.engine.GetPlan(r.Context(), id); err != nil {
		s.writeEngineError(w, err, "get plan for events")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	s.metrics.eventStreams.Inc()
	defer s.metrics.eventStreams.Dec()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "plan deleted")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("encode plan event", "plan_id", id, "error", err)
				continue
			}
			if err := writeSSEEvent(w, string(ev.Type), string(data)); err != nil {
				return // Write failed (e.g. client gone).
			}
			s.metrics.eventsSent.WithLabelValues(string(ev.Type)).Inc()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
		if canFlush {
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
// data must not contain newlines.
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
