package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"nanograph/internal/chat"
)

const heartbeatInterval = 25 * time.Second

type sseEvent struct {
	Type string
	Data any
}

// handleEvents streams conversation changes. The first event is a full state
// snapshot; afterwards message, busy and config events follow as they happen.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// The server WriteTimeout would otherwise cut long-lived streams.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	events, cancel := s.conv.Subscribe()
	defer cancel()

	if err := writeEvent(w, sseEvent{Type: "state", Data: s.state()}); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, fromChatEvent(ev)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func fromChatEvent(ev chat.Event) sseEvent {
	switch ev.Type {
	case chat.EventMessage:
		if ev.Message != nil {
			return sseEvent{Type: string(ev.Type), Data: toView(*ev.Message)}
		}
	case chat.EventBusy:
		return sseEvent{Type: string(ev.Type), Data: map[string]bool{"busy": ev.Busy}}
	}
	return sseEvent{Type: string(ev.Type), Data: ev.Config}
}

func writeEvent(w http.ResponseWriter, ev sseEvent) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
