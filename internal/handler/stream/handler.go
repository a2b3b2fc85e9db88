package stream

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	chatService "github.com/nyai-sathi/voice-chat/backend/internal/service/chat"
	"github.com/nyai-sathi/voice-chat/backend/pkg/utils"
)

const (
	defaultHeartbeat = 8 * time.Second
	eventBuffer      = 32
)

// Handler streams chat store changes to the client over Server-Sent Events so
// it can re-render after any mutation.
type Handler struct {
	store     *chatService.Store
	heartbeat time.Duration
}

// New creates a stream handler over store.
func New(store *chatService.Store) *Handler {
	return &Handler{store: store, heartbeat: defaultHeartbeat}
}

// RegisterRoutes mounts the event stream on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/events", h.handleEvents)
}

// SessionEvent is the payload of a "session" event.
type SessionEvent struct {
	Op              string `json:"op"`
	SessionID       string `json:"sessionId,omitempty"`
	MessageID       string `json:"messageId,omitempty"`
	ActiveSessionID string `json:"activeSessionId"`
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events := make(chan SessionEvent, eventBuffer)
	unsubscribe := h.store.Subscribe(func(ev chatService.ChangeEvent) {
		payload := SessionEvent{
			Op:              string(ev.Op),
			SessionID:       ev.SessionID,
			ActiveSessionID: h.store.ActiveID(),
		}
		if ev.Message != nil {
			payload.MessageID = ev.Message.ID
		}
		select {
		case events <- payload:
		default:
			log.Printf("[sse] dropping %s event for slow client", ev.Op)
		}
	})
	defer unsubscribe()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	log.Printf("[sse] client connected remote=%s", r.RemoteAddr)

	if err := utils.SendSSEChunk(w, flusher, map[string]any{
		"event":           "status",
		"message":         "stream established",
		"activeSessionId": h.store.ActiveID(),
	}); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[sse] client disconnected remote=%s", r.RemoteAddr)
			return
		case ev := <-events:
			if err := utils.SendSSEEvent(w, flusher, "session", ev); err != nil {
				log.Printf("[sse] write failed: %v", err)
				return
			}
		case t := <-ticker.C:
			if err := utils.SendSSEChunk(w, flusher, map[string]any{
				"event": "heartbeat",
				"time":  t.UTC().Format(time.RFC3339),
			}); err != nil {
				return
			}
		}
	}
}
