// Package voice bridges a browser's speech engines to the voice assistant
// dialog over a WebSocket. The browser synthesizes, recognizes and owns the
// microphone; the dialog state machine runs on the server.
package voice

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/nyai-sathi/voice-chat/backend/internal/config"
	chatService "github.com/nyai-sathi/voice-chat/backend/internal/service/chat"
	voiceService "github.com/nyai-sathi/voice-chat/backend/internal/service/voice"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Handler upgrades voice bridge connections.
type Handler struct {
	chatSvc  *chatService.Service
	cfg      config.VoiceConfig
	clock    voiceService.Clock
	upgrader websocket.Upgrader
}

// New creates a bridge handler for chatSvc.
func New(chatSvc *chatService.Service, cfg config.VoiceConfig) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		cfg:     cfg,
		clock:   voiceService.RealClock(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the bridge endpoint on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/voice/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := newConnection(ctx, h, conn, r.UserAgent())
	defer c.close()
	// Pending microphone requests give up before the dialog is closed.
	defer cancel()

	log.Printf("[websocket] voice bridge connected remote=%s", r.RemoteAddr)

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go h.pingLoop(ctx, conn)

	c.send("connected", map[string]any{
		"activeSessionId": h.chatSvc.ActiveSessionID(),
		"mode":            c.currentMode(),
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		c.handleMessage(&msg)
	}
}

func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
