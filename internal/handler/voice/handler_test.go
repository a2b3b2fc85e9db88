package voice

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/nyai-sathi/voice-chat/backend/internal/config"
	"github.com/nyai-sathi/voice-chat/backend/internal/model/chat"
	"github.com/nyai-sathi/voice-chat/backend/internal/model/query"
	"github.com/nyai-sathi/voice-chat/backend/internal/model/speech"
	chatService "github.com/nyai-sathi/voice-chat/backend/internal/service/chat"
	voiceService "github.com/nyai-sathi/voice-chat/backend/internal/service/voice"
	"github.com/nyai-sathi/voice-chat/backend/internal/storage"
)

const desktopAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36"

type stubGateway struct {
	mu       sync.Mutex
	answer   string
	lastText string
	lastMode query.Mode
}

func (g *stubGateway) Query(_ context.Context, text string, mode query.Mode, _ []chat.Message) (query.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastText = text
	g.lastMode = mode
	return query.Response{Answer: g.answer}, nil
}

func (g *stubGateway) last() (string, query.Mode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastText, g.lastMode
}

type bridgeClient struct {
	t    *testing.T
	conn *websocket.Conn
}

type received struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func durationPtr(d time.Duration) *time.Duration { return &d }

func setupBridge(t *testing.T, gateway *stubGateway) (*bridgeClient, *chatService.Service) {
	t.Helper()

	store := chatService.NewStore(storage.NewMemoryStorage())
	chatSvc := chatService.NewService(store, gateway, chatService.Options{})
	handler := New(chatSvc, config.VoiceConfig{
		Enabled:    true,
		Pitch:      1,
		Debounce:   durationPtr(50 * time.Millisecond),
		Watchdog:   durationPtr(10 * time.Second),
		CloseDelay: durationPtr(50 * time.Millisecond),
	})

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/voice/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	client := &bridgeClient{t: t, conn: conn}
	client.expect("connected")
	return client, chatSvc
}

func (b *bridgeClient) send(msgType string, data any) {
	b.t.Helper()
	payload := map[string]any{"type": msgType}
	if data != nil {
		payload["data"] = data
	}
	if err := b.conn.WriteJSON(payload); err != nil {
		b.t.Fatalf("send %s failed: %v", msgType, err)
	}
}

// expect reads until a message of msgType arrives, skipping others.
func (b *bridgeClient) expect(msgType string) json.RawMessage {
	b.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		b.conn.SetReadDeadline(deadline)
		var msg received
		if err := b.conn.ReadJSON(&msg); err != nil {
			b.t.Fatalf("waiting for %s: %v", msgType, err)
		}
		if msg.Type == msgType {
			return msg.Data
		}
	}
}

func (b *bridgeClient) expectState(state voiceService.State) voiceService.Snapshot {
	b.t.Helper()
	for {
		var snap voiceService.Snapshot
		if err := json.Unmarshal(b.expect("state"), &snap); err != nil {
			b.t.Fatalf("decode state: %v", err)
		}
		if snap.State == state {
			return snap
		}
	}
}

func (b *bridgeClient) expectSpeak(text string) speech.Utterance {
	b.t.Helper()
	for {
		var u speech.Utterance
		if err := json.Unmarshal(b.expect("speak"), &u); err != nil {
			b.t.Fatalf("decode utterance: %v", err)
		}
		if u.Text == text {
			return u
		}
	}
}

func (b *bridgeClient) expectError(message string) {
	b.t.Helper()
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(b.expect("error"), &payload); err != nil {
		b.t.Fatalf("decode error: %v", err)
	}
	if payload.Message != message {
		b.t.Fatalf("expected error %q, got %q", message, payload.Message)
	}
}

func (b *bridgeClient) hello(supported bool) {
	b.t.Helper()
	b.send("hello", map[string]any{
		"userAgent":       desktopAgent,
		"speechSupported": supported,
		"voices":          []speech.Voice{{Name: "Local English", Lang: "en-IN", LocalService: true}},
	})
	b.expect("ready")
}

func TestVoiceDialogRoundTrip(t *testing.T) {
	gateway := &stubGateway{answer: "Bail is governed by Chapter XXXV of the BNSS."}
	client, chatSvc := setupBridge(t, gateway)

	client.hello(true)
	client.send("mode", map[string]string{"mode": "judgements"})
	client.expect("mode")

	client.send("open", nil)
	client.expect("request_microphone")
	client.send("permission", map[string]bool{"granted": true})

	greeting := client.expectSpeak(voiceService.GreetingText)
	if greeting.Lang != "en-IN" {
		t.Fatalf("expected en-IN greeting, got %s", greeting.Lang)
	}
	client.send("speech_end", map[string]string{"id": greeting.ID})

	var opts speech.CaptureOptions
	if err := json.Unmarshal(client.expect("start_listening"), &opts); err != nil {
		t.Fatalf("decode capture options: %v", err)
	}
	if !opts.Continuous {
		t.Fatalf("expected continuous capture for desktop clients")
	}

	client.send("transcript", map[string]string{"text": "What is bail?"})
	client.expect("stop_listening")

	confirmation := client.expectSpeak(voiceService.ConfirmationText)
	client.send("speech_end", map[string]string{"id": confirmation.ID})
	client.expectState(voiceService.StateClosed)

	text, mode := gateway.last()
	if text != "What is bail?" {
		t.Fatalf("unexpected query text %q", text)
	}
	if mode != query.ModeJudgements {
		t.Fatalf("expected judgements mode, got %s", mode)
	}

	session, err := chatSvc.Session(chatSvc.ActiveSessionID())
	if err != nil {
		t.Fatalf("active session missing: %v", err)
	}
	if len(session.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(session.Messages))
	}
	if session.Messages[1].Text != gateway.answer {
		t.Fatalf("unexpected reply %q", session.Messages[1].Text)
	}
}

func TestVoiceDialogPermissionDenied(t *testing.T) {
	client, _ := setupBridge(t, &stubGateway{answer: "ok"})

	client.hello(true)
	client.send("open", nil)
	client.expect("request_microphone")
	client.send("permission", map[string]bool{"granted": false})

	client.expectState(voiceService.StatePermissionDenied)

	client.send("close", nil)
	client.expectState(voiceService.StateClosed)
}

func TestVoiceDialogUnsupportedClient(t *testing.T) {
	client, _ := setupBridge(t, &stubGateway{answer: "ok"})

	client.hello(false)
	client.send("open", nil)

	snap := client.expectState(voiceService.StateUnsupported)
	if snap.Text != voiceService.UnsupportedText {
		t.Fatalf("unexpected text %q", snap.Text)
	}
}

func TestReadAloud(t *testing.T) {
	gateway := &stubGateway{answer: "Section 480 covers bail in non-bailable offences."}
	client, chatSvc := setupBridge(t, gateway)

	session := chatSvc.CreateSession(context.Background())
	reply, err := chatSvc.SendUserMessage(context.Background(), session.ID, "Bail?", "Bail?", query.ModeLaws)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	client.hello(true)
	client.send("read_aloud", map[string]string{"messageId": reply.Assistant.ID})
	u := client.expectSpeak(gateway.answer)
	client.send("speech_end", map[string]string{"id": u.ID})

	var done struct {
		MessageID string `json:"messageId"`
	}
	if err := json.Unmarshal(client.expect("reading_done"), &done); err != nil {
		t.Fatalf("decode reading_done: %v", err)
	}
	if done.MessageID != reply.Assistant.ID {
		t.Fatalf("unexpected message id %q", done.MessageID)
	}

	client.send("read_aloud", map[string]string{"messageId": "missing"})
	client.expectError("message not found")
}

func TestBridgeRejectsInvalidMessages(t *testing.T) {
	client, _ := setupBridge(t, &stubGateway{answer: "ok"})

	client.send("mode", map[string]string{"mode": "statutes"})
	client.expectError(query.ErrInvalidMode.Error())

	client.send("toggle_mic", nil)
	client.expectError("voice dialog is not open")

	client.send("dance", nil)
	client.expectError("unsupported message type: dance")

	client.send("transcript", nil)
	client.expectError("missing transcript payload")
}
