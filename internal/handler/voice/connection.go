package voice

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nyai-sathi/voice-chat/backend/internal/model/chat"
	"github.com/nyai-sathi/voice-chat/backend/internal/model/query"
	"github.com/nyai-sathi/voice-chat/backend/internal/model/speech"
	chatService "github.com/nyai-sathi/voice-chat/backend/internal/service/chat"
	speechsvc "github.com/nyai-sathi/voice-chat/backend/internal/service/speech"
	voiceService "github.com/nyai-sathi/voice-chat/backend/internal/service/voice"
)

type helloMessage struct {
	UserAgent       string         `json:"userAgent"`
	SpeechSupported *bool          `json:"speechSupported,omitempty"`
	Voices          []speech.Voice `json:"voices"`
}

type speechEndMessage struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

type permissionMessage struct {
	Granted bool `json:"granted"`
}

type textMessage struct {
	Text string `json:"text"`
}

type recognitionErrorMessage struct {
	Error string `json:"error"`
}

type readAloudMessage struct {
	MessageID string `json:"messageId"`
}

type modeMessage struct {
	Mode string `json:"mode"`
}

type visualizerMessage struct {
	Active bool `json:"active"`
}

// connection is the server side of one browser bridge. The browser acts as
// the speech output, speech input and microphone of at most one dialog.
type connection struct {
	h    *Handler
	conn *websocket.Conn
	ctx  context.Context

	writeMu sync.Mutex

	output      *remoteOutput
	input       *remoteInput
	mic         *speechsvc.SharedMicrophone
	reader      *speechsvc.Synthesizer
	unsubscribe func()

	mu                sync.Mutex
	userAgent         string
	mode              query.Mode
	dialog            *voiceService.Dialog
	visualizerWanted  bool
	visualizerHeld    bool
	visualizerPending bool
}

func newConnection(ctx context.Context, h *Handler, conn *websocket.Conn, userAgent string) *connection {
	c := &connection{
		h:         h,
		conn:      conn,
		ctx:       ctx,
		userAgent: userAgent,
		mode:      query.ModeLaws,
	}
	c.output = newRemoteOutput(c)
	c.input = newRemoteInput(c)
	c.mic = speechsvc.NewSharedMicrophone(c.input)
	c.reader = speechsvc.NewSynthesizer(c.output, speechsvc.SynthesizerOptions{
		ChunkWords: c.profile().ChunkWords,
		Pitch:      h.cfg.Pitch,
	})
	c.unsubscribe = h.chatSvc.Store().Subscribe(c.onStoreChange)
	return c
}

func (c *connection) profile() speech.RecognitionProfile {
	c.mu.Lock()
	userAgent := c.userAgent
	c.mu.Unlock()
	return c.h.cfg.Apply(speech.SelectProfile(userAgent))
}

func (c *connection) currentMode() query.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// activeDialog returns the open dialog, or nil once it has shut down.
func (c *connection) activeDialog() *voiceService.Dialog {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dialog != nil && c.dialog.State() == voiceService.StateClosed {
		c.dialog = nil
	}
	return c.dialog
}

func (c *connection) send(msgType string, data interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := c.conn.WriteJSON(outgoingMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		log.Printf("[websocket] write %s failed: %v", msgType, err)
	}
	return err
}

func (c *connection) sendError(message string) {
	c.send("error", map[string]string{"message": message})
}

func (c *connection) handleMessage(msg *inboundMessage) {
	switch msg.Type {
	case "hello":
		var payload helloMessage
		if !c.decode(msg, &payload) {
			return
		}
		c.handleHello(payload)
	case "open":
		c.openDialog()
	case "close":
		if d := c.activeDialog(); d != nil {
			d.Close()
		}
	case "speech_end", "speech_error":
		var payload speechEndMessage
		if !c.decode(msg, &payload) {
			return
		}
		var err error
		if msg.Type == "speech_error" {
			err = errors.New("synthesis error: " + payload.Error)
		}
		c.output.finish(payload.ID, err)
	case "permission":
		var payload permissionMessage
		if !c.decode(msg, &payload) {
			return
		}
		c.input.answerPermission(payload.Granted)
	case "transcript":
		var payload textMessage
		if !c.decode(msg, &payload) {
			return
		}
		c.input.transcript(payload.Text)
	case "recognition_end":
		c.input.ended()
	case "recognition_error":
		var payload recognitionErrorMessage
		if !c.decode(msg, &payload) {
			return
		}
		c.input.failed(payload.Error)
	case "toggle_mic":
		c.withDialog(func(d *voiceService.Dialog) { d.ToggleMic() })
	case "manual_text":
		var payload textMessage
		if !c.decode(msg, &payload) {
			return
		}
		c.withDialog(func(d *voiceService.Dialog) { d.SubmitText(payload.Text) })
	case "retry_permission":
		c.withDialog(func(d *voiceService.Dialog) { d.RetryPermission() })
	case "read_aloud":
		var payload readAloudMessage
		if !c.decode(msg, &payload) {
			return
		}
		c.readAloud(payload.MessageID)
	case "stop_reading":
		c.reader.Stop()
	case "mode":
		var payload modeMessage
		if !c.decode(msg, &payload) {
			return
		}
		c.setMode(payload.Mode)
	case "visualizer":
		var payload visualizerMessage
		if !c.decode(msg, &payload) {
			return
		}
		c.setVisualizer(payload.Active)
	default:
		c.sendError("unsupported message type: " + msg.Type)
	}
}

func (c *connection) decode(msg *inboundMessage, dst interface{}) bool {
	if len(msg.Data) == 0 {
		c.sendError("missing " + msg.Type + " payload")
		return false
	}
	if err := json.Unmarshal(msg.Data, dst); err != nil {
		c.sendError("invalid " + msg.Type + " payload")
		return false
	}
	return true
}

func (c *connection) withDialog(fn func(d *voiceService.Dialog)) {
	d := c.activeDialog()
	if d == nil {
		c.sendError("voice dialog is not open")
		return
	}
	fn(d)
}

func (c *connection) handleHello(payload helloMessage) {
	c.mu.Lock()
	if payload.UserAgent != "" {
		c.userAgent = payload.UserAgent
	}
	c.mu.Unlock()

	if payload.SpeechSupported != nil {
		c.input.setSupported(*payload.SpeechSupported)
	}
	c.output.setVoices(payload.Voices)

	profile := c.profile()
	c.send("ready", map[string]any{
		"profile":    profile.Name,
		"continuous": profile.Continuous,
		"lang":       profile.Language,
	})
}

func (c *connection) openDialog() {
	if c.activeDialog() != nil {
		c.sendError("voice dialog is already open")
		return
	}
	if !c.h.cfg.Enabled {
		c.sendError("voice assistant is disabled")
		return
	}

	c.reader.Stop()
	c.h.chatSvc.EnsureSession(c.ctx)

	c.input.mu.Lock()
	unsupported := !c.input.supported
	c.input.mu.Unlock()

	d, err := voiceService.Open(c.ctx, voiceService.Config{
		Output:      c.output,
		Input:       c.input,
		Microphone:  c.mic,
		Profile:     c.profile(),
		Pitch:       c.h.cfg.Pitch,
		Clock:       c.h.clock,
		Unsupported: unsupported,
		Submit:      c.submit,
		OnStateChange: func(snap voiceService.Snapshot) {
			c.send("state", snap)
		},
	})
	if err != nil {
		log.Printf("[websocket] open dialog failed: %v", err)
		c.sendError("voice dialog unavailable")
		return
	}

	c.mu.Lock()
	c.dialog = d
	c.mu.Unlock()
}

// submit sends a transcript to the active session. The reply is still
// recorded when the dialog closes while the request is in flight.
func (c *connection) submit(ctx context.Context, text string) error {
	session := c.h.chatSvc.EnsureSession(ctx)
	_, err := c.h.chatSvc.SendUserMessage(context.WithoutCancel(ctx), session.ID, text, text, c.currentMode())
	return err
}

func (c *connection) onStoreChange(ev chatService.ChangeEvent) {
	if ev.Op != chatService.OperationUpdate || ev.Message == nil || ev.Message.IsUser {
		return
	}
	if ev.SessionID != c.h.chatSvc.ActiveSessionID() {
		return
	}
	if d := c.activeDialog(); d != nil {
		d.ResponseArrived(*ev.Message)
	}
}

func (c *connection) readAloud(messageID string) {
	if c.activeDialog() != nil {
		c.sendError("voice dialog is open")
		return
	}
	msg, ok := c.findMessage(messageID)
	if !ok {
		c.sendError("message not found")
		return
	}
	c.reader.Speak(msg.Text, func() {
		c.send("reading_done", map[string]string{"messageId": messageID})
	})
}

// findMessage looks in the active session first, then in every session.
func (c *connection) findMessage(messageID string) (chat.Message, bool) {
	if messageID == "" {
		return chat.Message{}, false
	}
	sessions := c.h.chatSvc.Sessions()
	activeID := c.h.chatSvc.ActiveSessionID()
	for _, session := range sessions {
		if session.ID != activeID {
			continue
		}
		if msg, ok := lookupMessage(session, messageID); ok {
			return msg, true
		}
	}
	for _, session := range sessions {
		if msg, ok := lookupMessage(session, messageID); ok {
			return msg, true
		}
	}
	return chat.Message{}, false
}

func lookupMessage(session chat.Session, messageID string) (chat.Message, bool) {
	for _, msg := range session.Messages {
		if msg.ID == messageID {
			return msg, true
		}
	}
	return chat.Message{}, false
}

func (c *connection) setMode(raw string) {
	mode, err := query.ParseMode(raw)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
	c.send("mode", map[string]string{"mode": string(mode)})
}

// setVisualizer shares the microphone with the client's level meter.
func (c *connection) setVisualizer(active bool) {
	c.mu.Lock()
	c.visualizerWanted = active
	if !active {
		held := c.visualizerHeld
		c.visualizerHeld = false
		c.mu.Unlock()
		if held {
			c.mic.Release()
		}
		c.send("visualizer", map[string]bool{"active": false})
		return
	}
	if c.visualizerHeld || c.visualizerPending {
		c.mu.Unlock()
		return
	}
	c.visualizerPending = true
	c.mu.Unlock()

	go c.acquireVisualizer()
}

func (c *connection) acquireVisualizer() {
	err := c.mic.Acquire(c.ctx)

	c.mu.Lock()
	c.visualizerPending = false
	if err != nil {
		c.visualizerWanted = false
		c.mu.Unlock()
		c.sendError("microphone unavailable: " + err.Error())
		return
	}
	if !c.visualizerWanted {
		c.mu.Unlock()
		c.mic.Release()
		return
	}
	c.visualizerHeld = true
	c.mu.Unlock()

	c.send("visualizer", map[string]bool{"active": true})
}

func (c *connection) close() {
	c.unsubscribe()

	if d := c.activeDialog(); d != nil {
		d.Close()
	}
	c.reader.Stop()

	c.mu.Lock()
	held := c.visualizerHeld
	c.visualizerHeld = false
	c.visualizerWanted = false
	c.mu.Unlock()
	if held {
		c.mic.Release()
	}
	log.Printf("[websocket] voice bridge closed")
}
