package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nyai-sathi/voice-chat/backend/internal/model/chat"
	"github.com/nyai-sathi/voice-chat/backend/internal/model/query"
	queryservice "github.com/nyai-sathi/voice-chat/backend/internal/service/query"
)

// GatewayErrorText replaces the assistant reply whenever the query fails.
const GatewayErrorText = "Sorry, there was an error processing your request. Please try again."

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrRequestInFlight = errors.New("a request is already in flight for this session")
	ErrEmptyMessage    = errors.New("message text is required")
)

// Options tunes the controller.
type Options struct {
	// HistoryLimit caps how many prior messages are sent as context; 0 sends all.
	HistoryLimit int
	// Timeout bounds each gateway call; 0 relies on the caller's context.
	Timeout time.Duration
}

// Reply is the pair of turns appended by SendUserMessage.
type Reply struct {
	User      chat.Message `json:"user"`
	Assistant chat.Message `json:"reply"`
	Failed    bool         `json:"failed"`
}

// Service mediates between the chat store and the query gateway.
type Service struct {
	store   *Store
	gateway queryservice.Gateway
	opts    Options

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewService wires a controller over store and gateway.
func NewService(store *Store, gateway queryservice.Gateway, opts Options) *Service {
	return &Service{
		store:   store,
		gateway: gateway,
		opts:    opts,
		pending: make(map[string]struct{}),
	}
}

// Store exposes the underlying session store.
func (s *Service) Store() *Store {
	return s.store
}

// CreateSession provisions an empty session and makes it active.
func (s *Service) CreateSession(_ context.Context) chat.Session {
	session := s.store.Create()
	log.Printf("[chat] created session=%s", session.ID)
	return session
}

// EnsureSession returns the active session, creating one when the collection is empty.
func (s *Service) EnsureSession(_ context.Context) chat.Session {
	session, created := s.store.Ensure()
	if created {
		log.Printf("[chat] created session=%s", session.ID)
	}
	return session
}

// DeleteSession removes a session; unknown ids are ignored.
func (s *Service) DeleteSession(_ context.Context, sessionID string) {
	if !s.store.Delete(sessionID) {
		log.Printf("[chat] delete ignored, unknown session=%s", sessionID)
		return
	}
	log.Printf("[chat] deleted session=%s active=%s", sessionID, s.store.ActiveID())
}

// RenameSession sets a session title; blank titles are ignored.
func (s *Service) RenameSession(_ context.Context, sessionID, title string) error {
	return s.store.Rename(sessionID, title)
}

// SetActiveSession changes the active session pointer.
func (s *Service) SetActiveSession(_ context.Context, sessionID string) error {
	return s.store.SetActive(sessionID)
}

// Session retrieves a session by identifier.
func (s *Service) Session(sessionID string) (chat.Session, error) {
	session, ok := s.store.Get(sessionID)
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// Sessions lists all sessions, newest first.
func (s *Service) Sessions() []chat.Session {
	return s.store.List()
}

// Search returns the sessions whose title or any message contains q,
// ignoring case. A blank q matches every session.
func (s *Service) Search(q string) []chat.Session {
	sessions := s.store.List()
	needle := strings.ToLower(strings.TrimSpace(q))
	if needle == "" {
		return sessions
	}

	matches := make([]chat.Session, 0, len(sessions))
	for _, session := range sessions {
		if sessionContains(session, needle) {
			matches = append(matches, session)
		}
	}
	return matches
}

func sessionContains(session chat.Session, needle string) bool {
	if strings.Contains(strings.ToLower(session.Title), needle) {
		return true
	}
	for _, msg := range session.Messages {
		if strings.Contains(strings.ToLower(msg.Text), needle) {
			return true
		}
	}
	return false
}

// ActiveSessionID returns the active session id, or "" when none is active.
func (s *Service) ActiveSessionID() string {
	return s.store.ActiveID()
}

// Pending reports whether a send is in flight for the session.
func (s *Service) Pending(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[sessionID]
	return ok
}

// SendUserMessage appends displayText as the user turn, queries the gateway
// with apiText and appends exactly one assistant turn. Gateway failures are
// turned into GatewayErrorText and never returned; the returned error only
// reports requests rejected before anything was appended.
func (s *Service) SendUserMessage(ctx context.Context, sessionID, displayText, apiText string, mode query.Mode) (Reply, error) {
	if strings.TrimSpace(displayText) == "" {
		return Reply{}, ErrEmptyMessage
	}
	if !mode.IsValid() {
		return Reply{}, query.ErrInvalidMode
	}
	if strings.TrimSpace(apiText) == "" {
		apiText = displayText
	}

	if !s.acquire(sessionID) {
		return Reply{}, ErrRequestInFlight
	}
	defer s.release(sessionID)

	userMsg := chat.Message{
		ID:        newID(),
		Text:      displayText,
		IsUser:    true,
		Timestamp: time.Now().UTC(),
	}
	before, err := s.store.Append(sessionID, userMsg)
	if err != nil {
		return Reply{}, err
	}

	reply := Reply{User: userMsg}
	answer, err := s.query(ctx, apiText, mode, s.history(before.Messages))
	if err != nil {
		log.Printf("[chat] query failed session=%s mode=%s: %v", sessionID, mode, err)
		answer = GatewayErrorText
		reply.Failed = true
	}

	reply.Assistant = chat.Message{
		ID:        newID(),
		Text:      answer,
		IsUser:    false,
		Timestamp: time.Now().UTC(),
	}
	if _, err := s.store.Append(sessionID, reply.Assistant); err != nil {
		log.Printf("[chat] session=%s removed before reply arrived", sessionID)
	}

	return reply, nil
}

func (s *Service) query(ctx context.Context, text string, mode query.Mode, history []chat.Message) (string, error) {
	if s.gateway == nil {
		return "", errors.New("query gateway not configured")
	}
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	resp, err := s.gateway.Query(ctx, text, mode, history)
	if err != nil {
		return "", err
	}
	return resp.Answer, nil
}

func (s *Service) history(prior []chat.Message) []chat.Message {
	if s.opts.HistoryLimit > 0 && len(prior) > s.opts.HistoryLimit {
		prior = prior[len(prior)-s.opts.HistoryLimit:]
	}
	return prior
}

func (s *Service) acquire(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.pending[sessionID]; busy {
		return false
	}
	s.pending[sessionID] = struct{}{}
	return true
}

func (s *Service) release(sessionID string) {
	s.mu.Lock()
	delete(s.pending, sessionID)
	s.mu.Unlock()
}

// WithLanguageDirective appends the instruction asking the backend to answer
// in the given language. An empty language leaves text unchanged.
func WithLanguageDirective(text, language string) string {
	language = strings.TrimSpace(language)
	if language == "" {
		return text
	}
	return text + "\n\nRespond in " + language
}
