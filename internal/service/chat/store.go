package chat

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nyai-sathi/voice-chat/backend/internal/model/chat"
	"github.com/nyai-sathi/voice-chat/backend/internal/storage"
)

// Local storage keys shared with the browser client.
const (
	StorageKeyChats       = "nyai-sathi-chats"
	StorageKeyCurrentChat = "nyai-sathi-current-chat"
)

const titleLimit = 30

// Operation represents the type of change to the session collection.
type Operation string

const (
	OperationCreate   Operation = "create"
	OperationUpdate   Operation = "update"
	OperationDelete   Operation = "delete"
	OperationActivate Operation = "activate"
)

// ChangeEvent describes a store mutation. Message is set when a turn was appended.
type ChangeEvent struct {
	Op        Operation
	SessionID string
	Message   *chat.Message
}

// Listener receives change events after the store lock is released.
type Listener func(ChangeEvent)

// Store holds the ordered session collection and the active session pointer,
// writing both to local storage on every mutation.
type Store struct {
	mu       sync.RWMutex
	local    storage.LocalStorage
	sessions []chat.Session
	activeID string

	listenersMu  sync.RWMutex
	listeners    map[int]Listener
	nextListener int
}

// NewStore restores the collection from local storage. Unreadable data is
// logged and replaced by an empty collection.
func NewStore(local storage.LocalStorage) *Store {
	s := &Store{
		local:     local,
		sessions:  []chat.Session{},
		listeners: make(map[int]Listener),
	}
	s.load()
	return s
}

func (s *Store) load() {
	raw, ok, err := s.local.GetItem(StorageKeyChats)
	if err != nil {
		log.Printf("[chat] failed to read saved chats: %v", err)
		return
	}
	if ok && raw != "" {
		sessions, err := UnmarshalSessions([]byte(raw))
		if err != nil {
			log.Printf("[chat] discarding corrupted saved chats: %v", err)
		} else {
			s.sessions = sessions
		}
	}

	activeID, _, err := s.local.GetItem(StorageKeyCurrentChat)
	if err != nil {
		log.Printf("[chat] failed to read current chat: %v", err)
	}
	if s.indexOf(activeID) >= 0 {
		s.activeID = activeID
	} else if len(s.sessions) > 0 {
		s.activeID = s.sessions[0].ID
	}
}

// MarshalSessions encodes the collection in the local storage format.
func MarshalSessions(sessions []chat.Session) ([]byte, error) {
	if sessions == nil {
		sessions = []chat.Session{}
	}
	return json.Marshal(sessions)
}

// UnmarshalSessions decodes the local storage format.
func UnmarshalSessions(data []byte) ([]chat.Session, error) {
	var sessions []chat.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []chat.Session{}
	}
	for i := range sessions {
		if sessions[i].ID == "" {
			return nil, fmt.Errorf("session at index %d has no id", i)
		}
		if sessions[i].Messages == nil {
			sessions[i].Messages = []chat.Message{}
		}
	}
	return sessions, nil
}

// persist must be called with s.mu held.
func (s *Store) persist() {
	data, err := MarshalSessions(s.sessions)
	if err != nil {
		log.Printf("[chat] failed to encode chats: %v", err)
		return
	}
	if err := s.local.SetItem(StorageKeyChats, string(data)); err != nil {
		log.Printf("[chat] failed to save chats: %v", err)
	}

	if s.activeID == "" {
		err = s.local.RemoveItem(StorageKeyCurrentChat)
	} else {
		err = s.local.SetItem(StorageKeyCurrentChat, s.activeID)
	}
	if err != nil {
		log.Printf("[chat] failed to save current chat: %v", err)
	}
}

func (s *Store) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// Subscribe registers fn for change events and returns a function removing it.
func (s *Store) Subscribe(fn Listener) func() {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Store) notify(events ...ChangeEvent) {
	s.listenersMu.RLock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.listenersMu.RUnlock()

	for _, event := range events {
		for _, fn := range listeners {
			fn(event)
		}
	}
}

// List returns copies of all sessions, newest first.
func (s *Store) List() []chat.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Session, len(s.sessions))
	for i := range s.sessions {
		out[i] = s.sessions[i].Clone()
	}
	return out
}

// Get returns a copy of the session with the given id.
func (s *Store) Get(id string) (chat.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return chat.Session{}, false
	}
	return s.sessions[idx].Clone(), true
}

// ActiveID returns the active session id, or "" when none is active.
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// Create prepends an empty session and makes it active.
func (s *Store) Create() chat.Session {
	session := chat.Session{
		ID:        newID(),
		Title:     chat.DefaultTitle,
		Messages:  []chat.Message{},
		Timestamp: time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions = append([]chat.Session{session}, s.sessions...)
	s.activeID = session.ID
	s.persist()
	s.mu.Unlock()

	s.notify(
		ChangeEvent{Op: OperationCreate, SessionID: session.ID},
		ChangeEvent{Op: OperationActivate, SessionID: session.ID},
	)
	return session.Clone()
}

// Ensure returns the active session. With no active session it activates the
// first one, and with no sessions at all it creates one. created reports the
// last case.
func (s *Store) Ensure() (session chat.Session, created bool) {
	s.mu.Lock()
	if i := s.indexOf(s.activeID); i >= 0 {
		session = s.sessions[i].Clone()
		s.mu.Unlock()
		return session, false
	}
	if len(s.sessions) > 0 {
		s.activeID = s.sessions[0].ID
		session = s.sessions[0].Clone()
		s.persist()
		s.mu.Unlock()

		s.notify(ChangeEvent{Op: OperationActivate, SessionID: session.ID})
		return session, false
	}

	fresh := chat.Session{
		ID:        newID(),
		Title:     chat.DefaultTitle,
		Messages:  []chat.Message{},
		Timestamp: time.Now().UTC(),
	}
	s.sessions = []chat.Session{fresh}
	s.activeID = fresh.ID
	s.persist()
	s.mu.Unlock()

	s.notify(
		ChangeEvent{Op: OperationCreate, SessionID: fresh.ID},
		ChangeEvent{Op: OperationActivate, SessionID: fresh.ID},
	)
	return fresh.Clone(), true
}

// Delete removes a session. When it was active, the first remaining session
// becomes active, or none if the collection is empty. Returns false if the id
// is unknown.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}

	s.sessions = append(s.sessions[:idx:idx], s.sessions[idx+1:]...)
	activated := ""
	if s.activeID == id {
		s.activeID = ""
		if len(s.sessions) > 0 {
			s.activeID = s.sessions[0].ID
		}
		activated = s.activeID
	}
	s.persist()
	s.mu.Unlock()

	events := []ChangeEvent{{Op: OperationDelete, SessionID: id}}
	if activated != "" {
		events = append(events, ChangeEvent{Op: OperationActivate, SessionID: activated})
	}
	s.notify(events...)
	return true
}

// Rename sets a user-chosen title. Blank titles are ignored.
func (s *Store) Rename(id, title string) error {
	title = strings.TrimSpace(title)

	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	if title == "" {
		s.mu.Unlock()
		return nil
	}
	s.sessions[idx].Title = title
	s.sessions[idx].TitleEdited = true
	s.persist()
	s.mu.Unlock()

	s.notify(ChangeEvent{Op: OperationUpdate, SessionID: id})
	return nil
}

// SetActive points the active session at id; an empty id clears it.
func (s *Store) SetActive(id string) error {
	s.mu.Lock()
	if id != "" && s.indexOf(id) < 0 {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	changed := s.activeID != id
	s.activeID = id
	if changed {
		s.persist()
	}
	s.mu.Unlock()

	if changed {
		s.notify(ChangeEvent{Op: OperationActivate, SessionID: id})
	}
	return nil
}

// Append adds a turn to a session and returns the session as it was before
// the append. A first user turn names the session unless it was renamed.
func (s *Store) Append(id string, msg chat.Message) (chat.Session, error) {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return chat.Session{}, ErrSessionNotFound
	}

	before := s.sessions[idx].Clone()
	session := &s.sessions[idx]
	if msg.IsUser && len(session.Messages) == 0 && !session.TitleEdited {
		session.Title = DeriveTitle(msg.Text)
	}
	session.Messages = append(session.Messages, msg)
	s.persist()
	s.mu.Unlock()

	s.notify(ChangeEvent{Op: OperationUpdate, SessionID: id, Message: &msg})
	return before, nil
}

// DeriveTitle names a session after its first message: up to the first 30
// characters, always followed by "...".
func DeriveTitle(text string) string {
	if strings.TrimSpace(text) == "" {
		return chat.DefaultTitle
	}
	runes := []rune(text)
	if len(runes) > titleLimit {
		runes = runes[:titleLimit]
	}
	return string(runes) + "..."
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}
