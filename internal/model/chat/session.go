package chat

import "time"

// DefaultTitle is shown until the first user message names the session.
const DefaultTitle = "New Chat"

// Session captures a locally persisted conversation.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	Timestamp time.Time `json:"timestamp"`
	// TitleEdited is set once the user renames the session; auto titling stops afterwards.
	TitleEdited bool `json:"titleEdited,omitempty"`
}

// Clone returns a copy whose message slice can be modified independently.
func (s Session) Clone() Session {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}

// LastAssistantMessage returns the most recent assistant-authored turn.
func (s Session) LastAssistantMessage() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if !s.Messages[i].IsUser {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}
