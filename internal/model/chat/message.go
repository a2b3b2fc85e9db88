package chat

import "time"

// Message is one immutable conversation turn.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	IsUser    bool      `json:"isUser"`
	Timestamp time.Time `json:"timestamp"`
}

// Role maps the author flag onto the role names used by the query API.
func (m Message) Role() string {
	if m.IsUser {
		return "user"
	}
	return "assistant"
}
