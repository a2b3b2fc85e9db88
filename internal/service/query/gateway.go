// Package query forwards user questions to the legal research backend.
package query

import (
	"context"
	"fmt"

	"github.com/nyai-sathi/voice-chat/backend/internal/model/chat"
	"github.com/nyai-sathi/voice-chat/backend/internal/model/query"
)

// Gateway answers a query in the given mode using prior turns as context.
type Gateway interface {
	Query(ctx context.Context, text string, mode query.Mode, history []chat.Message) (query.Response, error)
}

// Error reports any failed query: transport failure, non-2xx status or an
// unusable response body. Callers treat all causes alike.
type Error struct {
	Mode       query.Mode
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("query %s failed with status %d: %v", e.Mode, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("query %s failed: %v", e.Mode, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// BuildContext maps messages to the {content, role} pairs the API expects.
func BuildContext(history []chat.Message) []query.Turn {
	turns := make([]query.Turn, 0, len(history))
	for _, msg := range history {
		turns = append(turns, query.Turn{Content: msg.Text, Role: msg.Role()})
	}
	return turns
}
