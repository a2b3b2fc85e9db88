// Package ai answers legal queries with a chat model instead of the remote
// research API.
package ai

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/nyai-sathi/voice-chat/backend/internal/config"
	"github.com/nyai-sathi/voice-chat/backend/internal/model/chat"
	"github.com/nyai-sathi/voice-chat/backend/internal/model/query"
	queryservice "github.com/nyai-sathi/voice-chat/backend/internal/service/query"
)

const defaultHistoryLimit = 10

// Gateway answers queries through an eino chain over the configured chat model.
type Gateway struct {
	chain        compose.Runnable[map[string]any, *schema.Message]
	prompts      *LegalPromptManager
	historyLimit int
}

// NewGateway builds the chain from the Ark configuration.
func NewGateway(ctx context.Context, cfg config.AIConfig) (*Gateway, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewGatewayWithModel(ctx, chatModel)
}

// NewGatewayWithModel builds the chain around an existing chat model.
func NewGatewayWithModel(ctx context.Context, chatModel model.ChatModel) (*Gateway, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile query chain: %w", err)
	}

	return &Gateway{
		chain:        runnable,
		prompts:      NewLegalPromptManager(),
		historyLimit: defaultHistoryLimit,
	}, nil
}

// Query implements the query gateway contract. Every failure is reported as
// a *query.Error so callers treat it like a failed HTTP query.
func (g *Gateway) Query(ctx context.Context, text string, mode query.Mode, history []chat.Message) (query.Response, error) {
	system, err := g.prompts.BuildSystemPrompt(mode)
	if err != nil {
		return query.Response{}, &queryservice.Error{Mode: mode, Err: query.ErrInvalidMode}
	}

	input := map[string]any{
		"system":  system,
		"history": g.buildHistoryMessages(history),
		"query":   text,
	}

	response, err := g.chain.Invoke(ctx, input)
	if err != nil {
		return query.Response{}, &queryservice.Error{Mode: mode, Err: fmt.Errorf("failed to run query chain: %w", err)}
	}

	answer := strings.TrimSpace(response.Content)
	if answer == "" {
		return query.Response{}, &queryservice.Error{Mode: mode, Err: fmt.Errorf("model returned an empty answer")}
	}

	log.Printf("[ai] answered mode=%s, history=%d, length=%d", mode, len(history), len(answer))
	return query.Response{Answer: answer}, nil
}

func (g *Gateway) buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > g.historyLimit {
		startIdx = len(messages) - g.historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		if msg.IsUser {
			history = append(history, schema.UserMessage(msg.Text))
		} else {
			history = append(history, schema.AssistantMessage(msg.Text, nil))
		}
	}
	return history
}
