package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/nyai-sathi/voice-chat/backend/internal/model/chat"
	"github.com/nyai-sathi/voice-chat/backend/internal/model/query"
)

const maxResponseBytes = 4 << 20

// HTTPGateway posts queries to <baseURL>/query/{laws|judgements}.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGateway creates a gateway. A zero timeout leaves the request bounded
// only by the caller's context.
func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Query performs a single attempt; there is no retry.
func (g *HTTPGateway) Query(ctx context.Context, text string, mode query.Mode, history []chat.Message) (query.Response, error) {
	if !mode.IsValid() {
		return query.Response{}, &Error{Mode: mode, Err: query.ErrInvalidMode}
	}

	body, err := json.Marshal(query.Request{Query: text, Context: BuildContext(history)})
	if err != nil {
		return query.Response{}, &Error{Mode: mode, Err: fmt.Errorf("encode request: %w", err)}
	}

	endpoint := g.baseURL + mode.Path()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return query.Response{}, &Error{Mode: mode, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return query.Response{}, &Error{Mode: mode, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return query.Response{}, &Error{Mode: mode, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return query.Response{}, &Error{Mode: mode, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected response: %s", snippet(payload))}
	}

	var out query.Response
	if err := json.Unmarshal(payload, &out); err != nil {
		return query.Response{}, &Error{Mode: mode, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if strings.TrimSpace(out.Answer) == "" {
		return query.Response{}, &Error{Mode: mode, StatusCode: resp.StatusCode, Err: errors.New("response has no answer")}
	}

	log.Printf("[query] %s answered in %s, context=%d answer=%d bytes", endpoint, time.Since(started).Round(time.Millisecond), len(history), len(out.Answer))
	return out, nil
}

func snippet(payload []byte) string {
	const limit = 200
	text := strings.TrimSpace(string(payload))
	if len(text) > limit {
		return text[:limit] + "..."
	}
	return text
}
