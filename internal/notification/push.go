package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"delivery/internal/logx"
)

// PushMessage is handed to the push gateway for an offline recipient.
type PushMessage struct {
	Token string            `json:"token"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data"`
}

// Pusher hands a message to an external push-messaging service.
type Pusher interface {
	Push(ctx context.Context, msg PushMessage) error
}

// HTTPPusher posts messages as JSON to a push gateway.
type HTTPPusher struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPPusher creates a gateway client.
func NewHTTPPusher(url, apiKey string, timeout time.Duration) *HTTPPusher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPPusher{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

// Push sends one message. It does not retry.
func (p *HTTPPusher) Push(ctx context.Context, msg PushMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "key="+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("push gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push gateway status %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}

// LogPusher only logs messages. Used when no gateway is configured.
type LogPusher struct {
	log logx.Logger
}

// NewLogPusher creates a LogPusher.
func NewLogPusher(log logx.Logger) *LogPusher {
	return &LogPusher{log: log.With(logx.String("component", "log_pusher"))}
}

// Push logs msg.
func (p *LogPusher) Push(ctx context.Context, msg PushMessage) error {
	p.log.Info("push notification",
		logx.String("title", msg.Title),
		logx.String("event", msg.Data["event"]),
		logx.String("entity_id", msg.Data["entity_id"]),
	)
	return nil
}
