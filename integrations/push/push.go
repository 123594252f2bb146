// Package push talks to the external push-notification gateway over
// HTTP. The gateway accepts multicast sends and reports a per-token
// status, which the dispatcher maps onto purge/retry decisions.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"campusride/notify"
)

// Client posts multicast sends to a push gateway endpoint.
type Client struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (defaults to 5s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Client) {
		if c != nil {
			p.client = c
		}
	}
}

// New creates a push gateway client.
func New(endpoint, apiKey string, opts ...Option) *Client {
	p := &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type multicastRequest struct {
	Tokens []string          `json:"tokens"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

type multicastResponse struct {
	Results []struct {
		Token  string `json:"token"`
		Status string `json:"status"`
	} `json:"results"`
}

// SendMulticast posts one multicast call. A non-nil error means the
// whole call failed and every recipient should be retried.
func (p *Client) SendMulticast(ctx context.Context, tokens []string, msg notify.PushMessage) (notify.BatchResult, error) {
	payload, err := json.Marshal(multicastRequest{
		Tokens: tokens,
		Title:  msg.Title,
		Body:   msg.Body,
		Data:   msg.Data,
	})
	if err != nil {
		return notify.BatchResult{}, fmt.Errorf("failed to encode multicast request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return notify.BatchResult{}, fmt.Errorf("failed to build multicast request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return notify.BatchResult{}, fmt.Errorf("multicast call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return notify.BatchResult{}, fmt.Errorf("push gateway returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		// 4xx: the call itself was malformed; do not retry blindly.
		return notify.BatchResult{}, fmt.Errorf("push gateway rejected request with %d: %w",
			resp.StatusCode, notify.ErrSendPermanent)
	}

	var body multicastResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return notify.BatchResult{}, fmt.Errorf("failed to decode multicast response: %w", err)
	}

	result := notify.BatchResult{Responses: make([]notify.SendResponse, 0, len(body.Results))}
	for _, r := range body.Results {
		result.Responses = append(result.Responses, notify.SendResponse{
			Token: r.Token,
			Code:  codeForStatus(r.Status),
		})
	}
	return result, nil
}

func codeForStatus(status string) notify.SendCode {
	switch status {
	case "ok":
		return notify.SendOK
	case "unregistered":
		return notify.SendUnregistered
	case "invalid_argument":
		return notify.SendInvalidArgument
	case "unavailable":
		return notify.SendUnavailable
	default:
		return notify.SendInternal
	}
}
