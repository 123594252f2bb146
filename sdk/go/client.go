// Package sdk provides typed Go access to the campusride coordination
// API: readiness actions over HTTP, the per-room SSE stream, and the
// WebSocket gateway.
package sdk

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	ws "campusride/adapters/websocket"
	"campusride/core"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the coordination HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
	token      string
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all
// requests and carries the token through the gateway CONNECT frame.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.token = token
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// RequestReady starts the readiness flow; the caller must be the host.
func (c *Client) RequestReady(ctx context.Context, roomID core.RoomID) error {
	return c.post(ctx, fmt.Sprintf("rooms/%d/ready/request", roomID))
}

// AcceptReady confirms the caller's readiness in a locked room.
func (c *Client) AcceptReady(ctx context.Context, roomID core.RoomID) error {
	return c.post(ctx, fmt.Sprintf("rooms/%d/ready/accept", roomID))
}

// RejectReady declines the readiness request and leaves the room.
func (c *Client) RejectReady(ctx context.Context, roomID core.RoomID) error {
	return c.post(ctx, fmt.Sprintf("rooms/%d/ready/reject", roomID))
}

// EnterRoom marks the caller as actively viewing the room.
func (c *Client) EnterRoom(ctx context.Context, roomID core.RoomID) error {
	return c.post(ctx, fmt.Sprintf("rooms/%d/enter", roomID))
}

// LeaveRoom clears the caller's active-viewer mark.
func (c *Client) LeaveRoom(ctx context.Context, roomID core.RoomID) error {
	return c.post(ctx, fmt.Sprintf("rooms/%d/leave", roomID))
}

func (c *Client) post(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+path, nil)
	if err != nil {
		return err
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var body struct {
		OK      bool   `json:"ok"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("request failed: status %d", resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return &APIError{Status: resp.StatusCode, Code: body.Code, Message: body.Message}
	}
	return nil
}

// Health probes /healthz and returns the dependency report.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return HealthStatus{}, err
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return HealthStatus{}, err
	}
	defer resp.Body.Close()

	var hs HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&hs); err != nil {
		return HealthStatus{}, err
	}
	return hs, nil
}

// SubscribeEvents opens the room's SSE stream and emits envelopes. The
// returned channel closes when ctx is done or the stream ends.
func (c *Client) SubscribeEvents(ctx context.Context, roomID core.RoomID) (<-chan core.SSEEnvelope, error) {
	u := fmt.Sprintf("%s/rooms/%d/events", c.baseURL, roomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream rejected: status %d", resp.StatusCode)
	}

	out := make(chan core.SSEEnvelope, 32)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			// heartbeats (": ping") and "event:" lines carry no payload
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var env core.SSEEnvelope
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &env); err != nil {
				continue
			}
			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Gateway is an open WebSocket session against the bidirectional
// gateway. Incoming MESSAGE frames arrive on Messages.
type Gateway struct {
	conn     *websocket.Conn
	Messages <-chan ws.Frame
}

// Connect dials the gateway, performs the CONNECT handshake, and starts
// the read loop. Incoming frames are dropped if the consumer is slow.
func (c *Client) Connect(ctx context.Context) (*Gateway, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return nil, err
	}

	if err := conn.WriteJSON(ws.Frame{Command: ws.CmdConnect, Authorization: "Bearer " + c.token}); err != nil {
		conn.Close()
		return nil, err
	}
	var reply ws.Frame
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()
		return nil, err
	}
	if reply.Command != ws.CmdConnected {
		conn.Close()
		return nil, fmt.Errorf("handshake rejected: %s", reply.Message)
	}

	messages := make(chan ws.Frame, 32)
	go func() {
		defer close(messages)
		for {
			var frame ws.Frame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			select {
			case messages <- frame:
			default:
				// drop if consumer is slow
			}
		}
	}()
	return &Gateway{conn: conn, Messages: messages}, nil
}

// Subscribe asks the gateway to deliver a destination's traffic.
func (g *Gateway) Subscribe(destination string) error {
	return g.conn.WriteJSON(ws.Frame{Command: ws.CmdSubscribe, Destination: destination})
}

// Unsubscribe stops delivery for a destination.
func (g *Gateway) Unsubscribe(destination string) error {
	return g.conn.WriteJSON(ws.Frame{Command: ws.CmdUnsubscribe, Destination: destination})
}

// SendChat publishes a chat message through the gateway.
func (g *Gateway) SendChat(msg core.ChatMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return g.conn.WriteJSON(ws.Frame{Command: ws.CmdSend, Destination: ws.PubChat, Body: body})
}

// SendMap publishes a location payload through the gateway.
func (g *Gateway) SendMap(update core.MapUpdate) error {
	body, err := json.Marshal(update)
	if err != nil {
		return err
	}
	return g.conn.WriteJSON(ws.Frame{Command: ws.CmdSend, Destination: ws.PubMap, Body: body})
}

// Close sends DISCONNECT and tears down the connection.
func (g *Gateway) Close() error {
	_ = g.conn.WriteJSON(ws.Frame{Command: ws.CmdDisconnect})
	return g.conn.Close()
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
