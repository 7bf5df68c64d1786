// Package chrome is a small Chrome DevTools Protocol client covering what the
// lifecycle needs: listing, opening, navigating and activating tabs, and
// closing the browser.
package chrome

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/gorilla/websocket"
)

// Client is a Chrome DevTools Protocol client.
type Client struct {
	conn       *websocket.Conn
	wsURL      string
	mu         sync.Mutex
	messageID  atomic.Int64
	pending    map[int64]chan callResult
	pendingMu  sync.Mutex
	sessions   map[string]string // targetID -> sessionID
	sessionsMu sync.Mutex
	closed     atomic.Bool
	closeOnce  sync.Once
	closeCh    chan struct{}
}

type callResult struct {
	Result json.RawMessage
	Error  *ProtocolError
}

// BrowserVersion is the /json/version document served by the debugging port.
type BrowserVersion struct {
	Browser              string `json:"Browser"`
	Protocol             string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Endpoint returns the HTTP base URL of a debugging port.
func Endpoint(host string, port int) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// FetchVersion reads /json/version from the debugging port.
func FetchVersion(ctx context.Context, host string, port int) (*BrowserVersion, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, Endpoint(host, port)+"/json/version", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to Chrome: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status from /json/version: %s", resp.Status)
	}

	var version BrowserVersion
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil {
		return nil, fmt.Errorf("decoding version response: %w", err)
	}
	if version.WebSocketDebuggerURL == "" {
		return nil, fmt.Errorf("no WebSocket URL in response")
	}
	return &version, nil
}

// Connect performs the DevTools handshake: it looks up the browser's
// websocket URL and dials it.
func Connect(ctx context.Context, host string, port int) (*Client, error) {
	version, err := FetchVersion(ctx, host, port)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, version.WebSocketDebuggerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to WebSocket: %w", err)
	}

	client := &Client{
		conn:     conn,
		wsURL:    version.WebSocketDebuggerURL,
		pending:  make(map[int64]chan callResult),
		sessions: make(map[string]string),
		closeCh:  make(chan struct{}),
	}

	go client.readMessages()

	return client, nil
}

// WebSocketURL returns the WebSocket URL used for this connection.
func (c *Client) WebSocketURL() string {
	return c.wsURL
}

// Close detaches cached sessions and closes the connection. The browser keeps
// running.
func (c *Client) Close() error {
	return c.shutdown(true)
}

// shutdown closes the connection once. Sessions are only detached when the
// reader is still alive to deliver the responses.
func (c *Client) shutdown(detach bool) error {
	var err error
	c.closeOnce.Do(func() {
		c.sessionsMu.Lock()
		sessions := c.sessions
		c.sessions = make(map[string]string)
		c.sessionsMu.Unlock()

		if detach && len(sessions) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			for _, sessionID := range sessions {
				c.Call(ctx, target.CommandDetachFromTarget, &target.DetachFromTargetParams{
					SessionID: target.SessionID(sessionID),
				})
			}
			cancel()
		}

		c.closed.Store(true)
		close(c.closeCh)
		err = c.conn.Close()

		// Wake up all pending callers
		c.pendingMu.Lock()
		for _, ch := range c.pending {
			close(ch)
		}
		c.pending = make(map[int64]chan callResult)
		c.pendingMu.Unlock()
	})
	return err
}

func (c *Client) attachToTarget(ctx context.Context, targetID string) (string, error) {
	c.sessionsMu.Lock()
	if sessionID, ok := c.sessions[targetID]; ok {
		c.sessionsMu.Unlock()
		return sessionID, nil
	}
	c.sessionsMu.Unlock()

	result, err := c.Call(ctx, target.CommandAttachToTarget, &target.AttachToTargetParams{
		TargetID: target.ID(targetID),
		Flatten:  true,
	})
	if err != nil {
		return "", fmt.Errorf("attaching to target: %w", err)
	}

	var resp target.AttachToTargetReturns
	if err := json.Unmarshal(result, &resp); err != nil {
		return "", fmt.Errorf("parsing attach response: %w", err)
	}
	sessionID := string(resp.SessionID)

	c.sessionsMu.Lock()
	c.sessions[targetID] = sessionID
	c.sessionsMu.Unlock()

	return sessionID, nil
}

func (c *Client) forgetSession(targetID string) {
	c.sessionsMu.Lock()
	delete(c.sessions, targetID)
	c.sessionsMu.Unlock()
}

type cdpRequest struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
}

type cdpResponse struct {
	ID        int64           `json:"id"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ProtocolError  `json:"error,omitempty"`
	Method    string          `json:"method,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// Call sends a browser-level protocol command and waits for the response.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	return c.send(ctx, "", method, params)
}

// CallSession sends a protocol command to an attached session and waits for the response.
func (c *Client) CallSession(ctx context.Context, sessionID string, method string, params interface{}) (json.RawMessage, error) {
	return c.send(ctx, sessionID, method, params)
}

func (c *Client) send(ctx context.Context, sessionID, method string, params interface{}) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}

	id := c.messageID.Add(1)
	req := cdpRequest{
		ID:        id,
		SessionID: sessionID,
		Method:    method,
	}

	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshaling params: %w", err)
		}
		req.Params = data
	}

	respChan := make(chan callResult, 1)
	c.pendingMu.Lock()
	c.pending[id] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.mu.Lock()
	err := c.conn.WriteJSON(req)
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}

	select {
	case result, ok := <-respChan:
		if !ok {
			return nil, ErrConnectionClosed
		}
		if result.Error != nil {
			return nil, result.Error
		}
		return result.Result, nil
	case <-c.closeCh:
		return nil, ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readMessages routes responses to waiting callers. Events are ignored.
func (c *Client) readMessages() {
	defer c.shutdown(false)

	for {
		var resp cdpResponse
		if err := c.conn.ReadJSON(&resp); err != nil {
			return
		}
		if resp.ID <= 0 {
			continue
		}

		c.pendingMu.Lock()
		if ch, ok := c.pending[resp.ID]; ok {
			ch <- callResult{
				Result: resp.Result,
				Error:  resp.Error,
			}
		}
		c.pendingMu.Unlock()
	}
}
