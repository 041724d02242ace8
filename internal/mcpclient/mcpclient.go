// Package mcpclient is an HTTP(+WebSocket) client for a running serve
// instance. The mcp subcommand drives every tool call through this client
// instead of touching review.Service directly, so an agent sees exactly
// the same state and events a human is watching in the browser.
package mcpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/preflight/preflight/internal/domain"
)

// Client talks to a preflight serve instance over HTTP and WebSocket.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient addresses a serve instance listening on 127.0.0.1:port.
func NewClient(port int) *Client {
	return &Client{
		http:    &http.Client{},
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
	}
}

// Error distinguishes a connection failure (server not running) from an
// API-level error response.
type Error struct {
	BaseURL string
	Status  int
	Body    string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("preflight server not reachable at %s — start it with `preflight serve`: %v", e.BaseURL, e.Cause)
	}
	return fmt.Sprintf("api error (HTTP %d): %s", e.Status, e.Body)
}

func (e *Error) Unwrap() error { return e.Cause }

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{BaseURL: c.baseURL, Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", c.baseURL, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &Error{BaseURL: c.baseURL, Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if len(respBody) == 0 {
		return nil, nil
	}
	return json.RawMessage(respBody), nil
}

// Get issues a GET request and returns the raw JSON response body.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post issues a POST request with a JSON-encoded body.
func (c *Client) Post(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// Patch issues a PATCH request with a JSON-encoded body.
func (c *Client) Patch(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPatch, path, body)
}

// Put issues a PUT request with a JSON-encoded body.
func (c *Client) Put(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPut, path, body)
}

// EventStream is a live subscription to a serve instance's /api/ws feed.
type EventStream struct {
	conn   *websocket.Conn
	events chan domain.WsEvent
	errc   chan error
}

// Events yields events as they're decoded off the wire.
func (s *EventStream) Events() <-chan domain.WsEvent { return s.events }

// Err yields the terminal read error once the stream ends.
func (s *EventStream) Err() <-chan error { return s.errc }

// Close tears down the underlying WebSocket connection.
func (s *EventStream) Close() error { return s.conn.Close() }

// Subscribe opens a WebSocket connection to the serve instance's event feed.
// Frames are decoded into WsEvent and delivered on the returned stream until
// the connection closes or ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context) (*EventStream, error) {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, &Error{BaseURL: c.baseURL, Cause: err}
	}

	s := &EventStream{conn: conn, events: make(chan domain.WsEvent), errc: make(chan error, 1)}
	go func() {
		defer close(s.events)
		for {
			var event domain.WsEvent
			if err := conn.ReadJSON(&event); err != nil {
				s.errc <- err
				return
			}
			select {
			case s.events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return s, nil
}
