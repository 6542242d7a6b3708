package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SelinCifcii/decision-wheel/internal/api"
)

const writeTimeout = 10 * time.Second

// WebsocketTransport is the production Transport: one websocket connection
// to the registry's /ws endpoint. The websocket guarantees ordered delivery,
// which the session's convergence story depends on.
type WebsocketTransport struct {
	url    string
	dialer *websocket.Dialer

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
}

func NewWebsocketTransport(url string) *WebsocketTransport {
	return &WebsocketTransport{
		url:    url,
		dialer: websocket.DefaultDialer,
	}
}

func (t *WebsocketTransport) Connect(ctx context.Context) error {
	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("session: dial %s: %w", t.url, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return nil
}

// Send writes one frame. The ctx deadline, when tighter than the default
// write timeout, bounds the write.
func (t *WebsocketTransport) Send(ctx context.Context, env *api.Envelope) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("session: not connected")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("session: set write deadline: %w", err)
	}
	return conn.WriteJSON(env)
}

// Receive blocks on the next frame. A cancelled ctx is honored between
// frames; mid-read the receive loop unblocks via Close, which tears the
// connection down.
func (t *WebsocketTransport) Receive(ctx context.Context) (*api.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return nil, fmt.Errorf("session: not connected")
	}

	var env api.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (t *WebsocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}
