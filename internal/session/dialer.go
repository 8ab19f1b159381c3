package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// ErrTransport marks connection-level failures: refused or reset
// connections, failed handshakes, read timeouts and abrupt closes. They
// are never fatal; the supervisor backs off and reconnects.
var ErrTransport = errors.New("session: transport error")

// Conn is one established message-oriented session with a meter bridge.
type Conn interface {
	// ReadMessage blocks until the next inbound message arrives.
	ReadMessage() (messageType int, data []byte, err error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens connections to a target URL.
type Dialer interface {
	Dial(ctx context.Context, target string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, target string) (Conn, error)

// Dial calls f(ctx, target).
func (f DialerFunc) Dial(ctx context.Context, target string) (Conn, error) {
	return f(ctx, target)
}

// WebSocketDialer dials ws:// targets. Credentials in the URL userinfo are
// sent as HTTP basic auth during the handshake.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	// ReadLimit caps the size of one inbound message. Zero means no limit.
	ReadLimit int64
}

// NewWebSocketDialer returns a dialer with a 10 second handshake timeout.
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{HandshakeTimeout: 10 * time.Second}
}

// Dial performs the WebSocket handshake. Any failure is wrapped in
// ErrTransport.
func (d *WebSocketDialer) Dial(ctx context.Context, target string) (Conn, error) {
	u, header, err := splitCredentials(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, u, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: handshake failed with HTTP %d: %v", ErrTransport, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return conn, nil
}

// splitCredentials moves the userinfo of target into a basic auth header.
// The WebSocket dialer refuses URLs that carry userinfo.
func splitCredentials(target string) (string, http.Header, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", nil, fmt.Errorf("invalid target: %w", err)
	}
	if u.User == nil {
		return target, nil, nil
	}

	header := http.Header{}
	pass, _ := u.User.Password()
	req := &http.Request{Header: header}
	req.SetBasicAuth(u.User.Username(), pass)
	u.User = nil
	return u.String(), header, nil
}
