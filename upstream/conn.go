// Package upstream maintains the duplex channel to the realtime
// speech/translation provider: dialing, the one-shot configuration
// handshake, outbound directives, and demultiplexing of inbound events.
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the minimal duplex channel the bridge needs. Satisfied by
// *websocket.Conn; tests substitute an in-memory fake.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a Conn to the provider endpoint.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WebsocketDialer is the production Dialer.
type WebsocketDialer struct {
	timeout time.Duration
}

var _ Dialer = (*WebsocketDialer)(nil)

func NewWebsocketDialer(timeout time.Duration) *WebsocketDialer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebsocketDialer{timeout: timeout}
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.timeout}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("on dialing upstream (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("on dialing upstream: %w", err)
	}
	return conn, nil
}
