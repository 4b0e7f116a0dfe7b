package upstream

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bt-bridge/realtime-interpreter/shared"
	"github.com/bt-bridge/realtime-interpreter/wire"
)

// Options configure one bridge connection.
type Options struct {
	URL    string
	APIKey string
	Model  string
	// OnEvent receives every decoded provider event, in read order.
	OnEvent func(*wire.ServerEvent)
	// OnClosed fires once when the channel dies for any reason other than
	// an explicit Close.
	OnClosed func(error)
}

// Bridge owns one provider connection. It never owns session state; an
// unexpected closure is reported upward and the bridge becomes inert.
type Bridge struct {
	logger shared.LoggerAdapter
	conn   Conn
	opts   Options

	writeMu       sync.Mutex
	closeOnce     sync.Once
	closedByUs    bool
	closedMu      sync.Mutex
	handshakeMu   sync.Mutex
	handshakeDone bool
}

// Connect dials the provider and starts the read pump.
func Connect(ctx context.Context, logger shared.LoggerAdapter, dialer Dialer, opts Options) (*Bridge, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if dialer == nil || opts.URL == "" {
		return nil, shared.ErrNoConfig
	}

	endpoint := opts.URL
	if opts.Model != "" {
		u, err := url.Parse(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("on parsing upstream url: %w", err)
		}
		q := u.Query()
		q.Set("model", opts.Model)
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	header := http.Header{}
	if opts.APIKey != "" {
		header.Set("Authorization", "Bearer "+opts.APIKey)
	}
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, err := dialer.Dial(ctx, endpoint, header)
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		logger: logger.With(zap.String("component", "upstream_bridge")),
		conn:   conn,
		opts:   opts,
	}
	go b.readPump()
	return b, nil
}

func (b *Bridge) readPump() {
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			b.closedMu.Lock()
			intentional := b.closedByUs
			b.closedMu.Unlock()
			if !intentional && b.opts.OnClosed != nil {
				b.opts.OnClosed(err)
			}
			return
		}
		event := new(wire.ServerEvent)
		if err := event.UnmarshalJSON(data); err != nil {
			b.logger.Warn("discarding undecodable upstream event", zap.Error(err))
			continue
		}
		if b.opts.OnEvent != nil {
			b.opts.OnEvent(event)
		}
	}
}

func (b *Bridge) send(event *wire.ClientEvent) error {
	if event.EventId == "" {
		event.EventId = uuid.NewString()
	}
	data, err := event.MarshalJSON()
	if err != nil {
		return fmt.Errorf("on marshaling %s: %w", event.Type, err)
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("on sending %s: %w", event.Type, err)
	}
	return nil
}

// UpdateSession performs the configuration handshake. Allowed exactly once
// per connection.
func (b *Bridge) UpdateSession(session map[string]any) error {
	b.handshakeMu.Lock()
	if b.handshakeDone {
		b.handshakeMu.Unlock()
		return shared.ErrHandshakeDone
	}
	b.handshakeDone = true
	b.handshakeMu.Unlock()

	return b.send(&wire.ClientEvent{
		Type:  wire.ClientEventTypeSessionUpdate,
		Param: &wire.ClientEventParamSessionUpdate{Session: session},
	})
}

// AppendAudio forwards one raw PCM16 chunk, base64-encoded.
func (b *Bridge) AppendAudio(pcm []byte) error {
	return b.send(&wire.ClientEvent{
		Type: wire.ClientEventTypeInputAudioBufferAppend,
		Param: &wire.ClientEventParamInputAudioBufferAppend{
			Audio: base64.StdEncoding.EncodeToString(pcm),
		},
	})
}

// CommitAudio closes the current input turn.
func (b *Bridge) CommitAudio() error {
	return b.send(&wire.ClientEvent{
		Type:  wire.ClientEventTypeInputAudioBufferCommit,
		Param: &wire.ClientEventParamInputAudioBufferCommit{},
	})
}

// CreateResponse requests a translation pass with the given directive.
func (b *Bridge) CreateResponse(response map[string]any) error {
	return b.send(&wire.ClientEvent{
		Type:  wire.ClientEventTypeResponseCreate,
		Param: &wire.ClientEventParamResponseCreate{Response: response},
	})
}

// Close tears the channel down without triggering OnClosed.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.closedMu.Lock()
		b.closedByUs = true
		b.closedMu.Unlock()
		err = b.conn.Close()
	})
	return err
}
