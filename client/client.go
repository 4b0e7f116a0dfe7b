// Package client is the Go-side counterpart of the interpreter server: it
// attaches to /ws, uploads aggregated microphone audio, and dispatches the
// server's structured messages to registered handlers.
package client

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bt-bridge/realtime-interpreter/audio"
	"github.com/bt-bridge/realtime-interpreter/classify"
	"github.com/bt-bridge/realtime-interpreter/protocol"
	"github.com/bt-bridge/realtime-interpreter/shared"
)

const (
	defaultChunkBytes  = 3200
	defaultFlushWindow = 200 * time.Millisecond
	writeTimeout       = 10 * time.Second
)

// Handlers receive server messages as they arrive. Nil handlers are skipped.
// All handlers run on the client's single read goroutine; do not block.
type Handlers struct {
	OnSessionReady func(protocol.SessionReadyData)
	OnTranscript   func(protocol.TranscriptData)
	OnTranslation  func(protocol.TranslationData)
	OnAudio        func(pcm []byte)
	OnEvent        func(protocol.EventData)
	OnIntents      func(protocol.IntentsExtractedData)
	OnStopped      func(protocol.ConversationStoppedData)
	OnError        func(protocol.ErrorData)
}

// Options configure a client connection.
type Options struct {
	// URL is the full websocket endpoint, e.g. ws://host:8080/ws.
	URL string
	// ResumeConversationId reattaches to a previously resumed conversation.
	ResumeConversationId string
	Languages            classify.LanguageConfig
	Handlers             Handlers
	// ChunkBytes and FlushWindow tune the upload aggregator.
	ChunkBytes  int
	FlushWindow time.Duration
}

type Client struct {
	logger   shared.LoggerAdapter
	conn     *websocket.Conn
	handlers Handlers
	agg      *audio.Aggregator

	writeMu sync.Mutex

	mu      sync.Mutex
	ready   bool
	session protocol.SessionReadyData

	readyCh chan struct{}
	done    chan struct{}
	doneErr error
}

// Dial connects, sends the language configuration, and starts the read loop.
// The session is usable for audio once Ready() is closed.
func Dial(ctx context.Context, logger shared.LoggerAdapter, opts Options) (*Client, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if opts.URL == "" {
		return nil, fmt.Errorf("client: %w: empty URL", shared.ErrNoConfig)
	}
	if opts.ChunkBytes <= 0 {
		opts.ChunkBytes = defaultChunkBytes
	}
	if opts.FlushWindow <= 0 {
		opts.FlushWindow = defaultFlushWindow
	}

	url := opts.URL
	if opts.ResumeConversationId != "" {
		url += "?conversation_id=" + opts.ResumeConversationId
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("on dialing %s: %w", opts.URL, err)
	}
	if resp != nil {
		_ = resp.Body.Close()
	}

	c := &Client{
		logger:   logger.With(zap.String("component", "client")),
		conn:     conn,
		handlers: opts.Handlers,
		readyCh:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.agg = audio.NewAggregator(opts.ChunkBytes, opts.FlushWindow, c.uploadChunk)

	frame, err := protocol.MarshalLanguageConfig(opts.Languages)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := c.write(websocket.TextMessage, frame); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

// Ready is closed once the server reports session_ready.
func (c *Client) Ready() <-chan struct{} {
	return c.readyCh
}

// Done is closed when the connection ends, for any reason.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended. Valid after Done is closed.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doneErr
}

// Session returns the ids announced at session_ready.
func (c *Client) Session() protocol.SessionReadyData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// PushAudio feeds one capture frame of PCM16 into the upload aggregator.
// Frames pushed before session_ready are dropped, matching the server's own
// behavior for early audio.
func (c *Client) PushAudio(frame []byte) {
	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()
	if !ready {
		return
	}
	c.agg.Push(frame)
}

// PushSamples encodes float32 samples to PCM16 and pushes them.
func (c *Client) PushSamples(samples []float32) {
	c.PushAudio(audio.EncodePCM16(samples))
}

// Flush forces out whatever the aggregator is holding.
func (c *Client) Flush() {
	c.agg.Flush()
}

// Close flushes pending audio and tears the connection down. The server
// treats the disconnect as end of session.
func (c *Client) Close() error {
	c.agg.Close()
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) uploadChunk(chunk []byte) {
	if err := c.write(websocket.BinaryMessage, chunk); err != nil {
		c.logger.Warn("on uploading audio chunk", zap.Error(err))
	}
}

func (c *Client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		if !c.ready {
			close(c.readyCh)
			c.ready = true
		}
		c.mu.Unlock()
		close(c.done)
	}()

	// gorilla's default ping handler answers the server's heartbeat with a
	// pong; it only needs the read loop to keep pumping.
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.doneErr = err
			c.mu.Unlock()
			return
		}
		msg, err := protocol.ParseServerMessage(data)
		if err != nil {
			c.logger.Warn("on parsing server message", zap.Error(err))
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg protocol.RawServerMessage) {
	switch msg.Type {
	case protocol.MessageTypeSessionReady:
		ready, err := protocol.DecodeData[protocol.SessionReadyData](msg)
		if err != nil {
			c.logger.Warn("on decoding session_ready", zap.Error(err))
			return
		}
		c.mu.Lock()
		first := !c.ready
		c.ready = true
		c.session = ready
		c.mu.Unlock()
		if first {
			close(c.readyCh)
		}
		if c.handlers.OnSessionReady != nil {
			c.handlers.OnSessionReady(ready)
		}
	case protocol.MessageTypeTranscript:
		dispatchTo(c, msg, c.handlers.OnTranscript)
	case protocol.MessageTypeTranslation:
		dispatchTo(c, msg, c.handlers.OnTranslation)
	case protocol.MessageTypeAudio:
		if c.handlers.OnAudio == nil {
			return
		}
		encoded, err := protocol.DecodeData[string](msg)
		if err != nil {
			c.logger.Warn("on decoding audio", zap.Error(err))
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			c.logger.Warn("on decoding audio payload", zap.Error(err))
			return
		}
		c.handlers.OnAudio(pcm)
	case protocol.MessageTypeEvent:
		dispatchTo(c, msg, c.handlers.OnEvent)
	case protocol.MessageTypeIntentsExtracted:
		dispatchTo(c, msg, c.handlers.OnIntents)
	case protocol.MessageTypeConversationStopped:
		dispatchTo(c, msg, c.handlers.OnStopped)
	case protocol.MessageTypeError:
		dispatchTo(c, msg, c.handlers.OnError)
	default:
		c.logger.Debug("unhandled server message", zap.String("type", string(msg.Type)))
	}
}

func dispatchTo[T any](c *Client, msg protocol.RawServerMessage, handler func(T)) {
	if handler == nil {
		return
	}
	data, err := protocol.DecodeData[T](msg)
	if err != nil {
		c.logger.Warn("on decoding server message",
			zap.String("type", string(msg.Type)), zap.Error(err))
		return
	}
	handler(data)
}
