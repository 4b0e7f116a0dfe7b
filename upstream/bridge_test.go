package upstream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bt-bridge/realtime-interpreter/shared"
	"github.com/bt-bridge/realtime-interpreter/wire"
)

// fakeConn feeds scripted inbound frames and records outbound ones.
type fakeConn struct {
	mu       sync.Mutex
	inbound  chan []byte
	written  [][]byte
	closed   bool
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.inbound
	if !ok {
		return 0, nil, errors.New("connection reset")
	}
	return 1, data, nil
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbound)
	}
	return nil
}

func (c *fakeConn) sent() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.written))
	for _, data := range c.written {
		var raw map[string]any
		if err := sonic.Unmarshal(data, &raw); err == nil {
			out = append(out, raw)
		}
	}
	return out
}

type fakeDialer struct {
	conn   Conn
	url    string
	header http.Header
}

func (d *fakeDialer) Dial(_ context.Context, url string, header http.Header) (Conn, error) {
	d.url = url
	d.header = header
	return d.conn, nil
}

func connect(t *testing.T, conn *fakeConn, opts Options) (*Bridge, *fakeDialer) {
	t.Helper()
	dialer := &fakeDialer{conn: conn}
	opts.URL = "wss://upstream.example/v1/realtime"
	opts.Model = "test-realtime"
	opts.APIKey = "sk-test"
	b, err := Connect(context.Background(), shared.NewNopLogger(), dialer, opts)
	require.NoError(t, err)
	return b, dialer
}

func TestConnectSetsAuthAndModel(t *testing.T) {
	conn := newFakeConn()
	b, dialer := connect(t, conn, Options{})
	defer b.Close()

	assert.Contains(t, dialer.url, "model=test-realtime")
	assert.Equal(t, "Bearer sk-test", dialer.header.Get("Authorization"))
	assert.Equal(t, "realtime=v1", dialer.header.Get("OpenAI-Beta"))
}

func TestBridgeDirectives(t *testing.T) {
	conn := newFakeConn()
	b, _ := connect(t, conn, Options{})
	defer b.Close()

	require.NoError(t, b.UpdateSession(map[string]any{"modalities": []string{"text", "audio"}}))
	require.NoError(t, b.AppendAudio([]byte{0x01, 0x02}))
	require.NoError(t, b.CommitAudio())
	require.NoError(t, b.CreateResponse(map[string]any{"instructions": "translate"}))

	sent := conn.sent()
	require.Len(t, sent, 4)
	assert.Equal(t, "session.update", sent[0]["type"])
	assert.Equal(t, "input_audio_buffer.append", sent[1]["type"])
	assert.Equal(t, "AQI=", sent[1]["audio"])
	assert.Equal(t, "input_audio_buffer.commit", sent[2]["type"])
	assert.Equal(t, "response.create", sent[3]["type"])
	for _, msg := range sent {
		assert.NotEmpty(t, msg["event_id"])
	}
}

func TestHandshakeOncePerConnection(t *testing.T) {
	conn := newFakeConn()
	b, _ := connect(t, conn, Options{})
	defer b.Close()

	require.NoError(t, b.UpdateSession(map[string]any{}))
	require.ErrorIs(t, b.UpdateSession(map[string]any{}), shared.ErrHandshakeDone)
	assert.Len(t, conn.sent(), 1)
}

func TestReadPumpDecodesEvents(t *testing.T) {
	conn := newFakeConn()
	events := make(chan *wire.ServerEvent, 4)
	b, _ := connect(t, conn, Options{OnEvent: func(ev *wire.ServerEvent) { events <- ev }})
	defer b.Close()

	conn.inbound <- []byte(`{"event_id":"e1","type":"session.created","session":{"id":"sess_1"}}`)
	conn.inbound <- []byte(`not json at all`)
	conn.inbound <- []byte(`{"event_id":"e2","type":"input_audio_buffer.speech_stopped","audio_end_ms":900,"item_id":"item_1"}`)

	first := <-events
	assert.Equal(t, wire.ServerEventTypeSessionCreated, first.Type)

	// the undecodable frame is skipped, not fatal
	second := <-events
	assert.Equal(t, wire.ServerEventTypeInputAudioBufferSpeechStopped, second.Type)
}

func TestUnexpectedClosureSignalsOnce(t *testing.T) {
	conn := newFakeConn()
	closed := make(chan error, 1)
	_, _ = connect(t, conn, Options{OnClosed: func(err error) { closed <- err }})

	// remote side drops the channel
	close(conn.inbound)

	select {
	case err := <-closed:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("closure never reported")
	}
}

func TestExplicitCloseIsSilent(t *testing.T) {
	conn := newFakeConn()
	closed := make(chan error, 1)
	b, _ := connect(t, conn, Options{OnClosed: func(err error) { closed <- err }})

	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "close must be idempotent")

	select {
	case <-closed:
		t.Fatal("explicit close must not trigger OnClosed")
	case <-time.After(50 * time.Millisecond):
	}
}
