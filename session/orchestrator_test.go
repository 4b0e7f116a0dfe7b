package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bt-bridge/realtime-interpreter/classify"
	"github.com/bt-bridge/realtime-interpreter/conversation"
	"github.com/bt-bridge/realtime-interpreter/metrics"
	"github.com/bt-bridge/realtime-interpreter/protocol"
	"github.com/bt-bridge/realtime-interpreter/shared"
	"github.com/bt-bridge/realtime-interpreter/wire"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type fakeChannel struct {
	mu     sync.Mutex
	msgs   []protocol.ServerMessage
	pings  int
	closed bool
}

func (c *fakeChannel) SendJSON(msg protocol.ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeChannel) SendPing() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) messages() []protocol.ServerMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.ServerMessage, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func (c *fakeChannel) count(typ protocol.MessageType) int {
	n := 0
	for _, msg := range c.messages() {
		if msg.Type == typ {
			n++
		}
	}
	return n
}

func (c *fakeChannel) last(typ protocol.MessageType) (protocol.ServerMessage, bool) {
	msgs := c.messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type == typ {
			return msgs[i], true
		}
	}
	return protocol.ServerMessage{}, false
}

type fakeLink struct {
	mu        sync.Mutex
	sessions  []map[string]any
	audio     [][]byte
	commits   int
	responses []map[string]any
	closed    bool
	appendErr error
	respErr   error
}

func (l *fakeLink) UpdateSession(session map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions = append(l.sessions, session)
	return nil
}

func (l *fakeLink) AppendAudio(pcm []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.appendErr != nil {
		return l.appendErr
	}
	l.audio = append(l.audio, pcm)
	return nil
}

func (l *fakeLink) CommitAudio() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commits++
	return nil
}

func (l *fakeLink) CreateResponse(response map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.respErr != nil {
		return l.respErr
	}
	l.responses = append(l.responses, response)
	return nil
}

func (l *fakeLink) setResponseErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.respErr = err
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) audioChunks() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.audio)
}

func (l *fakeLink) sessionUpdates() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

func (l *fakeLink) commitCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commits
}

func (l *fakeLink) responseCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.responses)
}

func (l *fakeLink) lastResponse() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.responses) == 0 {
		return nil
	}
	return l.responses[len(l.responses)-1]
}

type fakeOpener struct {
	mu       sync.Mutex
	link     *fakeLink
	onEvent  func(*wire.ServerEvent)
	onClosed func(error)
	opens    int
	fail     bool
}

func (f *fakeOpener) open(_ context.Context, onEvent func(*wire.ServerEvent), onClosed func(error)) (UpstreamLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.fail {
		return nil, errors.New("provider unreachable")
	}
	f.link = &fakeLink{}
	f.onEvent = onEvent
	f.onClosed = onClosed
	return f.link, nil
}

func (f *fakeOpener) push(ev *wire.ServerEvent) {
	f.mu.Lock()
	onEvent := f.onEvent
	f.mu.Unlock()
	onEvent(ev)
}

func (f *fakeOpener) dropChannel(err error) {
	f.mu.Lock()
	onClosed := f.onClosed
	f.mu.Unlock()
	onClosed(err)
}

func (f *fakeOpener) currentLink() *fakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.link
}

func (f *fakeOpener) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

type stubSummarizer struct{ err error }

func (s *stubSummarizer) Summarize(context.Context, conversation.Conversation) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "two participants exchanged greetings", nil
}

type stubExtractor struct{ err error }

func (s *stubExtractor) Extract(_ context.Context, msg conversation.Message) ([]conversation.Intent, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []conversation.Intent{{Type: "greeting", Confidence: 0.8, ExtractedAt: time.Now()}}, nil
}

type harness struct {
	o      *Orchestrator
	ch     *fakeChannel
	opener *fakeOpener
	store  *conversation.MemoryStore
	cancel context.CancelFunc
}

func newHarness(t *testing.T, mutate func(*Deps)) *harness {
	t.Helper()
	ch := &fakeChannel{}
	opener := &fakeOpener{}
	store := conversation.NewMemoryStore()
	classifier, err := classify.NewClassifier(
		shared.NewNopLogger(), classify.NewHeuristicDetector(), nil)
	require.NoError(t, err)

	deps := Deps{
		Logger:            shared.NewNopLogger(),
		Metrics:           metrics.New(),
		Client:            ch,
		OpenLink:          opener.open,
		Store:             store,
		Classifier:        classifier,
		Summarizer:        &stubSummarizer{},
		Intents:           &stubExtractor{},
		HeartbeatInterval: time.Hour,
		InactivityTimeout: 2 * time.Hour,
	}
	if mutate != nil {
		mutate(&deps)
	}
	o, err := New(deps)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	o.Start(ctx)
	t.Cleanup(cancel)
	return &harness{o: o, ch: ch, opener: opener, store: store, cancel: cancel}
}

func (h *harness) configureLanguages(t *testing.T) {
	t.Helper()
	frame, err := protocol.MarshalLanguageConfig(classify.DefaultLanguageConfig())
	require.NoError(t, err)
	h.o.HandleClientFrame(frame)
	require.Eventually(t, func() bool { return h.opener.currentLink() != nil }, waitFor, tick)
}

func (h *harness) negotiate(t *testing.T) {
	t.Helper()
	h.configureLanguages(t)
	h.opener.push(&wire.ServerEvent{
		Type:  wire.ServerEventTypeSessionCreated,
		Param: &wire.ServerEventParamSessionCreated{Session: map[string]any{"id": "upstream_sess"}},
	})
	require.Eventually(t, func() bool { return h.opener.currentLink().sessionUpdates() == 1 }, waitFor, tick)
	h.opener.push(&wire.ServerEvent{
		Type:  wire.ServerEventTypeSessionUpdated,
		Param: &wire.ServerEventParamSessionUpdated{Session: map[string]any{"id": "upstream_sess"}},
	})
	require.Eventually(t, func() bool { return h.ch.count(protocol.MessageTypeSessionReady) == 1 }, waitFor, tick)
}

func (h *harness) speakTurn(t *testing.T, itemId, transcript string) {
	t.Helper()
	h.opener.push(&wire.ServerEvent{
		Type:  wire.ServerEventTypeInputAudioBufferSpeechStarted,
		Param: &wire.ServerEventParamSpeechStarted{ItemId: itemId},
	})
	h.opener.push(&wire.ServerEvent{
		Type:  wire.ServerEventTypeInputAudioBufferSpeechStopped,
		Param: &wire.ServerEventParamSpeechStopped{AudioEndMs: 900, ItemId: itemId},
	})
	h.opener.push(&wire.ServerEvent{
		Type:  wire.ServerEventTypeInputAudioBufferCommitted,
		Param: &wire.ServerEventParamInputAudioBufferCommitted{ItemId: itemId},
	})
	h.opener.push(&wire.ServerEvent{
		Type: wire.ServerEventTypeConversationItemInputAudioTranscriptionCompleted,
		Param: &wire.ServerEventParamTranscriptionCompleted{
			ItemId:     itemId,
			Transcript: transcript,
		},
	})
}

func transcriptData(t *testing.T, msg protocol.ServerMessage) protocol.TranscriptData {
	t.Helper()
	data, ok := msg.Data.(protocol.TranscriptData)
	require.True(t, ok)
	return data
}

func TestSessionReachesReady(t *testing.T) {
	h := newHarness(t, nil)
	h.negotiate(t)

	ready, ok := h.ch.last(protocol.MessageTypeSessionReady)
	require.True(t, ok)
	data, ok := ready.Data.(protocol.SessionReadyData)
	require.True(t, ok)
	assert.Equal(t, h.o.SessionId(), data.SessionId)
	assert.NotEmpty(t, data.ConversationId)
	assert.Equal(t, StateReady, h.o.State())

	conv, err := h.store.Get(context.Background(), data.ConversationId)
	require.NoError(t, err)
	assert.Equal(t, conversation.StatusActive, conv.Status)
}

func TestAudioDroppedBeforeReady(t *testing.T) {
	h := newHarness(t, nil)
	h.configureLanguages(t)

	// negotiation has begun but the session is not Ready
	h.o.HandleClientFrame([]byte{0x01, 0x02, 0x03})
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, h.opener.currentLink().audioChunks())

	h.opener.push(&wire.ServerEvent{
		Type:  wire.ServerEventTypeSessionCreated,
		Param: &wire.ServerEventParamSessionCreated{Session: map[string]any{}},
	})
	h.opener.push(&wire.ServerEvent{
		Type:  wire.ServerEventTypeSessionUpdated,
		Param: &wire.ServerEventParamSessionUpdated{Session: map[string]any{}},
	})
	require.Eventually(t, func() bool { return h.o.State() == StateReady }, waitFor, tick)

	h.o.HandleClientFrame([]byte{0x04, 0x05, 0x06})
	require.Eventually(t, func() bool { return h.opener.currentLink().audioChunks() == 1 }, waitFor, tick)
}

func TestSpeechStoppedCommitsAudio(t *testing.T) {
	h := newHarness(t, nil)
	h.negotiate(t)

	h.opener.push(&wire.ServerEvent{
		Type:  wire.ServerEventTypeInputAudioBufferSpeechStopped,
		Param: &wire.ServerEventParamSpeechStopped{AudioEndMs: 1200},
	})
	require.Eventually(t, func() bool { return h.opener.currentLink().commitCount() == 1 }, waitFor, tick)
	assert.Equal(t, StateProcessing, h.o.State())
}

func TestFullTranslationTurn(t *testing.T) {
	h := newHarness(t, nil)
	h.negotiate(t)

	h.speakTurn(t, "item_1", "Hello, how are you?")
	require.Eventually(t, func() bool { return h.opener.currentLink().responseCount() == 1 }, waitFor, tick)

	// the utterance resolved to the primary participant, so the directive
	// targets the other configured language
	directive := h.opener.currentLink().lastResponse()
	instructions, _ := directive["instructions"].(string)
	assert.Contains(t, instructions, "into spanish")

	final, ok := h.ch.last(protocol.MessageTypeTranscript)
	require.True(t, ok)
	data := transcriptData(t, final)
	assert.True(t, data.Finished)
	assert.Equal(t, classify.RoleA, data.Role)

	h.opener.push(&wire.ServerEvent{
		Type:  wire.ServerEventTypeResponseCreated,
		Param: &wire.ServerEventParamResponseCreated{Response: map[string]any{"id": "resp_1"}},
	})
	h.opener.push(&wire.ServerEvent{
		Type: wire.ServerEventTypeResponseAudioDelta,
		Param: &wire.ServerEventParamResponseAudioDelta{
			ResponseId: "resp_1", Delta: "AAAA",
		},
	})
	h.opener.push(&wire.ServerEvent{
		Type: wire.ServerEventTypeResponseAudioTranscriptDelta,
		Param: &wire.ServerEventParamResponseAudioTranscriptDelta{
			ResponseId: "resp_1", Delta: "Hola, ",
		},
	})
	h.opener.push(&wire.ServerEvent{
		Type: wire.ServerEventTypeResponseAudioTranscriptDone,
		Param: &wire.ServerEventParamResponseAudioTranscriptDone{
			ResponseId: "resp_1", Transcript: "Hola, ¿cómo estás?",
		},
	})

	require.Eventually(t, func() bool {
		msg, ok := h.ch.last(protocol.MessageTypeTranslation)
		if !ok {
			return false
		}
		data, ok := msg.Data.(protocol.TranslationData)
		return ok && data.Finished
	}, waitFor, tick)

	// deltas precede the final, all correlated by the utterance id
	var ids []string
	var finals int
	for _, msg := range h.ch.messages() {
		if msg.Type != protocol.MessageTypeTranslation {
			continue
		}
		data := msg.Data.(protocol.TranslationData)
		ids = append(ids, data.Id)
		if data.Finished {
			finals++
		} else {
			assert.Zero(t, finals, "no delta may follow the final")
		}
	}
	assert.Equal(t, 1, finals)
	for _, id := range ids {
		assert.Equal(t, "item_1", id)
	}

	// turn persisted with intents
	require.Eventually(t, func() bool {
		conv, err := h.store.Get(context.Background(), h.o.ConversationId())
		return err == nil && len(conv.Messages) == 1
	}, waitFor, tick)
	conv, err := h.store.Get(context.Background(), h.o.ConversationId())
	require.NoError(t, err)
	msg := conv.Messages[0]
	assert.Equal(t, "Hello, how are you?", msg.OriginalText)
	assert.Equal(t, "Hola, ¿cómo estás?", msg.TranslatedText)
	assert.Equal(t, classify.RoleA, msg.Role)
	require.Len(t, msg.Intents, 1)
	assert.Equal(t, "greeting", msg.Intents[0].Type)

	assert.Equal(t, 1, h.ch.count(protocol.MessageTypeIntentsExtracted))
	assert.Equal(t, 1, h.ch.count(protocol.MessageTypeAudio))
	require.Eventually(t, func() bool { return h.o.State() == StateListening }, waitFor, tick)
}

func TestFailedTranslationRequestDoesNotShiftCorrelation(t *testing.T) {
	h := newHarness(t, nil)
	h.negotiate(t)

	// the first turn's translation request never leaves the process
	h.opener.currentLink().setResponseErr(errors.New("write: broken pipe"))
	h.speakTurn(t, "item_1", "Hello, how are you?")
	require.Eventually(t, func() bool {
		msg, ok := h.ch.last(protocol.MessageTypeError)
		if !ok {
			return false
		}
		data, ok := msg.Data.(protocol.ErrorData)
		return ok && data.Message == "translation unavailable, please repeat"
	}, waitFor, tick)
	require.Eventually(t, func() bool { return h.o.State() == StateListening }, waitFor, tick)

	h.opener.currentLink().setResponseErr(nil)
	h.speakTurn(t, "item_2", "Thank you doctor")
	require.Eventually(t, func() bool { return h.opener.currentLink().responseCount() == 1 }, waitFor, tick)

	// the one real response must bind to the second utterance, not the
	// turn whose request failed
	h.opener.push(&wire.ServerEvent{
		Type:  wire.ServerEventTypeResponseCreated,
		Param: &wire.ServerEventParamResponseCreated{Response: map[string]any{"id": "resp_1"}},
	})
	h.opener.push(&wire.ServerEvent{
		Type: wire.ServerEventTypeResponseAudioTranscriptDone,
		Param: &wire.ServerEventParamResponseAudioTranscriptDone{
			ResponseId: "resp_1", Transcript: "Gracias doctor",
		},
	})

	require.Eventually(t, func() bool {
		msg, ok := h.ch.last(protocol.MessageTypeTranslation)
		if !ok {
			return false
		}
		data, ok := msg.Data.(protocol.TranslationData)
		return ok && data.Finished
	}, waitFor, tick)
	final, _ := h.ch.last(protocol.MessageTypeTranslation)
	assert.Equal(t, "item_2", final.Data.(protocol.TranslationData).Id)

	require.Eventually(t, func() bool {
		conv, err := h.store.Get(context.Background(), h.o.ConversationId())
		return err == nil && len(conv.Messages) == 1
	}, waitFor, tick)
	conv, err := h.store.Get(context.Background(), h.o.ConversationId())
	require.NoError(t, err)
	assert.Equal(t, "Thank you doctor", conv.Messages[0].OriginalText)
	assert.Equal(t, "Gracias doctor", conv.Messages[0].TranslatedText)
}

func TestUnsupportedLanguageDiscardsTurn(t *testing.T) {
	h := newHarness(t, nil)
	h.negotiate(t)

	h.speakTurn(t, "item_1", "これは日本語です")
	require.Eventually(t, func() bool { return h.ch.count(protocol.MessageTypeError) == 1 }, waitFor, tick)

	assert.Zero(t, h.opener.currentLink().responseCount(), "no translation pass for a discarded turn")
	conv, err := h.store.Get(context.Background(), h.o.ConversationId())
	require.NoError(t, err)
	assert.Empty(t, conv.Messages)
	require.Eventually(t, func() bool { return h.o.State() == StateListening }, waitFor, tick)
}

func TestInvalidLanguageTokenFromTranscription(t *testing.T) {
	h := newHarness(t, nil)
	h.negotiate(t)

	h.speakTurn(t, "item_1", classify.InvalidLanguageToken)
	require.Eventually(t, func() bool { return h.ch.count(protocol.MessageTypeError) == 1 }, waitFor, tick)
	assert.Zero(t, h.opener.currentLink().responseCount())
}

func TestRepeatCommandReplaysOtherRole(t *testing.T) {
	h := newHarness(t, nil)
	h.negotiate(t)

	// roleA's turn is translated and synthesized
	h.speakTurn(t, "item_1", "Hello, how are you?")
	require.Eventually(t, func() bool { return h.opener.currentLink().responseCount() == 1 }, waitFor, tick)
	h.opener.push(&wire.ServerEvent{
		Type:  wire.ServerEventTypeResponseCreated,
		Param: &wire.ServerEventParamResponseCreated{Response: map[string]any{"id": "resp_1"}},
	})
	h.opener.push(&wire.ServerEvent{
		Type: wire.ServerEventTypeResponseAudioDelta,
		Param: &wire.ServerEventParamResponseAudioDelta{
			ResponseId: "resp_1", Delta: "Zmlyc3Q=",
		},
	})
	h.opener.push(&wire.ServerEvent{
		Type: wire.ServerEventTypeResponseAudioDelta,
		Param: &wire.ServerEventParamResponseAudioDelta{
			ResponseId: "resp_1", Delta: "c2Vjb25k",
		},
	})
	h.opener.push(&wire.ServerEvent{
		Type: wire.ServerEventTypeResponseAudioTranscriptDone,
		Param: &wire.ServerEventParamResponseAudioTranscriptDone{
			ResponseId: "resp_1", Transcript: "Hola, ¿cómo estás?",
		},
	})
	require.Eventually(t, func() bool { return h.ch.count(protocol.MessageTypeAudio) == 2 }, waitFor, tick)

	// roleB asks for a repeat; roleA's fragments replay verbatim, in order
	h.speakTurn(t, "item_2", "¿Puedes repetir?")
	require.Eventually(t, func() bool { return h.ch.count(protocol.MessageTypeAudio) == 4 }, waitFor, tick)

	var audio []string
	for _, msg := range h.ch.messages() {
		if msg.Type == protocol.MessageTypeAudio {
			audio = append(audio, msg.Data.(string))
		}
	}
	assert.Equal(t, []string{"Zmlyc3Q=", "c2Vjb25k", "Zmlyc3Q=", "c2Vjb25k"}, audio)

	// no translation entry for the repeat turn
	assert.Equal(t, 1, h.opener.currentLink().responseCount())
	conv, err := h.store.Get(context.Background(), h.o.ConversationId())
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 1)
}

func TestPendingMessageLatestWins(t *testing.T) {
	h := newHarness(t, nil)
	h.negotiate(t)

	// two utterances finalize before any translation completes; the latest
	// replaces the unpaired pending slot
	h.speakTurn(t, "item_1", "Hello, how are you?")
	require.Eventually(t, func() bool { return h.opener.currentLink().responseCount() == 1 }, waitFor, tick)
	h.speakTurn(t, "item_2", "Thank you doctor")
	require.Eventually(t, func() bool { return h.opener.currentLink().responseCount() == 2 }, waitFor, tick)

	h.opener.push(&wire.ServerEvent{
		Type:  wire.ServerEventTypeResponseCreated,
		Param: &wire.ServerEventParamResponseCreated{Response: map[string]any{"id": "resp_1"}},
	})
	h.opener.push(&wire.ServerEvent{
		Type:  wire.ServerEventTypeResponseCreated,
		Param: &wire.ServerEventParamResponseCreated{Response: map[string]any{"id": "resp_2"}},
	})
	h.opener.push(&wire.ServerEvent{
		Type: wire.ServerEventTypeResponseAudioTranscriptDone,
		Param: &wire.ServerEventParamResponseAudioTranscriptDone{
			ResponseId: "resp_2", Transcript: "Gracias doctor",
		},
	})

	require.Eventually(t, func() bool {
		conv, err := h.store.Get(context.Background(), h.o.ConversationId())
		return err == nil && len(conv.Messages) == 1
	}, waitFor, tick)

	conv, err := h.store.Get(context.Background(), h.o.ConversationId())
	require.NoError(t, err)
	// the overwritten first turn is lost by design; only the latest pairs
	assert.Equal(t, "Thank you doctor", conv.Messages[0].OriginalText)
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.negotiate(t)

	ctx := context.Background()
	first, err := h.o.Stop(ctx, metrics.StopReasonClient)
	require.NoError(t, err)
	require.NotNil(t, first.Summary)
	assert.Equal(t, "two participants exchanged greetings", *first.Summary)

	second, err := h.o.Stop(ctx, metrics.StopReasonClient)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, 1, h.ch.count(protocol.MessageTypeConversationStopped))
	conv, err := h.store.Get(ctx, first.ConversationId)
	require.NoError(t, err)
	assert.Equal(t, conversation.StatusStopped, conv.Status)
	assert.Equal(t, StateStopped, h.o.State())
	assert.True(t, h.opener.currentLink().closed)
}

func TestStopWithFailingSummarizer(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Summarizer = &stubSummarizer{err: errors.New("model down")}
	})
	h.negotiate(t)

	res, err := h.o.Stop(context.Background(), metrics.StopReasonClient)
	require.NoError(t, err)
	require.NotNil(t, res.Summary)
	assert.Equal(t, conversation.PlaceholderSummary, *res.Summary)
}

func TestUpstreamDropTriggersReconnect(t *testing.T) {
	h := newHarness(t, nil)
	h.negotiate(t)

	h.opener.dropChannel(errors.New("connection reset"))
	require.Eventually(t, func() bool { return h.o.State() == StateReconnecting }, waitFor, tick)
	assert.GreaterOrEqual(t, h.ch.count(protocol.MessageTypeError), 1)

	// next client activity reopens the upstream channel
	h.o.HandleClientFrame([]byte{0x01, 0x02})
	require.Eventually(t, func() bool { return h.opener.openCount() == 2 }, waitFor, tick)
	assert.Equal(t, StateNegotiating, h.o.State())
}

func TestInitialDialFailureIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.opener.fail = true

	frame, err := protocol.MarshalLanguageConfig(classify.DefaultLanguageConfig())
	require.NoError(t, err)
	h.o.HandleClientFrame(frame)

	select {
	case <-h.o.Stopped():
	case <-time.After(waitFor):
		t.Fatal("session never stopped after fatal dial failure")
	}
	assert.GreaterOrEqual(t, h.ch.count(protocol.MessageTypeError), 1)
}

func TestInactivityTimeoutNotifiesThenStops(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.HeartbeatInterval = 20 * time.Millisecond
		d.InactivityTimeout = 60 * time.Millisecond
	})
	h.negotiate(t)

	// the client stays responsive to pings; only audio activity is missing
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.o.HandlePong()
			case <-h.o.Stopped():
				return
			}
		}
	}()

	select {
	case <-h.o.Stopped():
	case <-time.After(waitFor):
		t.Fatal("idle session never timed out")
	}

	msgs := h.ch.messages()
	timeoutIdx, stoppedIdx := -1, -1
	for i, msg := range msgs {
		if msg.Type == protocol.MessageTypeEvent {
			if data, ok := msg.Data.(protocol.EventData); ok && data.Event == protocol.EventTimeout {
				timeoutIdx = i
			}
		}
		if msg.Type == protocol.MessageTypeConversationStopped {
			stoppedIdx = i
		}
	}
	require.GreaterOrEqual(t, timeoutIdx, 0, "timeout notification missing")
	require.GreaterOrEqual(t, stoppedIdx, 0, "conversation_stopped missing")
	assert.Less(t, timeoutIdx, stoppedIdx, "notification must precede the stop")
}

func TestHeartbeatReapsUnresponsiveClient(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.HeartbeatInterval = 20 * time.Millisecond
		d.InactivityTimeout = time.Hour
	})

	select {
	case <-h.o.Stopped():
	case <-time.After(waitFor):
		t.Fatal("unresponsive client never reaped")
	}
}

func TestHeartbeatSurvivesWithPongs(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.HeartbeatInterval = 25 * time.Millisecond
		d.InactivityTimeout = time.Hour
	})

	deadline := time.After(150 * time.Millisecond)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.o.HandlePong()
		case <-deadline:
			assert.NotEqual(t, StateStopped, h.o.State())
			return
		case <-h.o.Stopped():
			t.Fatal("session stopped despite pongs")
		}
	}
}

func TestResumeAttachesExistingConversation(t *testing.T) {
	store := conversation.NewMemoryStore()
	existing := conversation.Conversation{
		Id:             "conv_resume",
		SessionId:      "old_session",
		Status:         conversation.StatusStopped,
		LanguageConfig: classify.DefaultLanguageConfig(),
		StartedAt:      time.Now(),
	}
	require.NoError(t, store.Create(context.Background(), existing))

	h := newHarness(t, func(d *Deps) {
		d.Store = store
		d.ResumeConversationId = "conv_resume"
	})
	h.negotiate(t)

	assert.Equal(t, "conv_resume", h.o.ConversationId())
	conv, err := store.Get(context.Background(), "conv_resume")
	require.NoError(t, err)
	assert.Equal(t, conversation.StatusActive, conv.Status)
}

func TestRegistryLifecycle(t *testing.T) {
	reg, err := NewRegistry(shared.NewNopLogger())
	require.NoError(t, err)

	h := newHarness(t, func(d *Deps) {
		d.OnStopped = func(sessionId string) {}
	})
	reg.Add(h.o)
	assert.Equal(t, 1, reg.Len())

	got, err := reg.Lookup(h.o.SessionId())
	require.NoError(t, err)
	assert.Same(t, h.o, got)

	_, err = reg.Lookup("missing")
	require.ErrorIs(t, err, shared.ErrSessionNotFound)

	h.negotiate(t)
	byConv, err := reg.LookupByConversation(h.o.ConversationId())
	require.NoError(t, err)
	assert.Same(t, h.o, byConv)

	reg.StopAll(context.Background(), metrics.StopReasonClient)
	assert.Equal(t, StateStopped, h.o.State())

	reg.Remove(h.o.SessionId())
	assert.Zero(t, reg.Len())
}
