package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bt-bridge/realtime-interpreter/classify"
	"github.com/bt-bridge/realtime-interpreter/conversation"
	"github.com/bt-bridge/realtime-interpreter/metrics"
	"github.com/bt-bridge/realtime-interpreter/protocol"
	"github.com/bt-bridge/realtime-interpreter/shared"
	"github.com/bt-bridge/realtime-interpreter/webhook"
	"github.com/bt-bridge/realtime-interpreter/wire"
)

// SpeakerClassifier resolves the speaker of a finalized transcript.
// Satisfied by *classify.Classifier.
type SpeakerClassifier interface {
	ClassifySpeaker(ctx context.Context, text string, cfg classify.LanguageConfig) (classify.Role, string, error)
}

// Deps are the orchestrator's collaborators. Logger, Client, OpenLink, Store
// and Classifier are required; the rest degrade gracefully when absent.
type Deps struct {
	Logger     shared.LoggerAdapter
	Metrics    *metrics.Metrics
	Client     ClientChannel
	OpenLink   LinkOpener
	Store      conversation.Store
	Classifier SpeakerClassifier
	Summarizer conversation.Summarizer
	Intents    conversation.IntentExtractor
	Notifier   *webhook.Notifier

	TranscriptionModel string
	HeartbeatInterval  time.Duration
	InactivityTimeout  time.Duration
	// ResumeConversationId reattaches this session to a prior conversation
	// instead of creating a fresh record.
	ResumeConversationId string
	// OnStopped fires once after teardown completes.
	OnStopped func(sessionId string)
}

type eventKind int

const (
	evClientAudio eventKind = iota
	evClientControl
	evUpstream
	evUpstreamClosed
	evPong
	evStop
)

type event struct {
	kind       eventKind
	audio      []byte
	control    protocol.ClientControl
	upstream   *wire.ServerEvent
	err        error
	stopReason string
	reply      chan StopResult
}

// Orchestrator serializes every input of one session through a single event
// loop: client frames, upstream events, heartbeat ticks, and control-surface
// requests. Handlers run to completion; no session state needs a lock except
// the tiny snapshot read by accessors.
type Orchestrator struct {
	deps      Deps
	logger    shared.LoggerAdapter
	sessionId string

	events  chan event
	stopped chan struct{}
	runCtx  context.Context

	// loop-owned state
	state            State
	langCfg          classify.LanguageConfig
	link             UpstreamLink
	conversationId   string
	utterances       map[string]*Utterance
	awaitingResponse []string
	responseItems    map[string]string
	pending          *PendingMessage
	lastAudio        map[classify.Role][]string
	chunkCount       uint64
	byteCount        uint64
	lastActivity     time.Time
	awaitingPong     bool
	collabTimeout    time.Duration

	// accessor snapshot
	snapMu   sync.RWMutex
	snapshot struct {
		state          State
		conversationId string
		lastStop       StopResult
	}
}

// New builds an orchestrator for one accepted client connection.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Logger == nil {
		return nil, shared.ErrNoLogger
	}
	if deps.Client == nil {
		return nil, shared.ErrNoClientChannel
	}
	if deps.OpenLink == nil {
		return nil, shared.ErrNoUpstreamOpener
	}
	if deps.Store == nil || deps.Classifier == nil {
		return nil, shared.ErrNoConfig
	}
	if deps.HeartbeatInterval <= 0 {
		deps.HeartbeatInterval = 30 * time.Second
	}
	if deps.InactivityTimeout <= 0 {
		deps.InactivityTimeout = 15 * time.Minute
	}

	sessionId := uuid.NewString()
	o := &Orchestrator{
		deps:          deps,
		logger:        deps.Logger.With(zap.String("session_id", sessionId)),
		sessionId:     sessionId,
		events:        make(chan event, 256),
		stopped:       make(chan struct{}),
		state:         StateConnecting,
		langCfg:       classify.DefaultLanguageConfig(),
		utterances:    make(map[string]*Utterance),
		responseItems: make(map[string]string),
		lastAudio:     make(map[classify.Role][]string),
		lastActivity:  time.Now(),
		collabTimeout: 10 * time.Second,
	}
	o.setSnapshot(StateConnecting, "")
	return o, nil
}

func (o *Orchestrator) SessionId() string {
	return o.sessionId
}

func (o *Orchestrator) State() State {
	o.snapMu.RLock()
	defer o.snapMu.RUnlock()
	return o.snapshot.state
}

func (o *Orchestrator) ConversationId() string {
	o.snapMu.RLock()
	defer o.snapMu.RUnlock()
	return o.snapshot.conversationId
}

// Stopped is closed once the event loop has exited.
func (o *Orchestrator) Stopped() <-chan struct{} {
	return o.stopped
}

func (o *Orchestrator) setSnapshot(state State, conversationId string) {
	o.snapMu.Lock()
	defer o.snapMu.Unlock()
	o.snapshot.state = state
	if conversationId != "" {
		o.snapshot.conversationId = conversationId
	}
}

func (o *Orchestrator) setState(s State) {
	o.state = s
	o.setSnapshot(s, "")
}

// Start launches the event loop.
func (o *Orchestrator) Start(ctx context.Context) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.SessionsStarted.Inc()
		o.deps.Metrics.SessionsActive.Inc()
	}
	go o.run(ctx)
}

// HandleClientFrame ingests one frame from the client channel. A frame that
// parses as a structured control message is treated as such; anything else is
// opaque audio. The caller must hand over a buffer it will not reuse.
func (o *Orchestrator) HandleClientFrame(data []byte) {
	if ctrl, ok := protocol.ParseClientControl(data); ok {
		o.post(event{kind: evClientControl, control: ctrl})
		return
	}
	o.post(event{kind: evClientAudio, audio: data})
}

// HandlePong records client liveness.
func (o *Orchestrator) HandlePong() {
	o.post(event{kind: evPong})
}

// Stop requests teardown and blocks until persistence has been finalized.
// Stopping an already stopped session returns the original result and does
// not repeat any side effect.
func (o *Orchestrator) Stop(ctx context.Context, reason string) (StopResult, error) {
	reply := make(chan StopResult, 1)
	select {
	case o.events <- event{kind: evStop, stopReason: reason, reply: reply}:
	case <-o.stopped:
		return o.lastStop(), nil
	case <-ctx.Done():
		return StopResult{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res, nil
	case <-o.stopped:
		return o.lastStop(), nil
	case <-ctx.Done():
		return StopResult{}, ctx.Err()
	}
}

func (o *Orchestrator) lastStop() StopResult {
	o.snapMu.RLock()
	defer o.snapMu.RUnlock()
	return o.snapshot.lastStop
}

func (o *Orchestrator) post(ev event) {
	select {
	case o.events <- ev:
	case <-o.stopped:
	}
}

func (o *Orchestrator) run(ctx context.Context) {
	defer close(o.stopped)
	o.runCtx = ctx

	ticker := time.NewTicker(o.deps.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.shutdown(metrics.StopReasonDisconnect)
			return
		case <-ticker.C:
			if o.handleTick() {
				return
			}
		case ev := <-o.events:
			if o.handleEvent(ev) {
				return
			}
		}
	}
}

// handleEvent returns true when the loop must exit.
func (o *Orchestrator) handleEvent(ev event) bool {
	switch ev.kind {
	case evClientAudio:
		o.handleClientAudio(ev.audio)
	case evClientControl:
		o.handleClientControl(ev.control)
	case evUpstream:
		o.handleUpstream(ev.upstream)
	case evUpstreamClosed:
		o.handleUpstreamClosed(ev.err)
	case evPong:
		// liveness only; a pong does not count as activity, or an idle
		// client with a healthy socket would never hit the timeout
		o.awaitingPong = false
	case evStop:
		res := o.shutdown(ev.stopReason)
		ev.reply <- res
		return true
	}
	return false
}

func (o *Orchestrator) handleTick() bool {
	now := time.Now()
	if now.Sub(o.lastActivity) >= o.deps.InactivityTimeout {
		o.logger.Info("session idle past the inactivity window")
		o.sendToClient(protocol.NewEvent(protocol.EventTimeout))
		o.shutdown(metrics.StopReasonTimeout)
		return true
	}
	if o.awaitingPong {
		o.logger.Warn("client missed a heartbeat interval, tearing down")
		o.shutdown(metrics.StopReasonHeartbeat)
		return true
	}
	if err := o.deps.Client.SendPing(); err != nil {
		o.logger.Warn("client unreachable for heartbeat", zap.Error(err))
		o.shutdown(metrics.StopReasonDisconnect)
		return true
	}
	o.awaitingPong = true
	return false
}

func (o *Orchestrator) handleClientAudio(data []byte) {
	o.lastActivity = time.Now()
	o.chunkCount++
	o.byteCount += uint64(len(data))
	if o.deps.Metrics != nil {
		o.deps.Metrics.AudioChunks.Inc()
		o.deps.Metrics.AudioBytes.Add(float64(len(data)))
	}
	if o.chunkCount%200 == 0 {
		o.logger.Trace("audio flowing",
			zap.Uint64("chunks", o.chunkCount),
			zap.Uint64("bytes", o.byteCount))
	}

	switch {
	case o.state == StateReconnecting:
		// renegotiate on activity; the triggering chunk is dropped
		o.openUpstream()
	case o.state.forwardsAudio() && o.link != nil:
		if err := o.link.AppendAudio(data); err != nil {
			o.logger.Error("on forwarding audio upstream", err)
			o.handleUpstreamClosed(err)
		}
	default:
		// pre-Ready chunks are dropped, never queued
		o.logger.Trace("dropping audio chunk", zap.String("state", string(o.state)))
	}
}

func (o *Orchestrator) handleClientControl(ctrl protocol.ClientControl) {
	o.lastActivity = time.Now()
	switch ctrl.Type {
	case protocol.ClientControlLanguageConfig:
		if ctrl.LanguageConfig == nil {
			return
		}
		o.langCfg = *ctrl.LanguageConfig
		o.logger.Info("language configuration received",
			zap.String("role_a", o.langCfg.RoleALanguage),
			zap.String("role_b", o.langCfg.RoleBLanguage))
		if o.state == StateConnecting && o.link == nil {
			o.openUpstream()
		}
	default:
		o.logger.Debug("ignoring unknown control message", zap.String("type", string(ctrl.Type)))
	}
}

func (o *Orchestrator) openUpstream() {
	initial := o.state == StateConnecting
	link, err := o.deps.OpenLink(o.runCtx, o.onUpstreamEvent, o.onUpstreamClosed)
	if err != nil {
		o.logger.Error("on opening upstream channel", err)
		if initial {
			// fatal: the session can never reach Ready
			o.sendToClient(protocol.NewError("session failed to start"))
			o.shutdownAsync(metrics.StopReasonDisconnect)
			return
		}
		o.sendToClient(protocol.NewError("interpreter temporarily unavailable"))
		return
	}
	o.link = link
	o.setState(StateNegotiating)
}

// shutdownAsync schedules teardown through the event queue so the current
// handler can finish first.
func (o *Orchestrator) shutdownAsync(reason string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.collabTimeout)
		defer cancel()
		_, _ = o.Stop(ctx, reason)
	}()
}

func (o *Orchestrator) onUpstreamEvent(ev *wire.ServerEvent) {
	o.post(event{kind: evUpstream, upstream: ev})
}

func (o *Orchestrator) onUpstreamClosed(err error) {
	o.post(event{kind: evUpstreamClosed, err: err})
}

func (o *Orchestrator) handleUpstream(ev *wire.ServerEvent) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.UpstreamEvents.WithLabelValues(string(ev.Type)).Inc()
	}
	switch ev.Type {
	case wire.ServerEventTypeSessionCreated:
		o.handleSessionCreated()
	case wire.ServerEventTypeSessionUpdated:
		o.handleSessionUpdated()
	case wire.ServerEventTypeConversationItemCreated:
		if p, ok := ev.Param.(*wire.ServerEventParamConversationItemCreated); ok {
			o.ensureUtterance(p.ItemId())
		}
	case wire.ServerEventTypeInputAudioBufferCommitted:
		if p, ok := ev.Param.(*wire.ServerEventParamInputAudioBufferCommitted); ok {
			o.ensureUtterance(p.ItemId)
		}
	case wire.ServerEventTypeInputAudioBufferSpeechStarted:
		o.sendToClient(protocol.NewEvent(protocol.EventSpeechStarted))
		if o.state == StateReady {
			o.setState(StateListening)
		}
	case wire.ServerEventTypeInputAudioBufferSpeechStopped:
		o.sendToClient(protocol.NewEvent(protocol.EventSpeechStopped))
		if o.link != nil {
			if err := o.link.CommitAudio(); err != nil {
				o.logger.Error("on committing input audio", err)
			}
		}
		o.setState(StateProcessing)
	case wire.ServerEventTypeConversationItemInputAudioTranscriptionDelta:
		if p, ok := ev.Param.(*wire.ServerEventParamTranscriptionDelta); ok {
			utt := o.ensureUtterance(p.ItemId)
			utt.Transcript += p.Delta
			o.sendToClient(protocol.NewTranscript(p.ItemId, p.Delta, false, classify.RoleDetecting))
		}
	case wire.ServerEventTypeConversationItemInputAudioTranscriptionCompleted:
		if p, ok := ev.Param.(*wire.ServerEventParamTranscriptionCompleted); ok {
			o.handleTranscriptFinal(p)
		}
	case wire.ServerEventTypeConversationItemInputAudioTranscriptionFailed:
		o.logger.Warn("transcription failed upstream")
		o.sendToClient(protocol.NewError("could not transcribe that, please try again"))
		o.returnToListening()
	case wire.ServerEventTypeResponseCreated:
		if p, ok := ev.Param.(*wire.ServerEventParamResponseCreated); ok {
			o.bindResponse(p.ResponseId())
		}
	case wire.ServerEventTypeResponseAudioDelta:
		if p, ok := ev.Param.(*wire.ServerEventParamResponseAudioDelta); ok {
			o.sendToClient(protocol.NewAudio(p.Delta))
			role := o.roleForResponse(p.ResponseId)
			o.lastAudio[role] = append(o.lastAudio[role], p.Delta)
		}
	case wire.ServerEventTypeResponseAudioTranscriptDelta:
		if p, ok := ev.Param.(*wire.ServerEventParamResponseAudioTranscriptDelta); ok {
			o.sendToClient(protocol.NewTranslation(o.itemForResponse(p.ResponseId, p.ItemId), p.Delta, false))
		}
	case wire.ServerEventTypeResponseAudioTranscriptDone:
		if p, ok := ev.Param.(*wire.ServerEventParamResponseAudioTranscriptDone); ok {
			o.handleTranslationFinal(p)
		}
	case wire.ServerEventTypeResponseDone:
		if p, ok := ev.Param.(*wire.ServerEventParamResponseDone); ok {
			o.handleResponseDone(p)
		}
	case wire.ServerEventTypeError:
		if p, ok := ev.Param.(*wire.ServerEventParamError); ok {
			o.logger.Warn("upstream protocol error",
				zap.String("code", p.Error.Code),
				zap.String("message", p.Error.Message))
		}
		o.sendToClient(protocol.NewError("interpreter error, please continue"))
	}
}

func (o *Orchestrator) handleSessionCreated() {
	if o.state != StateNegotiating || o.link == nil {
		return
	}
	if err := o.link.UpdateSession(SessionConfig(o.langCfg, o.deps.TranscriptionModel)); err != nil {
		if errors.Is(err, shared.ErrHandshakeDone) {
			return
		}
		o.logger.Error("on pushing session configuration", err)
		o.sendToClient(protocol.NewError("session failed to start"))
	}
}

func (o *Orchestrator) handleSessionUpdated() {
	if o.state != StateNegotiating {
		return
	}
	ctx, cancel := context.WithTimeout(o.runCtx, o.collabTimeout)
	defer cancel()

	if o.conversationId == "" {
		if err := o.attachConversation(ctx); err != nil {
			o.logger.Error("on attaching conversation record", err)
			o.sendToClient(protocol.NewError("session failed to start"))
			o.shutdownAsync(metrics.StopReasonDisconnect)
			return
		}
	}
	o.setState(StateReady)
	o.sendToClient(protocol.NewSessionReady(o.sessionId, o.conversationId))
	o.sendToClient(protocol.NewEvent(protocol.EventSessionReady))
	o.logger.Info("session ready", zap.String("conversation_id", o.conversationId))
}

func (o *Orchestrator) attachConversation(ctx context.Context) error {
	if o.deps.ResumeConversationId != "" {
		conv, err := o.deps.Store.Resume(ctx, o.deps.ResumeConversationId)
		if err != nil {
			return err
		}
		o.conversationId = conv.Id
		o.langCfg = conv.LanguageConfig
		o.setSnapshot(o.state, conv.Id)
		return nil
	}
	conv := conversation.Conversation{
		Id:             uuid.NewString(),
		SessionId:      o.sessionId,
		Status:         conversation.StatusActive,
		LanguageConfig: o.langCfg,
		StartedAt:      time.Now(),
	}
	if err := o.deps.Store.Create(ctx, conv); err != nil {
		return err
	}
	o.conversationId = conv.Id
	o.setSnapshot(o.state, conv.Id)
	return nil
}

func (o *Orchestrator) ensureUtterance(itemId string) *Utterance {
	if itemId == "" {
		return &Utterance{Role: classify.RoleDetecting}
	}
	if utt, ok := o.utterances[itemId]; ok {
		return utt
	}
	utt := &Utterance{
		ItemId:    itemId,
		Role:      classify.RoleDetecting,
		StartedAt: time.Now(),
	}
	o.utterances[itemId] = utt
	return utt
}

func (o *Orchestrator) handleTranscriptFinal(p *wire.ServerEventParamTranscriptionCompleted) {
	text := strings.TrimSpace(p.Transcript)
	if text == "" {
		o.returnToListening()
		return
	}
	if strings.Contains(text, classify.InvalidLanguageToken) {
		o.discardTurn(p.ItemId, "unsupported language")
		return
	}

	utt := o.ensureUtterance(p.ItemId)
	utt.Transcript = text

	ctx, cancel := context.WithTimeout(o.runCtx, o.collabTimeout)
	role, language, err := o.deps.Classifier.ClassifySpeaker(ctx, text, o.langCfg)
	cancel()
	if err != nil {
		if errors.Is(err, shared.ErrUnsupportedLanguage) {
			o.discardTurn(p.ItemId, "unsupported language")
			return
		}
		o.logger.Error("on classifying speaker", err)
		o.discardTurn(p.ItemId, "could not process that, please try again")
		return
	}
	utt.Role = role

	o.sendToClient(protocol.NewTranscript(p.ItemId, text, true, role))

	if IsRepeatCommand(text) {
		o.replayLastAudio(role.Other())
		delete(o.utterances, p.ItemId)
		o.returnToListening()
		return
	}

	if o.pending != nil {
		// latest wins; losing a pending turn is an anomaly worth noticing
		o.logger.Warn("overwriting unpaired pending message",
			zap.String("lost_item_id", o.pending.ItemId),
			zap.String("new_item_id", p.ItemId))
	}
	o.pending = &PendingMessage{
		ItemId:       p.ItemId,
		OriginalText: text,
		Speaker:      role,
		Language:     language,
		CapturedAt:   time.Now(),
	}
	if o.link == nil {
		o.logger.Warn("no upstream channel for translation request")
		o.pending = nil
		o.returnToListening()
		return
	}
	if err := o.link.CreateResponse(TranslationDirective(o.langCfg, role)); err != nil {
		o.logger.Error("on requesting translation", err)
		o.sendToClient(protocol.NewError("translation unavailable, please repeat"))
		o.pending = nil
		o.returnToListening()
		return
	}
	// only a request that actually went out may claim the next response
	o.awaitingResponse = append(o.awaitingResponse, p.ItemId)
	o.setState(StateProcessing)
}

func (o *Orchestrator) discardTurn(itemId, message string) {
	o.sendToClient(protocol.NewError(message))
	if o.deps.Metrics != nil {
		o.deps.Metrics.TranslationFails.Inc()
	}
	delete(o.utterances, itemId)
	o.returnToListening()
}

func (o *Orchestrator) replayLastAudio(role classify.Role) {
	fragments := o.lastAudio[role]
	if len(fragments) == 0 {
		o.sendToClient(protocol.NewError("nothing to repeat yet"))
		return
	}
	o.logger.Debug("replaying last synthesized turn",
		zap.String("role", string(role)),
		zap.Int("fragments", len(fragments)))
	for _, fragment := range fragments {
		o.sendToClient(protocol.NewAudio(fragment))
	}
}

func (o *Orchestrator) bindResponse(responseId string) {
	if responseId == "" || len(o.awaitingResponse) == 0 {
		return
	}
	itemId := o.awaitingResponse[0]
	o.awaitingResponse = o.awaitingResponse[1:]
	o.responseItems[responseId] = itemId
	// a fresh turn replaces the speaker's replayable audio
	if utt, ok := o.utterances[itemId]; ok {
		o.lastAudio[utt.Role] = nil
	}
}

func (o *Orchestrator) itemForResponse(responseId, fallback string) string {
	if itemId, ok := o.responseItems[responseId]; ok {
		return itemId
	}
	if o.pending != nil {
		return o.pending.ItemId
	}
	return fallback
}

func (o *Orchestrator) roleForResponse(responseId string) classify.Role {
	if itemId, ok := o.responseItems[responseId]; ok {
		if utt, ok := o.utterances[itemId]; ok {
			return utt.Role
		}
	}
	if o.pending != nil {
		return o.pending.Speaker
	}
	return classify.RoleDetecting
}

func (o *Orchestrator) handleTranslationFinal(p *wire.ServerEventParamResponseAudioTranscriptDone) {
	itemId := o.itemForResponse(p.ResponseId, p.ItemId)
	text := strings.TrimSpace(p.Transcript)

	if strings.Contains(text, classify.InvalidLanguageToken) {
		o.sendToClient(protocol.NewError("unsupported language"))
		if o.deps.Metrics != nil {
			o.deps.Metrics.TranslationFails.Inc()
		}
		o.clearTurn(itemId, p.ResponseId)
		o.returnToListening()
		return
	}

	o.sendToClient(protocol.NewTranslation(itemId, text, true))

	pending := o.pending
	if pending == nil || pending.ItemId != itemId {
		o.logger.Warn("translation finalized without a matching pending message",
			zap.String("item_id", itemId))
	}

	msg := conversation.Message{
		Id:             itemId,
		ConversationId: o.conversationId,
		TranslatedText: text,
		CreatedAt:      time.Now(),
	}
	if pending != nil && pending.ItemId == itemId {
		msg.Role = pending.Speaker
		msg.OriginalText = pending.OriginalText
		msg.Language = pending.Language
	} else if utt, ok := o.utterances[itemId]; ok {
		msg.Role = utt.Role
		msg.OriginalText = utt.Transcript
	}

	if o.deps.Intents != nil && msg.OriginalText != "" {
		ctx, cancel := context.WithTimeout(o.runCtx, o.collabTimeout)
		intents, err := o.deps.Intents.Extract(ctx, msg)
		cancel()
		if err != nil {
			// a failed extraction yields zero intents for the turn
			o.logger.Warn("intent extraction failed", zap.Error(err))
		} else {
			msg.Intents = intents
			o.sendToClient(protocol.NewIntentsExtracted(itemId, intents))
		}
	}

	if o.conversationId != "" {
		ctx, cancel := context.WithTimeout(o.runCtx, o.collabTimeout)
		if err := o.deps.Store.AddMessage(ctx, o.conversationId, msg); err != nil {
			o.logger.Error("on persisting message", err)
		}
		cancel()
	}

	if o.deps.Metrics != nil {
		o.deps.Metrics.Translations.Inc()
		if pending != nil && pending.ItemId == itemId {
			o.deps.Metrics.TurnDuration.Observe(time.Since(pending.CapturedAt).Seconds())
		}
	}

	o.clearTurn(itemId, p.ResponseId)
	o.returnToListening()
}

func (o *Orchestrator) handleResponseDone(p *wire.ServerEventParamResponseDone) {
	status := p.Status()
	if status != "failed" && status != "cancelled" {
		return
	}
	itemId := o.itemForResponse(p.ResponseId(), "")
	o.logger.Warn("translation pass did not complete",
		zap.String("status", status),
		zap.String("item_id", itemId))
	o.sendToClient(protocol.NewError("translation unavailable, please repeat"))
	if o.deps.Metrics != nil {
		o.deps.Metrics.TranslationFails.Inc()
	}
	o.clearTurn(itemId, p.ResponseId())
	o.returnToListening()
}

func (o *Orchestrator) clearTurn(itemId, responseId string) {
	if o.pending != nil && o.pending.ItemId == itemId {
		o.pending = nil
	}
	delete(o.responseItems, responseId)
	delete(o.utterances, itemId)
}

func (o *Orchestrator) returnToListening() {
	if o.state == StateProcessing || o.state == StateReady {
		o.setState(StateListening)
	}
}

func (o *Orchestrator) handleUpstreamClosed(err error) {
	if o.state == StateStopped || o.state == StateReconnecting {
		return
	}
	o.logger.Warn("upstream channel closed unexpectedly", zap.Error(err))
	if o.deps.Metrics != nil {
		o.deps.Metrics.UpstreamDrops.Inc()
	}
	if o.link != nil {
		_ = o.link.Close()
		o.link = nil
	}
	o.sendToClient(protocol.NewError("connection interrupted, recovering"))
	o.setState(StateReconnecting)
}

func (o *Orchestrator) sendToClient(msg protocol.ServerMessage) {
	if err := o.deps.Client.SendJSON(msg); err != nil {
		o.logger.Debug("on sending to client", zap.Error(err))
	}
}

// shutdown finalizes the session exactly once: summary, persistence, the
// final client notification, webhook delivery, channel release.
func (o *Orchestrator) shutdown(reason string) StopResult {
	if o.state == StateStopped {
		return o.lastStop()
	}
	o.setState(StateStopped)
	o.logger.Info("stopping session", zap.String("reason", reason))

	result := StopResult{ConversationId: o.conversationId}
	if o.conversationId != "" {
		result.Summary = o.finalizeConversation()
	}

	if o.link != nil {
		_ = o.link.Close()
		o.link = nil
	}
	_ = o.deps.Client.Close()

	if o.deps.Metrics != nil {
		o.deps.Metrics.SessionsActive.Dec()
		o.deps.Metrics.SessionsStopped.WithLabelValues(reason).Inc()
	}

	o.snapMu.Lock()
	o.snapshot.lastStop = result
	o.snapMu.Unlock()

	if o.deps.OnStopped != nil {
		o.deps.OnStopped(o.sessionId)
	}
	return result
}

func (o *Orchestrator) finalizeConversation() *string {
	ctx, cancel := context.WithTimeout(context.Background(), o.collabTimeout)
	defer cancel()

	var summary *string
	conv, err := o.deps.Store.Get(ctx, o.conversationId)
	if err != nil {
		o.logger.Error("on loading conversation for teardown", err)
	} else if o.deps.Summarizer != nil {
		text, err := o.deps.Summarizer.Summarize(ctx, conv)
		if err != nil {
			// teardown never blocks on the summarizer
			o.logger.Warn("summary generation failed", zap.Error(err))
			text = conversation.PlaceholderSummary
		}
		summary = &text
	}

	if err := o.deps.Store.Finish(ctx, o.conversationId, summary); err != nil {
		o.logger.Error("on finalizing conversation", err)
	}
	o.sendToClient(protocol.NewConversationStopped(o.conversationId, summary))

	if o.deps.Notifier != nil {
		if final, err := o.deps.Store.Get(ctx, o.conversationId); err == nil {
			o.deps.Notifier.NotifyCompletion(final)
		}
	}
	return summary
}
