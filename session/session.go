// Package session contains the realtime interpreter's core: the per-session
// orchestrator state machine, the session registry with heartbeat reaping,
// the translation directives sent upstream, and repeat-command interception.
package session

import (
	"context"
	"time"

	"github.com/bt-bridge/realtime-interpreter/classify"
	"github.com/bt-bridge/realtime-interpreter/protocol"
	"github.com/bt-bridge/realtime-interpreter/wire"
)

// State is the orchestrator's lifecycle position. All transitions happen on
// the session's own event loop.
type State string

const (
	// StateConnecting: client attached, upstream channel not yet opened.
	StateConnecting State = "connecting"
	// StateNegotiating: upstream dialed, configuration handshake in flight.
	StateNegotiating State = "negotiating"
	// StateReady: handshake acknowledged, conversation record live.
	StateReady State = "ready"
	// StateListening: audio flowing upstream, no turn being processed.
	StateListening State = "listening"
	// StateProcessing: a finalized utterance is being classified/translated.
	StateProcessing State = "processing"
	// StateReconnecting: upstream dropped; renegotiation on next activity.
	StateReconnecting State = "reconnecting"
	// StateStopped: terminal.
	StateStopped State = "stopped"
)

// forwardsAudio reports whether client audio may flow upstream in this state.
func (s State) forwardsAudio() bool {
	return s == StateReady || s == StateListening || s == StateProcessing
}

// ClientChannel is the orchestrator's handle on the connected client. The
// websocket adapter in the server package implements it; tests use a fake.
type ClientChannel interface {
	SendJSON(msg protocol.ServerMessage) error
	SendPing() error
	Close() error
}

// UpstreamLink is the orchestrator's view of a live provider channel.
// Satisfied by *upstream.Bridge.
type UpstreamLink interface {
	UpdateSession(session map[string]any) error
	AppendAudio(pcm []byte) error
	CommitAudio() error
	CreateResponse(response map[string]any) error
	Close() error
}

// LinkOpener dials a fresh provider channel. The orchestrator opens links
// lazily and may reopen after an unexpected closure.
type LinkOpener func(ctx context.Context, onEvent func(*wire.ServerEvent), onClosed func(error)) (UpstreamLink, error)

// Utterance is one correlation record: the upstream-assigned item id threads
// transcript deltas, the finalized transcript, and the translation stream
// back to the same logical entity.
type Utterance struct {
	ItemId     string
	Role       classify.Role
	Transcript string
	StartedAt  time.Time
}

// PendingMessage is the at-most-one unpaired finalized transcript awaiting
// its translation.
type PendingMessage struct {
	ItemId       string
	OriginalText string
	Speaker      classify.Role
	Language     string
	CapturedAt   time.Time
}

// StopResult is the synchronous acknowledgment of a stop request.
type StopResult struct {
	ConversationId string
	Summary        *string
}
