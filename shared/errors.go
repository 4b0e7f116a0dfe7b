package shared

import "errors"

var (
	ErrNoLogger              = errors.New("no logger provided")
	ErrNoConfig              = errors.New("no config provided")
	ErrNoAPIKey              = errors.New("no API key provided")
	ErrNoClientChannel       = errors.New("no client channel provided")
	ErrNoUpstreamOpener      = errors.New("no upstream opener provided")
	ErrSessionNotFound       = errors.New("session not found")
	ErrSessionStopped        = errors.New("session already stopped")
	ErrSessionAlreadyRunning = errors.New("session already running")
	ErrUpstreamNotReady      = errors.New("upstream channel not ready")
	ErrHandshakeDone         = errors.New("upstream handshake already performed")
	ErrUnsupportedLanguage   = errors.New("unsupported language")
	ErrConversationNotFound  = errors.New("conversation not found")
)
