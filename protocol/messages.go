// Package protocol defines the structured messages exchanged between the
// interpreter server and its clients over the duplex channel. Client audio
// travels as raw binary frames; everything else is a JSON envelope
// {type, data}.
package protocol

import (
	"encoding/json"

	"github.com/bytedance/sonic"

	"github.com/bt-bridge/realtime-interpreter/classify"
)

type MessageType string

const (
	MessageTypeSessionReady        MessageType = "session_ready"
	MessageTypeTranscript          MessageType = "transcript"
	MessageTypeTranslation         MessageType = "translation"
	MessageTypeAudio               MessageType = "audio"
	MessageTypeEvent               MessageType = "event"
	MessageTypeConversationStopped MessageType = "conversation_stopped"
	MessageTypeIntentsExtracted    MessageType = "intents_extracted"
	MessageTypeError               MessageType = "error"
)

// Session event names carried inside MessageTypeEvent.
const (
	EventSpeechStarted = "speech_started"
	EventSpeechStopped = "speech_stopped"
	EventAudioPlaying  = "audio_playing"
	EventAudioStopped  = "audio_stopped"
	EventSessionReady  = "session_ready"
	EventTimeout       = "timeout_warning"
)

type ServerMessage struct {
	Type MessageType `json:"type"`
	Data any         `json:"data"`
}

func (m ServerMessage) Marshal() ([]byte, error) {
	return sonic.Marshal(m)
}

type SessionReadyData struct {
	SessionId      string `json:"sessionId"`
	ConversationId string `json:"conversationId"`
}

type TranscriptData struct {
	Id       string        `json:"id"`
	Text     string        `json:"text"`
	IsUser   bool          `json:"is_user"`
	Finished bool          `json:"finished"`
	Role     classify.Role `json:"role"`
}

type TranslationData struct {
	Id       string `json:"id"`
	Text     string `json:"text"`
	Finished bool   `json:"finished"`
}

type EventData struct {
	Event string `json:"event"`
}

type ConversationStoppedData struct {
	ConversationId string  `json:"conversationId"`
	Summary        *string `json:"summary"`
}

type IntentsExtractedData struct {
	MessageId string `json:"messageId"`
	Intents   any    `json:"intents"`
}

type ErrorData struct {
	Message string `json:"message"`
}

func NewSessionReady(sessionId, conversationId string) ServerMessage {
	return ServerMessage{
		Type: MessageTypeSessionReady,
		Data: SessionReadyData{SessionId: sessionId, ConversationId: conversationId},
	}
}

func NewTranscript(id, text string, finished bool, role classify.Role) ServerMessage {
	return ServerMessage{
		Type: MessageTypeTranscript,
		Data: TranscriptData{Id: id, Text: text, IsUser: true, Finished: finished, Role: role},
	}
}

func NewTranslation(id, text string, finished bool) ServerMessage {
	return ServerMessage{
		Type: MessageTypeTranslation,
		Data: TranslationData{Id: id, Text: text, Finished: finished},
	}
}

// NewAudio wraps a base64-encoded synthesized PCM fragment.
func NewAudio(audioB64 string) ServerMessage {
	return ServerMessage{Type: MessageTypeAudio, Data: audioB64}
}

func NewEvent(event string) ServerMessage {
	return ServerMessage{Type: MessageTypeEvent, Data: EventData{Event: event}}
}

func NewConversationStopped(conversationId string, summary *string) ServerMessage {
	return ServerMessage{
		Type: MessageTypeConversationStopped,
		Data: ConversationStoppedData{ConversationId: conversationId, Summary: summary},
	}
}

func NewIntentsExtracted(messageId string, intents any) ServerMessage {
	return ServerMessage{
		Type: MessageTypeIntentsExtracted,
		Data: IntentsExtractedData{MessageId: messageId, Intents: intents},
	}
}

func NewError(message string) ServerMessage {
	return ServerMessage{Type: MessageTypeError, Data: ErrorData{Message: message}}
}

// ClientControlType tags structured (non-audio) client messages.
type ClientControlType string

const (
	ClientControlLanguageConfig ClientControlType = "language_config"
)

type ClientControl struct {
	Type           ClientControlType
	LanguageConfig *classify.LanguageConfig
}

type clientEnvelope struct {
	Type string `json:"type"`
}

// ParseClientControl inspects a frame received from the client. A frame that
// parses as a JSON object with a string "type" is a control message; anything
// else (including malformed JSON) is opaque audio and yields ok=false.
// Control messages with an unrecognized type are returned with a nil payload
// so the caller can ignore them without mistaking them for audio.
func ParseClientControl(data []byte) (ClientControl, bool) {
	var env clientEnvelope
	if err := sonic.Unmarshal(data, &env); err != nil || env.Type == "" {
		return ClientControl{}, false
	}
	ctrl := ClientControl{Type: ClientControlType(env.Type)}
	if ctrl.Type == ClientControlLanguageConfig {
		var payload struct {
			Data classify.LanguageConfig `json:"data"`
		}
		if err := sonic.Unmarshal(data, &payload); err == nil {
			cfg := payload.Data.Normalized()
			ctrl.LanguageConfig = &cfg
		}
	}
	return ctrl, true
}

// MarshalLanguageConfig builds the control frame a client sends to configure
// its session's language pair.
func MarshalLanguageConfig(cfg classify.LanguageConfig) ([]byte, error) {
	return sonic.Marshal(map[string]any{
		"type": ClientControlLanguageConfig,
		"data": cfg,
	})
}

// ParseServerMessage decodes a server frame on the client side. Data stays
// raw so each message type can be decoded into its payload struct on demand.
type RawServerMessage struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

func ParseServerMessage(data []byte) (RawServerMessage, error) {
	var msg RawServerMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return RawServerMessage{}, err
	}
	return msg, nil
}

// DecodeData decodes the raw payload of a parsed server message.
func DecodeData[T any](msg RawServerMessage) (T, error) {
	var out T
	err := sonic.Unmarshal(msg.Data, &out)
	return out, err
}
