// Package wire models the upstream provider's realtime protocol: the JSON
// events exchanged over the duplex channel between the interpreter server and
// the speech/translation provider. Every inbound and outbound message is a
// typed Event whose payload is decoded through an EventParam.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
)

type EventType string

type ServerEventType EventType

type ClientEventType EventType

// Server event types (provider -> interpreter)
const (
	ServerEventTypeError                                            ServerEventType = "error"
	ServerEventTypeSessionCreated                                   ServerEventType = "session.created"
	ServerEventTypeSessionUpdated                                   ServerEventType = "session.updated"
	ServerEventTypeConversationItemCreated                          ServerEventType = "conversation.item.created"
	ServerEventTypeConversationItemInputAudioTranscriptionDelta     ServerEventType = "conversation.item.input_audio_transcription.delta"
	ServerEventTypeConversationItemInputAudioTranscriptionCompleted ServerEventType = "conversation.item.input_audio_transcription.completed"
	ServerEventTypeConversationItemInputAudioTranscriptionFailed    ServerEventType = "conversation.item.input_audio_transcription.failed"
	ServerEventTypeInputAudioBufferCommitted                        ServerEventType = "input_audio_buffer.committed"
	ServerEventTypeInputAudioBufferSpeechStarted                    ServerEventType = "input_audio_buffer.speech_started"
	ServerEventTypeInputAudioBufferSpeechStopped                    ServerEventType = "input_audio_buffer.speech_stopped"
	ServerEventTypeResponseCreated                                  ServerEventType = "response.created"
	ServerEventTypeResponseDone                                     ServerEventType = "response.done"
	ServerEventTypeResponseAudioDelta                               ServerEventType = "response.audio.delta"
	ServerEventTypeResponseAudioDone                                ServerEventType = "response.audio.done"
	ServerEventTypeResponseAudioTranscriptDelta                     ServerEventType = "response.audio_transcript.delta"
	ServerEventTypeResponseAudioTranscriptDone                      ServerEventType = "response.audio_transcript.done"
)

// Client event types (interpreter -> provider)
const (
	ClientEventTypeSessionUpdate          ClientEventType = "session.update"
	ClientEventTypeInputAudioBufferAppend ClientEventType = "input_audio_buffer.append"
	ClientEventTypeInputAudioBufferCommit ClientEventType = "input_audio_buffer.commit"
	ClientEventTypeResponseCreate         ClientEventType = "response.create"
	ClientEventTypeResponseCancel         ClientEventType = "response.cancel"
)

type Event interface {
	EventType() EventType
	IsServerEvent() bool
	IsClientEvent() bool
	MarshalYAML() ([]byte, error)
	MarshalJSON() ([]byte, error)
	UnmarshalJSON(data []byte) error
}

type EventParam interface {
	New(map[string]any) error
	Json() map[string]any
}

type ServerEvent struct {
	EventId string
	Type    ServerEventType
	Param   EventParam
}

var _ Event = (*ServerEvent)(nil)

func (e *ServerEvent) EventType() EventType {
	return EventType(e.Type)
}

func (e *ServerEvent) IsServerEvent() bool {
	return true
}

func (e *ServerEvent) IsClientEvent() bool {
	return false
}

func (e *ServerEvent) encode() (map[string]any, error) {
	if e.Type == "" {
		return nil, errors.New("Type is empty")
	}
	if e.Param == nil {
		return nil, errors.New("Param is nil")
	}
	resp := map[string]any{}
	for k, v := range e.Param.Json() {
		resp[k] = v
	}
	if e.EventId != "" {
		resp["event_id"] = e.EventId
	}
	resp["type"] = e.Type
	return resp, nil
}

func (e *ServerEvent) MarshalYAML() ([]byte, error) {
	resp, err := e.encode()
	if err != nil {
		return nil, err
	}
	return yaml.MarshalWithOptions(resp, yaml.UseJSONMarshaler())
}

func (e *ServerEvent) MarshalJSON() ([]byte, error) {
	resp, err := e.encode()
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(resp)
}

func (e *ServerEvent) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["event_id"].(string); ok {
		e.EventId = v
		delete(raw, "event_id")
	}
	if v, ok := raw["type"].(string); ok {
		e.Type = ServerEventType(v)
		delete(raw, "type")
	} else {
		return errors.New("missing type")
	}
	switch e.Type {
	case ServerEventTypeError:
		e.Param = new(ServerEventParamError)
	case ServerEventTypeSessionCreated:
		e.Param = new(ServerEventParamSessionCreated)
	case ServerEventTypeSessionUpdated:
		e.Param = new(ServerEventParamSessionUpdated)
	case ServerEventTypeConversationItemCreated:
		e.Param = new(ServerEventParamConversationItemCreated)
	case ServerEventTypeConversationItemInputAudioTranscriptionDelta:
		e.Param = new(ServerEventParamTranscriptionDelta)
	case ServerEventTypeConversationItemInputAudioTranscriptionCompleted:
		e.Param = new(ServerEventParamTranscriptionCompleted)
	case ServerEventTypeConversationItemInputAudioTranscriptionFailed:
		e.Param = new(ServerEventParamTranscriptionFailed)
	case ServerEventTypeInputAudioBufferCommitted:
		e.Param = new(ServerEventParamInputAudioBufferCommitted)
	case ServerEventTypeInputAudioBufferSpeechStarted:
		e.Param = new(ServerEventParamSpeechStarted)
	case ServerEventTypeInputAudioBufferSpeechStopped:
		e.Param = new(ServerEventParamSpeechStopped)
	case ServerEventTypeResponseCreated:
		e.Param = new(ServerEventParamResponseCreated)
	case ServerEventTypeResponseDone:
		e.Param = new(ServerEventParamResponseDone)
	case ServerEventTypeResponseAudioDelta:
		e.Param = new(ServerEventParamResponseAudioDelta)
	case ServerEventTypeResponseAudioDone:
		e.Param = new(ServerEventParamResponseAudioDone)
	case ServerEventTypeResponseAudioTranscriptDelta:
		e.Param = new(ServerEventParamResponseAudioTranscriptDelta)
	case ServerEventTypeResponseAudioTranscriptDone:
		e.Param = new(ServerEventParamResponseAudioTranscriptDone)
	default:
		return fmt.Errorf("unknown event type: %s", e.Type)
	}
	return e.Param.New(raw)
}

type ClientEvent struct {
	EventId string
	Type    ClientEventType
	Param   EventParam
}

var _ Event = (*ClientEvent)(nil)

func (e *ClientEvent) EventType() EventType {
	return EventType(e.Type)
}

func (e *ClientEvent) IsServerEvent() bool {
	return false
}

func (e *ClientEvent) IsClientEvent() bool {
	return true
}

func (e *ClientEvent) encode() (map[string]any, error) {
	if e.Type == "" {
		return nil, errors.New("Type is empty")
	}
	resp := map[string]any{}
	if e.Param != nil {
		for k, v := range e.Param.Json() {
			resp[k] = v
		}
	}
	if e.EventId != "" {
		resp["event_id"] = e.EventId
	}
	resp["type"] = e.Type
	return resp, nil
}

func (e *ClientEvent) MarshalYAML() ([]byte, error) {
	resp, err := e.encode()
	if err != nil {
		return nil, err
	}
	return yaml.MarshalWithOptions(resp, yaml.UseJSONMarshaler())
}

func (e *ClientEvent) MarshalJSON() ([]byte, error) {
	resp, err := e.encode()
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(resp)
}

func (e *ClientEvent) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["event_id"].(string); ok {
		e.EventId = v
		delete(raw, "event_id")
	}
	if v, ok := raw["type"].(string); ok {
		e.Type = ClientEventType(v)
		delete(raw, "type")
	} else {
		return errors.New("missing type")
	}
	switch e.Type {
	case ClientEventTypeSessionUpdate:
		e.Param = new(ClientEventParamSessionUpdate)
	case ClientEventTypeInputAudioBufferAppend:
		e.Param = new(ClientEventParamInputAudioBufferAppend)
	case ClientEventTypeInputAudioBufferCommit:
		e.Param = new(ClientEventParamInputAudioBufferCommit)
	case ClientEventTypeResponseCreate:
		e.Param = new(ClientEventParamResponseCreate)
	case ClientEventTypeResponseCancel:
		e.Param = new(ClientEventParamResponseCancel)
	default:
		return fmt.Errorf("unknown event type: %s", e.Type)
	}
	return e.Param.New(raw)
}

// Helper for number conversions: provider payloads arrive as map[string]any,
// where numbers may decode as float64 or json.Number depending on the codec.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float32:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}
