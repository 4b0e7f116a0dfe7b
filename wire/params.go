package wire

import (
	"errors"
	"fmt"
)

// ErrorDetail carries the provider's error payload.
type ErrorDetail struct {
	Type    string
	Code    string
	Message string
	EventId string
}

type ServerEventParamError struct {
	Error ErrorDetail
}

var _ EventParam = (*ServerEventParamError)(nil)

func (p *ServerEventParamError) New(raw map[string]any) error {
	detail, ok := raw["error"].(map[string]any)
	if !ok {
		return errors.New("missing error")
	}
	if v, ok := detail["type"].(string); ok {
		p.Error.Type = v
	}
	if v, ok := detail["code"].(string); ok {
		p.Error.Code = v
	}
	if v, ok := detail["message"].(string); ok {
		p.Error.Message = v
	}
	if v, ok := detail["event_id"].(string); ok {
		p.Error.EventId = v
	}
	return nil
}

func (p *ServerEventParamError) Json() map[string]any {
	detail := map[string]any{
		"type":    p.Error.Type,
		"message": p.Error.Message,
	}
	if p.Error.Code != "" {
		detail["code"] = p.Error.Code
	}
	if p.Error.EventId != "" {
		detail["event_id"] = p.Error.EventId
	}
	return map[string]any{"error": detail}
}

type ServerEventParamSessionCreated struct {
	Session map[string]any
}

var _ EventParam = (*ServerEventParamSessionCreated)(nil)

func (p *ServerEventParamSessionCreated) New(raw map[string]any) error {
	session, ok := raw["session"].(map[string]any)
	if !ok {
		return errors.New("missing session")
	}
	p.Session = session
	return nil
}

func (p *ServerEventParamSessionCreated) Json() map[string]any {
	return map[string]any{"session": p.Session}
}

type ServerEventParamSessionUpdated struct {
	Session map[string]any
}

var _ EventParam = (*ServerEventParamSessionUpdated)(nil)

func (p *ServerEventParamSessionUpdated) New(raw map[string]any) error {
	session, ok := raw["session"].(map[string]any)
	if !ok {
		return errors.New("missing session")
	}
	p.Session = session
	return nil
}

func (p *ServerEventParamSessionUpdated) Json() map[string]any {
	return map[string]any{"session": p.Session}
}

type ServerEventParamConversationItemCreated struct {
	PreviousItemId string
	Item           map[string]any
}

var _ EventParam = (*ServerEventParamConversationItemCreated)(nil)

func (p *ServerEventParamConversationItemCreated) New(raw map[string]any) error {
	item, ok := raw["item"].(map[string]any)
	if !ok {
		return errors.New("missing item")
	}
	p.Item = item
	if v, ok := raw["previous_item_id"].(string); ok {
		p.PreviousItemId = v
	}
	return nil
}

func (p *ServerEventParamConversationItemCreated) Json() map[string]any {
	resp := map[string]any{"item": p.Item}
	if p.PreviousItemId != "" {
		resp["previous_item_id"] = p.PreviousItemId
	}
	return resp
}

// ItemId returns the conversation item's identifier, or empty when absent.
func (p *ServerEventParamConversationItemCreated) ItemId() string {
	if v, ok := p.Item["id"].(string); ok {
		return v
	}
	return ""
}

type ServerEventParamTranscriptionDelta struct {
	ItemId       string
	ContentIndex int
	Delta        string
}

var _ EventParam = (*ServerEventParamTranscriptionDelta)(nil)

func (p *ServerEventParamTranscriptionDelta) New(raw map[string]any) error {
	itemId, ok := raw["item_id"].(string)
	if !ok {
		return errors.New("missing item_id")
	}
	p.ItemId = itemId
	if v, ok := asInt(raw["content_index"]); ok {
		p.ContentIndex = v
	}
	if v, ok := raw["delta"].(string); ok {
		p.Delta = v
	}
	return nil
}

func (p *ServerEventParamTranscriptionDelta) Json() map[string]any {
	return map[string]any{
		"item_id":       p.ItemId,
		"content_index": p.ContentIndex,
		"delta":         p.Delta,
	}
}

type ServerEventParamTranscriptionCompleted struct {
	ItemId       string
	ContentIndex int
	Transcript   string
}

var _ EventParam = (*ServerEventParamTranscriptionCompleted)(nil)

func (p *ServerEventParamTranscriptionCompleted) New(raw map[string]any) error {
	itemId, ok := raw["item_id"].(string)
	if !ok {
		return errors.New("missing item_id")
	}
	p.ItemId = itemId
	if v, ok := asInt(raw["content_index"]); ok {
		p.ContentIndex = v
	}
	transcript, ok := raw["transcript"].(string)
	if !ok {
		return errors.New("missing transcript")
	}
	p.Transcript = transcript
	return nil
}

func (p *ServerEventParamTranscriptionCompleted) Json() map[string]any {
	return map[string]any{
		"item_id":       p.ItemId,
		"content_index": p.ContentIndex,
		"transcript":    p.Transcript,
	}
}

type ServerEventParamTranscriptionFailed struct {
	ItemId       string
	ContentIndex int
	Error        ErrorDetail
}

var _ EventParam = (*ServerEventParamTranscriptionFailed)(nil)

func (p *ServerEventParamTranscriptionFailed) New(raw map[string]any) error {
	itemId, ok := raw["item_id"].(string)
	if !ok {
		return errors.New("missing item_id")
	}
	p.ItemId = itemId
	if v, ok := asInt(raw["content_index"]); ok {
		p.ContentIndex = v
	}
	if detail, ok := raw["error"].(map[string]any); ok {
		if v, ok := detail["type"].(string); ok {
			p.Error.Type = v
		}
		if v, ok := detail["code"].(string); ok {
			p.Error.Code = v
		}
		if v, ok := detail["message"].(string); ok {
			p.Error.Message = v
		}
	}
	return nil
}

func (p *ServerEventParamTranscriptionFailed) Json() map[string]any {
	return map[string]any{
		"item_id":       p.ItemId,
		"content_index": p.ContentIndex,
		"error": map[string]any{
			"type":    p.Error.Type,
			"code":    p.Error.Code,
			"message": p.Error.Message,
		},
	}
}

type ServerEventParamInputAudioBufferCommitted struct {
	PreviousItemId string
	ItemId         string
}

var _ EventParam = (*ServerEventParamInputAudioBufferCommitted)(nil)

func (p *ServerEventParamInputAudioBufferCommitted) New(raw map[string]any) error {
	itemId, ok := raw["item_id"].(string)
	if !ok {
		return errors.New("missing item_id")
	}
	p.ItemId = itemId
	if v, ok := raw["previous_item_id"].(string); ok {
		p.PreviousItemId = v
	}
	return nil
}

func (p *ServerEventParamInputAudioBufferCommitted) Json() map[string]any {
	resp := map[string]any{"item_id": p.ItemId}
	if p.PreviousItemId != "" {
		resp["previous_item_id"] = p.PreviousItemId
	}
	return resp
}

type ServerEventParamSpeechStarted struct {
	AudioStartMs int
	ItemId       string
}

var _ EventParam = (*ServerEventParamSpeechStarted)(nil)

func (p *ServerEventParamSpeechStarted) New(raw map[string]any) error {
	if v, ok := asInt(raw["audio_start_ms"]); ok {
		p.AudioStartMs = v
	}
	if v, ok := raw["item_id"].(string); ok {
		p.ItemId = v
	}
	return nil
}

func (p *ServerEventParamSpeechStarted) Json() map[string]any {
	return map[string]any{
		"audio_start_ms": p.AudioStartMs,
		"item_id":        p.ItemId,
	}
}

type ServerEventParamSpeechStopped struct {
	AudioEndMs int
	ItemId     string
}

var _ EventParam = (*ServerEventParamSpeechStopped)(nil)

func (p *ServerEventParamSpeechStopped) New(raw map[string]any) error {
	if v, ok := asInt(raw["audio_end_ms"]); ok {
		p.AudioEndMs = v
	}
	if v, ok := raw["item_id"].(string); ok {
		p.ItemId = v
	}
	return nil
}

func (p *ServerEventParamSpeechStopped) Json() map[string]any {
	return map[string]any{
		"audio_end_ms": p.AudioEndMs,
		"item_id":      p.ItemId,
	}
}

type ServerEventParamResponseCreated struct {
	Response map[string]any
}

var _ EventParam = (*ServerEventParamResponseCreated)(nil)

func (p *ServerEventParamResponseCreated) New(raw map[string]any) error {
	response, ok := raw["response"].(map[string]any)
	if !ok {
		return errors.New("missing response")
	}
	p.Response = response
	return nil
}

func (p *ServerEventParamResponseCreated) Json() map[string]any {
	return map[string]any{"response": p.Response}
}

// ResponseId returns the response's identifier, or empty when absent.
func (p *ServerEventParamResponseCreated) ResponseId() string {
	if v, ok := p.Response["id"].(string); ok {
		return v
	}
	return ""
}

type ServerEventParamResponseDone struct {
	Response map[string]any
}

var _ EventParam = (*ServerEventParamResponseDone)(nil)

func (p *ServerEventParamResponseDone) New(raw map[string]any) error {
	response, ok := raw["response"].(map[string]any)
	if !ok {
		return errors.New("missing response")
	}
	p.Response = response
	return nil
}

func (p *ServerEventParamResponseDone) Json() map[string]any {
	return map[string]any{"response": p.Response}
}

func (p *ServerEventParamResponseDone) ResponseId() string {
	if v, ok := p.Response["id"].(string); ok {
		return v
	}
	return ""
}

func (p *ServerEventParamResponseDone) Status() string {
	if v, ok := p.Response["status"].(string); ok {
		return v
	}
	return ""
}

type ServerEventParamResponseAudioDelta struct {
	ResponseId   string
	ItemId       string
	OutputIndex  int
	ContentIndex int
	Delta        string
}

var _ EventParam = (*ServerEventParamResponseAudioDelta)(nil)

func (p *ServerEventParamResponseAudioDelta) New(raw map[string]any) error {
	delta, ok := raw["delta"].(string)
	if !ok {
		return errors.New("missing delta")
	}
	p.Delta = delta
	if v, ok := raw["response_id"].(string); ok {
		p.ResponseId = v
	}
	if v, ok := raw["item_id"].(string); ok {
		p.ItemId = v
	}
	if v, ok := asInt(raw["output_index"]); ok {
		p.OutputIndex = v
	}
	if v, ok := asInt(raw["content_index"]); ok {
		p.ContentIndex = v
	}
	return nil
}

func (p *ServerEventParamResponseAudioDelta) Json() map[string]any {
	return map[string]any{
		"response_id":   p.ResponseId,
		"item_id":       p.ItemId,
		"output_index":  p.OutputIndex,
		"content_index": p.ContentIndex,
		"delta":         p.Delta,
	}
}

type ServerEventParamResponseAudioDone struct {
	ResponseId   string
	ItemId       string
	OutputIndex  int
	ContentIndex int
}

var _ EventParam = (*ServerEventParamResponseAudioDone)(nil)

func (p *ServerEventParamResponseAudioDone) New(raw map[string]any) error {
	if v, ok := raw["response_id"].(string); ok {
		p.ResponseId = v
	}
	if v, ok := raw["item_id"].(string); ok {
		p.ItemId = v
	}
	if v, ok := asInt(raw["output_index"]); ok {
		p.OutputIndex = v
	}
	if v, ok := asInt(raw["content_index"]); ok {
		p.ContentIndex = v
	}
	return nil
}

func (p *ServerEventParamResponseAudioDone) Json() map[string]any {
	return map[string]any{
		"response_id":   p.ResponseId,
		"item_id":       p.ItemId,
		"output_index":  p.OutputIndex,
		"content_index": p.ContentIndex,
	}
}

type ServerEventParamResponseAudioTranscriptDelta struct {
	ResponseId   string
	ItemId       string
	OutputIndex  int
	ContentIndex int
	Delta        string
}

var _ EventParam = (*ServerEventParamResponseAudioTranscriptDelta)(nil)

func (p *ServerEventParamResponseAudioTranscriptDelta) New(raw map[string]any) error {
	delta, ok := raw["delta"].(string)
	if !ok {
		return errors.New("missing delta")
	}
	p.Delta = delta
	if v, ok := raw["response_id"].(string); ok {
		p.ResponseId = v
	}
	if v, ok := raw["item_id"].(string); ok {
		p.ItemId = v
	}
	if v, ok := asInt(raw["output_index"]); ok {
		p.OutputIndex = v
	}
	if v, ok := asInt(raw["content_index"]); ok {
		p.ContentIndex = v
	}
	return nil
}

func (p *ServerEventParamResponseAudioTranscriptDelta) Json() map[string]any {
	return map[string]any{
		"response_id":   p.ResponseId,
		"item_id":       p.ItemId,
		"output_index":  p.OutputIndex,
		"content_index": p.ContentIndex,
		"delta":         p.Delta,
	}
}

type ServerEventParamResponseAudioTranscriptDone struct {
	ResponseId   string
	ItemId       string
	OutputIndex  int
	ContentIndex int
	Transcript   string
}

var _ EventParam = (*ServerEventParamResponseAudioTranscriptDone)(nil)

func (p *ServerEventParamResponseAudioTranscriptDone) New(raw map[string]any) error {
	transcript, ok := raw["transcript"].(string)
	if !ok {
		return errors.New("missing transcript")
	}
	p.Transcript = transcript
	if v, ok := raw["response_id"].(string); ok {
		p.ResponseId = v
	}
	if v, ok := raw["item_id"].(string); ok {
		p.ItemId = v
	}
	if v, ok := asInt(raw["output_index"]); ok {
		p.OutputIndex = v
	}
	if v, ok := asInt(raw["content_index"]); ok {
		p.ContentIndex = v
	}
	return nil
}

func (p *ServerEventParamResponseAudioTranscriptDone) Json() map[string]any {
	return map[string]any{
		"response_id":   p.ResponseId,
		"item_id":       p.ItemId,
		"output_index":  p.OutputIndex,
		"content_index": p.ContentIndex,
		"transcript":    p.Transcript,
	}
}

type ClientEventParamSessionUpdate struct {
	Session map[string]any
}

var _ EventParam = (*ClientEventParamSessionUpdate)(nil)

func (p *ClientEventParamSessionUpdate) New(raw map[string]any) error {
	session, ok := raw["session"].(map[string]any)
	if !ok {
		return errors.New("missing session")
	}
	p.Session = session
	return nil
}

func (p *ClientEventParamSessionUpdate) Json() map[string]any {
	return map[string]any{"session": p.Session}
}

type ClientEventParamInputAudioBufferAppend struct {
	// Audio is the base64 encoding of little-endian PCM16 frames.
	Audio string
}

var _ EventParam = (*ClientEventParamInputAudioBufferAppend)(nil)

func (p *ClientEventParamInputAudioBufferAppend) New(raw map[string]any) error {
	audio, ok := raw["audio"].(string)
	if !ok {
		return errors.New("missing audio")
	}
	p.Audio = audio
	return nil
}

func (p *ClientEventParamInputAudioBufferAppend) Json() map[string]any {
	return map[string]any{"audio": p.Audio}
}

// ClientEventParamInputAudioBufferCommit has no payload beyond the type tag.
type ClientEventParamInputAudioBufferCommit struct{}

var _ EventParam = (*ClientEventParamInputAudioBufferCommit)(nil)

func (p *ClientEventParamInputAudioBufferCommit) New(raw map[string]any) error {
	if len(raw) != 0 {
		return fmt.Errorf("unexpected fields: %v", raw)
	}
	return nil
}

func (p *ClientEventParamInputAudioBufferCommit) Json() map[string]any {
	return map[string]any{}
}

type ClientEventParamResponseCreate struct {
	Response map[string]any
}

var _ EventParam = (*ClientEventParamResponseCreate)(nil)

func (p *ClientEventParamResponseCreate) New(raw map[string]any) error {
	response, ok := raw["response"].(map[string]any)
	if !ok {
		return errors.New("missing response")
	}
	p.Response = response
	return nil
}

func (p *ClientEventParamResponseCreate) Json() map[string]any {
	return map[string]any{"response": p.Response}
}

type ClientEventParamResponseCancel struct {
	ResponseId string
}

var _ EventParam = (*ClientEventParamResponseCancel)(nil)

func (p *ClientEventParamResponseCancel) New(raw map[string]any) error {
	if v, ok := raw["response_id"].(string); ok {
		p.ResponseId = v
	}
	return nil
}

func (p *ClientEventParamResponseCancel) Json() map[string]any {
	if p.ResponseId == "" {
		return map[string]any{}
	}
	return map[string]any{"response_id": p.ResponseId}
}
