// Package webhook delivers the completion payload of a finished conversation
// to an external endpoint. Delivery is best-effort: failures are logged and
// counted, never propagated into session teardown.
package webhook

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/bt-bridge/realtime-interpreter/conversation"
	"github.com/bt-bridge/realtime-interpreter/metrics"
	"github.com/bt-bridge/realtime-interpreter/shared"
)

// Action is one extracted intent flattened into the completion payload.
type Action struct {
	MessageId  string         `json:"messageId"`
	Type       string         `json:"type"`
	Confidence float64        `json:"confidence"`
	Data       map[string]any `json:"data,omitempty"`
}

// Analytics summarizes the conversation numerically.
type Analytics struct {
	DurationSeconds float64        `json:"durationSeconds"`
	MessageCount    int            `json:"messageCount"`
	MessagesPerRole map[string]int `json:"messagesPerRole"`
}

// CompletionPayload is the POST body sent when a conversation stops.
type CompletionPayload struct {
	ConversationId string     `json:"conversationId"`
	SessionId      string     `json:"sessionId"`
	StartedAt      time.Time  `json:"startedAt"`
	StoppedAt      *time.Time `json:"stoppedAt,omitempty"`
	Summary        *string    `json:"summary,omitempty"`
	Actions        []Action   `json:"actions"`
	Analytics      Analytics  `json:"analytics"`
}

type Notifier struct {
	logger  shared.LoggerAdapter
	metrics *metrics.Metrics
	client  *fasthttp.Client
	url     string
	timeout time.Duration
}

// NewNotifier builds the notifier. An empty URL yields a nil notifier, which
// every method treats as disabled.
func NewNotifier(logger shared.LoggerAdapter, m *metrics.Metrics, url string, timeout time.Duration) (*Notifier, error) {
	if url == "" {
		return nil, nil
	}
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		logger:  logger,
		metrics: m,
		client:  &fasthttp.Client{},
		url:     url,
		timeout: timeout,
	}, nil
}

// BuildPayload flattens a finished conversation into the delivery shape.
func BuildPayload(conv conversation.Conversation) CompletionPayload {
	payload := CompletionPayload{
		ConversationId: conv.Id,
		SessionId:      conv.SessionId,
		StartedAt:      conv.StartedAt,
		StoppedAt:      conv.StoppedAt,
		Summary:        conv.Summary,
		Actions:        []Action{},
		Analytics: Analytics{
			MessageCount:    len(conv.Messages),
			MessagesPerRole: map[string]int{},
		},
	}
	if conv.StoppedAt != nil {
		payload.Analytics.DurationSeconds = conv.StoppedAt.Sub(conv.StartedAt).Seconds()
	}
	for _, msg := range conv.Messages {
		payload.Analytics.MessagesPerRole[string(msg.Role)]++
		for _, intent := range msg.Intents {
			payload.Actions = append(payload.Actions, Action{
				MessageId:  msg.Id,
				Type:       intent.Type,
				Confidence: intent.Confidence,
				Data:       intent.Data,
			})
		}
	}
	return payload
}

// NotifyCompletion posts the completion payload. Safe to call on a nil
// notifier.
func (n *Notifier) NotifyCompletion(conv conversation.Conversation) {
	if n == nil {
		return
	}
	if err := n.post(BuildPayload(conv)); err != nil {
		n.logger.Error("on delivering completion webhook", err,
			zap.String("conversation_id", conv.Id))
		if n.metrics != nil {
			n.metrics.WebhookDelivery.WithLabelValues(metrics.OutcomeFailed).Inc()
		}
		return
	}
	n.logger.Debug("completion webhook delivered", zap.String("conversation_id", conv.Id))
	if n.metrics != nil {
		n.metrics.WebhookDelivery.WithLabelValues(metrics.OutcomeOk).Inc()
	}
}

func (n *Notifier) post(payload CompletionPayload) error {
	body, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("on marshaling payload: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(n.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := n.client.DoTimeout(req, resp, n.timeout); err != nil {
		return fmt.Errorf("on posting payload: %w", err)
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return fmt.Errorf("unexpected status code: %d", code)
	}
	return nil
}
