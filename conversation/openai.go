package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/bt-bridge/realtime-interpreter/shared"
)

// PlaceholderSummary is persisted when summary generation fails; teardown
// never blocks on the summarizer.
const PlaceholderSummary = "Summary unavailable."

// OpenAISummarizer generates conversation summaries through chat completions.
type OpenAISummarizer struct {
	client openai.Client
	model  string
}

var _ Summarizer = (*OpenAISummarizer)(nil)

func NewOpenAISummarizer(apiKey, model string) (*OpenAISummarizer, error) {
	if apiKey == "" {
		return nil, shared.ErrNoAPIKey
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAISummarizer{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

func (s *OpenAISummarizer) Summarize(ctx context.Context, conv Conversation) (string, error) {
	if len(conv.Messages) == 0 {
		return "No messages were exchanged.", nil
	}
	var transcript strings.Builder
	for _, msg := range conv.Messages {
		fmt.Fprintf(&transcript, "[%s] %s\n", msg.Role, msg.OriginalText)
	}
	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(
				"Summarize the following interpreted conversation in 2-4 sentences. " +
					"State the key topics and any concrete follow-ups. Do not invent details.",
			),
			openai.UserMessage(transcript.String()),
		},
		MaxTokens:   openai.Int(200),
		Temperature: openai.Float(0.3),
	})
	if err != nil {
		return "", fmt.Errorf("on requesting summary: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty summary response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// OpenAIIntentExtractor mines finalized messages for structured intents.
type OpenAIIntentExtractor struct {
	client openai.Client
	model  string
}

var _ IntentExtractor = (*OpenAIIntentExtractor)(nil)

func NewOpenAIIntentExtractor(apiKey, model string) (*OpenAIIntentExtractor, error) {
	if apiKey == "" {
		return nil, shared.ErrNoAPIKey
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIIntentExtractor{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

type extractedIntent struct {
	Type       string         `json:"type"`
	Confidence float64        `json:"confidence"`
	Data       map[string]any `json:"data"`
}

func (e *OpenAIIntentExtractor) Extract(ctx context.Context, msg Message) ([]Intent, error) {
	resp, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(e.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(
				"Extract actionable intents from the utterance. Respond with a JSON array; " +
					`each element is {"type","confidence","data"} where type names the intent ` +
					"(e.g. prescription, appointment, symptom_report), confidence is 0..1, and " +
					"data holds the extracted fields. Respond with [] when there is nothing actionable. " +
					"Output only JSON.",
			),
			openai.UserMessage(msg.OriginalText),
		},
		MaxTokens:   openai.Int(300),
		Temperature: openai.Float(0),
	})
	if err != nil {
		return nil, fmt.Errorf("on requesting intent extraction: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty extraction response")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var raw []extractedIntent
	if err := sonic.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("on parsing extraction response: %w", err)
	}
	now := time.Now()
	intents := make([]Intent, 0, len(raw))
	for _, item := range raw {
		if item.Type == "" {
			continue
		}
		intents = append(intents, Intent{
			Type:        item.Type,
			Confidence:  item.Confidence,
			ExtractedAt: now,
			Data:        item.Data,
		})
	}
	return intents, nil
}
