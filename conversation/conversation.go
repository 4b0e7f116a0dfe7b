// Package conversation owns the persisted conversation record and the
// collaborators that enrich it: storage, summary generation, and intent
// extraction. Storage is an interface boundary; the in-memory store is the
// reference implementation.
package conversation

import (
	"context"
	"time"

	"github.com/bt-bridge/realtime-interpreter/classify"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusStopped Status = "stopped"
)

// Intent is a structured datum extracted from one finalized message. The
// orchestrator forwards intents verbatim; acting on them is out of scope.
type Intent struct {
	Type        string         `json:"type"`
	Confidence  float64        `json:"confidence"`
	ExtractedAt time.Time      `json:"extractedAt"`
	Data        map[string]any `json:"data,omitempty"`
}

type Message struct {
	Id             string        `json:"id"`
	ConversationId string        `json:"conversationId"`
	Role           classify.Role `json:"role"`
	OriginalText   string        `json:"originalText"`
	TranslatedText string        `json:"translatedText"`
	Language       string        `json:"language"`
	CreatedAt      time.Time     `json:"createdAt"`
	Intents        []Intent      `json:"intents,omitempty"`
}

type Conversation struct {
	Id             string                  `json:"id"`
	SessionId      string                  `json:"sessionId"`
	Status         Status                  `json:"status"`
	LanguageConfig classify.LanguageConfig `json:"languageConfig"`
	StartedAt      time.Time               `json:"startedAt"`
	StoppedAt      *time.Time              `json:"stoppedAt,omitempty"`
	Summary        *string                 `json:"summary,omitempty"`
	Messages       []Message               `json:"messages"`
}

// Store is the persistence boundary. Implementations must be safe for
// concurrent use; every method observes the context.
type Store interface {
	Create(ctx context.Context, conv Conversation) error
	Get(ctx context.Context, id string) (Conversation, error)
	List(ctx context.Context) ([]Conversation, error)
	AddMessage(ctx context.Context, conversationId string, msg Message) error
	Finish(ctx context.Context, conversationId string, summary *string) error
	Resume(ctx context.Context, conversationId string) (Conversation, error)
}

// Summarizer produces a short natural-language summary of a finished
// conversation.
type Summarizer interface {
	Summarize(ctx context.Context, conv Conversation) (string, error)
}

// IntentExtractor mines one finalized message for structured intents. A
// failed extraction yields zero intents, never an aborted turn.
type IntentExtractor interface {
	Extract(ctx context.Context, msg Message) ([]Intent, error)
}
