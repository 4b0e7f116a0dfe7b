package classify

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/bt-bridge/realtime-interpreter/shared"
)

// InvalidLanguageToken is the sentinel the detection and translation prompts
// both use for text outside the configured language pair.
const InvalidLanguageToken = "INVALID_LANGUAGE"

// ModelDetector asks a chat completion model to name the utterance language.
type ModelDetector struct {
	client openai.Client
	model  string
}

var _ Detector = (*ModelDetector)(nil)

func NewModelDetector(apiKey string, model string) (*ModelDetector, error) {
	if apiKey == "" {
		return nil, shared.ErrNoAPIKey
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &ModelDetector{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

func (d *ModelDetector) DetectLanguage(ctx context.Context, text string, cfg LanguageConfig) (string, error) {
	cfg = cfg.Normalized()
	system := fmt.Sprintf(
		"You are a language detector. The text is either %s or %s. "+
			"Respond with exactly one word: %q or %q. "+
			"If the text is in neither language, respond with %q.",
		cfg.RoleALanguage, cfg.RoleBLanguage,
		cfg.RoleALanguage, cfg.RoleBLanguage,
		InvalidLanguageToken,
	)
	resp, err := d.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(d.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(text),
		},
		MaxTokens:   openai.Int(10),
		Temperature: openai.Float(0.1),
	})
	if err != nil {
		return "", fmt.Errorf("on requesting language detection: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty detection response")
	}
	verdict := strings.ToLower(strings.TrimSpace(resp.Choices[0].Message.Content))
	verdict = strings.Trim(verdict, `."'`)
	switch verdict {
	case cfg.RoleALanguage, cfg.RoleBLanguage:
		return verdict, nil
	case strings.ToLower(InvalidLanguageToken):
		return "", fmt.Errorf("%w: outside configured pair", shared.ErrUnsupportedLanguage)
	default:
		return "", fmt.Errorf("unrecognized detection verdict: %q", verdict)
	}
}

var (
	spanishMarkers = regexp.MustCompile(`[áéíóúüñ¿¡]|\b(?:el|la|los|las|una?|de|que|qué|y|es|está|estoy|como|cómo|hola|gracias|por favor|bien|muy|pero|para|con|señor|usted|dolor|cabeza|también|sí|no puedo|tengo|necesito|me duele|repite|repetir)\b`)
	englishMarkers = regexp.MustCompile(`\b(?:the|and|is|are|you|your|what|how|hello|thanks|thank|please|have|has|do|does|can|could|would|need|pain|feel|hurt|today|doctor|repeat|again)\b`)
	latinScript    = regexp.MustCompile(`\p{Latin}`)
)

// HeuristicDetector is the degraded-mode strategy used when the model-backed
// detector is unavailable or failing. It scores marker-word hits per language
// and only knows the english/spanish pair well; for other pairs every
// latin-script utterance falls through to the primary participant's language.
type HeuristicDetector struct{}

var _ Detector = (*HeuristicDetector)(nil)

func NewHeuristicDetector() *HeuristicDetector {
	return &HeuristicDetector{}
}

func (d *HeuristicDetector) DetectLanguage(_ context.Context, text string, cfg LanguageConfig) (string, error) {
	cfg = cfg.Normalized()
	if !latinScript.MatchString(text) {
		return "", fmt.Errorf("%w: non-latin script", shared.ErrUnsupportedLanguage)
	}
	lowered := strings.ToLower(text)
	spanish := len(spanishMarkers.FindAllString(lowered, -1))
	english := len(englishMarkers.FindAllString(lowered, -1))
	switch {
	case spanish > english && containsLanguage(cfg, "spanish"):
		return "spanish", nil
	case english >= spanish && containsLanguage(cfg, "english"):
		return "english", nil
	default:
		return cfg.RoleALanguage, nil
	}
}

func containsLanguage(cfg LanguageConfig, language string) bool {
	return cfg.RoleALanguage == language || cfg.RoleBLanguage == language
}
