package session

import (
	"fmt"

	"github.com/bt-bridge/realtime-interpreter/classify"
)

// Directive construction for the provider channel. The transcription prompt
// and the translation instructions share the same unsupported-language token
// so the orchestrator can short-circuit malformed passes consistently.

// SessionConfig builds the configuration pushed during the handshake.
// Turn detection runs server-side with automatic responses disabled; every
// translation pass is an explicit response.create from the orchestrator.
func SessionConfig(cfg classify.LanguageConfig, transcriptionModel string) map[string]any {
	if transcriptionModel == "" {
		transcriptionModel = "whisper-1"
	}
	return map[string]any{
		"modalities":          []string{"text", "audio"},
		"voice":               "alloy",
		"input_audio_format":  "pcm16",
		"output_audio_format": "pcm16",
		"input_audio_transcription": map[string]any{
			"model":  transcriptionModel,
			"prompt": TranscriptionPrompt(cfg),
		},
		"turn_detection": map[string]any{
			"type":                "server_vad",
			"threshold":           0.5,
			"prefix_padding_ms":   300,
			"silence_duration_ms": 500,
			"create_response":     false,
		},
	}
}

// TranscriptionPrompt steers transcription toward the configured pair.
func TranscriptionPrompt(cfg classify.LanguageConfig) string {
	cfg = cfg.Normalized()
	return fmt.Sprintf(
		"The audio is a conversation held in %s and %s. Transcribe each utterance "+
			"verbatim in the language it was spoken. If an utterance is in neither "+
			"%s nor %s, output exactly %q.",
		cfg.RoleALanguage, cfg.RoleBLanguage,
		cfg.RoleALanguage, cfg.RoleBLanguage,
		classify.InvalidLanguageToken,
	)
}

// TranslationDirective builds the response.create payload for one finalized
// utterance spoken by the given role.
func TranslationDirective(cfg classify.LanguageConfig, speaker classify.Role) map[string]any {
	cfg = cfg.Normalized()
	source := cfg.LanguageFor(speaker)
	target := cfg.TargetLanguageFor(speaker)
	return map[string]any{
		"modalities":   []string{"text", "audio"},
		"instructions": TranslationInstructions(source, target),
	}
}

// TranslationInstructions forbids conversational replies: the model is a
// translation machine, never a participant.
func TranslationInstructions(source, target string) string {
	return fmt.Sprintf(
		"You are a translation machine. Translate the last user utterance from %s "+
			"into %s. Output only the translation. Never answer questions, never add "+
			"commentary, never address the speaker, and never change the meaning. "+
			"If the utterance is not in %s, output exactly %q.",
		source, target, source, classify.InvalidLanguageToken,
	)
}
