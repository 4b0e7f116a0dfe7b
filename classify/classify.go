// Package classify resolves which participant spoke a finalized transcript.
// Detection runs against the utterance text only; the mapping from detected
// language to participant role is a pure function of the session's language
// configuration.
package classify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/bt-bridge/realtime-interpreter/shared"
)

// Role identifies a conversation participant on the client wire.
type Role string

const (
	RoleA         Role = "role_a"
	RoleB         Role = "role_b"
	RoleDetecting Role = "detecting"
)

// Other returns the opposite participant. Detecting maps to itself.
func (r Role) Other() Role {
	switch r {
	case RoleA:
		return RoleB
	case RoleB:
		return RoleA
	default:
		return r
	}
}

// LanguageConfig is the two-language pair a session translates between.
// Field names follow the client control message verbatim.
type LanguageConfig struct {
	IsRoleASecondaryLanguage bool   `json:"isRoleASecondaryLanguage"`
	RoleALanguage            string `json:"roleALanguage"`
	RoleBLanguage            string `json:"roleBLanguage"`
}

func DefaultLanguageConfig() LanguageConfig {
	return LanguageConfig{
		RoleALanguage: "english",
		RoleBLanguage: "spanish",
	}
}

func (c LanguageConfig) Normalized() LanguageConfig {
	c.RoleALanguage = strings.ToLower(strings.TrimSpace(c.RoleALanguage))
	c.RoleBLanguage = strings.ToLower(strings.TrimSpace(c.RoleBLanguage))
	if c.RoleALanguage == "" {
		c.RoleALanguage = "english"
	}
	if c.RoleBLanguage == "" {
		c.RoleBLanguage = "spanish"
	}
	return c
}

// LanguageFor returns the language the given role speaks.
func (c LanguageConfig) LanguageFor(role Role) string {
	if role == RoleB {
		return c.RoleBLanguage
	}
	return c.RoleALanguage
}

// TargetLanguageFor returns the language a finalized utterance from the given
// role must be translated into.
func (c LanguageConfig) TargetLanguageFor(role Role) string {
	return c.LanguageFor(role.Other())
}

// ResolveRole maps a detected language onto a participant role. It is a pure
// function: the same language and configuration always yield the same role.
// A language outside the configured pair yields shared.ErrUnsupportedLanguage.
func ResolveRole(language string, cfg LanguageConfig) (Role, error) {
	cfg = cfg.Normalized()
	switch strings.ToLower(strings.TrimSpace(language)) {
	case cfg.RoleALanguage:
		return RoleA, nil
	case cfg.RoleBLanguage:
		return RoleB, nil
	default:
		return RoleDetecting, fmt.Errorf("%w: %s", shared.ErrUnsupportedLanguage, language)
	}
}

// Detector names the language of an utterance. Implementations must return
// one of the two configured languages, or an error when the text belongs to
// neither.
type Detector interface {
	DetectLanguage(ctx context.Context, text string, cfg LanguageConfig) (string, error)
}

// Classifier resolves speakers with a primary detector and falls back to a
// degraded-mode detector when the primary fails. Both strategies implement
// the same Detector capability.
type Classifier struct {
	logger   shared.LoggerAdapter
	primary  Detector
	fallback Detector
}

func NewClassifier(logger shared.LoggerAdapter, primary, fallback Detector) (*Classifier, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if primary == nil {
		primary = fallback
	}
	if primary == nil {
		return nil, fmt.Errorf("no detector provided")
	}
	return &Classifier{logger: logger, primary: primary, fallback: fallback}, nil
}

// ClassifySpeaker detects the utterance language and resolves it to a role.
func (c *Classifier) ClassifySpeaker(ctx context.Context, text string, cfg LanguageConfig) (Role, string, error) {
	language, err := c.primary.DetectLanguage(ctx, text, cfg)
	if err != nil && c.fallback != nil && c.fallback != c.primary {
		c.logger.Warn("primary language detection failed, using fallback", zap.Error(err))
		language, err = c.fallback.DetectLanguage(ctx, text, cfg)
	}
	if err != nil {
		return RoleDetecting, "", fmt.Errorf("on detecting language: %w", err)
	}
	role, err := ResolveRole(language, cfg)
	if err != nil {
		return RoleDetecting, language, err
	}
	return role, language, nil
}
