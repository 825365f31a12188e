package provider

import (
	"errors"
	"fmt"
)

// DefaultScopes are requested when LoginOptions.Scopes is unset.
var DefaultScopes = []string{"email", "profile"}

var ErrInvalidPrompt = errors.New("invalid prompt")

// Prompt controls the provider's account/consent screens.
type Prompt string

const (
	PromptLogin         Prompt = "login"
	PromptConsent       Prompt = "consent"
	PromptSelectAccount Prompt = "select_account"
	PromptNone          Prompt = "none"
)

// ParsePrompt validates a prompt value.
func ParsePrompt(v string) (Prompt, error) {
	switch p := Prompt(v); p {
	case PromptLogin, PromptConsent, PromptSelectAccount, PromptNone:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPrompt, v)
	}
}

// LoginOptions are the recognised login parameters. Zero values mean "not set".
type LoginOptions struct {
	Scopes             []string // overrides DefaultScopes
	LoginHint          string
	Tenant             string // Microsoft: common, organizations, consumers, or a tenant id
	Prompt             Prompt
	UseOneTap          bool
	ForceAccountPicker bool // ignore cached accounts and loginHint
}

// EffectiveScopes returns the scopes an adapter should request.
func (o LoginOptions) EffectiveScopes() []string {
	if len(o.Scopes) > 0 {
		return append([]string{}, o.Scopes...)
	}
	return append([]string{}, DefaultScopes...)
}

// Validate checks enumerated fields.
func (o LoginOptions) Validate() error {
	if o.Prompt == "" {
		return nil
	}
	_, err := ParsePrompt(string(o.Prompt))
	return err
}
