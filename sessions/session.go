package sessions

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jrsteele09/go-auth-session/internal/utils"
)

// Provider identifies the platform identity provider a Session came from.
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderApple     Provider = "apple"
	ProviderMicrosoft Provider = "microsoft"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrNoActiveSession = errors.New("no active session")
)

// ParseProvider maps a provider name to a Provider.
func ParseProvider(name string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(name))); p {
	case ProviderGoogle, ProviderApple, ProviderMicrosoft:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}

// Valid reports whether p is one of the supported providers.
func (p Provider) Valid() bool {
	_, err := ParseProvider(string(p))
	return err == nil
}

func (p Provider) String() string { return string(p) }

// Session is the signed-in identity and the credentials the provider issued for it.
// A nil *Session means signed out.
type Session struct {
	Provider Provider

	// Profile
	Email *string
	Name  *string
	Photo *string

	// Credentials
	IDToken        *string
	AccessToken    *string
	RefreshToken   *string
	ServerAuthCode *string

	Scopes    []string // Granted scopes, de-duplicated, first-seen order. nil when unknown.
	ExpiresAt *int64   // Access token expiry, milliseconds since epoch
}

// Clone returns a deep copy; nil stays nil.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := &Session{
		Provider:       s.Provider,
		Email:          utils.ClonePtr(s.Email),
		Name:           utils.ClonePtr(s.Name),
		Photo:          utils.ClonePtr(s.Photo),
		IDToken:        utils.ClonePtr(s.IDToken),
		AccessToken:    utils.ClonePtr(s.AccessToken),
		RefreshToken:   utils.ClonePtr(s.RefreshToken),
		ServerAuthCode: utils.ClonePtr(s.ServerAuthCode),
		ExpiresAt:      utils.ClonePtr(s.ExpiresAt),
	}
	if s.Scopes != nil {
		c.Scopes = append([]string{}, s.Scopes...)
	}
	return c
}

// HasCredentials reports whether any token material is present.
func (s *Session) HasCredentials() bool {
	if s == nil {
		return false
	}
	return s.IDToken != nil || s.AccessToken != nil || s.RefreshToken != nil || s.ServerAuthCode != nil
}

// Validate checks the invariant that credential material always has a provider.
func (s *Session) Validate() error {
	if s == nil {
		return nil
	}
	if s.HasCredentials() && !s.Provider.Valid() {
		return fmt.Errorf("session with credentials: %w: %q", ErrUnknownProvider, s.Provider)
	}
	return nil
}

// ApplyTokens merges only the fields t carries; absent fields keep their prior value.
func (s *Session) ApplyTokens(t Tokens) {
	s.IDToken = utils.Coalesce(s.IDToken, t.IDToken)
	s.AccessToken = utils.Coalesce(s.AccessToken, t.AccessToken)
	s.RefreshToken = utils.Coalesce(s.RefreshToken, t.RefreshToken)
	s.ExpiresAt = utils.Coalesce(s.ExpiresAt, t.ExpiresAt)
}

// Tokens is the bundle a provider returns from a refresh. Every field is optional.
type Tokens struct {
	IDToken      *string
	AccessToken  *string
	RefreshToken *string
	ExpiresAt    *int64 // milliseconds since epoch
}

// Clone returns a deep copy.
func (t Tokens) Clone() Tokens {
	return Tokens{
		IDToken:      utils.ClonePtr(t.IDToken),
		AccessToken:  utils.ClonePtr(t.AccessToken),
		RefreshToken: utils.ClonePtr(t.RefreshToken),
		ExpiresAt:    utils.ClonePtr(t.ExpiresAt),
	}
}

// Empty reports whether the bundle carries nothing.
func (t Tokens) Empty() bool {
	return t.IDToken == nil && t.AccessToken == nil && t.RefreshToken == nil && t.ExpiresAt == nil
}
