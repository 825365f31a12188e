package sessions

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidRecord is returned when a stored record cannot be decoded into a Session.
var ErrInvalidRecord = errors.New("invalid session record")

// record is the compact, field-optional encoding written to storage.
type record struct {
	Provider       Provider `json:"provider"`
	Email          *string  `json:"email,omitempty"`
	Name           *string  `json:"name,omitempty"`
	Photo          *string  `json:"photo,omitempty"`
	IDToken        *string  `json:"idToken,omitempty"`
	ServerAuthCode *string  `json:"serverAuthCode,omitempty"`
	Scopes         []string `json:"scopes,omitempty"`

	// Only written for backends trusted to retain bearer credentials
	AccessToken    *string `json:"accessToken,omitempty"`
	RefreshToken   *string `json:"refreshToken,omitempty"`
	ExpirationTime *int64  `json:"expirationTime,omitempty"`
}

// EncodeRecord serializes s. Access token, refresh token and expiry are only
// included when includeTokens is set.
func EncodeRecord(s *Session, includeTokens bool) (string, error) {
	if s == nil {
		return "", fmt.Errorf("[EncodeRecord] %w", ErrNoActiveSession)
	}
	r := record{
		Provider:       s.Provider,
		Email:          s.Email,
		Name:           s.Name,
		Photo:          s.Photo,
		IDToken:        s.IDToken,
		ServerAuthCode: s.ServerAuthCode,
		Scopes:         s.Scopes,
	}
	if includeTokens {
		r.AccessToken = s.AccessToken
		r.RefreshToken = s.RefreshToken
		r.ExpirationTime = s.ExpiresAt
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("[EncodeRecord] marshal: %w", err)
	}
	return string(b), nil
}

// DecodeRecord parses a record written by EncodeRecord.
func DecodeRecord(data string) (*Session, error) {
	var r record
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	p, err := ParseProvider(string(r.Provider))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return &Session{
		Provider:       p,
		Email:          r.Email,
		Name:           r.Name,
		Photo:          r.Photo,
		IDToken:        r.IDToken,
		AccessToken:    r.AccessToken,
		RefreshToken:   r.RefreshToken,
		ServerAuthCode: r.ServerAuthCode,
		Scopes:         r.Scopes,
		ExpiresAt:      r.ExpirationTime,
	}, nil
}
