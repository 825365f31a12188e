package sessions_test

import (
	"testing"

	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/stretchr/testify/require"
)

func fullSession() *sessions.Session {
	return &sessions.Session{
		Provider:       sessions.ProviderGoogle,
		Email:          utils.Ptr("a@b.com"),
		Name:           utils.Ptr("Ada"),
		Photo:          utils.Ptr("https://example.com/a.png"),
		IDToken:        utils.Ptr("id-1"),
		AccessToken:    utils.Ptr("access-1"),
		RefreshToken:   utils.Ptr("refresh-1"),
		ServerAuthCode: utils.Ptr("code-1"),
		Scopes:         []string{"email", "profile"},
		ExpiresAt:      utils.Ptr(int64(1_700_000_000_000)),
	}
}

func TestParseProvider(t *testing.T) {
	for _, name := range []string{"google", "Apple", " microsoft "} {
		p, err := sessions.ParseProvider(name)
		require.NoError(t, err)
		require.True(t, p.Valid())
	}

	_, err := sessions.ParseProvider("facebook")
	require.ErrorIs(t, err, sessions.ErrUnknownProvider)
}

func TestSession_CloneIsDeep(t *testing.T) {
	orig := fullSession()
	c := orig.Clone()
	require.Equal(t, orig, c)

	*c.Email = "changed@b.com"
	c.Scopes[0] = "changed"
	require.Equal(t, "a@b.com", *orig.Email)
	require.Equal(t, "email", orig.Scopes[0])

	var nilSession *sessions.Session
	require.Nil(t, nilSession.Clone())
}

func TestSession_ApplyTokensIsPartial(t *testing.T) {
	s := fullSession()
	s.ApplyTokens(sessions.Tokens{AccessToken: utils.Ptr("access-2")})

	require.Equal(t, "access-2", *s.AccessToken)
	require.Equal(t, "id-1", *s.IDToken)
	require.Equal(t, "refresh-1", *s.RefreshToken)
	require.Equal(t, int64(1_700_000_000_000), *s.ExpiresAt)

	s.ApplyTokens(sessions.Tokens{ExpiresAt: utils.Ptr(int64(42)), IDToken: utils.Ptr("id-2")})
	require.Equal(t, int64(42), *s.ExpiresAt)
	require.Equal(t, "id-2", *s.IDToken)
	require.Equal(t, "access-2", *s.AccessToken)
}

func TestSession_Validate(t *testing.T) {
	require.NoError(t, fullSession().Validate())
	require.NoError(t, (&sessions.Session{Email: utils.Ptr("x@y.z")}).Validate())

	err := (&sessions.Session{AccessToken: utils.Ptr("t")}).Validate()
	require.ErrorIs(t, err, sessions.ErrUnknownProvider)
}

func TestTokens_Empty(t *testing.T) {
	require.True(t, sessions.Tokens{}.Empty())
	require.False(t, sessions.Tokens{IDToken: utils.Ptr("x")}.Empty())
}
