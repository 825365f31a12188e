package sessions_test

import (
	"testing"

	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/stretchr/testify/require"
)

func TestRecord_TrustedRoundTrip(t *testing.T) {
	s := fullSession()
	data, err := sessions.EncodeRecord(s, true)
	require.NoError(t, err)

	decoded, err := sessions.DecodeRecord(data)
	require.NoError(t, err)
	require.Equal(t, s, decoded)
}

func TestRecord_UntrustedDropsBearerTokens(t *testing.T) {
	data, err := sessions.EncodeRecord(fullSession(), false)
	require.NoError(t, err)
	require.NotContains(t, data, "access-1")
	require.NotContains(t, data, "refresh-1")
	require.NotContains(t, data, "expirationTime")

	decoded, err := sessions.DecodeRecord(data)
	require.NoError(t, err)
	require.Nil(t, decoded.AccessToken)
	require.Nil(t, decoded.RefreshToken)
	require.Nil(t, decoded.ExpiresAt)
	require.Equal(t, "id-1", *decoded.IDToken)
	require.Equal(t, "code-1", *decoded.ServerAuthCode)
	require.Equal(t, []string{"email", "profile"}, decoded.Scopes)
}

func TestRecord_OptionalFieldsOmitted(t *testing.T) {
	data, err := sessions.EncodeRecord(&sessions.Session{Provider: sessions.ProviderApple}, true)
	require.NoError(t, err)
	require.JSONEq(t, `{"provider":"apple"}`, data)
}

func TestRecord_DecodeErrors(t *testing.T) {
	t.Run("not json", func(t *testing.T) {
		_, err := sessions.DecodeRecord("nope")
		require.ErrorIs(t, err, sessions.ErrInvalidRecord)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := sessions.DecodeRecord(`{"provider":"myspace"}`)
		require.ErrorIs(t, err, sessions.ErrInvalidRecord)
	})

	t.Run("nil session", func(t *testing.T) {
		_, err := sessions.EncodeRecord(nil, true)
		require.ErrorIs(t, err, sessions.ErrNoActiveSession)
	})
}
