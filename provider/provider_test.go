package provider_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jrsteele09/go-auth-session/provider"
	"github.com/stretchr/testify/require"
)

func TestLoginOptions_EffectiveScopes(t *testing.T) {
	require.Equal(t, []string{"email", "profile"}, provider.LoginOptions{}.EffectiveScopes())
	require.Equal(t, []string{"openid"}, provider.LoginOptions{Scopes: []string{"openid"}}.EffectiveScopes())

	// The defaults are not shared.
	s := provider.LoginOptions{}.EffectiveScopes()
	s[0] = "changed"
	require.Equal(t, "email", provider.DefaultScopes[0])
}

func TestLoginOptions_Validate(t *testing.T) {
	require.NoError(t, provider.LoginOptions{}.Validate())
	for _, p := range []provider.Prompt{provider.PromptLogin, provider.PromptConsent, provider.PromptSelectAccount, provider.PromptNone} {
		require.NoError(t, provider.LoginOptions{Prompt: p}.Validate())
	}
	require.ErrorIs(t, provider.LoginOptions{Prompt: "always"}.Validate(), provider.ErrInvalidPrompt)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		raw  string
		want provider.Code
	}{
		{raw: "User cancelled the flow", want: provider.CodeCancelled},
		{raw: "popup_closed_by_user", want: provider.CodeCancelled},
		{raw: "Network unreachable", want: provider.CodeNetworkError},
		{raw: "Google Web Client ID not configured", want: provider.CodeConfigurationError},
		{raw: "something odd", want: provider.CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := provider.MapError(errors.New(tt.raw))
			require.Equal(t, tt.want, got.Code)
			require.Equal(t, tt.raw, got.Underlying)
		})
	}

	require.Nil(t, provider.MapError(nil))

	pe := provider.NewError(provider.CodeTokenError, "bad token")
	require.Same(t, pe, provider.MapError(fmt.Errorf("wrapped: %w", pe)))
}

func TestError_IsAndCodeOf(t *testing.T) {
	err := fmt.Errorf("ctx: %w", provider.NewError(provider.CodeRefreshFailed, "expired"))
	require.ErrorIs(t, err, &provider.Error{Code: provider.CodeRefreshFailed})
	require.NotErrorIs(t, err, &provider.Error{Code: provider.CodeCancelled})
	require.Equal(t, provider.CodeRefreshFailed, provider.CodeOf(err))
	require.Equal(t, provider.CodeUnknown, provider.CodeOf(errors.New("x")))
	require.Equal(t, "cancelled", provider.NewError(provider.CodeCancelled, "").Error())
}
