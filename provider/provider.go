package provider

import (
	"context"

	"github.com/jrsteele09/go-auth-session/broker"
	"github.com/jrsteele09/go-auth-session/sessions"
)

// Reporter receives completions from an adapter. *broker.Broker satisfies it.
type Reporter interface {
	Complete(kind broker.Kind, result broker.Result) bool
}

var _ Reporter = (*broker.Broker)(nil)

// Identity is the port a platform identity adapter implements.
//
// Login, RequestScopes, RefreshToken and SilentRestore only start the flow. The
// outcome is reported later, from any goroutine, through the bound Reporter
// using the matching broker.Kind. A returned error means the flow never started
// and nothing will be reported.
type Identity interface {
	// Bind attaches the Reporter completions are delivered to.
	Bind(r Reporter)

	// Login reports a *sessions.Session for broker.KindLogin.
	Login(ctx context.Context, p sessions.Provider, opts LoginOptions) error

	// RequestScopes reports a *sessions.Session for broker.KindRequestScopes.
	RequestScopes(ctx context.Context, scopes []string) error

	// RefreshToken reports sessions.Tokens for broker.KindRefreshToken.
	RefreshToken(ctx context.Context) error

	// SilentRestore reports a *sessions.Session, or broker.ErrNoSession, for broker.KindSilentRestore.
	SilentRestore(ctx context.Context) error

	// HasCapability reports a provider-specific availability check.
	HasCapability() bool

	// Logout is fire-and-forget.
	Logout()
}
