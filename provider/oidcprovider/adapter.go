// Package oidcprovider is a provider.Identity for desktop and CLI clients. It
// runs the OAuth 2.0 authorization code flow with PKCE against an OpenID
// Connect issuer and receives the redirect on a loopback listener.
package oidcprovider

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/go-auth-session/broker"
	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/provider"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

const (
	// RouteCallback is the loopback path the issuer redirects to.
	RouteCallback = "/callback"

	DefaultRedirectAddr = "127.0.0.1:0"
	DefaultFlowTimeout  = 5 * time.Minute
)

var _ provider.Identity = (*Adapter)(nil)

// Config configures an Adapter.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectAddr string            // Loopback listen address, port 0 picks a free one
	Provider     sessions.Provider // The only provider Login accepts
	Scopes       []string          // Added to every authorization request

	// AuthorityHost overrides https://login.microsoftonline.com for tenant logins.
	AuthorityHost string

	// OpenURL shows the authorization URL to the user, normally by launching a browser.
	OpenURL func(authURL string) error

	FlowTimeout time.Duration
	Logger      *zerolog.Logger
}

// Adapter implements provider.Identity over OpenID Connect.
type Adapter struct {
	cfg      Config
	oauth    oauth2.Config
	verifier *oidc.IDTokenVerifier // nil when the issuer's keys are unavailable
	keySet   oidc.KeySet           // Microsoft only, for tenant specific issuers
	log      zerolog.Logger

	lock     sync.Mutex
	reporter provider.Reporter
	token    *oauth2.Token
	idToken  string
	profile  idClaims
	granted  []string
	session  oauth2.Config    // Endpoint the held tokens came from
	flows    map[string]*flow // By state

	serverLock sync.Mutex
	server     *http.Server
	listener   net.Listener
}

// New discovers cfg.Issuer and creates an Adapter that verifies ID tokens
// against the issuer's published keys.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("[oidcprovider.New] issuer is required")
	}
	p, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, errors.Wrap(provider.MapError(err), "[oidcprovider.New] discovery failed")
	}

	a, err := NewWithEndpoint(cfg, p.Endpoint(), p.Verifier(&oidc.Config{ClientID: cfg.ClientID}))
	if err != nil {
		return nil, err
	}

	if cfg.Provider == sessions.ProviderMicrosoft {
		var meta struct {
			JWKSURL string `json:"jwks_uri"`
		}
		if err := p.Claims(&meta); err == nil && meta.JWKSURL != "" {
			a.keySet = oidc.NewRemoteKeySet(context.WithoutCancel(ctx), meta.JWKSURL)
		}
	}
	return a, nil
}

// NewWithEndpoint creates an Adapter for a known endpoint. A nil verifier
// accepts ID tokens without checking their signature.
func NewWithEndpoint(cfg Config, endpoint oauth2.Endpoint, verifier *oidc.IDTokenVerifier) (*Adapter, error) {
	if cfg.ClientID == "" {
		return nil, provider.NewError(provider.CodeConfigurationError, "client id is required")
	}
	if !cfg.Provider.Valid() {
		return nil, errors.Wrapf(sessions.ErrUnknownProvider, "[oidcprovider.NewWithEndpoint] %q", cfg.Provider)
	}
	if cfg.RedirectAddr == "" {
		cfg.RedirectAddr = DefaultRedirectAddr
	}
	if cfg.FlowTimeout <= 0 {
		cfg.FlowTimeout = DefaultFlowTimeout
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	oauth := oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     endpoint,
	}
	return &Adapter{
		cfg:      cfg,
		oauth:    oauth,
		session:  oauth,
		verifier: verifier,
		log:      logger.With().Str("component", "oidc-provider").Str("provider", cfg.Provider.String()).Logger(),
		flows:    make(map[string]*flow),
	}, nil
}

func (a *Adapter) Bind(r provider.Reporter) {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.reporter = r
}

func (a *Adapter) report(kind broker.Kind, result broker.Result) {
	a.lock.Lock()
	r := a.reporter
	a.lock.Unlock()
	if r == nil {
		a.log.Warn().Str("op", kind.String()).Msg("no reporter bound, result dropped")
		return
	}
	r.Complete(kind, result)
}

// HasCapability reports whether the adapter can show an authorization page.
func (a *Adapter) HasCapability() bool {
	return a.cfg.OpenURL != nil
}

// Seed primes the adapter with a previously persisted session so SilentRestore
// and RefreshToken can work across process restarts.
func (a *Adapter) Seed(s *sessions.Session) {
	if s == nil || s.Provider != a.cfg.Provider {
		return
	}
	tok := &oauth2.Token{
		AccessToken:  utils.Value(s.AccessToken),
		RefreshToken: utils.Value(s.RefreshToken),
		TokenType:    "Bearer",
	}
	if s.ExpiresAt != nil {
		tok.Expiry = time.UnixMilli(*s.ExpiresAt)
	}

	a.lock.Lock()
	defer a.lock.Unlock()
	a.token = tok
	a.session = a.oauth
	a.idToken = utils.Value(s.IDToken)
	a.profile = idClaims{Email: utils.Value(s.Email), Name: utils.Value(s.Name), Picture: utils.Value(s.Photo)}
	a.granted = utils.UnionOrdered(nil, s.Scopes...)
}

// Login starts an authorization code flow for p.
func (a *Adapter) Login(ctx context.Context, p sessions.Provider, opts provider.LoginOptions) error {
	if p != a.cfg.Provider {
		return provider.NewError(provider.CodeUnsupportedProvider, fmt.Sprintf("adapter serves %s, not %s", a.cfg.Provider, p))
	}
	if opts.UseOneTap {
		a.log.Debug().Msg("one tap is not available, using the browser flow")
	}

	scopes := utils.UnionOrdered(a.baseScopes(), opts.EffectiveScopes()...)
	params := []oauth2.AuthCodeOption{}
	switch {
	case opts.ForceAccountPicker:
		params = append(params, oauth2.SetAuthURLParam("prompt", string(provider.PromptSelectAccount)))
	case opts.Prompt != "":
		params = append(params, oauth2.SetAuthURLParam("prompt", string(opts.Prompt)))
	}
	if opts.LoginHint != "" && !opts.ForceAccountPicker {
		params = append(params, oauth2.SetAuthURLParam("login_hint", opts.LoginHint))
	}

	return a.startFlow(ctx, broker.KindLogin, scopes, opts.Tenant, params)
}

// RequestScopes starts an incremental authorization for scopes.
func (a *Adapter) RequestScopes(ctx context.Context, scopes []string) error {
	a.lock.Lock()
	granted := append([]string{}, a.granted...)
	hint := a.profile.Email
	a.lock.Unlock()

	all := utils.UnionOrdered(a.baseScopes(), granted...)
	all = utils.UnionOrdered(all, scopes...)
	params := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("prompt", string(provider.PromptConsent)),
	}
	if a.cfg.Provider == sessions.ProviderGoogle {
		params = append(params, oauth2.SetAuthURLParam("include_granted_scopes", "true"))
	}
	if hint != "" {
		params = append(params, oauth2.SetAuthURLParam("login_hint", hint))
	}

	return a.startFlow(ctx, broker.KindRequestScopes, all, "", params)
}

// RefreshToken exchanges the held refresh token for new tokens.
func (a *Adapter) RefreshToken(ctx context.Context) error {
	a.lock.Lock()
	var refresh string
	if a.token != nil {
		refresh = a.token.RefreshToken
	}
	conf := a.session
	a.lock.Unlock()
	if refresh == "" {
		return provider.NewError(provider.CodeRefreshFailed, "no refresh token held")
	}

	go a.refresh(context.WithoutCancel(ctx), conf, refresh)
	return nil
}

func (a *Adapter) refresh(ctx context.Context, conf oauth2.Config, refresh string) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.FlowTimeout)
	defer cancel()

	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refresh}).Token()
	if err != nil {
		a.log.Err(err).Msg("token refresh failed")
		a.report(broker.KindRefreshToken, broker.ErrorResult(&provider.Error{
			Code:       provider.CodeRefreshFailed,
			Message:    "token refresh failed",
			Underlying: err.Error(),
		}))
		return
	}

	tokens := sessions.Tokens{
		AccessToken: utils.NonEmpty(tok.AccessToken),
		ExpiresAt:   expiresAt(tok),
	}
	if tok.RefreshToken != refresh {
		tokens.RefreshToken = utils.NonEmpty(tok.RefreshToken)
	}
	if raw, ok := tok.Extra("id_token").(string); ok {
		tokens.IDToken = utils.NonEmpty(raw)
	}

	a.lock.Lock()
	a.token = tok
	if tokens.IDToken != nil {
		a.idToken = *tokens.IDToken
	}
	a.lock.Unlock()

	a.report(broker.KindRefreshToken, broker.TokensResult(tokens))
}

// SilentRestore reports the held session, refreshing it first when the access
// token has expired. Without one it reports broker.ErrNoSession.
func (a *Adapter) SilentRestore(ctx context.Context) error {
	a.lock.Lock()
	tok := a.token
	conf := a.session
	a.lock.Unlock()

	go func() {
		if tok == nil {
			a.report(broker.KindSilentRestore, broker.ErrorResult(broker.ErrNoSession))
			return
		}
		if !tok.Valid() && tok.RefreshToken != "" {
			fresh, err := conf.TokenSource(context.WithoutCancel(ctx), tok).Token()
			if err != nil {
				a.report(broker.KindSilentRestore, broker.ErrorResult(provider.MapError(err)))
				return
			}
			a.lock.Lock()
			a.token = fresh
			if raw, ok := fresh.Extra("id_token").(string); ok && raw != "" {
				a.idToken = raw
			}
			a.lock.Unlock()
		}
		a.report(broker.KindSilentRestore, broker.SessionResult(a.currentSession()))
	}()
	return nil
}

// Logout forgets held tokens and cancels outstanding flows. The issuer is not contacted.
func (a *Adapter) Logout() {
	a.lock.Lock()
	a.token = nil
	a.idToken = ""
	a.profile = idClaims{}
	a.granted = nil
	a.session = a.oauth
	dropped := make([]*flow, 0, len(a.flows))
	for state, f := range a.flows {
		f.timer.Stop()
		delete(a.flows, state)
		dropped = append(dropped, f)
	}
	a.lock.Unlock()

	for _, f := range dropped {
		a.log.Debug().Str("op", f.kind.String()).Msg("authorization cancelled by logout")
		a.report(f.kind, broker.ErrorResult(provider.NewError(provider.CodeCancelled, "signed out")))
	}
}

// Close stops the loopback listener.
func (a *Adapter) Close(ctx context.Context) error {
	a.serverLock.Lock()
	defer a.serverLock.Unlock()
	if a.server == nil {
		return nil
	}
	err := a.server.Shutdown(ctx)
	a.server, a.listener = nil, nil
	return err
}

func (a *Adapter) currentSession() *sessions.Session {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.token == nil {
		return nil
	}
	return &sessions.Session{
		Provider:     a.cfg.Provider,
		Email:        utils.NonEmpty(a.profile.Email),
		Name:         utils.NonEmpty(a.profile.Name),
		Photo:        utils.NonEmpty(a.profile.Picture),
		IDToken:      utils.NonEmpty(a.idToken),
		AccessToken:  utils.NonEmpty(a.token.AccessToken),
		RefreshToken: utils.NonEmpty(a.token.RefreshToken),
		ExpiresAt:    expiresAt(a.token),
		Scopes:       append([]string{}, a.granted...),
	}
}

func (a *Adapter) baseScopes() []string {
	scopes := []string{oidc.ScopeOpenID}
	if a.cfg.Provider != sessions.ProviderGoogle {
		scopes = append(scopes, oidc.ScopeOfflineAccess)
	}
	return utils.UnionOrdered(scopes, a.cfg.Scopes...)
}

// endpointFor returns the authorization endpoint for a Microsoft tenant, or the configured one.
func (a *Adapter) endpointFor(tenant string) oauth2.Endpoint {
	if tenant == "" || a.cfg.Provider != sessions.ProviderMicrosoft {
		return a.oauth.Endpoint
	}
	ep := microsoft.AzureADEndpoint(tenant)
	if host := strings.TrimSuffix(a.cfg.AuthorityHost, "/"); host != "" {
		ep.AuthURL = host + "/" + tenant + "/oauth2/v2.0/authorize"
		ep.TokenURL = host + "/" + tenant + "/oauth2/v2.0/token"
	}
	ep.AuthStyle = a.oauth.Endpoint.AuthStyle
	return ep
}

// verifierFor returns the ID token verifier for a Microsoft tenant, or the configured one.
func (a *Adapter) verifierFor(tenant string) *oidc.IDTokenVerifier {
	if tenant == "" || a.keySet == nil {
		return a.verifier
	}
	multiTenant := tenant == "common" || tenant == "organizations" || tenant == "consumers"
	host := strings.TrimSuffix(a.cfg.AuthorityHost, "/")
	if host == "" {
		host = "https://login.microsoftonline.com"
	}
	issuer := host + "/" + tenant + "/v2.0"
	return oidc.NewVerifier(issuer, a.keySet, &oidc.Config{ClientID: a.cfg.ClientID, SkipIssuerCheck: multiTenant})
}

// redirectURL starts the loopback listener if needed and returns its callback URL.
func (a *Adapter) redirectURL() (string, error) {
	a.serverLock.Lock()
	defer a.serverLock.Unlock()
	if a.listener != nil {
		return "http://" + a.listener.Addr().String() + RouteCallback, nil
	}

	ln, err := net.Listen("tcp", a.cfg.RedirectAddr)
	if err != nil {
		return "", &provider.Error{Code: provider.CodeConfigurationError, Message: "cannot listen for the redirect", Underlying: err.Error()}
	}

	r := chi.NewRouter()
	r.Get(RouteCallback, a.callbackHandler())
	r.Post(RouteCallback, a.callbackHandler()) // form_post response mode
	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Err(err).Msg("loopback listener stopped")
		}
	}()
	a.server, a.listener = srv, ln
	a.log.Debug().Str("addr", ln.Addr().String()).Msg("loopback listener started")
	return "http://" + ln.Addr().String() + RouteCallback, nil
}

func expiresAt(tok *oauth2.Token) *int64 {
	if tok == nil || tok.Expiry.IsZero() {
		return nil
	}
	return utils.Ptr(tok.Expiry.UnixMilli())
}

// scopesFromToken reads the granted scopes from a token response. Some issuers
// send a space-delimited string, others a JSON array.
func scopesFromToken(tok *oauth2.Token, requested []string) []string {
	switch raw := tok.Extra("scope").(type) {
	case string:
		if scopes := utils.SplitScope(raw); len(scopes) > 0 {
			return scopes
		}
	case []any:
		if scopes := utils.ToStringSlice(raw); len(scopes) > 0 {
			return scopes
		}
	}
	return append([]string{}, requested...)
}
