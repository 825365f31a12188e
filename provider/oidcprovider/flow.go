package oidcprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/broker"
	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/provider"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/token"
	"golang.org/x/oauth2"
)

// flow is one outstanding authorization request.
type flow struct {
	kind     broker.Kind
	state    string
	nonce    string
	verifier string
	scopes   []string
	oauth    oauth2.Config
	idCheck  *oidc.IDTokenVerifier
	timer    *time.Timer
}

type idClaims struct {
	Nonce             string `json:"nonce"`
	Sub               string `json:"sub"`
	Email             string `json:"email"`
	Name              string `json:"name"`
	Picture           string `json:"picture"`
	PreferredUsername string `json:"preferred_username"`
}

func (a *Adapter) startFlow(_ context.Context, kind broker.Kind, scopes []string, tenant string, params []oauth2.AuthCodeOption) error {
	if a.cfg.OpenURL == nil {
		return provider.NewError(provider.CodeConfigurationError, "no way to open the authorization page")
	}
	redirect, err := a.redirectURL()
	if err != nil {
		return err
	}

	f := &flow{
		kind:     kind,
		state:    uuid.NewString(),
		nonce:    uuid.NewString(),
		verifier: oauth2.GenerateVerifier(),
		scopes:   scopes,
		oauth:    a.oauth,
		idCheck:  a.verifierFor(tenant),
	}
	f.oauth.Endpoint = a.endpointFor(tenant)
	f.oauth.RedirectURL = redirect
	f.oauth.Scopes = scopes

	params = append(params, oidc.Nonce(f.nonce), oauth2.S256ChallengeOption(f.verifier))
	if a.cfg.Provider == sessions.ProviderGoogle {
		params = append(params, oauth2.AccessTypeOffline)
	}
	authURL := f.oauth.AuthCodeURL(f.state, params...)

	a.lock.Lock()
	// A newer flow of the same kind replaces older ones
	for state, old := range a.flows {
		if old.kind == kind {
			old.timer.Stop()
			delete(a.flows, state)
		}
	}
	f.timer = time.AfterFunc(a.cfg.FlowTimeout, func() { a.expire(f.state) })
	a.flows[f.state] = f
	a.lock.Unlock()

	a.log.Debug().Str("op", kind.String()).Strs("scopes", scopes).Msg("opening authorization page")
	if err := a.cfg.OpenURL(authURL); err != nil {
		a.take(f.state)
		return provider.MapError(err)
	}
	return nil
}

// take removes and returns the flow for state.
func (a *Adapter) take(state string) *flow {
	a.lock.Lock()
	defer a.lock.Unlock()
	f, ok := a.flows[state]
	if !ok {
		return nil
	}
	f.timer.Stop()
	delete(a.flows, state)
	return f
}

func (a *Adapter) expire(state string) {
	f := a.take(state)
	if f == nil {
		return
	}
	a.log.Warn().Str("op", f.kind.String()).Msg("authorization timed out")
	a.report(f.kind, broker.ErrorResult(provider.NewError(provider.CodeCancelled, "authorization timed out")))
}

// callbackHandler receives the issuer's redirect and completes the matching flow.
func (a *Adapter) callbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := r.FormValue("state")
		f := a.take(state)
		if f == nil {
			http.Error(w, "Invalid state parameter", http.StatusBadRequest)
			return
		}

		if errorParam := r.FormValue("error"); errorParam != "" {
			desc := r.FormValue("error_description")
			perr := provider.MapError(fmt.Errorf("%s: %s", errorParam, desc))
			if errorParam == "access_denied" {
				perr = &provider.Error{Code: provider.CodeCancelled, Message: "authorization denied", Underlying: desc}
			}
			a.report(f.kind, broker.ErrorResult(perr))
			http.Error(w, fmt.Sprintf("Authorization failed: %s - %s", errorParam, desc), http.StatusBadRequest)
			return
		}

		code := r.FormValue("code")
		if code == "" {
			a.report(f.kind, broker.ErrorResult(provider.NewError(provider.CodeInvalidState, "missing code")))
			http.Error(w, "Missing code parameter", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), a.cfg.FlowTimeout)
		defer cancel()

		s, perr := a.exchange(ctx, f, code)
		if perr != nil {
			a.log.Error().Str("op", f.kind.String()).Str("code", string(perr.Code)).Str("detail", perr.Underlying).Msg("authorization failed")
			a.report(f.kind, broker.ErrorResult(perr))
			http.Error(w, "Sign-in failed: "+perr.Error(), http.StatusInternalServerError)
			return
		}

		a.report(f.kind, broker.SessionResult(s))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Signed in. You can close this window.\n"))
	}
}

// exchange redeems code and builds the Session the flow reports.
func (a *Adapter) exchange(ctx context.Context, f *flow, code string) (*sessions.Session, *provider.Error) {
	tok, err := f.oauth.Exchange(ctx, code, oauth2.VerifierOption(f.verifier))
	if err != nil {
		return nil, &provider.Error{Code: provider.CodeTokenError, Message: "token exchange failed", Underlying: err.Error()}
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, provider.NewError(provider.CodeNoIDToken, "no ID token in response")
	}

	claims, err := readClaims(ctx, f.idCheck, rawIDToken)
	if err != nil {
		return nil, &provider.Error{Code: provider.CodeParseError, Message: "ID token rejected", Underlying: err.Error()}
	}
	if claims.Nonce != f.nonce {
		return nil, provider.NewError(provider.CodeInvalidNonce, "invalid nonce")
	}
	if claims.Email == "" {
		claims.Email = claims.PreferredUsername
	}

	granted := scopesFromToken(tok, f.scopes)
	a.lock.Lock()
	a.token = tok
	a.session = f.oauth
	a.idToken = rawIDToken
	a.profile = claims
	if f.kind == broker.KindRequestScopes {
		a.granted = utils.UnionOrdered(a.granted, granted...)
	} else {
		a.granted = utils.UnionOrdered(nil, granted...)
	}
	a.lock.Unlock()

	s := &sessions.Session{
		Provider:     a.cfg.Provider,
		Email:        utils.NonEmpty(claims.Email),
		Name:         utils.NonEmpty(claims.Name),
		Photo:        utils.NonEmpty(claims.Picture),
		IDToken:      utils.Ptr(rawIDToken),
		AccessToken:  utils.NonEmpty(tok.AccessToken),
		RefreshToken: utils.NonEmpty(tok.RefreshToken),
		ExpiresAt:    expiresAt(tok),
		Scopes:       granted,
	}
	if s.ExpiresAt == nil {
		s.ExpiresAt, _ = token.ExpiryFromIDToken(rawIDToken)
	}
	return s, nil
}

// readClaims verifies raw when a verifier is configured, otherwise it only decodes it.
func readClaims(ctx context.Context, verifier *oidc.IDTokenVerifier, raw string) (idClaims, error) {
	var claims idClaims
	if verifier != nil {
		idToken, err := verifier.Verify(ctx, raw)
		if err != nil {
			return claims, err
		}
		err = idToken.Claims(&claims)
		return claims, err
	}

	mc, err := token.Claims(raw)
	if err != nil {
		return claims, err
	}
	data, err := json.Marshal(mc)
	if err != nil {
		return claims, err
	}
	err = json.Unmarshal(data, &claims)
	return claims, err
}
