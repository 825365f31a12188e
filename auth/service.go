package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrsteele09/go-auth-session/broker"
	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/metrics"
	"github.com/jrsteele09/go-auth-session/provider"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/storage"
	"github.com/jrsteele09/go-auth-session/token"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Listener event names used for metrics.
const (
	eventState  = "state"
	eventTokens = "tokens"
)

// Service orchestrates the client's authentication session: it drives the
// identity provider through the operation broker, keeps the session store
// current, persists it and notifies listeners.
type Service struct {
	identity provider.Identity // May be nil: provider operations then fail with ErrProviderUnavailable
	broker   *broker.Broker
	store    *sessions.Store

	storageLock sync.RWMutex
	storage     storage.Storage
	storageKey  string
	persistLock sync.Mutex // Orders writes so the last write carries the newest state

	refreshWindow time.Duration
	nowTime       func() time.Time
	recorder      metrics.Recorder

	baseLog zerolog.Logger
	log     zerolog.Logger
	logging atomic.Bool
}

// NewService creates the session service and loads any persisted session.
// identity may be nil when no platform adapter is available.
func NewService(identity provider.Identity, options ...ServiceOption) (*Service, error) {
	s := &Service{
		identity:      identity,
		store:         sessions.NewStore(),
		storage:       storage.NewMemory(),
		storageKey:    storage.DefaultKey,
		refreshWindow: token.DefaultRefreshWindow,
		nowTime:       time.Now,
		recorder:      metrics.Nop{},
		baseLog:       log.Logger,
	}

	// Apply optional configuration
	for _, opt := range options {
		opt(s)
	}

	if s.storage == nil {
		return nil, pkgerrors.New("[NewService] storage is required")
	}
	if s.storageKey == "" {
		return nil, pkgerrors.New("[NewService] storage key is required")
	}
	if s.refreshWindow < 0 {
		return nil, pkgerrors.New("[NewService] refresh window must not be negative")
	}
	if s.nowTime == nil || s.recorder == nil {
		return nil, pkgerrors.New("[NewService] clock and metrics recorder are required")
	}

	s.log = s.baseLog.Hook(zerolog.HookFunc(func(e *zerolog.Event, _ zerolog.Level, _ string) {
		if !s.logging.Load() {
			e.Discard()
		}
	})).With().Str("component", "auth-session").Logger()

	s.broker = broker.New(broker.WithLogger(s.log))
	if identity != nil {
		identity.Bind(s.broker)
	}

	s.load()
	s.recorder.RecordSignedIn(s.store.Get() != nil)
	return s, nil
}

// SetLoggingEnabled turns log output on or off at runtime.
func (s *Service) SetLoggingEnabled(enabled bool) {
	s.logging.Store(enabled)
}

// CurrentUser returns a copy of the signed-in Session, or nil.
func (s *Service) CurrentUser() *sessions.Session {
	return s.store.Get()
}

// GrantedScopes returns a copy of the scopes currently held.
func (s *Service) GrantedScopes() []string {
	return s.store.GetScopes()
}

// HasCapability asks the provider whether it can operate. False without a provider.
func (s *Service) HasCapability() bool {
	if s.identity == nil {
		return false
	}
	return s.identity.HasCapability()
}

// OnAuthStateChanged registers cb for session state changes. The returned
// function unsubscribes and may be called more than once.
func (s *Service) OnAuthStateChanged(cb sessions.StateListener) (unsubscribe func()) {
	id := s.store.SubscribeState(cb)
	return func() { s.store.UnsubscribeState(id) }
}

// OnTokensRefreshed registers cb for token refreshes. The returned function
// unsubscribes and may be called more than once.
func (s *Service) OnTokensRefreshed(cb sessions.TokenListener) (unsubscribe func()) {
	id := s.store.SubscribeTokenRefresh(cb)
	return func() { s.store.UnsubscribeTokenRefresh(id) }
}

// Login signs in with p. Granted scopes come from the user the provider
// reports, else from opts.Scopes, else start empty.
func (s *Service) Login(ctx context.Context, p sessions.Provider, opts *provider.LoginOptions) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, sessions.ErrUnknownProvider)
	}
	o := provider.LoginOptions{}
	if opts != nil {
		o = *opts
	}
	if err := o.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	if s.identity == nil {
		return ErrProviderUnavailable
	}

	start := func(ctx context.Context) error {
		return s.identity.Login(ctx, p, o)
	}
	return s.run(ctx, broker.KindLogin, start, func(r broker.Result) error {
		if r.Err != nil {
			return r.Err
		}
		if r.Session == nil {
			return ErrNoUser
		}
		user := r.Session
		if user.Provider == "" {
			user.Provider = p
		}
		switch {
		case len(user.Scopes) > 0:
		case len(o.Scopes) > 0:
			user.Scopes = o.Scopes
		default:
			user.Scopes = []string{}
		}
		user.Scopes = utils.UnionOrdered(nil, user.Scopes...)
		if err := user.Validate(); err != nil {
			return err
		}

		s.store.Replace(user)
		s.persist()
		s.notifyState()
		return nil
	})
}

// RequestScopes asks the provider for additional scopes and unions them into
// the granted scopes.
func (s *Service) RequestScopes(ctx context.Context, scopes []string) error {
	if s.identity == nil {
		return ErrProviderUnavailable
	}
	requested := utils.UnionOrdered(nil, scopes...)

	start := func(ctx context.Context) error {
		return s.identity.RequestScopes(ctx, requested)
	}
	return s.run(ctx, broker.KindRequestScopes, start, func(r broker.Result) error {
		if r.Err != nil {
			return r.Err
		}
		user := r.Session
		if user != nil && user.Provider == "" {
			if current := s.store.Get(); current != nil {
				user.Provider = current.Provider
			}
		}
		if err := user.Validate(); err != nil {
			return err
		}

		s.store.ReplaceMerged(user, requested)
		s.persist()
		s.notifyState()
		return nil
	})
}

// RevokeScopes drops scopes locally. There is no provider round trip.
func (s *Service) RevokeScopes(scopes []string) {
	remaining := s.store.RemoveScopes(scopes)
	s.log.Debug().Strs("revoked", scopes).Strs("remaining", remaining).Msg("scopes revoked")
	if s.store.Get() != nil {
		s.persist()
	}
	s.notifyState()
}

// GetAccessToken returns the cached access token, refreshing first when it is
// inside the refresh window. It returns nil when signed out or no token is held.
func (s *Service) GetAccessToken(ctx context.Context) (*string, error) {
	current := s.store.Get()
	if current == nil || current.AccessToken == nil {
		return nil, nil
	}
	if !token.NeedsRefresh(current.ExpiresAt, s.nowTime(), s.refreshWindow) {
		return current.AccessToken, nil
	}

	s.log.Debug().Int64("expires_at", utils.Value(current.ExpiresAt)).Msg("access token about to expire, refreshing")
	tokens, err := s.RefreshToken(ctx)
	if err != nil {
		return nil, err
	}
	if tokens.AccessToken != nil {
		return tokens.AccessToken, nil
	}
	if refreshed := s.store.Get(); refreshed != nil {
		return refreshed.AccessToken, nil
	}
	return nil, nil
}

// RefreshToken asks the provider for fresh tokens. Only the fields the provider
// returns replace the stored ones. Token listeners are notified before state listeners.
func (s *Service) RefreshToken(ctx context.Context) (sessions.Tokens, error) {
	if s.identity == nil {
		return sessions.Tokens{}, ErrProviderUnavailable
	}

	var tokens sessions.Tokens
	err := s.run(ctx, broker.KindRefreshToken, s.identity.RefreshToken, func(r broker.Result) error {
		if r.Err != nil {
			return r.Err
		}
		tokens = r.Tokens
		if _, err := s.store.ApplyTokens(r.Tokens); err != nil {
			s.log.Debug().Err(err).Msg("refreshed tokens not stored")
		} else {
			s.persist()
		}
		s.recorder.RecordFanout(eventTokens, s.store.NotifyTokens(r.Tokens))
		s.notifyState()
		return nil
	})
	if err != nil {
		return sessions.Tokens{}, err
	}
	return tokens, nil
}

// SilentRestore asks the provider for a previous session without user
// interaction. It never fails: "no session" and provider errors both leave the
// service signed out. The restored Session is returned, or nil. Without a
// provider the current Session is returned unchanged.
//
// A restore superseded by a newer one, or abandoned through ctx before it
// resolves, returns nil and leaves the outcome to the provider's later result.
func (s *Service) SilentRestore(ctx context.Context) *sessions.Session {
	if s.identity == nil {
		s.log.Debug().Msg("silent restore skipped, no provider")
		return s.store.Get()
	}

	start := func(ctx context.Context) error {
		err := s.identity.SilentRestore(ctx)
		if err != nil {
			s.signedOutLocally()
		}
		return err
	}

	var restored *sessions.Session
	err := s.run(ctx, broker.KindSilentRestore, start, func(r broker.Result) error {
		if errors.Is(r.Err, broker.ErrSuperseded) {
			return r.Err
		}
		if r.Err != nil {
			s.log.Warn().Err(r.Err).Msg("silent restore failed, continuing signed out")
			s.signedOutLocally()
			return nil
		}
		if r.Session == nil {
			s.signedOutLocally()
			return nil
		}

		user := r.Session
		user.Scopes = utils.UnionOrdered(nil, user.Scopes...)
		if err := user.Validate(); err != nil {
			s.log.Warn().Err(err).Msg("restored session rejected")
			s.signedOutLocally()
			return nil
		}
		s.store.Replace(user)
		s.persist()
		s.notifyState()
		restored = user.Clone()
		return nil
	})
	if err != nil {
		s.log.Debug().Err(err).Msg("silent restore did not settle")
		return nil
	}
	return restored
}

// signedOutLocally clears the in-memory session without touching storage.
func (s *Service) signedOutLocally() {
	s.store.Replace(nil)
	s.notifyState()
}

// Logout clears the session and its persisted record, tells the provider, and
// notifies listeners. It never fails.
func (s *Service) Logout() {
	s.store.Replace(nil)
	s.persist()
	s.providerLogout()
	s.notifyState()
}

func (s *Service) providerLogout() {
	if s.identity == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("provider logout panicked")
		}
	}()
	s.identity.Logout()
}

// SetStorage swaps the persistence backend, reloads from it and notifies
// listeners. A nil backend falls back to a fresh in-memory store without reloading.
func (s *Service) SetStorage(st storage.Storage) {
	s.storageLock.Lock()
	if st == nil {
		s.storage = storage.NewMemory()
		s.storageLock.Unlock()
		return
	}
	s.storage = st
	s.storageLock.Unlock()

	s.load()
	s.notifyState()
}

// run begins a broker slot for kind, starts the provider call and waits for
// the provider's result. apply runs on a separate goroutine once the slot
// resolves, so it completes even when the caller stops waiting.
func (s *Service) run(ctx context.Context, kind broker.Kind, start func(context.Context) error, apply func(broker.Result) error) error {
	began := s.nowTime()
	pending := s.broker.Begin(kind)
	logger := s.log.With().Str("op", kind.String()).Str("op_id", pending.ID()).Logger()
	logger.Debug().Msg("operation started")

	if err := start(ctx); err != nil {
		s.broker.Abandon(pending, err)
		s.recorder.RecordOperation(kind.String(), metrics.OutcomeAbandoned, s.nowTime().Sub(began))
		logger.Err(err).Msg("provider call failed to start")
		return err
	}

	settled := make(chan error, 1)
	go func() {
		<-pending.Done()
		err := apply(pending.Result())
		s.recordOperation(kind, err, began)
		switch {
		case err == nil:
			logger.Debug().Msg("operation completed")
		case errors.Is(err, broker.ErrSuperseded):
			logger.Debug().Msg("operation superseded")
		default:
			logger.Err(err).Msg("operation failed")
		}
		settled <- err
	}()

	select {
	case err := <-settled:
		return err
	case <-ctx.Done():
		logger.Debug().Msg("caller stopped waiting")
		return ctx.Err()
	}
}

func (s *Service) recordOperation(kind broker.Kind, err error, began time.Time) {
	outcome := metrics.OutcomeSuccess
	switch {
	case err == nil:
	case errors.Is(err, broker.ErrSuperseded):
		outcome = metrics.OutcomeSuperseded
	default:
		outcome = metrics.OutcomeFailure
	}
	s.recorder.RecordOperation(kind.String(), outcome, s.nowTime().Sub(began))
}

func (s *Service) notifyState() {
	s.recorder.RecordSignedIn(s.store.Get() != nil)
	s.recorder.RecordFanout(eventState, s.store.NotifyState())
}

func (s *Service) currentStorage() storage.Storage {
	s.storageLock.RLock()
	defer s.storageLock.RUnlock()
	return s.storage
}

// persist writes the store's current Session, or removes the record when signed out.
func (s *Service) persist() {
	s.persistLock.Lock()
	defer s.persistLock.Unlock()

	st := s.currentStorage()
	current := s.store.Get()
	if current == nil {
		if err := st.Remove(s.storageKey); err != nil {
			s.recorder.RecordPersistFailure("remove")
			s.log.Err(err).Msg("failed to remove stored session")
		}
		return
	}

	data, err := sessions.EncodeRecord(current, storage.RetainsTokens(st))
	if err != nil {
		s.recorder.RecordPersistFailure("encode")
		s.log.Err(err).Msg("failed to encode session")
		return
	}
	if err := st.Save(s.storageKey, data); err != nil {
		s.recorder.RecordPersistFailure("save")
		s.log.Err(err).Msg("failed to save session")
	}
}

// load replaces the in-memory session with the stored record, if there is one.
// A record that cannot be decoded is removed.
func (s *Service) load() {
	st := s.currentStorage()
	data, ok, err := st.Load(s.storageKey)
	if errors.Is(err, storage.ErrDecrypt) {
		s.removeUnreadable(st, err)
		return
	}
	if err != nil {
		s.log.Err(err).Msg("failed to load stored session")
		return
	}
	if !ok {
		return
	}

	user, err := sessions.DecodeRecord(data)
	if err != nil {
		s.removeUnreadable(st, err)
		return
	}
	user.Scopes = utils.UnionOrdered(nil, user.Scopes...)
	s.store.Replace(user)
	s.log.Debug().Str("provider", user.Provider.String()).Msg("session loaded from storage")
}

func (s *Service) removeUnreadable(st storage.Storage, cause error) {
	s.log.Warn().Err(cause).Msg("removing unreadable stored session")
	if err := st.Remove(s.storageKey); err != nil {
		s.recorder.RecordPersistFailure("remove")
		s.log.Err(err).Msg("failed to remove stored session")
	}
}
