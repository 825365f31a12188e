// Package broker bridges callback-style provider completions to waiting callers.
//
// The Broker keeps at most one outstanding Pending per operation Kind. The
// provider adapter reports its result with Complete, possibly from a goroutine
// it owns, and exactly one waiter observes it.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/rs/zerolog"
)

// Kind is the single-flight unit of the broker.
type Kind int

const (
	KindLogin Kind = iota + 1
	KindRequestScopes
	KindRefreshToken
	KindSilentRestore
)

func (k Kind) String() string {
	switch k {
	case KindLogin:
		return "login"
	case KindRequestScopes:
		return "requestScopes"
	case KindRefreshToken:
		return "refreshToken"
	case KindSilentRestore:
		return "silentRestore"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var (
	// ErrSuperseded resolves a Pending replaced by a newer Begin of the same kind.
	ErrSuperseded = errors.New("operation superseded by a newer call")

	// ErrNoSession is reported by a provider when there is nothing to restore.
	// For KindSilentRestore it resolves as an absent Session rather than an error.
	ErrNoSession = errors.New("no session")
)

// Result is what a provider reports for one operation. Session is set for login,
// scope and restore operations, Tokens for refreshes.
type Result struct {
	Session *sessions.Session
	Tokens  sessions.Tokens
	Err     error
}

// SessionResult reports a successful session-producing operation.
func SessionResult(s *sessions.Session) Result { return Result{Session: s} }

// TokensResult reports a successful refresh.
func TokensResult(t sessions.Tokens) Result { return Result{Tokens: t} }

// ErrorResult reports a failed operation.
func ErrorResult(err error) Result { return Result{Err: err} }

// Pending is a one-shot completion handle.
type Pending struct {
	id     string
	kind   Kind
	once   sync.Once
	done   chan struct{}
	result Result
}

func newPending(kind Kind) *Pending {
	return &Pending{
		id:   uuid.New().String(),
		kind: kind,
		done: make(chan struct{}),
	}
}

// ID is a unique correlation id for logs.
func (p *Pending) ID() string { return p.id }

// Kind is the operation the handle belongs to.
func (p *Pending) Kind() Kind { return p.kind }

// Done is closed once the handle is resolved.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Result returns the resolved result. Only meaningful after Done is closed.
func (p *Pending) Result() Result {
	select {
	case <-p.done:
		return p.result
	default:
		return Result{}
	}
}

// Wait blocks until the handle resolves or ctx ends. Abandoning the wait does
// not cancel the operation; the handle still resolves later.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// resolve stores r and releases waiters. Only the first call has any effect.
func (p *Pending) resolve(r Result) bool {
	resolved := false
	p.once.Do(func() {
		p.result = r
		close(p.done)
		resolved = true
	})
	return resolved
}

// Broker is the single-flight registry of outstanding operations.
type Broker struct {
	mu    sync.Mutex
	slots map[Kind]*Pending
	log   zerolog.Logger
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the logger used for supersede and late-completion events.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Broker) {
		b.log = l
	}
}

// New creates an empty Broker.
func New(options ...Option) *Broker {
	b := &Broker{
		slots: make(map[Kind]*Pending),
		log:   zerolog.Nop(),
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// Begin installs a new Pending for kind. An outstanding Pending of the same kind
// is removed and resolved with ErrSuperseded.
func (b *Broker) Begin(kind Kind) *Pending {
	p := newPending(kind)

	b.mu.Lock()
	stale := b.slots[kind]
	b.slots[kind] = p
	b.mu.Unlock()

	if stale != nil && stale.resolve(ErrorResult(ErrSuperseded)) {
		b.log.Debug().Str("op", kind.String()).Str("op_id", stale.id).Str("superseded_by", p.id).Msg("operation superseded")
	}
	return p
}

// Complete removes the outstanding Pending for kind and resolves it with r.
// It reports false when nothing was waiting, which is not an error.
func (b *Broker) Complete(kind Kind, r Result) bool {
	b.mu.Lock()
	p := b.slots[kind]
	delete(b.slots, kind)
	b.mu.Unlock()

	if p == nil {
		b.log.Debug().Str("op", kind.String()).Msg("completion with nothing pending dropped")
		return false
	}

	if kind == KindSilentRestore && errors.Is(r.Err, ErrNoSession) {
		r = Result{}
	}
	r.Session = r.Session.Clone()
	r.Tokens = r.Tokens.Clone()
	return p.resolve(r)
}

// Abandon resolves p with err and clears its slot, if the slot still holds p.
// It is used when the provider call fails before any callback can arrive.
func (b *Broker) Abandon(p *Pending, err error) bool {
	b.mu.Lock()
	if b.slots[p.kind] == p {
		delete(b.slots, p.kind)
	}
	b.mu.Unlock()
	return p.resolve(ErrorResult(err))
}
