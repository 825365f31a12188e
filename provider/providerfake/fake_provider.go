package providerfake

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-auth-session/broker"
	"github.com/jrsteele09/go-auth-session/provider"
	"github.com/jrsteele09/go-auth-session/sessions"
)

var _ provider.Identity = (*FakeProvider)(nil)

// LoginCall records the arguments of one Login.
type LoginCall struct {
	Provider sessions.Provider
	Options  provider.LoginOptions
}

// FakeProvider is a scriptable provider.Identity. Calls with a scripted response
// report it from a separate goroutine, the way a platform callback would; calls
// without one stay pending until Complete is called.
type FakeProvider struct {
	lock        sync.Mutex
	reporter    provider.Reporter
	capable     bool
	responses   map[broker.Kind]broker.Result
	startErrors map[broker.Kind]error
	calls       map[broker.Kind]int
	logins      []LoginCall
	scopeCalls  [][]string
	logouts     int
	started     chan broker.Kind
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		capable:     true,
		responses:   make(map[broker.Kind]broker.Result),
		startErrors: make(map[broker.Kind]error),
		calls:       make(map[broker.Kind]int),
		started:     make(chan broker.Kind, 64),
	}
}

func (f *FakeProvider) Bind(r provider.Reporter) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.reporter = r
}

// Respond scripts the result reported for every later call of kind.
func (f *FakeProvider) Respond(kind broker.Kind, result broker.Result) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.responses[kind] = result
}

// FailToStart makes calls of kind return err synchronously.
func (f *FakeProvider) FailToStart(kind broker.Kind, err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.startErrors[kind] = err
}

// SetCapable sets the HasCapability answer.
func (f *FakeProvider) SetCapable(capable bool) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.capable = capable
}

// Complete reports result for kind, as a native callback would.
func (f *FakeProvider) Complete(kind broker.Kind, result broker.Result) bool {
	f.lock.Lock()
	r := f.reporter
	f.lock.Unlock()
	if r == nil {
		return false
	}
	return r.Complete(kind, result)
}

// Started yields the kind of every call that began a flow. Events beyond the
// buffer are dropped.
func (f *FakeProvider) Started() <-chan broker.Kind {
	return f.started
}

func (f *FakeProvider) Calls(kind broker.Kind) int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.calls[kind]
}

func (f *FakeProvider) Logins() []LoginCall {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]LoginCall{}, f.logins...)
}

func (f *FakeProvider) ScopeRequests() [][]string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([][]string{}, f.scopeCalls...)
}

func (f *FakeProvider) Logouts() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.logouts
}

func (f *FakeProvider) Login(_ context.Context, p sessions.Provider, opts provider.LoginOptions) error {
	f.lock.Lock()
	f.logins = append(f.logins, LoginCall{Provider: p, Options: opts})
	f.lock.Unlock()
	return f.start(broker.KindLogin)
}

func (f *FakeProvider) RequestScopes(_ context.Context, scopes []string) error {
	f.lock.Lock()
	f.scopeCalls = append(f.scopeCalls, append([]string{}, scopes...))
	f.lock.Unlock()
	return f.start(broker.KindRequestScopes)
}

func (f *FakeProvider) RefreshToken(context.Context) error {
	return f.start(broker.KindRefreshToken)
}

func (f *FakeProvider) SilentRestore(context.Context) error {
	return f.start(broker.KindSilentRestore)
}

func (f *FakeProvider) HasCapability() bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.capable
}

func (f *FakeProvider) Logout() {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.logouts++
}

func (f *FakeProvider) start(kind broker.Kind) error {
	f.lock.Lock()
	f.calls[kind]++
	if err := f.startErrors[kind]; err != nil {
		f.lock.Unlock()
		return err
	}
	result, scripted := f.responses[kind]
	r := f.reporter
	f.lock.Unlock()

	select {
	case f.started <- kind:
	default:
	}
	if scripted && r != nil {
		go r.Complete(kind, result)
	}
	return nil
}
