package sessions_test

import (
	"sync"
	"testing"

	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/stretchr/testify/require"
)

func TestStore_ReplaceThenGetRoundTrips(t *testing.T) {
	st := sessions.NewStore()
	s := fullSession()
	st.Replace(s)

	require.Equal(t, s, st.Get())
	require.Equal(t, []string{"email", "profile"}, st.GetScopes())

	st.Replace(nil)
	require.Nil(t, st.Get())
	require.Empty(t, st.GetScopes())
}

func TestStore_ReturnsCopies(t *testing.T) {
	st := sessions.NewStore()
	st.Replace(fullSession())

	got := st.Get()
	*got.AccessToken = "tampered"
	got.Scopes[0] = "tampered"
	scopes := st.GetScopes()
	scopes[0] = "tampered"

	require.Equal(t, "access-1", *st.Get().AccessToken)
	require.Equal(t, []string{"email", "profile"}, st.GetScopes())
}

func TestStore_MergeAndRemoveScopes(t *testing.T) {
	st := sessions.NewStore()
	st.Replace(&sessions.Session{Provider: sessions.ProviderGoogle, Scopes: []string{"email"}})

	require.Equal(t, []string{"email", "drive", "calendar"}, st.MergeScopes([]string{"drive", "email", "calendar", "drive"}))
	require.Equal(t, []string{"email", "drive", "calendar"}, st.Get().Scopes)

	require.Equal(t, []string{"email"}, st.RemoveScopes([]string{"drive", "calendar", "unknown"}))
	require.Equal(t, []string{"email"}, st.Get().Scopes)
}

func TestStore_RemoveScopesWhenSignedOut(t *testing.T) {
	st := sessions.NewStore()
	require.Empty(t, st.RemoveScopes([]string{"email"}))
	require.Nil(t, st.Get())
}

func TestStore_ReplaceMerged(t *testing.T) {
	st := sessions.NewStore()
	st.Replace(&sessions.Session{Provider: sessions.ProviderGoogle, Scopes: []string{"email", "profile"}})

	got := st.ReplaceMerged(&sessions.Session{Provider: sessions.ProviderGoogle, Email: utils.Ptr("a@b.com")}, []string{"drive", "email"})
	require.Equal(t, []string{"email", "profile", "drive"}, got.Scopes)
	require.Equal(t, "a@b.com", *got.Email)
	require.Equal(t, []string{"email", "profile", "drive"}, st.GetScopes())

	got = st.ReplaceMerged(nil, []string{"calendar"})
	require.Equal(t, []string{"email", "profile", "drive", "calendar"}, got.Scopes)
	require.Equal(t, "a@b.com", *got.Email)
}

func TestStore_ReplaceMergedIgnoresReportedScopes(t *testing.T) {
	st := sessions.NewStore()
	st.Replace(&sessions.Session{Provider: sessions.ProviderGoogle, Scopes: []string{"email", "profile"}})
	st.RemoveScopes([]string{"profile"})

	echoed := &sessions.Session{Provider: sessions.ProviderGoogle, Scopes: []string{"email", "profile", "calendar"}}
	got := st.ReplaceMerged(echoed, []string{"calendar"})
	require.Equal(t, []string{"email", "calendar"}, got.Scopes)
	require.Equal(t, []string{"email", "calendar"}, st.GetScopes())
}

func TestStore_ApplyTokens(t *testing.T) {
	st := sessions.NewStore()
	_, err := st.ApplyTokens(sessions.Tokens{AccessToken: utils.Ptr("x")})
	require.ErrorIs(t, err, sessions.ErrNoActiveSession)

	st.Replace(fullSession())
	got, err := st.ApplyTokens(sessions.Tokens{AccessToken: utils.Ptr("access-2")})
	require.NoError(t, err)
	require.Equal(t, "access-2", *got.AccessToken)
	require.Equal(t, "refresh-1", *st.Get().RefreshToken)
}

func TestStore_SubscriptionIDsIncrease(t *testing.T) {
	st := sessions.NewStore()
	a := st.SubscribeState(func(*sessions.Session) {})
	b := st.SubscribeState(func(*sessions.Session) {})
	st.UnsubscribeState(a)
	c := st.SubscribeState(func(*sessions.Session) {})
	require.Less(t, a, b)
	require.Less(t, b, c)
}

func TestStore_UnsubscribeIsIdempotent(t *testing.T) {
	st := sessions.NewStore()
	calls := 0
	id := st.SubscribeState(func(*sessions.Session) { calls++ })
	other := st.SubscribeState(func(*sessions.Session) {})

	st.UnsubscribeState(id)
	st.UnsubscribeState(id)
	st.UnsubscribeState(9999)

	require.Equal(t, 1, st.NotifyState())
	require.Zero(t, calls)

	st.UnsubscribeState(other)
	require.Zero(t, st.NotifyState())

	tid := st.SubscribeTokenRefresh(func(sessions.Tokens) {})
	st.UnsubscribeTokenRefresh(tid)
	st.UnsubscribeTokenRefresh(tid)
	require.Zero(t, st.NotifyTokens(sessions.Tokens{}))
}

func TestStore_ListenerMayReenter(t *testing.T) {
	st := sessions.NewStore()
	st.Replace(fullSession())

	var seen *sessions.Session
	st.SubscribeState(func(s *sessions.Session) {
		// Re-entering the store from a listener must not deadlock.
		seen = st.Get()
		st.MergeScopes([]string{"drive"})
		st.SubscribeState(func(*sessions.Session) {})
	})
	require.Equal(t, 1, st.NotifyState())
	require.Equal(t, "a@b.com", *seen.Email)
	require.Contains(t, st.GetScopes(), "drive")
}

func TestStore_ListenersGetIndependentCopies(t *testing.T) {
	st := sessions.NewStore()
	st.Replace(fullSession())

	st.SubscribeState(func(s *sessions.Session) { *s.Email = "mutated" })
	var second string
	st.SubscribeState(func(s *sessions.Session) { second = *s.Email })
	st.NotifyState()

	require.Equal(t, "a@b.com", second)
	require.Equal(t, "a@b.com", *st.Get().Email)
}

func TestStore_ConcurrentMutation(t *testing.T) {
	st := sessions.NewStore()
	st.Replace(&sessions.Session{Provider: sessions.ProviderGoogle})
	st.SubscribeState(func(*sessions.Session) { _ = st.GetScopes() })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			scope := []string{"s" + string(rune('a'+i%5))}
			st.MergeScopes(scope)
			st.NotifyState()
			if i%2 == 0 {
				st.RemoveScopes(scope)
			}
		}(i)
	}
	wg.Wait()

	scopes := st.GetScopes()
	seen := map[string]bool{}
	for _, s := range scopes {
		require.False(t, seen[s], "duplicate scope %s", s)
		seen[s] = true
	}
	require.Equal(t, scopes, st.Get().Scopes)
}
