package token

import "time"

// DefaultRefreshWindow is how long before expiry a token is proactively refreshed.
const DefaultRefreshWindow = 5 * time.Minute

// NeedsRefresh reports whether a token expiring at expiresAt (milliseconds since
// epoch) falls inside window of now. An unknown expiry never needs a refresh.
func NeedsRefresh(expiresAt *int64, now time.Time, window time.Duration) bool {
	if expiresAt == nil {
		return false
	}
	return now.UnixMilli()+window.Milliseconds() >= *expiresAt
}

