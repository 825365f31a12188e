package auth

import (
	"time"

	"github.com/jrsteele09/go-auth-session/metrics"
	"github.com/jrsteele09/go-auth-session/storage"
	"github.com/rs/zerolog"
)

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowTime = nowFunc
	}
}

// WithRefreshWindow sets how long before expiry GetAccessToken refreshes.
func WithRefreshWindow(window time.Duration) ServiceOption {
	return func(s *Service) {
		s.refreshWindow = window
	}
}

// WithStorage sets the persistence backend. Defaults to storage.NewMemory().
func WithStorage(st storage.Storage) ServiceOption {
	return func(s *Service) {
		s.storage = st
	}
}

// WithStorageKey overrides storage.DefaultKey.
func WithStorageKey(key string) ServiceOption {
	return func(s *Service) {
		s.storageKey = key
	}
}

// WithLogger sets the logger and enables logging.
func WithLogger(l zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.baseLog = l
		s.logging.Store(true)
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) ServiceOption {
	return func(s *Service) {
		s.recorder = r
	}
}
