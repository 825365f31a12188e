package config

import (
	"fmt"
	"time"
)

// StorageBackend names a persistence backend.
type StorageBackend string

const (
	StorageMemory StorageBackend = "memory"
	StorageFile   StorageBackend = "file"
	StorageSQLite StorageBackend = "sqlite"
)

type Session struct {
	RefreshWindow time.Duration  `env:"AUTH_REFRESH_WINDOW" envDefault:"5m"`
	StorageKey    string         `env:"AUTH_STORAGE_KEY" envDefault:"auth_session_user"`
	Backend       StorageBackend `env:"AUTH_STORAGE_BACKEND" envDefault:"file"`
	Passphrase    string         `env:"AUTH_STORAGE_PASSPHRASE"`
	LegacyFile    string         `env:"AUTH_LEGACY_FILE"`
}

var _ SessionConfig = Session{}

func (s Session) validate() error {
	switch s.Backend {
	case StorageMemory, StorageFile, StorageSQLite:
	default:
		return fmt.Errorf("unknown storage backend %q", s.Backend)
	}
	if s.RefreshWindow < 0 {
		return fmt.Errorf("refresh window must not be negative, got %s", s.RefreshWindow)
	}
	if s.StorageKey == "" {
		return fmt.Errorf("storage key must not be empty")
	}
	return nil
}

func (s Session) GetRefreshWindow() time.Duration {
	return s.RefreshWindow
}

func (s Session) GetStorageKey() string {
	return s.StorageKey
}

func (s Session) GetStorageBackend() StorageBackend {
	return s.Backend
}

// GetStoragePassphrase returns the passphrase records are encrypted with, empty for none.
func (s Session) GetStoragePassphrase() string {
	return s.Passphrase
}

// GetLegacyFile returns the directory of a plaintext file store from an older
// install to migrate from, empty for none.
func (s Session) GetLegacyFile() string {
	return s.LegacyFile
}
