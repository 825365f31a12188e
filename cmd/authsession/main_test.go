package main

import (
	"testing"

	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/storage"
	"github.com/stretchr/testify/require"
)

func TestOpenStorage_RetainsTokens(t *testing.T) {
	tests := []struct {
		name       string
		backend    string
		passphrase string
		retains    bool
	}{
		{"file", "file", "", false},
		{"encrypted file", "file", "hunter2", true},
		{"sqlite", "sqlite", "", false},
		{"encrypted sqlite", "sqlite", "hunter2", true},
		{"memory", "memory", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("FOLDER", t.TempDir())
			t.Setenv("AUTH_STORAGE_BACKEND", tt.backend)
			t.Setenv("AUTH_STORAGE_PASSPHRASE", tt.passphrase)

			c, err := config.New()
			require.NoError(t, err)
			st, closeStorage, err := openStorage(c)
			require.NoError(t, err)
			defer closeStorage()

			require.Equal(t, tt.retains, storage.RetainsTokens(st))
		})
	}
}

func TestOpenStorage_LegacyFollowsPrimary(t *testing.T) {
	t.Setenv("FOLDER", t.TempDir())
	t.Setenv("AUTH_LEGACY_FILE", t.TempDir())
	t.Setenv("AUTH_STORAGE_PASSPHRASE", "hunter2")

	c, err := config.New()
	require.NoError(t, err)
	st, closeStorage, err := openStorage(c)
	require.NoError(t, err)
	defer closeStorage()

	_, ok := st.(*storage.Migrating)
	require.True(t, ok)
	require.True(t, storage.RetainsTokens(st))
}
