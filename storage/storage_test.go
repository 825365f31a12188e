package storage_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jrsteele09/go-auth-session/storage"
	"github.com/stretchr/testify/require"
)

var testKDF = storage.KDFParams{Iterations: 1, MemoryKiB: 64, Parallelism: 1, SaltLength: 16}

// exerciseStorage checks the port contract shared by every backend.
func exerciseStorage(t *testing.T, s storage.Storage) {
	t.Helper()

	_, ok, err := s.Load(storage.DefaultKey)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Save(storage.DefaultKey, `{"provider":"google"}`))
	v, ok, err := s.Load(storage.DefaultKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"provider":"google"}`, v)

	require.NoError(t, s.Save(storage.DefaultKey, `{"provider":"apple"}`))
	v, _, err = s.Load(storage.DefaultKey)
	require.NoError(t, err)
	require.Equal(t, `{"provider":"apple"}`, v)

	require.NoError(t, s.Remove(storage.DefaultKey))
	_, ok, err = s.Load(storage.DefaultKey)
	require.NoError(t, err)
	require.False(t, ok)

	// Removing twice is fine.
	require.NoError(t, s.Remove(storage.DefaultKey))
}

func TestMemory(t *testing.T) {
	m := storage.NewMemory()
	exerciseStorage(t, m)
	require.True(t, storage.RetainsTokens(m))
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	f, err := storage.NewFile(filepath.Join(dir, "nested"))
	require.NoError(t, err)
	exerciseStorage(t, f)
	require.False(t, storage.RetainsTokens(f))

	require.NoError(t, f.Save("odd/key name", "v"))
	info, err := os.Stat(filepath.Join(dir, "nested", "odd_key_name.json"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	_, err = storage.NewFile(" ")
	require.Error(t, err)
}

func TestSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.db")
	s, err := storage.OpenSQLite(path)
	require.NoError(t, err)
	exerciseStorage(t, s)
	require.False(t, storage.RetainsTokens(s))

	require.NoError(t, s.Save(storage.DefaultKey, "persisted"))
	require.NoError(t, s.Close())

	reopened, err := storage.OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()
	v, ok, err := reopened.Load(storage.DefaultKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "persisted", v)

	_, err = storage.OpenSQLite("")
	require.Error(t, err)
}

func TestEncrypted(t *testing.T) {
	inner := storage.NewMemory()
	e, err := storage.NewEncrypted(inner, "correct horse", storage.WithKDFParams(testKDF))
	require.NoError(t, err)
	exerciseStorage(t, e)
	require.True(t, storage.RetainsTokens(e))

	require.NoError(t, e.Save(storage.DefaultKey, "secret-token"))
	raw, ok, err := inner.Load(storage.DefaultKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotContains(t, raw, "secret-token")
	require.True(t, strings.HasPrefix(raw, "xc20p1$"))

	t.Run("wrong passphrase", func(t *testing.T) {
		other, err := storage.NewEncrypted(inner, "wrong", storage.WithKDFParams(testKDF))
		require.NoError(t, err)
		_, _, err = other.Load(storage.DefaultKey)
		require.ErrorIs(t, err, storage.ErrDecrypt)
	})

	t.Run("value bound to key", func(t *testing.T) {
		require.NoError(t, inner.Save("other", raw))
		_, _, err := e.Load("other")
		require.ErrorIs(t, err, storage.ErrDecrypt)
	})

	t.Run("garbage", func(t *testing.T) {
		require.NoError(t, inner.Save("garbage", "plain text"))
		_, _, err := e.Load("garbage")
		require.ErrorIs(t, err, storage.ErrDecrypt)
	})

	t.Run("corrupted parameters", func(t *testing.T) {
		payload := "c2VhbGVkc2VhbGVkc2VhbGVkc2VhbGVkc2VhbGVk"
		tests := []struct {
			name  string
			value string
		}{
			{"zero iterations", "xc20p1$t=0,m=64,p=1$c2FsdHNhbHQ$" + payload},
			{"zero parallelism", "xc20p1$t=1,m=64,p=0$c2FsdHNhbHQ$" + payload},
			{"parallelism overflow", "xc20p1$t=1,m=64,p=300$c2FsdHNhbHQ$" + payload},
			{"zero memory", "xc20p1$t=1,m=0,p=1$c2FsdHNhbHQ$" + payload},
			{"huge memory", "xc20p1$t=1,m=4294967295,p=1$c2FsdHNhbHQ$" + payload},
			{"huge iterations", "xc20p1$t=4294967295,m=64,p=1$c2FsdHNhbHQ$" + payload},
			{"empty salt", "xc20p1$t=1,m=64,p=1$$" + payload},
			{"short payload", "xc20p1$t=1,m=64,p=1$c2FsdHNhbHQ$c2hvcnQ"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				require.NoError(t, inner.Save("corrupt", tt.value))
				require.NotPanics(t, func() {
					_, ok, err := e.Load("corrupt")
					require.ErrorIs(t, err, storage.ErrDecrypt)
					require.False(t, ok)
				})
			})
		}
	})

	t.Run("constructor validation", func(t *testing.T) {
		_, err := storage.NewEncrypted(nil, "x")
		require.Error(t, err)
		_, err = storage.NewEncrypted(inner, "")
		require.Error(t, err)
		_, err = storage.NewEncrypted(inner, "x", storage.WithKDFParams(storage.KDFParams{Iterations: 1, MemoryKiB: 64, Parallelism: 0, SaltLength: 16}))
		require.Error(t, err)
		_, err = storage.NewEncrypted(inner, "x", storage.WithKDFParams(storage.KDFParams{Iterations: 1, MemoryKiB: 64, Parallelism: 1, SaltLength: 0}))
		require.Error(t, err)
	})
}

func TestMigrating(t *testing.T) {
	primary := storage.NewMemory()
	legacy := storage.NewMemory()
	require.NoError(t, legacy.Save(storage.DefaultKey, "legacy-record"))

	m := storage.NewMigrating(primary, legacy)
	v, ok, err := m.Load(storage.DefaultKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "legacy-record", v)

	// The value moved.
	v, ok, _ = primary.Load(storage.DefaultKey)
	require.True(t, ok)
	require.Equal(t, "legacy-record", v)
	_, ok, _ = legacy.Load(storage.DefaultKey)
	require.False(t, ok)

	require.NoError(t, legacy.Save(storage.DefaultKey, "stale"))
	require.NoError(t, m.Remove(storage.DefaultKey))
	_, ok, _ = m.Load(storage.DefaultKey)
	require.False(t, ok)

	require.True(t, m.RetainsTokens())
	exerciseStorage(t, storage.NewMigrating(storage.NewMemory(), nil))
}

// stuckStorage refuses to remove anything.
type stuckStorage struct {
	*storage.Memory
}

func (s stuckStorage) Remove(string) error {
	return errors.New("read-only")
}

func TestMigrating_LegacyRemoveFailureKeepsValue(t *testing.T) {
	primary := storage.NewMemory()
	legacy := stuckStorage{storage.NewMemory()}
	require.NoError(t, legacy.Save(storage.DefaultKey, "legacy-record"))

	var cleanupKey string
	var cleanupErr error
	m := storage.NewMigrating(primary, legacy)
	m.OnCleanupError = func(key string, err error) {
		cleanupKey, cleanupErr = key, err
	}

	v, ok, err := m.Load(storage.DefaultKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "legacy-record", v)
	require.Equal(t, storage.DefaultKey, cleanupKey)
	require.EqualError(t, cleanupErr, "read-only")

	v, ok, _ = primary.Load(storage.DefaultKey)
	require.True(t, ok)
	require.Equal(t, "legacy-record", v)

	// Without a hook the failure is still not fatal to the load.
	require.NoError(t, primary.Remove(storage.DefaultKey))
	v, ok, err = storage.NewMigrating(primary, legacy).Load(storage.DefaultKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "legacy-record", v)
}
