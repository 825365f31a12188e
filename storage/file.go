package storage

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var _ Storage = (*File)(nil)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// File stores each key as a file in a directory, written atomically with 0600
// permissions. It is not trusted with bearer credentials.
type File struct {
	dir string
}

// NewFile creates dir if needed and returns a File backend rooted there.
func NewFile(dir string) (*File, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("[NewFile] directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "[NewFile] create directory")
	}
	return &File{dir: dir}, nil
}

func (f *File) path(key string) string {
	return filepath.Join(f.dir, unsafeKeyChars.ReplaceAllString(key, "_")+".json")
}

func (f *File) Load(key string) (string, bool, error) {
	b, err := os.ReadFile(f.path(key))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "[File.Load] read %s", key)
	}
	return string(b), true, nil
}

func (f *File) Save(key, value string) error {
	tmp, err := os.CreateTemp(f.dir, ".record-*")
	if err != nil {
		return errors.Wrap(err, "[File.Save] create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(value); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "[File.Save] write")
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "[File.Save] chmod")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "[File.Save] close")
	}
	if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
		return errors.Wrapf(err, "[File.Save] rename into %s", key)
	}
	return nil
}

func (f *File) Remove(key string) error {
	if err := os.Remove(f.path(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "[File.Remove] %s", key)
	}
	return nil
}
