package storage

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	_ Storage       = (*Encrypted)(nil)
	_ TokenRetainer = (*Encrypted)(nil)
)

const encryptedFormat = "xc20p1"

// Upper bounds accepted for parameters read back from a stored value.
const (
	maxKDFIterations = 64
	maxKDFMemoryKiB  = 1024 * 1024
)

// ErrDecrypt is returned when a stored value cannot be opened with the passphrase.
var ErrDecrypt = errors.New("cannot decrypt stored record")

// KDFParams are the Argon2id parameters used to derive the sealing key.
type KDFParams struct {
	Iterations  uint32
	MemoryKiB   uint32
	Parallelism uint8
	SaltLength  int
}

// DefaultKDFParams follow the RFC 9106 second recommended option.
var DefaultKDFParams = KDFParams{
	Iterations:  3,
	MemoryKiB:   64 * 1024,
	Parallelism: 4,
	SaltLength:  16,
}

// Encrypted seals every value written to an inner Storage with
// XChaCha20-Poly1305 under a passphrase-derived key. The key is bound to the
// record key as associated data, so values cannot be swapped between keys.
type Encrypted struct {
	inner      Storage
	passphrase []byte
	params     KDFParams
}

// validate checks the parameters a stored value claims before they reach argon2.
func (p KDFParams) validate() error {
	switch {
	case p.Iterations < 1 || p.Iterations > maxKDFIterations:
		return fmt.Errorf("iterations %d out of range", p.Iterations)
	case p.Parallelism < 1:
		return fmt.Errorf("parallelism %d out of range", p.Parallelism)
	case p.MemoryKiB < 1 || p.MemoryKiB > maxKDFMemoryKiB:
		return fmt.Errorf("memory %d KiB out of range", p.MemoryKiB)
	}
	return nil
}

// EncryptedOption configures an Encrypted backend.
type EncryptedOption func(*Encrypted)

// WithKDFParams overrides DefaultKDFParams.
func WithKDFParams(p KDFParams) EncryptedOption {
	return func(e *Encrypted) {
		e.params = p
	}
}

// NewEncrypted wraps inner.
func NewEncrypted(inner Storage, passphrase string, options ...EncryptedOption) (*Encrypted, error) {
	if inner == nil {
		return nil, errors.New("[NewEncrypted] inner storage is required")
	}
	if passphrase == "" {
		return nil, errors.New("[NewEncrypted] passphrase is required")
	}
	e := &Encrypted{inner: inner, passphrase: []byte(passphrase), params: DefaultKDFParams}
	for _, opt := range options {
		opt(e)
	}
	if err := e.params.validate(); err != nil {
		return nil, errors.Wrap(err, "[NewEncrypted] kdf parameters")
	}
	if e.params.SaltLength < 8 {
		return nil, errors.New("[NewEncrypted] salt length must be at least 8")
	}
	return e, nil
}

// RetainsTokens is true: values are sealed at rest.
func (e *Encrypted) RetainsTokens() bool { return true }

func (e *Encrypted) key(salt []byte) []byte {
	return argon2.IDKey(e.passphrase, salt, e.params.Iterations, e.params.MemoryKiB, e.params.Parallelism, chacha20poly1305.KeySize)
}

func (e *Encrypted) Save(key, value string) error {
	salt := make([]byte, e.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return errors.Wrap(err, "[Encrypted.Save] salt")
	}
	aead, err := chacha20poly1305.NewX(e.key(salt))
	if err != nil {
		return errors.Wrap(err, "[Encrypted.Save] cipher")
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return errors.Wrap(err, "[Encrypted.Save] nonce")
	}
	sealed := aead.Seal(nonce, nonce, []byte(value), []byte(key))

	b64 := base64.RawStdEncoding
	enc := fmt.Sprintf("%s$t=%d,m=%d,p=%d$%s$%s",
		encryptedFormat,
		e.params.Iterations,
		e.params.MemoryKiB,
		e.params.Parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(sealed),
	)
	return e.inner.Save(key, enc)
}

func (e *Encrypted) Load(key string) (string, bool, error) {
	enc, ok, err := e.inner.Load(key)
	if err != nil || !ok {
		return "", ok, err
	}

	parts := strings.Split(enc, "$")
	if len(parts) != 4 || parts[0] != encryptedFormat {
		return "", false, errors.Wrap(ErrDecrypt, "[Encrypted.Load] unrecognised format")
	}
	var params KDFParams
	if _, err := fmt.Sscanf(parts[1], "t=%d,m=%d,p=%d", &params.Iterations, &params.MemoryKiB, &params.Parallelism); err != nil {
		return "", false, errors.Wrap(ErrDecrypt, "[Encrypted.Load] parameters")
	}
	if err := params.validate(); err != nil {
		return "", false, errors.Wrap(ErrDecrypt, "[Encrypted.Load] "+err.Error())
	}
	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[2])
	if err != nil || len(salt) == 0 {
		return "", false, errors.Wrap(ErrDecrypt, "[Encrypted.Load] salt")
	}
	sealed, err := b64.DecodeString(parts[3])
	if err != nil {
		return "", false, errors.Wrap(ErrDecrypt, "[Encrypted.Load] payload")
	}

	derived := argon2.IDKey(e.passphrase, salt, params.Iterations, params.MemoryKiB, params.Parallelism, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(derived)
	if err != nil {
		return "", false, errors.Wrap(err, "[Encrypted.Load] cipher")
	}
	if len(sealed) < aead.NonceSize() {
		return "", false, errors.Wrap(ErrDecrypt, "[Encrypted.Load] short payload")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return "", false, errors.Wrap(ErrDecrypt, "[Encrypted.Load] open")
	}
	return string(plain), true, nil
}

func (e *Encrypted) Remove(key string) error {
	return e.inner.Remove(key)
}
