package storage

// DefaultKey is the namespace the session record is stored under.
const DefaultKey = "auth_session_user"

// Storage is the persistence port for the serialized session record.
type Storage interface {
	// Load returns the value for key; ok is false when nothing is stored.
	Load(key string) (value string, ok bool, err error)

	// Save creates or overwrites the value for key.
	Save(key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error
}

// TokenRetainer is implemented by backends that declare whether they are
// trusted to hold bearer credentials (access and refresh tokens).
type TokenRetainer interface {
	RetainsTokens() bool
}

// RetainsTokens reports whether s may be given bearer credentials. Backends
// that do not declare a trust level are treated as untrusted.
func RetainsTokens(s Storage) bool {
	if tr, ok := s.(TokenRetainer); ok {
		return tr.RetainsTokens()
	}
	return false
}
