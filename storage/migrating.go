package storage

var _ Storage = (*Migrating)(nil)

// Migrating reads through to a legacy location once. A value found only in
// Legacy is rewritten to Primary and removed from Legacy.
type Migrating struct {
	Primary Storage
	Legacy  Storage

	// OnCleanupError is told when a migrated value could not be removed from
	// Legacy. The value has already been written to Primary, so Load still
	// returns it.
	OnCleanupError func(key string, err error)
}

func NewMigrating(primary, legacy Storage) *Migrating {
	return &Migrating{Primary: primary, Legacy: legacy}
}

func (m *Migrating) Load(key string) (string, bool, error) {
	v, ok, err := m.Primary.Load(key)
	if err != nil || ok || m.Legacy == nil {
		return v, ok, err
	}

	v, ok, err = m.Legacy.Load(key)
	if err != nil || !ok {
		return "", false, err
	}
	if err := m.Primary.Save(key, v); err != nil {
		return "", false, err
	}
	if err := m.Legacy.Remove(key); err != nil && m.OnCleanupError != nil {
		m.OnCleanupError(key, err)
	}
	return v, true, nil
}

func (m *Migrating) Save(key, value string) error {
	return m.Primary.Save(key, value)
}

// Remove clears both locations so a stale legacy value is never resurrected.
func (m *Migrating) Remove(key string) error {
	if err := m.Primary.Remove(key); err != nil {
		return err
	}
	if m.Legacy != nil {
		return m.Legacy.Remove(key)
	}
	return nil
}

// RetainsTokens follows the primary backend.
func (m *Migrating) RetainsTokens() bool {
	return RetainsTokens(m.Primary)
}
