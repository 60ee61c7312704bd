package settings

import "github.com/puzpuzpuz/xsync/v3"

// MemoryStore is a Store kept in memory, for tests and ephemeral hosts.
type MemoryStore struct {
	values *xsync.MapOf[string, []byte]
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: xsync.NewMapOf[string, []byte]()}
}

// Get returns a copy of the value of key.
func (s *MemoryStore) Get(key string) ([]byte, error) {
	val, ok := s.values.Load(key)
	if !ok {
		return nil, ErrNotFound
	}

	return append([]byte(nil), val...), nil
}

// Set stores a copy of val under key.
func (s *MemoryStore) Set(key string, val []byte) error {
	s.values.Store(key, append([]byte(nil), val...))
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(key string) error {
	s.values.Delete(key)
	return nil
}

// Len returns the number of stored keys.
func (s *MemoryStore) Len() int {
	return s.values.Size()
}
