// Package settings persists printer addresses keyed by printer identity.
//
// All addresses live in one JSON document under the key "flashforge/instances":
//
//	{"<printer identity>": {"address": "192.168.1.50"}, ...}
//
// The document is kept in a Store, a small string-keyed preference store with
// an in-memory and a bbolt implementation.
package settings

import "errors"

// ErrNotFound is returned by Store.Get for a missing key.
var ErrNotFound = errors.New("settings: key not found")

// Store is a string-keyed preference store. Implementations are safe for concurrent use.
type Store interface {
	// Get returns the value of key, or ErrNotFound.
	Get(key string) ([]byte, error)
	// Set stores val under key.
	Set(key string, val []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
}
