package cache

import (
	"errors"
	"time"
)

// ErrStorageClosed is returned by providers once Close has been called.
var ErrStorageClosed = errors.New("storage closed")

// ErrStoreNotFound is returned when writing to a store that has been deleted.
var ErrStoreNotFound = errors.New("store not found")

// Storage is the versioned cache store. It holds any number of named stores,
// each of them a persistent mapping from request identity to a serialized response.
// Only the store named after the running cache version is "current";
// others exist transiently until they are invalidated.
//
// Storage performs no policy of its own.
// Implementations must be thread-safe!
type Storage interface {
	// Open returns the store with the given name, creating it if absent.
	// Opening an already open store is not an error.
	Open(name string) (Store, error)
	// Names returns the names of all existing stores.
	Names() ([]string, error)
	// Delete removes the named store along with its entries.
	// It returns true if the store existed and was removed.
	Delete(name string) (bool, error)
	// Close releases the underlying resources.
	Close() error
}

// Store is a single named key -> response mapping.
// Writes to the same key race with last-write-wins semantics.
type Store interface {
	// Name returns the name the store was opened with.
	Name() string
	// Match returns the entry stored under the given key.
	// The boolean is false if there is no such entry.
	Match(key string) (Entry, bool, error)
	// Put stores the entry under its key, replacing any previous entry.
	Put(Entry) error
	// Delete removes the entry for the given key, returning true if it existed.
	Delete(key string) (bool, error)
	// Keys calls the given callback for each key in the store.
	Keys(cb func(string)) error
}

// Entry is a captured response.
// Bytes holds the HTTP/1.1 representation of the response (status line, headers and body).
type Entry struct {
	Key      string
	StoredAt time.Time
	Bytes    []byte
}
