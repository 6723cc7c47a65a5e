package cache

import (
	"fmt"
	"sort"
	"sync"
)

// MemStorage keeps all stores in process memory.
// It is mostly useful for tests and for running without persistence.
type MemStorage struct {
	mutex  *sync.RWMutex
	stores map[string]map[string]Entry
}

func NewMemStorage() MemStorage {
	return MemStorage{
		mutex:  &sync.RWMutex{},
		stores: make(map[string]map[string]Entry),
	}
}

func (m MemStorage) Open(name string) (Store, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.stores[name]; !ok {
		m.stores[name] = make(map[string]Entry)
	}
	return memStore{name: name, storage: m}, nil
}

func (m MemStorage) Names() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m MemStorage) Delete(name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.stores[name]
	delete(m.stores, name)
	return ok, nil
}

func (m MemStorage) Close() error {
	return nil
}

type memStore struct {
	name    string
	storage MemStorage
}

func (s memStore) Name() string {
	return s.name
}

func (s memStore) Match(key string) (Entry, bool, error) {
	s.storage.mutex.RLock()
	defer s.storage.mutex.RUnlock()
	entry, ok := s.storage.stores[s.name][key]
	return entry, ok, nil
}

func (s memStore) Put(e Entry) error {
	s.storage.mutex.Lock()
	defer s.storage.mutex.Unlock()
	entries, ok := s.storage.stores[s.name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStoreNotFound, s.name)
	}
	entries[e.Key] = e
	return nil
}

func (s memStore) Delete(key string) (bool, error) {
	s.storage.mutex.Lock()
	defer s.storage.mutex.Unlock()
	_, ok := s.storage.stores[s.name][key]
	delete(s.storage.stores[s.name], key)
	return ok, nil
}

func (s memStore) Keys(cb func(string)) error {
	s.storage.mutex.RLock()
	keys := make([]string, 0, len(s.storage.stores[s.name]))
	for key := range s.storage.stores[s.name] {
		keys = append(keys, key)
	}
	s.storage.mutex.RUnlock()
	for _, key := range keys {
		cb(key)
	}
	return nil
}
