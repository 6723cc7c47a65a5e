package cache

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key namespaces:
//
//	s:<store>            store registry, value is the gob encoded creation time
//	e:<store>\x00<key>   entries, value is the gob encoded Entry
const (
	storePrefix = "s:"
	entryPrefix = "e:"
	entrySep    = "\x00"
)

// LevelDBStorage keeps all stores in a single LevelDB database on disk.
type LevelDBStorage struct {
	db *leveldb.DB
	// serializes store creation/deletion with entry writes,
	// so that no entry outlives its store
	mu sync.Mutex
}

// NewLevelDBStorage opens (or creates) the database in the given directory.
func NewLevelDBStorage(path string) (*LevelDBStorage, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDBStorage{db: db}, nil
}

func (l *LevelDBStorage) Open(name string) (Store, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := []byte(storePrefix + name)
	ok, err := l.db.Has(key, nil)
	if err != nil {
		return nil, wrapClosed(err)
	}
	if !ok {
		b, err := encodeGob(time.Now().UnixNano())
		if err != nil {
			return nil, err
		}
		if err := l.db.Put(key, b, nil); err != nil {
			return nil, wrapClosed(err)
		}
	}
	return levelStore{name: name, storage: l}, nil
}

func (l *LevelDBStorage) Names() ([]string, error) {
	it := l.db.NewIterator(util.BytesPrefix([]byte(storePrefix)), nil)
	defer it.Release()

	type named struct {
		name    string
		created int64
	}
	stores := make([]named, 0)
	for it.Next() {
		var created int64
		if err := decodeGob(it.Value(), &created); err != nil {
			continue
		}
		name := string(bytes.TrimPrefix(it.Key(), []byte(storePrefix)))
		stores = append(stores, named{name, created})
	}
	if err := it.Error(); err != nil {
		return nil, wrapClosed(err)
	}
	sort.Slice(stores, func(i, j int) bool {
		return stores[i].created < stores[j].created
	})
	names := make([]string, 0, len(stores))
	for _, s := range stores {
		names = append(names, s.name)
	}
	return names, nil
}

func (l *LevelDBStorage) Delete(name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := []byte(storePrefix + name)
	ok, err := l.db.Has(key, nil)
	if err != nil || !ok {
		return false, wrapClosed(err)
	}

	batch := new(leveldb.Batch)
	it := l.db.NewIterator(util.BytesPrefix(entryKeyPrefix(name)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, wrapClosed(err)
	}
	batch.Delete(key)
	if err := l.db.Write(batch, nil); err != nil {
		return false, wrapClosed(err)
	}
	return true, nil
}

func (l *LevelDBStorage) Close() error {
	return l.db.Close()
}

type levelStore struct {
	name    string
	storage *LevelDBStorage
}

func (s levelStore) Name() string {
	return s.name
}

func (s levelStore) Match(key string) (Entry, bool, error) {
	b, err := s.storage.db.Get(entryKey(s.name, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, wrapClosed(err)
	}
	var e Entry
	if err := decodeGob(b, &e); err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (s levelStore) Put(e Entry) error {
	b, err := encodeGob(e)
	if err != nil {
		return err
	}
	s.storage.mu.Lock()
	defer s.storage.mu.Unlock()
	if ok, err := s.storage.db.Has([]byte(storePrefix+s.name), nil); err != nil {
		return wrapClosed(err)
	} else if !ok {
		return fmt.Errorf("%w: %s", ErrStoreNotFound, s.name)
	}
	return wrapClosed(s.storage.db.Put(entryKey(s.name, e.Key), b, nil))
}

func (s levelStore) Delete(key string) (bool, error) {
	s.storage.mu.Lock()
	defer s.storage.mu.Unlock()
	k := entryKey(s.name, key)
	ok, err := s.storage.db.Has(k, nil)
	if err != nil || !ok {
		return false, wrapClosed(err)
	}
	return true, wrapClosed(s.storage.db.Delete(k, nil))
}

func (s levelStore) Keys(cb func(string)) error {
	prefix := entryKeyPrefix(s.name)
	it := s.storage.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	for it.Next() {
		cb(string(bytes.TrimPrefix(it.Key(), prefix)))
	}
	return wrapClosed(it.Error())
}

func entryKeyPrefix(store string) []byte {
	return []byte(entryPrefix + store + entrySep)
}

func entryKey(store, key string) []byte {
	return append(entryKeyPrefix(store), key...)
}

func wrapClosed(err error) error {
	if errors.Is(err, leveldb.ErrClosed) {
		return ErrStorageClosed
	}
	return err
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	dec := gob.NewDecoder(bytes.NewReader(b))
	return dec.Decode(v)
}
