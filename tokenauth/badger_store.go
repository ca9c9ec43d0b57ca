package tokenauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bitrise-io/go-swiftclient/dispatch"
	"github.com/dgraph-io/badger/v4"
)

const badgerKeyPrefix = "token/"

// BadgerStore persists tokens on disk so restarted clients reuse a still
// valid token instead of re-authenticating. Entries expire together with
// their token.
type BadgerStore struct {
	db  *badger.DB
	now func() time.Time
}

// OpenBadgerStore opens (or creates) a store in dir.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open token cache %s: %w", dir, err)
	}
	return &BadgerStore{db: db, now: time.Now}, nil
}

// Get ...
func (s *BadgerStore) Get(key string) (dispatch.Token, bool, error) {
	var token dispatch.Token
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &token)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return dispatch.Token{}, false, nil
	}
	if err != nil {
		return dispatch.Token{}, false, fmt.Errorf("read token %s: %w", key, err)
	}
	return token, true, nil
}

// Set ...
func (s *BadgerStore) Set(key string, token dispatch.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}

	entry := badger.NewEntry([]byte(badgerKeyPrefix+key), data)
	if !token.Expires.IsZero() {
		ttl := token.Expires.Sub(s.now())
		if ttl <= 0 {
			return nil
		}
		entry = entry.WithTTL(ttl)
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	}); err != nil {
		return fmt.Errorf("write token %s: %w", key, err)
	}
	return nil
}

// Delete ...
func (s *BadgerStore) Delete(key string, token dispatch.Token) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		k := []byte(badgerKeyPrefix + key)
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		var current dispatch.Token
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &current)
		}); err != nil {
			return err
		}
		if current.Value != token.Value {
			return nil
		}
		return txn.Delete(k)
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("delete token %s: %w", key, err)
	}
	return nil
}

// Close ...
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
