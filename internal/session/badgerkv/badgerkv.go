// Package badgerkv stores console sessions in an embedded Badger database.
package badgerkv

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"

	"zippytrip.org/internal/obs"
)

// Storage implements session.Storage on top of Badger.
type Storage struct {
	db     *badger.DB
	prefix []byte
}

// Open opens (or creates) a database in dir. An empty dir opens an in-memory database.
func Open(dir string) (*Storage, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = badgerLogger{}
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}
	return &Storage{db: db, prefix: []byte("session/")}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) key(k string) []byte {
	return append(append([]byte{}, s.prefix...), k...)
}

func (s *Storage) Get(_ context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, k := range keys {
			item, err := txn.Get(s.key(k))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[k] = string(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Set writes all entries in one transaction.
func (s *Storage) Set(_ context.Context, entries map[string]string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for k, v := range entries {
			if err := txn.Set(s.key(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Storage) Delete(_ context.Context, keys ...string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(s.key(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

// badgerLogger routes Badger's internal logs to the JSON log stream.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	obs.Error(fmt.Sprintf(format, args...), map[string]any{"component": "badger"})
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	obs.Warn(fmt.Sprintf(format, args...), map[string]any{"component": "badger"})
}

func (badgerLogger) Infof(string, ...interface{}) {}

func (badgerLogger) Debugf(string, ...interface{}) {}
