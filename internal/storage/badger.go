// internal/storage/badger.go
package storage

import (
	"errors"
	"fmt"
	"log"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStorage keeps the records in an embedded Badger directory.
type BadgerStorage struct {
	db *badger.DB
}

func NewBadgerStorage(dirPath string, logger *log.Logger) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(dirPath).
		WithLoggingLevel(badger.ERROR).
		WithLogger(badgerLogger{logger})
	if dirPath == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &BadgerStorage{db: db}, nil
}

func (b *BadgerStorage) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *BadgerStorage) Get(key string) ([]byte, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record %s: %w", key, err)
	}
	return value, nil
}

func (b *BadgerStorage) Put(key string, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to write record %s: %w", key, err)
	}
	return nil
}

func (b *BadgerStorage) Delete(key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete record %s: %w", key, err)
	}
	return nil
}

// badgerLogger routes badger's leveled logger into the application log.
type badgerLogger struct {
	l *log.Logger
}

func (b badgerLogger) printf(level, format string, args ...interface{}) {
	if b.l == nil {
		return
	}
	b.l.Printf("badger "+level+": "+format, args...)
}

func (b badgerLogger) Errorf(format string, args ...interface{})   { b.printf("error", format, args...) }
func (b badgerLogger) Warningf(format string, args ...interface{}) { b.printf("warning", format, args...) }
func (b badgerLogger) Infof(format string, args ...interface{})    { b.printf("info", format, args...) }
func (b badgerLogger) Debugf(format string, args ...interface{})   { b.printf("debug", format, args...) }
