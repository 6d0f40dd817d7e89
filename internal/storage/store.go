// internal/storage/store.go
package storage

import (
	"errors"
	"fmt"
	"log"
)

var ErrNotFound = errors.New("record not found")

// Store is a durable key/value store holding whole serialized records.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Close() error
}

const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

// Open returns the store for the configured driver.
func Open(driver, path string, logger *log.Logger) (Store, error) {
	switch driver {
	case DriverSQLite, "":
		return NewSQLiteStorage(path)
	case DriverBadger:
		return NewBadgerStorage(path, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
