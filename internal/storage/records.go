// internal/storage/records.go
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"

	"nutrivision/internal/models"
)

const (
	KeyHistory  = "history"
	KeySettings = "settings"
	KeyChat     = "chat"
)

// Records reads and writes the three named records on top of a Store.
type Records struct {
	store  Store
	logger *log.Logger
}

func NewRecords(store Store, logger *log.Logger) *Records {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Records{store: store, logger: logger}
}

// Snapshot is everything read at startup.
type Snapshot struct {
	History  []models.HistoryItem
	Settings models.UserSettings
	Chat     []models.ChatMessage
}

// Load reads all records. A missing or unreadable record falls back to its
// default on its own and never fails the others.
func (r *Records) Load() Snapshot {
	snap := Snapshot{
		History:  []models.HistoryItem{},
		Settings: models.DefaultSettings(),
		Chat:     []models.ChatMessage{},
	}

	var history []models.HistoryItem
	if r.load(KeyHistory, &history) && history != nil {
		snap.History = history
	}

	var settings models.UserSettings
	if r.load(KeySettings, &settings) {
		snap.Settings = settings.Normalize()
	}

	var chat []models.ChatMessage
	if r.load(KeyChat, &chat) && chat != nil {
		snap.Chat = chat
	}

	return snap
}

func (r *Records) load(key string, target interface{}) bool {
	data, err := r.store.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false
	}
	if err != nil {
		r.logger.Printf("Warning: failed to read %s, using defaults: %v", key, err)
		return false
	}
	if err := json.Unmarshal(data, target); err != nil {
		r.logger.Printf("Warning: stored %s is corrupt, using defaults: %v", key, err)
		return false
	}
	return true
}

// Write serializes value under key.
func (r *Records) Write(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return r.store.Put(key, data)
}

// Remove deletes key; removing an absent record is not an error.
func (r *Records) Remove(key string) error {
	if err := r.store.Delete(key); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}
