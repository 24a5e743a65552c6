// Package storage provides the local persistence layer: a SQLite database
// opened once per process, plus narrow repository interfaces consumed by the
// rest of the daemon.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hearthd/hearth/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// MetadataStore is a process-wide key/value store for small flags and
// counters (migration markers, debounce keys, daily caps).
type MetadataStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// HistoryStore persists conversation history per (household, user).
type HistoryStore interface {
	Append(ctx context.Context, householdID, userID string, msg models.Message) error

	// Recent returns up to limit messages of the current conversation
	// session, oldest first. A gap longer than inactivity ends a session:
	// messages before the gap are not returned.
	Recent(ctx context.Context, householdID, userID string, limit int, inactivity time.Duration) ([]models.Message, error)
}
