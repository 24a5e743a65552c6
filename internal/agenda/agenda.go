// Package agenda stores calendar events for a household: the backing data for
// the agenda tools and the proactive reminder loop.
package agenda

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthd/hearth/internal/storage"
)

// Event is one agenda entry.
type Event struct {
	ID          string    `json:"id"`
	HouseholdID string    `json:"householdId"`
	UserID      string    `json:"userId"`
	Title       string    `json:"title"`
	Location    string    `json:"location,omitempty"`
	DueAt       time.Time `json:"dueAt"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Store persists agenda events.
type Store interface {
	Add(ctx context.Context, event *Event) error
	Update(ctx context.Context, event *Event) error
	Delete(ctx context.Context, householdID, id string) error
	Get(ctx context.Context, householdID, id string) (*Event, error)

	// List returns the household's events with DueAt in [from, to),
	// ordered by due time. Zero bounds are open.
	List(ctx context.Context, householdID string, from, to time.Time) ([]*Event, error)
}

// NewEvent fills in identity and timestamps for a fresh event.
func NewEvent(householdID, userID, title, location string, dueAt time.Time) *Event {
	now := time.Now().UTC()
	return &Event{
		ID:          uuid.NewString(),
		HouseholdID: householdID,
		UserID:      userID,
		Title:       title,
		Location:    location,
		DueAt:       dueAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// SQLiteStore implements Store over the agenda_events table.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Add(ctx context.Context, event *Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agenda_events (id, household_id, user_id, title, location, due_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.HouseholdID, event.UserID, event.Title, event.Location,
		event.DueAt, event.CreatedAt, event.UpdatedAt)
	if err != nil {
		return fmt.Errorf("add agenda event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, event *Event) error {
	event.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE agenda_events SET title = ?, location = ?, due_at = ?, updated_at = ?
		 WHERE id = ? AND household_id = ?`,
		event.Title, event.Location, event.DueAt, event.UpdatedAt, event.ID, event.HouseholdID)
	if err != nil {
		return fmt.Errorf("update agenda event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, householdID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM agenda_events WHERE id = ? AND household_id = ?`, id, householdID)
	if err != nil {
		return fmt.Errorf("delete agenda event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, householdID, id string) (*Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, household_id, user_id, title, location, due_at, created_at, updated_at
		 FROM agenda_events WHERE id = ? AND household_id = ?`, id, householdID)
	event, err := scanEvent(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	return event, err
}

func (s *SQLiteStore) List(ctx context.Context, householdID string, from, to time.Time) ([]*Event, error) {
	query := `SELECT id, household_id, user_id, title, location, due_at, created_at, updated_at
		 FROM agenda_events WHERE household_id = ?`
	args := []any{householdID}
	if !from.IsZero() {
		query += ` AND due_at >= ?`
		args = append(args, from)
	}
	if !to.IsZero() {
		query += ` AND due_at < ?`
		args = append(args, to)
	}
	query += ` ORDER BY due_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agenda events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		event, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

func scanEvent(scan func(...any) error) (*Event, error) {
	var event Event
	var location sql.NullString
	err := scan(&event.ID, &event.HouseholdID, &event.UserID, &event.Title,
		&location, &event.DueAt, &event.CreatedAt, &event.UpdatedAt)
	if err != nil {
		return nil, err
	}
	event.Location = location.String
	return &event, nil
}

// MemoryStore keeps events in memory, for tests.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]*Event
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]*Event)}
}

func (s *MemoryStore) Add(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[event.ID]; exists {
		return storage.ErrAlreadyExists
	}
	copied := *event
	s.events[event.ID] = &copied
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.events[event.ID]
	if !ok || existing.HouseholdID != event.HouseholdID {
		return storage.ErrNotFound
	}
	copied := *event
	copied.UpdatedAt = time.Now().UTC()
	s.events[event.ID] = &copied
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, householdID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.events[id]
	if !ok || existing.HouseholdID != householdID {
		return storage.ErrNotFound
	}
	delete(s.events, id)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, householdID, id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[id]
	if !ok || event.HouseholdID != householdID {
		return nil, storage.ErrNotFound
	}
	copied := *event
	return &copied, nil
}

func (s *MemoryStore) List(ctx context.Context, householdID string, from, to time.Time) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Event
	for _, event := range s.events {
		if event.HouseholdID != householdID {
			continue
		}
		if !from.IsZero() && event.DueAt.Before(from) {
			continue
		}
		if !to.IsZero() && !event.DueAt.Before(to) {
			continue
		}
		copied := *event
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DueAt.Before(out[j].DueAt)
	})
	return out, nil
}
