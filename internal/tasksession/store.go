package tasksession

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Budgets carries the per-task limits.
type Budgets struct {
	MaxTurns        int
	MaxToolAttempts int
}

// DefaultBudgets returns the documented defaults.
func DefaultBudgets() Budgets {
	return Budgets{MaxTurns: 4, MaxToolAttempts: 2}
}

var (
	ErrNotFound          = errors.New("task session not found")
	ErrTerminal          = errors.New("task session is terminal")
	ErrInvalidTransition = errors.New("invalid task state transition")
)

// Store persists task sessions on disk. Layout under dir:
//
//	tasks/<task_id>.json   one file per session
//	active/<chat_id>       pointer file naming the active task
//
// Writes happen on every transition; last write wins. A single mutex
// serializes writers, which is the only cross-goroutine synchronization the
// contract needs.
type Store struct {
	dir     string
	budgets Budgets
	now     func() time.Time

	mu sync.Mutex
}

// NewStore creates the store, ensuring its directories exist.
func NewStore(dir string, budgets Budgets) (*Store, error) {
	if budgets.MaxTurns <= 0 || budgets.MaxToolAttempts <= 0 {
		budgets = DefaultBudgets()
	}
	for _, sub := range []string{"tasks", "active"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create task store dir: %w", err)
		}
	}
	return &Store{dir: dir, budgets: budgets, now: time.Now}, nil
}

// SetNow overrides the clock for tests.
func (s *Store) SetNow(now func() time.Time) { s.now = now }

// GetOrCreate returns the active session for a chat, creating a fresh IDLE
// session when none exists. At most one non-terminal session per chat.
func (s *Store) GetOrCreate(chatID, message string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if taskID, err := s.activePointer(chatID); err == nil {
		session, err := s.read(taskID)
		if err == nil && !session.State.Terminal() {
			session.LastMessageAt = s.now().UTC()
			if err := s.write(session); err != nil {
				return nil, err
			}
			return session, nil
		}
		// Stale pointer to a missing or terminal session.
		_ = os.Remove(s.pointerPath(chatID))
	}

	now := s.now().UTC()
	session := &Session{
		TaskID:        uuid.NewString(),
		ChatID:        chatID,
		State:         StateIdle,
		CreatedAt:     now,
		LastMessageAt: now,
		Meta:          map[string]any{"first_message": firstLine(message)},
	}
	if err := s.write(session); err != nil {
		return nil, err
	}
	if err := os.WriteFile(s.pointerPath(chatID), []byte(session.TaskID), 0o644); err != nil {
		return nil, fmt.Errorf("write active pointer: %w", err)
	}
	return session, nil
}

// Get returns a session snapshot by task id.
func (s *Store) Get(taskID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(taskID)
}

// Transition moves a session to a new state, applies opts, and persists the
// result. Terminal states are sticky; counters only grow.
func (s *Store) Transition(session *Session, to State, opts TransitionOpts) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read(session.TaskID)
	if err != nil {
		return nil, err
	}
	if current.State.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrTerminal, current.State)
	}
	if !allowed(current.State, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.State, to)
	}

	current.State = to
	current.LastMessageAt = s.now().UTC()
	if opts.IncrementTurn {
		current.TurnCount++
	}
	if opts.IncrementToolAttempt {
		current.ToolAttemptCount++
	}
	if opts.LastAssistantOutput != nil {
		current.LastAssistantOutput = *opts.LastAssistantOutput
	}
	if opts.PendingConfirm {
		if current.Meta == nil {
			current.Meta = map[string]any{}
		}
		current.Meta["pending_confirm"] = true
	}
	if err := s.write(current); err != nil {
		return nil, err
	}
	return current, nil
}

// CanMakeTurn reports whether the session has turn budget left.
func (s *Store) CanMakeTurn(session *Session) bool {
	return session.TurnCount < s.budgets.MaxTurns
}

// CanExecuteTool reports whether the session has tool budget left.
func (s *Store) CanExecuteTool(session *Session) bool {
	return session.ToolAttemptCount < s.budgets.MaxToolAttempts
}

// IsTerminal reports whether the session reached a sticky state.
func (s *Store) IsTerminal(session *Session) bool {
	return session.State.Terminal()
}

// ClearActive removes the active pointer for a chat. The session file stays
// for its retention window.
func (s *Store) ClearActive(chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.pointerPath(chatID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// PruneTerminal deletes terminal session files whose last activity is older
// than retention. Returns the number removed.
func (s *Store) PruneTerminal(retention time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.dir, "tasks"))
	if err != nil {
		return 0, err
	}
	cutoff := s.now().UTC().Add(-retention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		session, err := s.read(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		if session.State.Terminal() && session.LastMessageAt.Before(cutoff) {
			if err := os.Remove(s.taskPath(session.TaskID)); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func (s *Store) activePointer(chatID string) (string, error) {
	data, err := os.ReadFile(s.pointerPath(chatID))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *Store) read(taskID string) (*Session, error) {
	data, err := os.ReadFile(s.taskPath(taskID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read task session: %w", err)
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decode task session: %w", err)
	}
	return &session, nil
}

// write persists atomically: temp file then rename.
func (s *Store) write(session *Session) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("encode task session: %w", err)
	}
	path := s.taskPath(session.TaskID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write task session: %w", err)
	}
	return os.Rename(tmp, path)
}

func (s *Store) taskPath(taskID string) string {
	return filepath.Join(s.dir, "tasks", taskID+".json")
}

func (s *Store) pointerPath(chatID string) string {
	return filepath.Join(s.dir, "active", url.PathEscape(chatID))
}

func firstLine(message string) string {
	if idx := strings.IndexByte(message, '\n'); idx >= 0 {
		message = message[:idx]
	}
	if len(message) > 200 {
		message = message[:200]
	}
	return message
}
