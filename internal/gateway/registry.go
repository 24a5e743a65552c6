package gateway

import (
	"log/slog"
	"sync"

	"github.com/hearthd/hearth/internal/observability"
	"github.com/hearthd/hearth/pkg/models"
)

// Conn is one streaming connection to a user.
type Conn interface {
	Send(event models.Event) error
	Close() error
}

// Registry tracks at most one active streaming connection per user, plus a
// per-user queue of proactive events delivered on reconnect.
type Registry struct {
	mu     sync.Mutex
	conns  map[string]Conn
	queues map[string][]models.Event

	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger, metrics *observability.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:   make(map[string]Conn),
		queues:  make(map[string][]models.Event),
		logger:  logger.With("component", "registry"),
		metrics: metrics,
	}
}

// Attach registers a connection for a user. A previous connection is closed
// and replaced. Queued proactive events are drained to the new connection.
func (r *Registry) Attach(userID string, conn Conn) {
	r.mu.Lock()
	previous := r.conns[userID]
	r.conns[userID] = conn
	queued := r.queues[userID]
	delete(r.queues, userID)
	r.mu.Unlock()

	if previous != nil {
		if err := previous.Close(); err != nil {
			r.logger.Debug("closing replaced connection", "user", userID, "error", err)
		}
	} else if r.metrics != nil {
		r.metrics.ActiveConnections.Inc()
	}
	for _, event := range queued {
		if err := conn.Send(event); err != nil {
			r.logger.Warn("draining queued event failed", "user", userID, "error", err)
			return
		}
	}
}

// Detach removes a connection if it is still the active one for the user.
func (r *Registry) Detach(userID string, conn Conn) {
	r.mu.Lock()
	active := r.conns[userID] == conn
	if active {
		delete(r.conns, userID)
	}
	r.mu.Unlock()
	if active && r.metrics != nil {
		r.metrics.ActiveConnections.Dec()
	}
}

// Notify delivers an event to a user's connection, or queues it when the
// user is offline. Send failures re-queue the event.
func (r *Registry) Notify(userID string, event models.Event) {
	r.mu.Lock()
	conn := r.conns[userID]
	if conn == nil {
		r.queues[userID] = append(r.queues[userID], event)
	}
	r.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Send(event); err != nil {
		r.logger.Warn("notify failed, queueing", "user", userID, "error", err)
		r.mu.Lock()
		r.queues[userID] = append(r.queues[userID], event)
		r.mu.Unlock()
	}
}

// Connected returns the user ids with an active connection.
func (r *Registry) Connected() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := make([]string, 0, len(r.conns))
	for userID := range r.conns {
		users = append(users, userID)
	}
	return users
}
