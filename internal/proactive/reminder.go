// Package proactive sends agenda reminders to connected users ahead of their
// events.
package proactive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hearthd/hearth/internal/agenda"
	"github.com/hearthd/hearth/internal/config"
	"github.com/hearthd/hearth/internal/gateway"
	"github.com/hearthd/hearth/internal/observability"
	"github.com/hearthd/hearth/internal/storage"
	"github.com/hearthd/hearth/pkg/models"
)

// Reminder is the proactive loop. Each tick it scans the agenda for events
// inside the lookahead window and notifies their owners, once per event.
type Reminder struct {
	agenda   agenda.Store
	meta     storage.MetadataStore
	registry *gateway.Registry

	householdID string
	cfg         config.ProactiveConfig

	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	stop chan struct{}
	done chan struct{}
}

// New builds the reminder loop.
func New(store agenda.Store, meta storage.MetadataStore, registry *gateway.Registry, householdID string, cfg config.ProactiveConfig, logger *slog.Logger, metrics *observability.Metrics) *Reminder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reminder{
		agenda:      store,
		meta:        meta,
		registry:    registry,
		householdID: householdID,
		cfg:         cfg,
		logger:      logger.With("component", "proactive"),
		metrics:     metrics,
		now:         time.Now,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// SetNow overrides the clock for tests.
func (r *Reminder) SetNow(now func() time.Time) { r.now = now }

// Start launches the loop.
func (r *Reminder) Start(ctx context.Context) {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.cfg.Tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				if n := r.Tick(ctx); n > 0 {
					r.logger.Info("sent reminders", "count", n)
				}
			}
		}
	}()
}

// Stop terminates the loop and waits for it to finish.
func (r *Reminder) Stop() {
	close(r.stop)
	<-r.done
}

// Tick performs one reminder pass and returns how many reminders were sent.
func (r *Reminder) Tick(ctx context.Context) int {
	now := r.now().UTC()
	from := now.Add(time.Duration(r.cfg.WindowMin) * time.Minute)
	to := now.Add(time.Duration(r.cfg.WindowMax) * time.Minute)

	events, err := r.agenda.List(ctx, r.householdID, from, to)
	if err != nil {
		r.logger.Error("agenda scan failed", "error", err)
		return 0
	}

	sent := 0
	for _, event := range events {
		if event.UserID == "" {
			continue
		}
		if r.alreadySent(ctx, event.UserID, event.ID) {
			continue
		}
		minutes := int(event.DueAt.Sub(now).Minutes())
		text := fmt.Sprintf("Reminder: %q is coming up in about %d minutes.", event.Title, minutes)
		if event.Location != "" {
			text = fmt.Sprintf("Reminder: %q at %s is coming up in about %d minutes.", event.Title, event.Location, minutes)
		}
		r.registry.Notify(event.UserID, models.Event{Type: models.EventStatus, Text: text})
		r.markSent(ctx, event.UserID, event.ID)
		if r.metrics != nil {
			r.metrics.ProactiveMessages.Inc()
		}
		sent++
	}
	return sent
}

// Reminders debounce across ticks through the metadata store, so a restart
// does not re-notify either.
func (r *Reminder) alreadySent(ctx context.Context, userID, eventID string) bool {
	_, err := r.meta.Get(ctx, sentKey(userID, eventID))
	return err == nil
}

func (r *Reminder) markSent(ctx context.Context, userID, eventID string) {
	if err := r.meta.Set(ctx, sentKey(userID, eventID), r.now().UTC().Format(time.RFC3339)); err != nil {
		r.logger.Warn("recording reminder failed", "error", err)
	}
}

func sentKey(userID, eventID string) string {
	return "proactive.sent." + userID + "." + eventID
}
