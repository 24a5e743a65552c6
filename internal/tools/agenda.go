package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/hearthd/hearth/internal/agenda"
)

// RegisterAgendaTools adds the agenda surface to the dispatcher. These are
// schema-based tools: the ambient household_id and user_id are injected by
// the dispatcher because the schemas declare them.
func RegisterAgendaTools(d *Dispatcher, store agenda.Store) error {
	for _, tool := range []Tool{
		&agendaList{store: store},
		&agendaAdd{store: store},
		&agendaUpdate{store: store},
		&agendaDelete{store: store},
	} {
		if err := d.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func ambientProperties() map[string]any {
	return map[string]any{
		"household_id": map[string]any{"type": "string"},
		"user_id":      map[string]any{"type": "string"},
	}
}

type agendaList struct{ store agenda.Store }

func (t *agendaList) Name() string        { return "agenda.list" }
func (t *agendaList) Description() string { return "List upcoming agenda events for the household." }
func (t *agendaList) Schema() map[string]any {
	properties := ambientProperties()
	properties["from"] = map[string]any{"type": "string"}
	properties["to"] = map[string]any{"type": "string"}
	return objectSchema(properties)
}

func (t *agendaList) Execute(ctx context.Context, call Call) (map[string]any, error) {
	var args struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := decodeArgs(call.Args, &args); err != nil {
		return nil, err
	}
	from, err := optionalInstant(args.From)
	if err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	to, err := optionalInstant(args.To)
	if err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	events, err := t.store.List(ctx, call.HouseholdID, from, to)
	if err != nil {
		return nil, err
	}
	return map[string]any{"events": toList(events), "count": len(events)}, nil
}

type agendaAdd struct{ store agenda.Store }

func (t *agendaAdd) Name() string        { return "agenda.add" }
func (t *agendaAdd) Description() string { return "Add an agenda event." }
func (t *agendaAdd) Schema() map[string]any {
	properties := ambientProperties()
	properties["title"] = map[string]any{"type": "string", "minLength": 1}
	properties["dueAt"] = map[string]any{"type": "string"}
	properties["location"] = map[string]any{"type": "string"}
	return objectSchema(properties, "title", "dueAt")
}

func (t *agendaAdd) Execute(ctx context.Context, call Call) (map[string]any, error) {
	var args struct {
		Title    string `json:"title"`
		DueAt    string `json:"dueAt"`
		Location string `json:"location"`
	}
	if err := decodeArgs(call.Args, &args); err != nil {
		return nil, err
	}
	dueAt, err := time.Parse(time.RFC3339, args.DueAt)
	if err != nil {
		return nil, fmt.Errorf("dueAt must be RFC 3339: %w", err)
	}
	event := agenda.NewEvent(call.HouseholdID, call.UserID, args.Title, args.Location, dueAt)
	if err := t.store.Add(ctx, event); err != nil {
		return nil, err
	}
	return map[string]any{"event": toMap(event)}, nil
}

type agendaUpdate struct{ store agenda.Store }

func (t *agendaUpdate) Name() string        { return "agenda.update" }
func (t *agendaUpdate) Description() string { return "Update an agenda event." }
func (t *agendaUpdate) Schema() map[string]any {
	properties := ambientProperties()
	properties["id"] = map[string]any{"type": "string"}
	properties["title"] = map[string]any{"type": "string"}
	properties["dueAt"] = map[string]any{"type": "string"}
	properties["location"] = map[string]any{"type": "string"}
	return objectSchema(properties, "id")
}

func (t *agendaUpdate) Execute(ctx context.Context, call Call) (map[string]any, error) {
	var args struct {
		ID       string  `json:"id"`
		Title    *string `json:"title"`
		DueAt    *string `json:"dueAt"`
		Location *string `json:"location"`
	}
	if err := decodeArgs(call.Args, &args); err != nil {
		return nil, err
	}
	event, err := t.store.Get(ctx, call.HouseholdID, args.ID)
	if err != nil {
		return nil, err
	}
	if args.Title != nil {
		event.Title = *args.Title
	}
	if args.Location != nil {
		event.Location = *args.Location
	}
	if args.DueAt != nil {
		dueAt, err := time.Parse(time.RFC3339, *args.DueAt)
		if err != nil {
			return nil, fmt.Errorf("dueAt must be RFC 3339: %w", err)
		}
		event.DueAt = dueAt.UTC()
	}
	if err := t.store.Update(ctx, event); err != nil {
		return nil, err
	}
	return map[string]any{"event": toMap(event)}, nil
}

type agendaDelete struct{ store agenda.Store }

func (t *agendaDelete) Name() string        { return "agenda.delete" }
func (t *agendaDelete) Description() string { return "Delete an agenda event." }
func (t *agendaDelete) Schema() map[string]any {
	properties := ambientProperties()
	properties["id"] = map[string]any{"type": "string"}
	return objectSchema(properties, "id")
}

func (t *agendaDelete) Execute(ctx context.Context, call Call) (map[string]any, error) {
	var args struct {
		ID string `json:"id"`
	}
	if err := decodeArgs(call.Args, &args); err != nil {
		return nil, err
	}
	if err := t.store.Delete(ctx, call.HouseholdID, args.ID); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": args.ID}, nil
}

func optionalInstant(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}
