package agenda

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hearthd/hearth/internal/storage"
)

func TestMemoryStoreCRUD(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	due := time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)

	event := NewEvent("home", "user-1", "Dentist", "Main St", due)
	if event.ID == "" || !event.DueAt.Equal(due) {
		t.Fatalf("NewEvent() = %+v", event)
	}
	if err := s.Add(ctx, event); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := s.Add(ctx, event); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("Add(duplicate) error = %v, want ErrAlreadyExists", err)
	}

	got, err := s.Get(ctx, "home", event.ID)
	if err != nil || got.Title != "Dentist" || got.Location != "Main St" {
		t.Fatalf("Get() = %+v, %v", got, err)
	}
	if _, err := s.Get(ctx, "other-house", event.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get(wrong household) error = %v, want ErrNotFound", err)
	}

	got.Title = "Dentist (moved)"
	if err := s.Update(ctx, got); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	updated, err := s.Get(ctx, "home", event.ID)
	if err != nil || updated.Title != "Dentist (moved)" {
		t.Fatalf("Get() after update = %+v, %v", updated, err)
	}
	if updated.UpdatedAt.Before(event.UpdatedAt) {
		t.Fatal("Update() moved UpdatedAt backwards")
	}

	if err := s.Delete(ctx, "home", event.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(ctx, "home", event.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Delete(gone) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreListWindow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	for i, title := range []string{"early", "inside", "boundary", "late"} {
		offsets := []time.Duration{-time.Hour, 30 * time.Minute, time.Hour, 2 * time.Hour}
		if err := s.Add(ctx, NewEvent("home", "user-1", title, "", base.Add(offsets[i]))); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Add(ctx, NewEvent("other", "user-2", "elsewhere", "", base.Add(30*time.Minute))); err != nil {
		t.Fatal(err)
	}

	// [from, to): the boundary event at exactly to is excluded.
	got, err := s.List(ctx, "home", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 1 || got[0].Title != "inside" {
		t.Fatalf("List(window) = %v, want only the inside event", titles(got))
	}

	all, err := s.List(ctx, "home", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 4 || all[0].Title != "early" || all[3].Title != "late" {
		t.Fatalf("List(open bounds) = %v, want all four ordered by due time", titles(all))
	}
}

func titles(events []*Event) []string {
	out := make([]string, 0, len(events))
	for _, event := range events {
		out = append(out, event.Title)
	}
	return out
}
