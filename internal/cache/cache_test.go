package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(30 * time.Second)
	m.now = func() time.Time { return now }

	key := ViewKey("room-1", "admin", "2024-01-01", "2024-12-31")
	if err := m.Set(ctx, key, []byte("body")); err != nil {
		t.Fatal(err)
	}
	if got, ok := Lookup(ctx, m, key); !ok || string(got) != "body" {
		t.Fatalf("expected hit, got %q %v", got, ok)
	}

	now = now.Add(30 * time.Second)
	if _, ok := Lookup(ctx, m, key); ok {
		t.Fatal("expected the entry to expire at the TTL")
	}
	if m.Len() != 0 {
		t.Fatalf("expired entry not evicted, len=%d", m.Len())
	}
}

func TestMemoryInvalidateRoom(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	keys := []string{
		ViewKey("room-1", "admin"),
		ViewKey("room-1", "public", "ics", "series"),
		ViewKey("room-10", "admin"),
		ViewKey("room-2", "admin"),
	}
	for _, k := range keys {
		m.Set(ctx, k, []byte(k))
	}

	if err := m.InvalidateRoom(ctx, "room-1"); err != nil {
		t.Fatal(err)
	}
	for i, k := range keys {
		_, ok, _ := m.Get(ctx, k)
		if want := i >= 2; ok != want {
			t.Errorf("%s: present=%v, want %v", k, ok, want)
		}
	}
}

func TestViewKey(t *testing.T) {
	if got := ViewKey("r", "public"); got != "view:r:public" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := ViewKey("r", "admin", "a", "b"); got != "view:r:admin:a:b" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestMemorySweepsExpiredOnSet(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(30 * time.Second)
	m.now = func() time.Time { return now }

	for _, to := range []string{"2024-01-31", "2024-02-29", "2024-03-31"} {
		m.Set(ctx, ViewKey("room-1", "public", "2024-01-01", to), []byte(to))
	}
	if m.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", m.Len())
	}

	// None of the old keys is read again.
	now = now.Add(time.Minute)
	m.Set(ctx, ViewKey("room-1", "public", "2024-01-01", "2024-04-30"), []byte("april"))
	if m.Len() != 1 {
		t.Fatalf("expected expired entries swept on set, len=%d", m.Len())
	}
}

func TestMemoryBoundsEntries(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(time.Hour)
	m.maxEntries = 3
	m.now = func() time.Time { return now }

	keys := []string{"a", "b", "c", "d", "e"}
	for _, k := range keys {
		m.Set(ctx, ViewKey("room-1", "public", k), []byte(k))
		now = now.Add(time.Second)
	}
	if m.Len() != 3 {
		t.Fatalf("expected the cache capped at 3, got %d", m.Len())
	}
	for i, k := range keys {
		_, ok, _ := m.Get(ctx, ViewKey("room-1", "public", k))
		if want := i >= 2; ok != want {
			t.Errorf("%s: present=%v, want %v", k, ok, want)
		}
	}

	// Refreshing a present key never evicts another one.
	m.Set(ctx, ViewKey("room-1", "public", "e"), []byte("e2"))
	if m.Len() != 3 {
		t.Fatalf("refresh changed the size to %d", m.Len())
	}
}
