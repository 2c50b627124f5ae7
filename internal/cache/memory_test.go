package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	if _, found, err := m.Get(ctx, "missing"); err != nil || found {
		t.Fatalf("Get(missing) = (found=%v, err=%v), want absent", found, err)
	}

	if err := m.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value, found, err := m.Get(ctx, "k")
	if err != nil || !found || string(value) != "v" {
		t.Fatalf("Get(k) = (%q, %v, %v), want (v, true, nil)", value, found, err)
	}

	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, _ := m.Get(ctx, "k"); found {
		t.Fatal("key survived Delete")
	}
}

func TestMemoryAge(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	base := time.Now()
	m.now = func() time.Time { return base }
	if err := m.Set(ctx, "k", []byte("v"), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}

	m.now = func() time.Time { return base.Add(42 * time.Second) }
	_, age, found, err := m.GetWithAge(ctx, "k")
	if err != nil || !found {
		t.Fatalf("GetWithAge = (found=%v, err=%v)", found, err)
	}
	if age != 42*time.Second {
		t.Errorf("age = %v, want 42s", age)
	}
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	if err := m.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, found, _ := m.Get(ctx, "k"); found {
		t.Fatal("entry survived its TTL")
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	if err := SetJSON(ctx, m, "p", payload{Name: "x", Count: 3}, time.Minute); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	got, err := GetJSON[payload](ctx, m, "p")
	if err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if got.Name != "x" || got.Count != 3 {
		t.Errorf("GetJSON = %+v", got)
	}

	if _, err := GetJSON[payload](ctx, m, "absent"); err != ErrNotFound {
		t.Errorf("GetJSON(absent) err = %v, want ErrNotFound", err)
	}
}
