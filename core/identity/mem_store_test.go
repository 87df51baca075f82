package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestMemStoreResolveUnknown(t *testing.T) {
	store := NewMemStore()
	if _, err := store.Resolve(context.Background(), "fq_nope"); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected unknown key, got %v", err)
	}
}

func TestMemStoreReserveBoundary(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	ident := Provision("alice@example.com", PlanStarter)
	if err := store.Put(ctx, ident); err != nil {
		t.Fatalf("put: %v", err)
	}

	limit := 20
	for i := 1; i <= limit; i++ {
		if _, err := store.Reserve(ctx, ident.APIKey, limit); err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
	}
	if _, err := store.Reserve(ctx, ident.APIKey, limit); !errors.Is(err, ErrLimitReached) {
		t.Fatalf("expected limit reached, got %v", err)
	}
}

func TestMemStoreConcurrentReserveAtBoundary(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	ident := Provision("bob@example.com", PlanStarter)
	ident.TasksUsedThisMonth = 19
	if err := store.Put(ctx, ident); err != nil {
		t.Fatalf("put: %v", err)
	}

	const attempts = 16
	var wg sync.WaitGroup
	admitted := make(chan struct{}, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Reserve(ctx, ident.APIKey, 20); err == nil {
				admitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(admitted)

	n := 0
	for range admitted {
		n++
	}
	if n != 1 {
		t.Fatalf("expected exactly one admission at the boundary, got %d", n)
	}
}

func TestMemStoreUnlimited(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	ident := Provision("team@example.com", PlanTeam)
	if err := store.Put(ctx, ident); err != nil {
		t.Fatalf("put: %v", err)
	}
	for i := 0; i < 100; i++ {
		if _, err := store.Reserve(ctx, ident.APIKey, Unlimited); err != nil {
			t.Fatalf("unlimited reserve %d: %v", i, err)
		}
	}
}

func TestProvision(t *testing.T) {
	ident := Provision("dev@example.com", PlanProfessional)
	if !strings.HasPrefix(ident.APIKey, "fq_") {
		t.Fatalf("unexpected key prefix: %s", ident.APIKey)
	}
	if ident.TasksUsedThisMonth != 0 {
		t.Fatalf("fresh identity must start at zero usage")
	}
	other := Provision("dev@example.com", PlanProfessional)
	if other.APIKey == ident.APIKey {
		t.Fatalf("keys must be unique")
	}
}
