package limiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestSweeperSweep(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(clock)
	s := NewSweeper(r, time.Second, nil)

	def := limitDef("short", "true", 1, 1)
	def.ExpiresAfter = 30
	mustCreate(t, r, def)
	mustCreate(t, r, limitDef("long", "true", 1, 1))

	if got := s.Sweep(); len(got) != 0 {
		t.Fatalf("Sweep = %v, want none", got)
	}

	clock.Advance(31 * time.Second)
	if diff := cmp.Diff([]string{"short"}, s.Sweep()); diff != "" {
		t.Fatalf("Sweep mismatch (-want +got):\n%s", diff)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(clock)
	s := NewSweeper(r, 10*time.Millisecond, nil)

	var mu sync.Mutex
	var expired []string
	r.OnChange(func(ev Event) {
		if ev.Type == EventExpired {
			mu.Lock()
			expired = append(expired, ev.Tag)
			mu.Unlock()
		}
	})

	def := limitDef("short", "true", 1, 1)
	def.ExpiresAfter = 1
	mustCreate(t, r, def)
	clock.Advance(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for r.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("sweeper did not expire the definition")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]string{"short"}, expired); diff != "" {
		t.Errorf("expired events mismatch (-want +got):\n%s", diff)
	}
}
