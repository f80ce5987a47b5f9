package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeLogStore struct {
	mu      sync.Mutex
	cutoffs []int64
	err     error
}

func (f *fakeLogStore) DeleteBefore(_ context.Context, before int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, before)
	if f.err != nil {
		return 0, f.err
	}
	return 3, nil
}

func (f *fakeLogStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestPruner_PruneDeliveryLogs(t *testing.T) {
	store := &fakeLogStore{}
	p := NewPruner(store, 24*time.Hour)
	now := time.Unix(1_700_000_000, 0)
	p.now = func() time.Time { return now }

	n, err := p.PruneDeliveryLogs(context.Background())
	if err != nil {
		t.Fatalf("PruneDeliveryLogs() error = %v", err)
	}
	if n != 3 {
		t.Errorf("deleted = %d, want 3", n)
	}
	if want := now.Add(-24 * time.Hour).Unix(); store.cutoffs[0] != want {
		t.Errorf("cutoff = %d, want %d", store.cutoffs[0], want)
	}
}

func TestPruner_DefaultRetention(t *testing.T) {
	p := NewPruner(&fakeLogStore{}, 0)
	if p.retention != 30*24*time.Hour {
		t.Errorf("retention = %v, want 30 days", p.retention)
	}
}

func TestPruner_PropagatesStoreError(t *testing.T) {
	p := NewPruner(&fakeLogStore{err: errors.New("locked")}, time.Hour)
	if _, err := p.PruneDeliveryLogs(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestPruner_RunStopsWithContext(t *testing.T) {
	store := &fakeLogStore{}
	p := NewPruner(store, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for store.calls() < 2 {
		select {
		case <-deadline:
			t.Fatalf("Run pruned %d times, want at least 2", store.calls())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
