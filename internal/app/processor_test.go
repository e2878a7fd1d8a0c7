package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestProcessor_ProcessesQueuedInvoices(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []int
	)
	p := NewProcessor(zerolog.Nop(), WithWorkers(3), WithQueueSize(10))
	p.Start(context.Background(), func(_ context.Context, id int) (*ProcessResult, error) {
		mu.Lock()
		seen = append(seen, id)
		mu.Unlock()
		return &ProcessResult{Stage: StageParsed}, nil
	})

	for id := 1; id <= 5; id++ {
		if err := p.Enqueue(id); err != nil {
			t.Fatalf("Enqueue(%d): %v", id, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	sort.Ints(seen)
	if len(seen) != 5 || seen[0] != 1 || seen[4] != 5 {
		t.Errorf("processed %v, want 1..5", seen)
	}
	if err := p.Enqueue(6); !errors.Is(err, ErrQueueShutdown) {
		t.Errorf("enqueue after shutdown: got %v", err)
	}
}

func TestProcessor_DeduplicatesInflightInvoice(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	var (
		mu    sync.Mutex
		calls int
	)
	p := NewProcessor(zerolog.Nop(), WithWorkers(2), WithQueueSize(4))
	p.Start(context.Background(), func(_ context.Context, id int) (*ProcessResult, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		started <- struct{}{}
		<-release
		return &ProcessResult{}, nil
	})

	if err := p.Enqueue(42); err != nil {
		t.Fatal(err)
	}
	<-started
	if err := p.Enqueue(42); err != nil {
		t.Fatalf("re-enqueue of a running invoice should be accepted, got %v", err)
	}
	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	if calls != 1 {
		t.Errorf("invoice processed %d times, want 1", calls)
	}
}

func TestProcessor_QueueFull(t *testing.T) {
	p := NewProcessor(zerolog.Nop(), WithQueueSize(1))
	// Not started: nothing drains the buffer.
	if err := p.Enqueue(1); err != nil {
		t.Fatal(err)
	}
	if err := p.Enqueue(2); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
	p.Shutdown(context.Background())
}

func TestProcessor_JobTimeout(t *testing.T) {
	got := make(chan error, 1)
	p := NewProcessor(zerolog.Nop(), WithWorkers(1), WithJobTimeout(20*time.Millisecond))
	p.Start(context.Background(), func(ctx context.Context, _ int) (*ProcessResult, error) {
		<-ctx.Done()
		got <- ctx.Err()
		return nil, ctx.Err()
	})
	if err := p.Enqueue(1); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-got:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job was not cancelled by its timeout")
	}
	p.Shutdown(context.Background())
}
