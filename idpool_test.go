package reporterz

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

// TestIDPoolBasicOperation tests basic ID pool functionality.
func TestIDPoolBasicOperation(t *testing.T) {
	factory := func() uint64 { return 7 }
	pool := NewIDPool(10, factory)
	defer pool.Close()

	if id := pool.Get(); id != 7 {
		t.Errorf("Expected 7, got %d", id)
	}
}

// TestIDPoolEmpty tests behavior when pool is empty.
func TestIDPoolEmpty(t *testing.T) {
	var callCount int
	var mu sync.Mutex
	factory := func() uint64 {
		mu.Lock()
		defer mu.Unlock()
		callCount++
		return 42
	}

	// Very small pool that will be empty.
	pool := NewIDPool(1, factory)
	defer pool.Close()

	ids := make([]uint64, 5)
	for i := range ids {
		ids[i] = pool.Get()
	}

	mu.Lock()
	finalCount := callCount
	mu.Unlock()
	if finalCount < 2 {
		t.Errorf("Expected factory to be called multiple times, got %d", finalCount)
	}

	for _, id := range ids {
		if id != 42 {
			t.Errorf("Expected 42, got %d", id)
		}
	}
}

// TestIDPoolConcurrentAccess tests concurrent access to ID pool.
func TestIDPoolConcurrentAccess(t *testing.T) {
	var counter uint64
	var mu sync.Mutex
	factory := func() uint64 {
		mu.Lock()
		defer mu.Unlock()
		counter++
		return counter
	}

	pool := NewIDPool(50, factory)
	defer pool.Close()

	const numGoroutines = 10
	const idsPerGoroutine = 100

	var seenMu sync.Mutex
	seen := make(map[uint64]bool)

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < idsPerGoroutine; j++ {
				id := pool.Get()
				seenMu.Lock()
				if seen[id] {
					t.Errorf("ID %d handed out twice", id)
				}
				seen[id] = true
				seenMu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != numGoroutines*idsPerGoroutine {
		t.Errorf("Expected %d unique IDs, got %d", numGoroutines*idsPerGoroutine, len(seen))
	}
}

// TestIDPoolCleanShutdown tests that pools shut down cleanly.
func TestIDPoolCleanShutdown(t *testing.T) {
	pool := NewIDPool(10, func() uint64 { return 1 })

	before := runtime.NumGoroutine()
	pool.Close()

	// Give time for cleanup.
	time.Sleep(10 * time.Millisecond)

	if after := runtime.NumGoroutine(); after > before {
		t.Errorf("Goroutine leak detected: %d -> %d", before, after)
	}

	// Get keeps working after Close.
	if id := pool.Get(); id != 1 {
		t.Errorf("Expected 1 after close, got %d", id)
	}

	// Multiple closes should be safe.
	pool.Close()
}

func TestRandomIDNeverZero(t *testing.T) {
	seen := make(map[uint64]bool)
	for i := 0; i < 10000; i++ {
		id := randomID()
		if id == 0 {
			t.Fatal("randomID returned 0")
		}
		seen[id] = true
	}
	if len(seen) < 9990 {
		t.Errorf("Expected random IDs to be unique, got %d distinct of 10000", len(seen))
	}
}
