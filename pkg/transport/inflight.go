package transport

import (
	"context"
	"sync"
)

// InFlight tracks running requests so they can be cancelled on shutdown.
type InFlight struct {
	mu      sync.Mutex
	next    uint64
	entries map[uint64]context.CancelFunc
}

// NewInFlight creates an empty tracker.
func NewInFlight() *InFlight {
	return &InFlight{entries: make(map[uint64]context.CancelFunc)}
}

func (f *InFlight) add(cancel context.CancelFunc) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.entries[f.next] = cancel
	return f.next
}

func (f *InFlight) remove(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, id)
}

// Len returns the number of running requests.
func (f *InFlight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// CancelAll cancels every running request and returns how many there were.
func (f *InFlight) CancelAll() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.entries)
	for id, cancel := range f.entries {
		cancel()
		delete(f.entries, id)
	}
	return n
}

// Track registers each request with f for its duration.
func Track(f *InFlight) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) (*Result, error) {
			ctx, cancel := context.WithCancel(ctx)
			id := f.add(cancel)
			defer func() {
				f.remove(id)
				cancel()
			}()
			return next.Handle(ctx, req)
		})
	}
}
