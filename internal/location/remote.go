package location

import (
	"context"
	"sync"
	"time"
)

// RemoteLocator is a Locator fed by position fixes the field agent's client
// pushes over the API. CurrentPosition serves a cached fix when it is fresh
// enough for the request, otherwise waits for the next push until the
// request's timeout elapses.
type RemoteLocator struct {
	mu       sync.Mutex
	last     Position
	lastAt   time.Time
	lastHigh bool
	waiters  []chan Position
	clock    func() time.Time
}

// NewRemoteLocator creates an empty remote locator.
func NewRemoteLocator() *RemoteLocator {
	return &RemoteLocator{clock: time.Now}
}

// Push records a fix from the client and wakes any pending requests.
// highAccuracy marks fixes from the device GPS rather than network sources.
func (r *RemoteLocator) Push(pos Position, highAccuracy bool) {
	r.mu.Lock()
	r.last = pos
	r.lastAt = r.clock()
	r.lastHigh = highAccuracy
	waiters := r.waiters
	r.waiters = nil
	r.mu.Unlock()

	for _, w := range waiters {
		w <- pos
	}
}

// CurrentPosition implements Locator.
func (r *RemoteLocator) CurrentPosition(ctx context.Context, opts Options) (Position, error) {
	r.mu.Lock()
	if !r.lastAt.IsZero() && r.clock().Sub(r.lastAt) <= opts.MaximumAge {
		if !opts.HighAccuracy || r.lastHigh {
			pos := r.last
			r.mu.Unlock()
			return pos, nil
		}
	}

	wait := make(chan Position, 1)
	r.waiters = append(r.waiters, wait)
	r.mu.Unlock()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case pos := <-wait:
		return pos, nil
	case <-timer.C:
		r.drop(wait)
		return Position{}, ErrTimeout
	case <-ctx.Done():
		r.drop(wait)
		return Position{}, ctx.Err()
	}
}

func (r *RemoteLocator) drop(wait chan Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, w := range r.waiters {
		if w == wait {
			r.waiters = append(r.waiters[:i], r.waiters[i+1:]...)
			return
		}
	}
}
