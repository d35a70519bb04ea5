package billpay

import (
	"context"
	"sync"
)

// Query caches the result of fetch until invalidated. Concurrent Get calls on a
// stale query share one fetch.
type Query[T any] struct {
	fetch func(ctx context.Context) (T, error)

	mu            sync.Mutex
	value         T
	fresh         bool
	inflight      chan struct{}
	invalidations int
	fetches       int
}

func NewQuery[T any](fetch func(ctx context.Context) (T, error)) *Query[T] {
	return &Query[T]{fetch: fetch}
}

// Get returns the cached value, fetching it first when stale.
func (q *Query[T]) Get(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if q.fresh {
			v := q.value
			q.mu.Unlock()
			return v, nil
		}
		if wait := q.inflight; wait != nil {
			q.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				var zero T
				return zero, ctx.Err()
			}
		}
		done := make(chan struct{})
		q.inflight = done
		q.fetches++
		gen := q.invalidations
		q.mu.Unlock()

		v, err := q.fetch(ctx)

		q.mu.Lock()
		q.inflight = nil
		if err == nil {
			q.value = v
			// an Invalidate during the fetch leaves the result stale
			q.fresh = q.invalidations == gen
		}
		q.mu.Unlock()
		close(done)
		return v, err
	}
}

// Invalidate marks the cached value stale; the next Get refetches.
func (q *Query[T]) Invalidate() {
	q.mu.Lock()
	q.fresh = false
	q.invalidations++
	q.mu.Unlock()
}

// Refetch invalidates and fetches again.
func (q *Query[T]) Refetch(ctx context.Context) (T, error) {
	q.Invalidate()
	return q.Get(ctx)
}

func (q *Query[T]) Invalidations() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.invalidations
}

func (q *Query[T]) Fetches() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fetches
}
