package utils

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// WorkerPool runs jobs on a bounded number of goroutines, optionally
// pacing job starts with a token-bucket limiter.
type WorkerPool struct {
	semaphore chan struct{}
	limiter   *rate.Limiter
	wg        sync.WaitGroup
}

// NewWorkerPool creates a WorkerPool with the given concurrency. A
// requestsPerSecond of zero or less disables pacing.
func NewWorkerPool(maxWorkers int, requestsPerSecond float64) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	wp := &WorkerPool{semaphore: make(chan struct{}, maxWorkers)}
	if requestsPerSecond > 0 {
		wp.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return wp
}

// Submit enqueues a job for execution in the pool. It blocks while the pool
// is full and returns ctx.Err() without running the job if ctx ends first.
func (wp *WorkerPool) Submit(ctx context.Context, job func(ctx context.Context)) error {
	select {
	case wp.semaphore <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.semaphore }()

		if err := wp.Pace(ctx); err != nil {
			return
		}
		job(ctx)
	}()
	return nil
}

// Pace blocks until the limiter admits another request.
func (wp *WorkerPool) Pace(ctx context.Context) error {
	if wp.limiter == nil {
		return ctx.Err()
	}
	return wp.limiter.Wait(ctx)
}

// Wait blocks until all submitted jobs have completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// IDSet is a thread-safe set for tracking visited listing ids.
type IDSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewIDSet creates an empty IDSet.
func NewIDSet() *IDSet {
	return &IDSet{seen: make(map[string]struct{})}
}

// Add returns true if the id was newly added, false if already present.
func (s *IDSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[id]; exists {
		return false
	}
	s.seen[id] = struct{}{}
	return true
}

// Contains returns true if the id has already been seen.
func (s *IDSet) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[id]
	return exists
}

// Size returns the number of unique ids tracked.
func (s *IDSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
