package engine

import "sync"

// pathQueue runs jobs for the same key one at a time, in the order they were
// enqueued. Jobs for different keys run concurrently. A key is forgotten once
// its last job finishes.
type pathQueue struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

// enqueue starts fn in a new goroutine once every job enqueued earlier for key
// has finished.
func (q *pathQueue) enqueue(key string, fn func()) {
	done := make(chan struct{})

	q.mu.Lock()
	if q.tails == nil {
		q.tails = make(map[string]chan struct{})
	}
	prev := q.tails[key]
	q.tails[key] = done
	q.mu.Unlock()

	go func() {
		if prev != nil {
			<-prev
		}
		fn()

		q.mu.Lock()
		if q.tails[key] == done {
			delete(q.tails, key)
		}
		q.mu.Unlock()
		close(done)
	}()
}

// len returns the number of keys with queued or running jobs.
func (q *pathQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tails)
}
