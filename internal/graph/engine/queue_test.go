package engine

import (
	"sync"
	"testing"
	"time"
)

func TestPathQueue_RunsSameKeyInOrder(t *testing.T) {
	var (
		q   pathQueue
		mu  sync.Mutex
		got []int
		wg  sync.WaitGroup
	)

	for i := range 100 {
		wg.Add(1)
		q.enqueue("same", func() {
			defer wg.Done()
			// Early jobs sleep longer, so only the queue keeps them first.
			time.Sleep(time.Duration(100-i) * 10 * time.Microsecond)
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	wg.Wait()

	for i, v := range got {
		if v != i {
			t.Fatalf("job %d ran at position %d: %v", v, i, got)
		}
	}
}

func TestPathQueue_OtherKeysDoNotWait(t *testing.T) {
	var q pathQueue
	release := make(chan struct{})
	q.enqueue("slow", func() { <-release })

	done := make(chan struct{})
	q.enqueue("fast", func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job on another key waited for the slow key")
	}
	close(release)
}

func TestPathQueue_ForgetsIdleKeys(t *testing.T) {
	var q pathQueue
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		q.enqueue(string(rune('a'+i%10)), wg.Done)
	}
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for q.len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("%d keys retained after every job finished", q.len())
		}
		time.Sleep(time.Millisecond)
	}
}
