package engine

import (
	"context"
	"sync"
)

// pendingWork counts background file operations. Unlike sync.WaitGroup it
// allows new work to be added while someone is waiting, and waiting honors a
// context.
type pendingWork struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func (p *pendingWork) add() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.n == 0 {
		p.idle = make(chan struct{})
	}
	p.n++
}

func (p *pendingWork) done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n--
	if p.n == 0 {
		close(p.idle)
	}
}

// wait blocks until no work is pending or ctx is done.
func (p *pendingWork) wait(ctx context.Context) error {
	p.mu.Lock()
	if p.n == 0 {
		p.mu.Unlock()
		return nil
	}
	idle := p.idle
	p.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
