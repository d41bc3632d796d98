package concurrency

import (
	"errors"
	"sync"
)

// ErrBusy is returned when another negotiation already holds the guard.
var ErrBusy = errors.New("another negotiation is in progress")

// ConcurrencyGuard lets one task run at a time and rejects the rest
// instead of queueing them.
type ConcurrencyGuard struct {
	mu     sync.Mutex
	isBusy bool
}

func NewConcurrencyGuard() *ConcurrencyGuard {
	return &ConcurrencyGuard{}
}

func (g *ConcurrencyGuard) Execute(task func() error) error {
	if !g.tryAcquire() {
		return ErrBusy
	}
	defer g.release()
	return task()
}

func (g *ConcurrencyGuard) busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.isBusy
}

func (g *ConcurrencyGuard) tryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.isBusy {
		return false
	}
	g.isBusy = true
	return true
}

func (g *ConcurrencyGuard) release() {
	g.mu.Lock()
	g.isBusy = false
	g.mu.Unlock()
}
