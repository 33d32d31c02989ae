package shard

import (
	"context"
	"sync"
)

// ReadyLatch gates client sessions on the upstream READY. Clients connecting
// before the shard has identified block in Wait; once the first READY lands
// the latch stays open for the lifetime of the shard. Reconnects overwrite
// the template but never close the gate again.
type ReadyLatch struct {
	mu       sync.Mutex
	ready    chan struct{}
	open     bool
	template map[string]any
}

func NewReadyLatch() *ReadyLatch {
	return &ReadyLatch{ready: make(chan struct{})}
}

// Set stores the READY template and opens the latch.
func (l *ReadyLatch) Set(template map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.template = template
	if !l.open {
		l.open = true
		close(l.ready)
	}
}

// Wait blocks until the latch opens or the context is done.
func (l *ReadyLatch) Wait(ctx context.Context) error {
	select {
	case <-l.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Template returns the stored READY body. Nil before the first Set.
func (l *ReadyLatch) Template() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.template
}
