package lbot

import "sync"

// broadcaster is a channel-swap condition variable: every waiter reads the
// current channel once and blocks on it, broadcast() closes that channel
// and installs a fresh one. Unlike sync.Cond it composes with select, so
// callers can race a wait against context cancellation or a timer without
// a helper goroutine per wait.
type broadcaster struct {
	mu sync.Mutex
	ch chan struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{ch: make(chan struct{})}
}

func (b *broadcaster) wait() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch
}

func (b *broadcaster) broadcast() {
	b.mu.Lock()
	old := b.ch
	b.ch = make(chan struct{})
	b.mu.Unlock()
	close(old)
}
