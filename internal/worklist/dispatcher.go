package worklist

import (
	"context"
	"sync"
)

// Dispatcher serialises view state changes onto one goroutine, the way a UI
// thread would. Long work runs elsewhere and posts its result back.
type Dispatcher struct {
	queue chan func()
	once  sync.Once
	done  chan struct{}
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{queue: make(chan func(), 64), done: make(chan struct{})}
}

// Run executes posted functions until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.once.Do(func() { close(d.done) })
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-d.queue:
			fn()
		}
	}
}

// Post queues fn without waiting. It reports false once the loop has stopped.
func (d *Dispatcher) Post(fn func()) bool {
	select {
	case <-d.done:
		return false
	default:
	}
	select {
	case <-d.done:
		return false
	case d.queue <- fn:
		return true
	}
}

// Invoke runs fn on the loop and waits for it.
func (d *Dispatcher) Invoke(fn func()) bool {
	ran := make(chan struct{})
	if !d.Post(func() { fn(); close(ran) }) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-d.done:
		return false
	}
}
