package worklist

import (
	"context"
	"errors"
	"sync"
)

var ErrBusy = errors.New("command is already running")
var ErrCannotExecute = errors.New("command cannot execute now")

// Command is an asynchronous user action with at most one run in flight.
type Command struct {
	mu         sync.Mutex
	running    bool
	run        func(ctx context.Context) error
	canExecute func() bool
}

func NewCommand(run func(ctx context.Context) error, canExecute func() bool) *Command {
	return &Command{run: run, canExecute: canExecute}
}

func (c *Command) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Command) CanExecute() bool {
	if c.IsRunning() {
		return false
	}
	return c.canExecute == nil || c.canExecute()
}

// Start launches the command on its own goroutine. The returned channel
// yields the result once and is then closed.
func (c *Command) Start(ctx context.Context) (<-chan error, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	if c.canExecute != nil && !c.canExecute() {
		c.mu.Unlock()
		return nil, ErrCannotExecute
	}
	c.running = true
	c.mu.Unlock()

	out := make(chan error, 1)
	go func() {
		defer close(out)
		err := c.run(ctx)
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		out <- err
	}()
	return out, nil
}

// Execute starts the command and waits for it.
func (c *Command) Execute(ctx context.Context) error {
	done, err := c.Start(ctx)
	if err != nil {
		return err
	}
	return <-done
}
