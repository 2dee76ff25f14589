package realtime

import (
	"context"
	"errors"
	"time"
)

// DefaultServiceInterval is how often Runner calls Client.Service.
const DefaultServiceInterval = 50 * time.Millisecond

// ErrRunnerStopped is returned for work submitted after Run returned.
var ErrRunnerStopped = errors.New("runner stopped")

// Runner is the foreground pump of a Client. It calls Service on a fixed
// interval and runs submitted work on the same goroutine, so other
// goroutines can drive the client safely.
type Runner struct {
	client   *Client
	interval time.Duration
	tasks    chan func(*Client)
	stopped  chan struct{}
}

// NewRunner creates a runner for c. A zero interval uses
// DefaultServiceInterval.
func NewRunner(c *Client, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = DefaultServiceInterval
	}
	return &Runner{
		client:   c,
		interval: interval,
		tasks:    make(chan func(*Client), 64),
		stopped:  make(chan struct{}),
	}
}

// Client returns the pumped client. Only touch it from submitted work.
func (r *Runner) Client() *Client { return r.client }

// Run pumps until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.stopped)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.client.logger.Debug().Dur("interval", r.interval).Msg("runner started")
	for {
		select {
		case <-ctx.Done():
			r.client.logger.Debug().Msg("runner stopped")
			return nil
		case fn := <-r.tasks:
			fn(r.client)
		case <-ticker.C:
			r.client.Service()
		}
	}
}

// Submit queues fn for the pump goroutine without waiting for it.
func (r *Runner) Submit(fn func(*Client)) error {
	select {
	case <-r.stopped:
		return ErrRunnerStopped
	default:
	}
	select {
	case r.tasks <- fn:
		return nil
	case <-r.stopped:
		return ErrRunnerStopped
	}
}

// Do runs fn on the pump goroutine and waits for it to return.
func (r *Runner) Do(ctx context.Context, fn func(*Client)) error {
	done := make(chan struct{})
	wrapped := func(c *Client) {
		defer close(done)
		fn(c)
	}

	select {
	case r.tasks <- wrapped:
	case <-r.stopped:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-r.stopped:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
