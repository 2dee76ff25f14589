package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Keep-alive defaults.
const (
	DefaultKeepAliveInBackground = 60 * time.Second
	DefaultKeepAliveTick         = 50 * time.Millisecond
	keepAliveAckAfter            = 200 * time.Millisecond
)

// ConnectionHandler keeps a connection alive while the pump is stalled,
// for example while the application loads. It sends acks only and stops
// doing so once the pump has not run for KeepAliveInBackground, letting
// the server time the client out.
type ConnectionHandler struct {
	client *Client

	KeepAliveInBackground time.Duration
	Tick                  time.Duration

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	acksSent atomic.Int64
}

// NewConnectionHandler creates a stopped handler for c.
func NewConnectionHandler(c *Client) *ConnectionHandler {
	return &ConnectionHandler{
		client:                c,
		KeepAliveInBackground: DefaultKeepAliveInBackground,
		Tick:                  DefaultKeepAliveTick,
	}
}

// Start runs the keep-alive loop until ctx is done or Stop is called.
// Starting a running handler does nothing.
func (h *ConnectionHandler) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})
	go h.loop(ctx, h.done)
}

// Stop ends the loop and waits for it.
func (h *ConnectionHandler) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// AcksSent returns how many keep-alive acks were sent.
func (h *ConnectionHandler) AcksSent() int64 {
	return h.acksSent.Load()
}

func (h *ConnectionHandler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	tick := h.Tick
	if tick <= 0 {
		tick = DefaultKeepAliveTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if h.keepAlive(now) {
				h.acksSent.Add(1)
			}
		}
	}
}

// keepAlive sends acks when the client is connected, nothing was sent
// recently, and the pump ran within KeepAliveInBackground.
func (h *ConnectionHandler) keepAlive(now time.Time) bool {
	c := h.client
	if !c.IsConnected() {
		return false
	}
	if now.Sub(c.LastService()) > h.KeepAliveInBackground {
		return false
	}
	if now.Sub(c.peer.LastSendOutgoing()) < keepAliveAckAfter {
		return false
	}
	return c.SendAcksOnly()
}
