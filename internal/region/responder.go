package region

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog/log"
)

// Responder echoes UDP ping probes so a local deployment can be measured
// like a real region.
type Responder struct {
	addr string

	mu   sync.Mutex
	conn net.PacketConn
}

// NewResponder creates a responder bound to addr, e.g. ":5055".
func NewResponder(addr string) *Responder {
	return &Responder{addr: addr}
}

// Listen binds the socket. It must be called before Serve.
func (r *Responder) Listen(ctx context.Context) error {
	lc := reuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp", r.addr)
	if err != nil {
		return fmt.Errorf("failed to start ping responder on %s: %w", r.addr, err)
	}
	r.mu.Lock()
	r.conn = pc
	r.mu.Unlock()
	log.Info().Str("address", pc.LocalAddr().String()).Msg("ping responder started")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (r *Responder) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Serve answers probes until ctx is cancelled.
func (r *Responder) Serve(ctx context.Context) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("ping responder not listening")
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 64)
	for {
		n, remote, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("ping responder stopping")
				return nil
			default:
				log.Error().Err(err).Msg("ping responder read error")
				continue
			}
		}
		if n < probeSize || buf[0] != PingMagicByte {
			continue
		}
		if _, err := conn.WriteTo(buf[:n], remote); err != nil {
			log.Warn().Err(err).Str("remote", remote.String()).Msg("failed to echo ping probe")
			continue
		}
		log.Trace().Str("remote", remote.String()).Msg("echoed ping probe")
	}
}

// Stop closes the socket.
func (r *Responder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
