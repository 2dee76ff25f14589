package region

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// PingMagicByte prefixes every UDP ping probe and its echo.
const PingMagicByte byte = 0xCA

// DefaultPingPort is used when a region address carries no port.
const DefaultPingPort = 5055

const probeSize = 5

// UDPProber sends a single datagram and waits for its echo.
type UDPProber struct {
	Port int

	seq atomic.Uint32
}

// Probe implements Prober.
func (p *UDPProber) Probe(ctx context.Context, addr string) (time.Duration, error) {
	addr = withDefaultPort(addr, p.port())

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	probe := make([]byte, probeSize)
	probe[0] = PingMagicByte
	id := p.seq.Add(1)
	binary.BigEndian.PutUint32(probe[1:], id)

	start := time.Now()
	if _, err := conn.Write(probe); err != nil {
		return 0, fmt.Errorf("write probe: %w", err)
	}

	buf := make([]byte, 64)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			return 0, fmt.Errorf("read echo: %w", err)
		}
		if n >= probeSize && buf[0] == PingMagicByte && binary.BigEndian.Uint32(buf[1:probeSize]) == id {
			return time.Since(start), nil
		}
	}
}

func (p *UDPProber) port() int {
	if p.Port > 0 {
		return p.Port
	}
	return DefaultPingPort
}

// WSProber measures websocket ping/pong round trips over one cached
// connection per address.
type WSProber struct {
	Secure bool
	Path   string
	Dialer *websocket.Dialer

	mu    sync.Mutex
	conns map[string]*wsProbeConn
}

type wsProbeConn struct {
	conn  *websocket.Conn
	pongs chan string
	seq   atomic.Uint32
}

// Probe implements Prober.
func (p *WSProber) Probe(ctx context.Context, addr string) (time.Duration, error) {
	pc, err := p.conn(ctx, addr)
	if err != nil {
		return 0, err
	}

	payload := strconv.FormatUint(uint64(pc.seq.Add(1)), 10)
	deadline := time.Now().Add(time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	pingStart := time.Now()
	if err := pc.conn.WriteControl(websocket.PingMessage, []byte(payload), deadline); err != nil {
		p.drop(addr, pc)
		return 0, fmt.Errorf("write ping: %w", err)
	}

	for {
		select {
		case got, ok := <-pc.pongs:
			if !ok {
				p.drop(addr, pc)
				return 0, errors.New("probe connection closed")
			}
			if got != payload {
				continue
			}
			return time.Since(pingStart), nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func (p *WSProber) conn(ctx context.Context, addr string) (*wsProbeConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conns == nil {
		p.conns = make(map[string]*wsProbeConn)
	}
	if pc, ok := p.conns[addr]; ok {
		return pc, nil
	}

	scheme := "ws"
	if p.Secure {
		scheme = "wss"
	}
	dialer := p.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	url := scheme + "://" + addr + p.Path
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	pc := &wsProbeConn{conn: conn, pongs: make(chan string, 8)}
	conn.SetPongHandler(func(data string) error {
		select {
		case pc.pongs <- data:
		default:
		}
		return nil
	})
	go func() {
		defer close(pc.pongs)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
	p.conns[addr] = pc
	return pc, nil
}

func (p *WSProber) drop(addr string, pc *wsProbeConn) {
	p.mu.Lock()
	if p.conns[addr] == pc {
		delete(p.conns, addr)
	}
	p.mu.Unlock()
	pc.conn.Close()
}

// Close releases all cached probe connections.
func (p *WSProber) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, pc := range p.conns {
		pc.conn.Close()
		delete(p.conns, addr)
	}
	return nil
}

func withDefaultPort(addr string, port int) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, strconv.Itoa(port))
}
