package region

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prober performs a single round trip against a resolved address and
// reports how long it took. Implementations must honour ctx cancellation.
type Prober interface {
	Probe(ctx context.Context, addr string) (time.Duration, error)
}

// Resolver looks up host names. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// PingConfig controls how a region is measured.
type PingConfig struct {
	Attempts             int
	MaxPerAttempt        time.Duration
	IgnoreInitialAttempt bool
	AttemptDelay         time.Duration
	ResolveTimeout       time.Duration
}

// DefaultPingConfig returns the stock probing parameters.
func DefaultPingConfig() PingConfig {
	return PingConfig{
		Attempts:             5,
		MaxPerAttempt:        800 * time.Millisecond,
		IgnoreInitialAttempt: true,
		AttemptDelay:         10 * time.Millisecond,
		ResolveTimeout:       2 * time.Second,
	}
}

// PingWhenFailed is the sentinel ping assigned to unreachable regions.
func (c PingConfig) PingWhenFailed() int {
	return c.Attempts * int(c.MaxPerAttempt/time.Millisecond)
}

func (c PingConfig) withDefaults() PingConfig {
	d := DefaultPingConfig()
	if c.Attempts <= 0 {
		c.Attempts = d.Attempts
	}
	if c.MaxPerAttempt <= 0 {
		c.MaxPerAttempt = d.MaxPerAttempt
	}
	if c.AttemptDelay < 0 {
		c.AttemptDelay = 0
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = d.ResolveTimeout
	}
	return c
}

// Pinger measures one region. Each Pinger runs at most once.
type Pinger struct {
	region   *Region
	prober   Prober
	resolver Resolver
	cfg      PingConfig
	onDone   func(*Pinger)
	logger   zerolog.Logger

	started atomic.Bool
	done    atomic.Bool
	finish  chan struct{}
	attempt atomic.Int32
}

// NewPinger creates a pinger for r. onDone is called from the pinger's
// goroutine after Done reports true.
func NewPinger(r *Region, prober Prober, resolver Resolver, cfg PingConfig, onDone func(*Pinger)) *Pinger {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Pinger{
		region:   r,
		prober:   prober,
		resolver: resolver,
		cfg:      cfg.withDefaults(),
		onDone:   onDone,
		logger:   log.With().Str("component", "region_pinger").Str("region", r.Code).Logger(),
		finish:   make(chan struct{}),
	}
}

// Region returns the region being measured.
func (p *Pinger) Region() *Region { return p.region }

// Done reports whether the pinger finished.
func (p *Pinger) Done() bool { return p.done.Load() }

// CurrentAttempt returns the zero-based attempt in progress.
func (p *Pinger) CurrentAttempt() int { return int(p.attempt.Load()) }

// Wait blocks until the pinger finishes or ctx ends.
func (p *Pinger) Wait(ctx context.Context) error {
	select {
	case <-p.finish:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the measurement. It returns false if already started.
func (p *Pinger) Start(ctx context.Context) bool {
	if !p.started.CompareAndSwap(false, true) {
		return false
	}
	go p.run(ctx)
	return true
}

func (p *Pinger) run(ctx context.Context) {
	defer func() {
		p.done.Store(true)
		close(p.finish)
		if p.onDone != nil {
			p.onDone(p)
		}
	}()

	p.region.SetPing(p.cfg.PingWhenFailed())

	addr, err := p.resolve(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Str("address", p.region.HostAndPort).Msg("failed to resolve region address")
		return
	}

	sum, replies := 0, 0
	for i := 0; i < p.cfg.Attempts; i++ {
		if ctx.Err() != nil {
			return
		}
		p.attempt.Store(int32(i))

		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.MaxPerAttempt)
		rtt, err := p.prober.Probe(attemptCtx, addr)
		cancel()

		switch {
		case i == 0 && p.cfg.IgnoreInitialAttempt:
		case err != nil:
			p.logger.Debug().Err(err).Int("attempt", i).Msg("ping attempt failed")
		case rtt >= p.cfg.MaxPerAttempt:
			p.logger.Debug().Dur("rtt", rtt).Int("attempt", i).Msg("ping attempt over time")
		default:
			sum += int(rtt / time.Millisecond)
			replies++
			p.region.SetPing(sum / replies)
		}

		if p.cfg.AttemptDelay > 0 && i < p.cfg.Attempts-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.AttemptDelay):
			}
		}
	}

	p.logger.Debug().Int("ping", p.region.Ping()).Int("replies", replies).Msg("region ping finished")
}

// resolve turns HostAndPort into an address the prober can dial. Literal
// IPs skip the lookup.
func (p *Pinger) resolve(ctx context.Context) (string, error) {
	host, port, err := splitAddress(p.region.HostAndPort)
	if err != nil {
		return "", err
	}
	if net.ParseIP(host) == nil {
		rctx, cancel := context.WithTimeout(ctx, p.cfg.ResolveTimeout)
		defer cancel()
		addrs, err := p.resolver.LookupHost(rctx, host)
		if err != nil {
			return "", fmt.Errorf("lookup %s: %w", host, err)
		}
		if len(addrs) == 0 {
			return "", fmt.Errorf("lookup %s: no addresses", host)
		}
		host = addrs[0]
	}
	if port == "" {
		return host, nil
	}
	return net.JoinHostPort(host, port), nil
}

// splitAddress accepts "host", "host:port" or a URL like
// "wss://host:port/path" and returns host and optional port.
func splitAddress(address string) (string, string, error) {
	s := address
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?"); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "", "", fmt.Errorf("empty address %q", address)
	}
	if host, port, err := net.SplitHostPort(s); err == nil {
		if host == "" {
			return "", "", fmt.Errorf("empty host in %q", address)
		}
		return host, port, nil
	}
	return strings.Trim(s, "[]"), "", nil
}
