package region

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/matchlink/internal/protocol"
)

// fastPathFactor bounds how much worse the previous best region may have
// become before every region is measured again.
const fastPathFactor = 1.5

// Handler owns the enabled regions and runs the ping workflow.
type Handler struct {
	prober   Prober
	resolver Resolver
	cfg      PingConfig
	logger   zerolog.Logger

	// PortOverride replaces the port of every region address when non-zero.
	PortOverride int

	mu             sync.Mutex
	regions        []*Region
	bestRegion     *Region
	availableCodes string
	pingers        []*Pinger
	pinging        bool
	previousPing   int
	onComplete     func(*Handler)

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHandler creates an empty handler. A nil resolver uses net.DefaultResolver.
func NewHandler(prober Prober, resolver Resolver, cfg PingConfig) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		prober:   prober,
		resolver: resolver,
		cfg:      cfg.withDefaults(),
		logger:   log.With().Str("component", "region_handler").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Config returns the effective ping configuration.
func (h *Handler) Config() PingConfig { return h.cfg }

// SetRegions loads the region list from a GetRegions response. Parallel
// arrays of codes and addresses are expected; a mismatch leaves the list
// untouched.
func (h *Handler) SetRegions(resp *protocol.OperationResponse) error {
	codes, ok := protocol.AsStrings(resp.Get(protocol.ParamRegion))
	if !ok {
		return fmt.Errorf("region list missing")
	}
	addrs, ok := protocol.AsStrings(resp.Get(protocol.ParamAddress))
	if !ok {
		return fmt.Errorf("region addresses missing")
	}
	return h.SetRegionList(codes, addrs)
}

// SetRegionList replaces the enabled regions.
func (h *Handler) SetRegionList(codes, addrs []string) error {
	if len(codes) != len(addrs) {
		return fmt.Errorf("region list mismatch: %d codes, %d addresses", len(codes), len(addrs))
	}

	regions := make([]*Region, 0, len(codes))
	kept := make([]string, 0, len(codes))
	for i, code := range codes {
		addr := addrs[i]
		if h.PortOverride != 0 {
			addr = ReplacePort(addr, h.PortOverride)
		}
		r := NewRegion(code, addr, h.cfg.PingWhenFailed())
		if r.Code == "" {
			continue
		}
		regions = append(regions, r)
		kept = append(kept, code)
	}
	sort.Strings(kept)

	h.mu.Lock()
	h.regions = regions
	h.bestRegion = nil
	h.availableCodes = strings.Join(kept, ",")
	h.mu.Unlock()

	h.logger.Debug().Int("count", len(regions)).Str("codes", h.availableCodes).Msg("region list updated")
	return nil
}

// Regions returns the enabled regions.
func (h *Handler) Regions() []*Region {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Region(nil), h.regions...)
}

// Infos returns snapshots of all regions ordered by ping.
func (h *Handler) Infos() []Info {
	regions := h.sortedRegions()
	out := make([]Info, len(regions))
	for i, r := range regions {
		out[i] = r.Info()
	}
	return out
}

// AvailableRegionCodes returns the sorted comma separated region codes.
func (h *Handler) AvailableRegionCodes() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.availableCodes
}

// IsPinging reports whether a ping workflow is in flight.
func (h *Handler) IsPinging() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pinging
}

// BestRegion returns the region with the lowest ping, or nil when there
// are no regions. Ties keep list order. The result is cached until the
// list is replaced or a new ping workflow starts.
func (h *Handler) BestRegion() *Region {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bestRegion != nil {
		return h.bestRegion
	}

	var best *Region
	for _, r := range h.regions {
		if best == nil || r.Ping() < best.Ping() {
			best = r
		}
	}
	// pings are still changing
	if !h.pinging {
		h.bestRegion = best
	}
	return best
}

func (h *Handler) sortedRegions() []*Region {
	regions := h.Regions()
	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].Ping() < regions[j].Ping()
	})
	return regions
}

// SummaryToCache returns "bestCode;bestPing;availableCodes", or only the
// available codes when there is no best region.
func (h *Handler) SummaryToCache() string {
	best := h.BestRegion()
	codes := h.AvailableRegionCodes()
	if best == nil {
		return codes
	}
	return Summary{BestCode: best.Code, BestPing: best.Ping(), AvailableCodes: codes}.String()
}

// PingMinimumOfRegions measures the regions and calls onComplete exactly
// once from a pinger goroutine. With a usable previous summary only the
// previous best region is measured, unless it got noticeably worse. It
// returns false when there is nothing to ping or a workflow is running.
func (h *Handler) PingMinimumOfRegions(onComplete func(*Handler), previousSummary string) bool {
	h.mu.Lock()
	if len(h.regions) == 0 {
		h.mu.Unlock()
		h.logger.Error().Msg("no regions available to ping")
		return false
	}
	if h.pinging {
		h.mu.Unlock()
		h.logger.Warn().Msg("region ping skipped, already pinging")
		return false
	}
	h.pinging = true
	h.bestRegion = nil
	h.onComplete = onComplete

	preferred := h.preferredLocked(previousSummary)
	if preferred == nil {
		h.pingAllLocked()
		h.mu.Unlock()
		return true
	}

	h.logger.Debug().Str("region", preferred.Code).Int("previous_ping", h.previousPing).Msg("checking previous best region")
	p := NewPinger(preferred, h.prober, h.resolver, h.cfg, h.onPreferredDone)
	h.pingers = []*Pinger{p}
	h.mu.Unlock()

	p.Start(h.ctx)
	return true
}

// preferredLocked validates the previous summary against the current
// list and returns the region worth re-checking alone.
func (h *Handler) preferredLocked(previous string) *Region {
	s, ok := ParseSummary(previous)
	if !ok {
		return nil
	}
	if !sameCodeSet(h.availableCodes, s.AvailableCodes) {
		return nil
	}
	if s.BestPing >= h.cfg.PingWhenFailed() {
		return nil
	}
	code := strings.ToLower(s.BestCode)
	for _, r := range h.regions {
		if r.Code == code {
			h.previousPing = s.BestPing
			return r
		}
	}
	return nil
}

func (h *Handler) onPreferredDone(p *Pinger) {
	h.mu.Lock()
	if !h.pinging {
		h.mu.Unlock()
		return
	}
	if float64(p.Region().Ping()) > float64(h.previousPing)*fastPathFactor {
		h.logger.Info().
			Str("region", p.Region().Code).
			Int("ping", p.Region().Ping()).
			Int("previous_ping", h.previousPing).
			Msg("previous best region degraded, pinging all regions")
		h.pingAllLocked()
		h.mu.Unlock()
		return
	}
	h.pinging = false
	cb := h.onComplete
	h.onComplete = nil
	h.mu.Unlock()

	if cb != nil {
		cb(h)
	}
}

// pingAllLocked starts one pinger per region. h.mu must be held.
func (h *Handler) pingAllLocked() {
	h.pingers = make([]*Pinger, 0, len(h.regions))
	for _, r := range h.regions {
		h.pingers = append(h.pingers, NewPinger(r, h.prober, h.resolver, h.cfg, h.onRegionDone))
	}
	for _, p := range h.pingers {
		p.Start(h.ctx)
	}
}

func (h *Handler) onRegionDone(*Pinger) {
	h.mu.Lock()
	if !h.pinging {
		h.mu.Unlock()
		return
	}
	for _, p := range h.pingers {
		if !p.Done() {
			h.mu.Unlock()
			return
		}
	}
	h.pinging = false
	cb := h.onComplete
	h.onComplete = nil
	h.mu.Unlock()

	if best := h.BestRegion(); best != nil {
		h.logger.Info().Str("region", best.Code).Int("ping", best.Ping()).Msg("region ping complete")
	}
	if cb != nil {
		cb(h)
	}
}

// Stop cancels any pings in flight. Pending completion still fires once
// the pingers unwind. A stopped handler cannot ping again.
func (h *Handler) Stop() {
	h.cancel()
}

// ReplacePort swaps the port of host:port or a URL address.
func ReplacePort(address string, port int) string {
	scheme, rest := "", address
	if i := strings.Index(rest, "://"); i >= 0 {
		scheme, rest = rest[:i+3], rest[i+3:]
	}
	suffix := ""
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		rest, suffix = rest[:i], rest[i:]
	}
	host := rest
	if h, _, err := net.SplitHostPort(rest); err == nil {
		host = h
	}
	return scheme + net.JoinHostPort(host, strconv.Itoa(port)) + suffix
}
