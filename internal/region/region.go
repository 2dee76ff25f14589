// Package region selects the lowest-latency region out of the list handed
// out by the name server. Each region is probed by its own Pinger; the
// Handler orchestrates them and produces a summary string that can be
// persisted and fed back to skip a full re-ping on the next connect.
package region

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
)

// Region is one candidate cluster. Ping is updated concurrently by a
// Pinger, so it is only reachable through accessors.
type Region struct {
	Code        string
	Cluster     string
	HostAndPort string

	ping atomic.Int64
}

// NewRegion builds a region from "code" or "code/cluster" and its master
// server address. Ping starts at the failure sentinel.
func NewRegion(codeAndCluster, hostAndPort string, pingWhenFailed int) *Region {
	r := &Region{HostAndPort: hostAndPort}
	code, cluster, _ := strings.Cut(codeAndCluster, "/")
	r.Code = strings.ToLower(strings.TrimSpace(code))
	r.Cluster = cluster
	r.ping.Store(int64(pingWhenFailed))
	return r
}

// Ping returns the current round-trip estimate in milliseconds.
func (r *Region) Ping() int {
	return int(r.ping.Load())
}

// SetPing updates the round-trip estimate.
func (r *Region) SetPing(ms int) {
	r.ping.Store(int64(ms))
}

func (r *Region) String() string {
	if r.Cluster != "" {
		return fmt.Sprintf("%s/%s: %dms (%s)", r.Code, r.Cluster, r.Ping(), r.HostAndPort)
	}
	return fmt.Sprintf("%s: %dms (%s)", r.Code, r.Ping(), r.HostAndPort)
}

// Info is a point-in-time copy of a region for display.
type Info struct {
	Code    string `json:"code"`
	Cluster string `json:"cluster,omitempty"`
	Address string `json:"address"`
	Ping    int    `json:"ping_ms"`
}

// Info returns a snapshot of the region.
func (r *Region) Info() Info {
	return Info{Code: r.Code, Cluster: r.Cluster, Address: r.HostAndPort, Ping: r.Ping()}
}

// Summary is the parsed form of a persisted "code;ping;csv" string.
type Summary struct {
	BestCode       string
	BestPing       int
	AvailableCodes string
}

// ParseSummary parses a previous summary. It returns false for empty or
// malformed input.
func ParseSummary(s string) (Summary, bool) {
	if s == "" {
		return Summary{}, false
	}
	parts := strings.Split(s, ";")
	if len(parts) < 3 {
		return Summary{}, false
	}
	ping, err := strconv.Atoi(parts[1])
	if err != nil {
		return Summary{}, false
	}
	if parts[0] == "" || parts[2] == "" {
		return Summary{}, false
	}
	return Summary{BestCode: parts[0], BestPing: ping, AvailableCodes: parts[2]}, true
}

func (s Summary) String() string {
	return fmt.Sprintf("%s;%d;%s", s.BestCode, s.BestPing, s.AvailableCodes)
}

// sameCodeSet compares two comma separated code lists ignoring order.
func sameCodeSet(a, b string) bool {
	return normalizeCodes(a) == normalizeCodes(b)
}

func normalizeCodes(csv string) string {
	codes := strings.Split(csv, ",")
	for i := range codes {
		codes[i] = strings.ToLower(strings.TrimSpace(codes[i]))
	}
	sort.Strings(codes)
	return strings.Join(codes, ",")
}
