package region

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/matchlink/internal/protocol"
)

const (
	euAddr   = "10.0.0.1:5055"
	usAddr   = "10.0.0.2:5055"
	asiaAddr = "10.0.0.3:5055"
)

func newTestHandler(t *testing.T, prober Prober) *Handler {
	t.Helper()
	h := NewHandler(prober, nil, testPingConfig())
	t.Cleanup(h.Stop)
	require.NoError(t, h.SetRegionList(
		[]string{"eu", "us", "asia"},
		[]string{euAddr, usAddr, asiaAddr},
	))
	return h
}

func pingAndWait(t *testing.T, h *Handler, previous string) int32 {
	t.Helper()
	var calls atomic.Int32
	done := make(chan struct{}, 4)
	require.True(t, h.PingMinimumOfRegions(func(*Handler) {
		calls.Add(1)
		done <- struct{}{}
	}, previous))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("region ping did not complete")
	}
	time.Sleep(20 * time.Millisecond)
	assert.False(t, h.IsPinging())
	return calls.Load()
}

func TestHandlerFastPathKeepsPreviousBest(t *testing.T) {
	prober := newFakeProber(map[string][]probeResult{
		euAddr:   {ok(50)},
		usAddr:   {ok(10)},
		asiaAddr: {ok(10)},
	})
	h := newTestHandler(t, prober)

	calls := pingAndWait(t, h, "eu;45;eu,us,asia")

	assert.Equal(t, int32(1), calls)
	assert.Zero(t, prober.callCount(usAddr))
	assert.Zero(t, prober.callCount(asiaAddr))
	assert.Equal(t, "eu", h.BestRegion().Code)
	assert.Equal(t, "eu;50;asia,eu,us", h.SummaryToCache())
}

func TestHandlerDegradedPreviousBestPingsAll(t *testing.T) {
	prober := newFakeProber(map[string][]probeResult{
		euAddr:   {ok(80)},
		usAddr:   {ok(30)},
		asiaAddr: {ok(120)},
	})
	h := newTestHandler(t, prober)

	calls := pingAndWait(t, h, "eu;45;eu,us,asia")

	assert.Equal(t, int32(1), calls)
	assert.Positive(t, prober.callCount(usAddr))
	assert.Positive(t, prober.callCount(asiaAddr))
	assert.Equal(t, "us", h.BestRegion().Code)
	assert.Equal(t, "us;30;asia,eu,us", h.SummaryToCache())
}

func TestHandlerFastPathBoundary(t *testing.T) {
	tests := []struct {
		name    string
		ping    int
		pingAll bool
	}{
		{"at the limit", 67, false},
		{"past the limit", 68, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := newFakeProber(map[string][]probeResult{
				euAddr:   {ok(tt.ping)},
				usAddr:   {ok(20)},
				asiaAddr: {ok(90)},
			})
			h := newTestHandler(t, prober)

			calls := pingAndWait(t, h, "eu;45;eu,us,asia")

			assert.Equal(t, int32(1), calls)
			if tt.pingAll {
				assert.Positive(t, prober.callCount(usAddr))
				assert.Positive(t, prober.callCount(asiaAddr))
				assert.Equal(t, "us", h.BestRegion().Code)
				return
			}
			assert.Zero(t, prober.callCount(usAddr))
			assert.Zero(t, prober.callCount(asiaAddr))
			assert.Equal(t, "eu", h.BestRegion().Code)
			assert.Equal(t, tt.ping, h.BestRegion().Ping())
		})
	}
}

func TestHandlerBestRegionCache(t *testing.T) {
	prober := newFakeProber(map[string][]probeResult{
		euAddr:   {ok(40)},
		usAddr:   {ok(25)},
		asiaAddr: {ok(90)},
	})
	h := newTestHandler(t, prober)
	assert.Nil(t, h.bestRegion)

	pingAndWait(t, h, "")
	best := h.BestRegion()
	require.NotNil(t, best)
	assert.Equal(t, "us", best.Code)
	assert.Same(t, best, h.bestRegion)

	// a cached result ignores later changes until the list is reset
	h.Regions()[0].SetPing(1)
	assert.Same(t, best, h.BestRegion())

	require.NoError(t, h.SetRegionList([]string{"asia"}, []string{asiaAddr}))
	assert.Nil(t, h.bestRegion)
	assert.Equal(t, "asia", h.BestRegion().Code)

	pingAndWait(t, h, "")
	assert.Equal(t, "asia", h.BestRegion().Code)
	assert.Equal(t, 90, h.BestRegion().Ping())
}

func TestHandlerFallsBackToFullPing(t *testing.T) {
	tests := []struct {
		name     string
		previous string
	}{
		{"empty", ""},
		{"too few parts", "eu;45"},
		{"ping not a number", "eu;fast;asia,eu,us"},
		{"empty best code", ";45;asia,eu,us"},
		{"region set changed", "eu;45;eu,us"},
		{"unknown best region", "sa;45;asia,eu,us"},
		{"previous failed", "eu;4000;asia,eu,us"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := newFakeProber(map[string][]probeResult{
				euAddr:   {ok(40)},
				usAddr:   {ok(25)},
				asiaAddr: {ok(90)},
			})
			h := newTestHandler(t, prober)

			calls := pingAndWait(t, h, tt.previous)

			assert.Equal(t, int32(1), calls)
			assert.Positive(t, prober.callCount(usAddr))
			assert.Positive(t, prober.callCount(asiaAddr))
			assert.Equal(t, "us", h.BestRegion().Code)
		})
	}
}

func TestHandlerRejectsConcurrentPing(t *testing.T) {
	prober := newFakeProber(map[string][]probeResult{euAddr: {ok(20)}})
	prober.block = make(chan struct{})
	h := newTestHandler(t, prober)

	done := make(chan struct{})
	require.True(t, h.PingMinimumOfRegions(func(*Handler) { close(done) }, ""))
	assert.True(t, h.IsPinging())
	assert.False(t, h.PingMinimumOfRegions(func(*Handler) { t.Error("second workflow must not run") }, ""))

	close(prober.block)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("region ping did not complete")
	}
	assert.Equal(t, "eu", h.BestRegion().Code)
}

func TestHandlerEmptyList(t *testing.T) {
	h := NewHandler(newFakeProber(nil), nil, testPingConfig())
	defer h.Stop()

	assert.False(t, h.PingMinimumOfRegions(func(*Handler) {}, ""))
	assert.Nil(t, h.BestRegion())
	assert.Equal(t, "", h.SummaryToCache())
}

func TestHandlerSummaryWithoutMeasurements(t *testing.T) {
	h := newTestHandler(t, newFakeProber(nil))

	assert.Equal(t, "eu", h.BestRegion().Code, "equal pings keep list order")
	assert.Equal(t, "eu;4000;asia,eu,us", h.SummaryToCache())
}

func TestHandlerSetRegions(t *testing.T) {
	h := NewHandler(newFakeProber(nil), nil, testPingConfig())
	defer h.Stop()
	h.PortOverride = 5056

	err := h.SetRegions(&protocol.OperationResponse{
		OperationCode: protocol.OpGetRegions,
		Parameters: protocol.Params{
			protocol.ParamRegion:  []interface{}{"EU/cluster-a", "us", ""},
			protocol.ParamAddress: []interface{}{"10.0.0.1:5055", "wss://us.example:19090/ping", "10.0.0.9:5055"},
		},
	})
	require.NoError(t, err)

	regions := h.Regions()
	require.Len(t, regions, 2)
	assert.Equal(t, "eu", regions[0].Code)
	assert.Equal(t, "cluster-a", regions[0].Cluster)
	assert.Equal(t, "10.0.0.1:5056", regions[0].HostAndPort)
	assert.Equal(t, "wss://us.example:5056/ping", regions[1].HostAndPort)
	assert.Equal(t, "EU/cluster-a,us", h.AvailableRegionCodes())

	err = h.SetRegions(&protocol.OperationResponse{
		Parameters: protocol.Params{
			protocol.ParamRegion:  []string{"eu"},
			protocol.ParamAddress: []string{"a", "b"},
		},
	})
	assert.Error(t, err)
	assert.Len(t, h.Regions(), 2, "mismatched lists leave regions untouched")

	assert.Error(t, h.SetRegions(&protocol.OperationResponse{}))
}

func TestParseSummary(t *testing.T) {
	s, ok := ParseSummary("eu;45;asia,eu,us")
	require.True(t, ok)
	assert.Equal(t, Summary{BestCode: "eu", BestPing: 45, AvailableCodes: "asia,eu,us"}, s)
	assert.Equal(t, "eu;45;asia,eu,us", s.String())

	for _, bad := range []string{"", "eu", "eu;x;asia", "eu;45;", ";45;eu"} {
		_, ok := ParseSummary(bad)
		assert.False(t, ok, bad)
	}
}

func TestReplacePort(t *testing.T) {
	assert.Equal(t, "10.0.0.1:9000", ReplacePort("10.0.0.1:5055", 9000))
	assert.Equal(t, "host:9000", ReplacePort("host", 9000))
	assert.Equal(t, "wss://host:9000/path", ReplacePort("wss://host:19090/path", 9000))
	assert.Equal(t, "[::1]:9000", ReplacePort("[::1]:5055", 9000))
}
