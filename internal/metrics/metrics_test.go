package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/matchlink/internal/events"
)

func TestCollectorFromBus(t *testing.T) {
	c := New()
	bus := events.NewEventBus()
	defer bus.Stop()
	c.Subscribe(bus)

	ctx := context.Background()
	emit := func(typ events.EventType, payload interface{}) {
		require.NoError(t, bus.EmitSync(ctx, events.NewEvent(typ, "test", payload)))
	}

	emit(events.EventStateChanged, events.StateChangedPayload{From: "PeerCreated", To: "ConnectingToNameServer"})
	emit(events.EventStateChanged, events.StateChangedPayload{From: "PeerCreated", To: "ConnectingToNameServer"})
	emit(events.EventOperationResult, events.OperationResultPayload{Operation: "JoinLobby", Result: "rejected"})
	emit(events.EventDisconnected, events.DisconnectedPayload{Cause: "ClientTimeout"})
	emit(events.EventJoinedRoom, events.RoomPayload{Name: "r1", Created: true})
	emit(events.EventRegionsPinged, events.RegionsPingedPayload{Pings: map[string]int{"eu": 12, "us": 80}})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.stateTransitions.WithLabelValues("PeerCreated", "ConnectingToNameServer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("JoinLobby", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.disconnects.WithLabelValues("ClientTimeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.roomsJoined.WithLabelValues("true")))
	assert.Equal(t, 12.0, testutil.ToFloat64(c.regionPing.WithLabelValues("eu")))

	emit(events.EventRegionsPinged, events.RegionsPingedPayload{Pings: map[string]int{"asia": 140}})
	assert.Equal(t, 1, testutil.CollectAndCount(c.regionPing))
}

func TestHandlerServesMetrics(t *testing.T) {
	c := New()
	c.ObserveDisconnect("ServerTimeout")

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `matchlink_disconnects_total{cause="ServerTimeout"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
