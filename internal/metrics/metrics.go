// Package metrics exposes client activity as Prometheus metrics fed from the
// event bus.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/energizer-project/matchlink/internal/events"
)

const namespace = "matchlink"

// Collector counts client activity in its own registry.
type Collector struct {
	registry *prometheus.Registry

	stateTransitions *prometheus.CounterVec
	operations       *prometheus.CounterVec
	disconnects      *prometheus.CounterVec
	roomsJoined      *prometheus.CounterVec
	regionPing       *prometheus.GaugeVec
}

// New creates a Collector with the Go runtime and process collectors
// registered next to the client metrics.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Client state transitions.",
		}, []string{"from", "to"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Operations by outcome.",
		}, []string{"op", "result"}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Disconnects by cause.",
		}, []string{"cause"}),
		roomsJoined: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_joined_total",
			Help:      "Rooms entered, split by whether this client created them.",
		}, []string{"created"}),
		regionPing: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "region_ping_ms",
			Help:      "Last measured round trip per region.",
		}, []string{"region"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.stateTransitions,
		c.operations,
		c.disconnects,
		c.roomsJoined,
		c.regionPing,
	)
	return c
}

// Registry returns the registry backing Handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveState counts a state transition.
func (c *Collector) ObserveState(from, to string) {
	c.stateTransitions.WithLabelValues(from, to).Inc()
}

// ObserveOperation counts an operation outcome.
func (c *Collector) ObserveOperation(op, result string) {
	c.operations.WithLabelValues(op, result).Inc()
}

// ObserveDisconnect counts a disconnect.
func (c *Collector) ObserveDisconnect(cause string) {
	c.disconnects.WithLabelValues(cause).Inc()
}

// ObserveRoomJoined counts an entered room.
func (c *Collector) ObserveRoomJoined(created bool) {
	c.roomsJoined.WithLabelValues(strconv.FormatBool(created)).Inc()
}

// SetRegionPings replaces the per-region gauges. Regions missing from pings
// are dropped.
func (c *Collector) SetRegionPings(pings map[string]int) {
	c.regionPing.Reset()
	for code, ms := range pings {
		c.regionPing.WithLabelValues(code).Set(float64(ms))
	}
}

// Subscribe feeds the collector from bus.
func (c *Collector) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventStateChanged, "metrics", func(_ context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.StateChangedPayload); ok {
			c.ObserveState(p.From, p.To)
		}
		return nil
	})
	bus.Subscribe(events.EventOperationResult, "metrics", func(_ context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.OperationResultPayload); ok {
			c.ObserveOperation(p.Operation, p.Result)
		}
		return nil
	})
	bus.Subscribe(events.EventDisconnected, "metrics", func(_ context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.DisconnectedPayload); ok {
			c.ObserveDisconnect(p.Cause)
		}
		return nil
	})
	bus.Subscribe(events.EventJoinedRoom, "metrics", func(_ context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.RoomPayload); ok {
			c.ObserveRoomJoined(p.Created)
		}
		return nil
	})
	bus.Subscribe(events.EventRegionsPinged, "metrics", func(_ context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.RegionsPingedPayload); ok {
			c.SetRegionPings(p.Pings)
		}
		return nil
	})
}
