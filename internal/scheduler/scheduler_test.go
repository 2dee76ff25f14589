package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/matchlink/internal/config"
	"github.com/energizer-project/matchlink/internal/control"
	"github.com/energizer-project/matchlink/internal/events"
	"github.com/energizer-project/matchlink/internal/peer"
	"github.com/energizer-project/matchlink/internal/realtime"
)

func newTestScheduler(t *testing.T) (*Scheduler, *config.Config, *events.EventBus) {
	t.Helper()

	c := realtime.NewClient(peer.NewWSPeer(peer.ProtocolWebSocket), realtime.WithLogger(zerolog.Nop()))
	runner := realtime.NewRunner(c, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runner.Run(ctx)
	}()

	bus := events.NewEventBus()
	t.Cleanup(func() {
		cancel()
		<-done
		c.Close()
		bus.Stop()
	})

	cfg := config.DefaultConfig()
	return NewScheduler(cfg, bus, control.New(runner, cfg, nil, "")), cfg, bus
}

func TestNextMaintenance(t *testing.T) {
	s, cfg, _ := newTestScheduler(t)
	loc := time.UTC

	cfg.ApplicationData.Scheduler.CleanupTime = "04:30"
	now := time.Date(2024, 3, 10, 2, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2024, 3, 10, 4, 30, 0, 0, loc), s.nextMaintenance(now))

	now = time.Date(2024, 3, 10, 4, 30, 0, 0, loc)
	assert.Equal(t, time.Date(2024, 3, 11, 4, 30, 0, 0, loc), s.nextMaintenance(now))

	cfg.ApplicationData.Scheduler.CleanupTime = "garbage"
	now = time.Date(2024, 12, 31, 23, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2025, 1, 1, 4, 0, 0, 0, loc), s.nextMaintenance(now))
}

func TestHeartbeatPublishesSnapshot(t *testing.T) {
	s, _, bus := newTestScheduler(t)
	got := make(chan events.Event, 1)
	bus.Subscribe(events.EventHeartbeat, "test", func(_ context.Context, e events.Event) error {
		got <- e
		return nil
	})

	p, err := s.Heartbeat(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "PeerCreated", p.State)
	assert.Empty(t, p.Room)

	select {
	case e := <-got:
		assert.Equal(t, p, e.Payload)
		assert.Equal(t, "scheduler", e.Source)
	case <-time.After(time.Second):
		t.Fatal("no heartbeat event")
	}
}

func TestRunMaintenancePrunesLogs(t *testing.T) {
	s, cfg, _ := newTestScheduler(t)
	dir := t.TempDir()
	cfg.ApplicationData.Logging.Directory = dir
	cfg.ApplicationData.Logging.MaxBackups = 1

	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"matchlink_a.log", "matchlink_b.log", "matchlink_c.log", "other.log"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
		ts := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(path, ts, ts))
	}

	s.RunMaintenance()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"matchlink_c.log", "other.log"}, names)
}

func TestStartStopsOnCancel(t *testing.T) {
	s, cfg, _ := newTestScheduler(t)
	cfg.ApplicationData.Scheduler.HeartbeatSec = 1

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Start(ctx)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
