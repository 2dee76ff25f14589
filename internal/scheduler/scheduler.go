// Package scheduler runs the periodic background tasks of matchlink: the
// client heartbeat and the daily maintenance.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/matchlink/internal/config"
	"github.com/energizer-project/matchlink/internal/control"
	"github.com/energizer-project/matchlink/internal/events"
	"github.com/energizer-project/matchlink/internal/util"
)

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg      *config.Config
	eventBus *events.EventBus
	control  *control.Controller
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg *config.Config, eventBus *events.EventBus, ctl *control.Controller) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		eventBus: eventBus,
		control:  ctl,
	}
}

// Start runs all scheduled tasks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	if sec := s.cfg.GetApplicationData().Scheduler.HeartbeatSec; sec > 0 {
		go s.runHeartbeatLoop(ctx, time.Duration(sec)*time.Second)
	}
	go s.runMaintenanceLoop(ctx)

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runHeartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Heartbeat(ctx); err != nil {
				log.Debug().Err(err).Msg("heartbeat skipped")
			}
		}
	}
}

// Heartbeat publishes a snapshot of the client and the host load.
func (s *Scheduler) Heartbeat(ctx context.Context) (events.HeartbeatPayload, error) {
	status, err := s.control.Status(ctx)
	if err != nil {
		return events.HeartbeatPayload{}, err
	}

	p := events.HeartbeatPayload{
		State:  status.State,
		Server: status.Server,
		Region: status.Region,
	}
	if status.Room != nil {
		p.Room = status.Room.Name
		p.Players = len(status.Room.Players)
	}

	usage, err := util.GetResourceUsage("")
	if err != nil {
		log.Debug().Err(err).Msg("resource usage incomplete")
	}
	p.CPUPercent = usage.CPUPercent
	p.MemoryPercent = usage.MemoryPercent

	s.eventBus.Emit(ctx, events.NewEvent(events.EventHeartbeat, "scheduler", p))
	return p, nil
}

func (s *Scheduler) runMaintenanceLoop(ctx context.Context) {
	for {
		nextRun := s.nextMaintenance(time.Now())
		log.Info().
			Time("next_run", nextRun).
			Msg("maintenance scheduled")

		timer := time.NewTimer(time.Until(nextRun))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.RunMaintenance()
		}
	}
}

// RunMaintenance prunes old log files and reports the day's disconnects.
func (s *Scheduler) RunMaintenance() {
	logging := s.cfg.GetApplicationData().Logging
	removed := util.CleanOldLogs(logging.Directory, logging.MaxBackups)

	evt := log.Info().Int("removed_logs", removed)
	if records, err := s.control.History(s.cfg.GetApplicationData().Storage.HistoryLimit); err == nil {
		cutoff := time.Now().Add(-24 * time.Hour)
		recent := 0
		for _, r := range records {
			if r.Time.After(cutoff) {
				recent++
			}
		}
		evt = evt.Int("disconnects_24h", recent)
	}
	evt.Msg("maintenance completed")
}

// nextMaintenance returns the next configured run time after now.
func (s *Scheduler) nextMaintenance(now time.Time) time.Time {
	hour, minute, err := config.ParseClock(s.cfg.GetApplicationData().Scheduler.CleanupTime)
	if err != nil {
		hour, minute = 4, 0
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
