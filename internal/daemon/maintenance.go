package daemon

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// startMaintenance schedules the retention job on the configured cron spec.
// An empty schedule disables it.
func (d *Daemon) startMaintenance() error {
	spec := d.config.Retention.Schedule
	if spec == "" {
		d.logger.Info().Msg("Retention job disabled")
		return nil
	}

	d.scheduler = cron.New()
	if _, err := d.scheduler.AddFunc(spec, func() { d.runRetention(d.ctx) }); err != nil {
		d.scheduler = nil
		return err
	}
	d.scheduler.Start()

	d.logger.Info().Str("schedule", spec).Msg("Retention job scheduled")
	return nil
}

func (d *Daemon) stopMaintenance() {
	if d.scheduler == nil {
		return
	}
	stopped := d.scheduler.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(shutdownTimeout):
		d.logger.Warn().Msg("Timeout waiting for retention job")
	}
	d.logger.Info().Msg("Retention job stopped")
}

// runRetention prunes idle sessions and old query log rows, then logs
// the lanes that still hold work.
func (d *Daemon) runRetention(ctx context.Context) {
	cfg := d.config.Retention
	started := time.Now()

	if cfg.HistoryDays > 0 {
		pruned, err := d.sessionMgr.Prune(ctx, time.Duration(cfg.HistoryDays)*24*time.Hour)
		if err != nil {
			d.logger.Error().Err(err).Msg("Failed to prune sessions")
		} else if len(pruned) > 0 {
			d.logger.Info().Int("sessions", len(pruned)).Msg("Pruned idle sessions")
		}
	}

	if cfg.QueryLogDays > 0 {
		before := time.Now().AddDate(0, 0, -cfg.QueryLogDays)
		n, err := d.store.PruneQueries(ctx, before)
		if err != nil {
			d.logger.Error().Err(err).Msg("Failed to prune query log")
		} else if n > 0 {
			d.logger.Info().Int64("rows", n).Msg("Pruned query log")
		}
	}

	for lane, stats := range d.queue.GetStats() {
		d.logger.Debug().
			Str("lane", lane).
			Int("queued", stats.Queued).
			Bool("running", stats.Running).
			Msg("Queue stats")
	}

	d.logger.Debug().Dur("duration", time.Since(started)).Msg("Retention job finished")
}
