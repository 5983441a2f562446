package service

import (
	"context"
	"time"

	"price-move-alerts/internal/alerts"
	"price-move-alerts/internal/monitor"
	"price-move-alerts/internal/scheduler"
)

// Watch monitors a single identity until its window elapses. A live record is
// resumed; otherwise a baseline is established first. Cancelling ctx leaves
// the record in place so the next Watch resumes it.
func (s *Service) Watch(ctx context.Context, id monitor.Identity) (monitor.Summary, error) {
	logger := s.logger.With().Str("token", alerts.TruncateToken(id.Token, 6)).Logger()

	if m, ok := s.store.Get(id); ok && s.store.IsLive(id) {
		logger.Info().
			Str("baseline", alerts.FormatPrice(m.BaselinePrice)).
			Dur("remaining", m.Remaining(s.now(), s.opts.Window)).
			Int("fired", len(m.FiredAlerts)).
			Msg("resuming existing monitor")
	} else {
		logger.Info().Msg("fetching initial price to establish baseline")
		if _, err := s.EstablishBaseline(ctx, id); err != nil {
			return monitor.Summary{}, err
		}
	}

	var summary monitor.Summary
	sched := scheduler.New(scheduler.Options{
		Interval:  s.opts.PollInterval,
		JitterPct: s.opts.JitterPct,
		Immediate: true,
	}, s.logger)

	err := sched.Run(ctx, func(ctx context.Context, at time.Time) error {
		if !s.store.IsLive(id) {
			m, ok := s.store.Get(id)
			if !ok {
				logger.Warn().Msg("monitor removed while watching")
				return scheduler.ErrDone
			}
			summary = monitor.Summarize(m, m.BaselineTime.Add(s.opts.Window))
			if _, err := s.store.Remove(id); err != nil {
				logger.Error().Err(err).Msg("failed to remove finished monitor")
			}
			logger.Info().Msg("monitoring window complete")
			if s.summaries != nil {
				s.summaries(ctx, summary)
			}
			return scheduler.ErrDone
		}

		s.pollGroups(ctx, map[string][]monitor.Identity{id.Token: {id}})
		return nil
	})
	if err != nil {
		return monitor.Summary{}, err
	}
	return summary, nil
}
