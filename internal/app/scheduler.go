package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

// newSchedule parses a five-field cron expression (minute through weekday).
func newSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return schedule, nil
}

// scheduler re-runs the configured swap at each cron boundary.
type scheduler struct {
	schedule cron.Schedule
	clock    clockwork.Clock
	logger   *slog.Logger
	run      func(ctx context.Context)
}

// loop fires run at each schedule boundary until ctx is cancelled. Runs are
// sequential: a boundary that passes while run is still executing does not
// start a second run, the loop just arms the next one.
func (s *scheduler) loop(ctx context.Context) error {
	for {
		now := s.clock.Now()
		next := s.schedule.Next(now)
		s.logger.Info("next scheduled swap", "at", next.UTC().Format(time.RFC3339))

		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(next.Sub(now)):
			s.run(ctx)
		}
	}
}
