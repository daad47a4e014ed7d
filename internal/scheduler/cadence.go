package scheduler

import (
	"context"

	"github.com/fernfall/dayline/internal/domain"
)

// ScheduleCadences registers one cron entry per enabled stream connection,
// each enqueueing a cadence-priority sync job on its declared schedule
// (spec §4.6). Call after Attach and before Start so the cron scheduler is
// populated before its goroutines start ticking (cmd/dayline's server does).
func (s *Scheduler) ScheduleCadences(ctx context.Context) error {
	streams, err := s.gw.ListEnabledStreams(ctx)
	if err != nil {
		return err
	}
	for _, sc := range streams {
		sc := sc
		if sc.Cadence == "" {
			continue
		}
		if _, err := s.cron.AddFunc(sc.Cadence, func() {
			target := domain.JobTarget{SourceID: sc.SourceID, StreamKind: sc.StreamKind}
			if _, enqErr := s.EnqueueCadence(context.Background(), target); enqErr != nil {
				s.log.WithContext(context.Background()).WithError(enqErr).Error("enqueue cadence sync job")
			}
		}); err != nil {
			return err
		}
	}
	return nil
}
