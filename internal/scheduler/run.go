package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fernfall/dayline/internal/domain"
	"github.com/fernfall/dayline/internal/platform/apperr"
	"github.com/fernfall/dayline/internal/streamdriver"
)

// transformBatchLimit bounds how many raw (or chained ontology) rows one
// transform job scopes, per spec §4.7 step 2.
const transformBatchLimit = 1000

// runSync executes one sync job: instantiate the stream, pick full-refresh
// vs incremental from the stream connection's stored cursor, run it, and
// append the sync-log row regardless of outcome (spec §4.3, §4.8).
func (s *Scheduler) runSync(ctx context.Context, job domain.Job) error {
	sc, err := s.gw.GetSource(ctx, job.Target.SourceID)
	if err != nil {
		return err
	}
	streamConn, err := s.gw.GetStream(ctx, job.Target.SourceID, job.Target.StreamKind)
	if err != nil {
		return err
	}

	stream, err := s.reg.Instantiate(sc, job.Target.StreamKind)
	if err != nil {
		return apperr.Wrap(apperr.ClassValidation, "instantiate stream", err)
	}

	mode := streamdriver.Incremental()
	if streamConn.Cursor == "" {
		mode = streamdriver.FullRefresh(streamConn.BackfillWindowDays)
	}

	started := time.Now()
	outcome, syncErr := stream.Sync(ctx, mode)
	duration := time.Since(started)

	status := outcome.Status
	errClass := ""
	if syncErr != nil {
		status = "failed"
		errClass = string(apperr.ClassOf(syncErr))
	}
	if ctx.Err() == context.DeadlineExceeded {
		// The job's overall deadline (spec §4.6) fired mid-sync: the
		// cursor in outcome.CursorAfter reflects whatever page boundary
		// was last committed, not advanced past it, so it is safe to log.
		status = "cancelled"
	}

	logErr := s.gw.AppendSyncLog(ctx, domain.SyncLog{
		ID:             uuid.NewString(),
		JobID:          job.ID,
		SourceID:       job.Target.SourceID,
		StreamKind:     job.Target.StreamKind,
		Mode:           mode.Kind,
		StartedAt:      started,
		EndedAt:        started.Add(duration),
		DurationMS:     duration.Milliseconds(),
		RecordsFetched: outcome.RecordsFetched,
		RecordsWritten: outcome.RecordsWritten,
		RecordsFailed:  outcome.RecordsFailed,
		CursorBefore:   outcome.CursorBefore,
		CursorAfter:    outcome.CursorAfter,
		Status:         status,
		ErrorClass:     errClass,
		ErrorMessage:   errMessage(syncErr),
	})
	if logErr != nil {
		s.log.WithContext(ctx).WithError(logErr).Error("append sync log")
	}

	if updErr := s.gw.UpdateLastRun(ctx, job.Target.SourceID, job.Target.StreamKind, started, status); updErr != nil {
		s.log.WithContext(ctx).WithError(updErr).Error("update stream last run")
	}

	return syncErr
}

// runTransform dispatches one transform job via the catalog, then enqueues
// any chained follow-on pairs the transform declared, with this job as
// their parent (spec §4.6/§4.7).
func (s *Scheduler) runTransform(ctx context.Context, job domain.Job) error {
	t, ok := s.catalog.Lookup(job.Target.SourceTable, job.Target.TargetTable)
	if !ok {
		return apperr.New(apperr.ClassValidation, "no transform registered for "+job.Target.SourceTable+" -> "+job.Target.TargetTable)
	}

	result, err := t.Run(ctx, s.gw, job.Target.SourceID, transformBatchLimit)
	if err != nil {
		return err
	}

	for _, chained := range result.ChainedTransforms {
		if err := s.enqueueTransforms(ctx, job.Target.SourceID, chained.SourceTable, []string{chained.TargetTable}, job.ID); err != nil {
			return err
		}
	}
	return nil
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
