// Package scheduler drives sync and transform jobs through a bounded
// worker pool with priority ordering and per-key serialization (spec
// §4.6). It is the only place jobs transition between lifecycle states.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fernfall/dayline/internal/domain"
	"github.com/fernfall/dayline/internal/platform/apperr"
	"github.com/fernfall/dayline/internal/platform/logging"
	"github.com/fernfall/dayline/internal/platform/metrics"
	"github.com/fernfall/dayline/internal/registry"
	"github.com/fernfall/dayline/internal/storage"
	"github.com/fernfall/dayline/internal/streamdriver"
	"github.com/fernfall/dayline/internal/transform"
)

// maxAttempts bounds retry-with-backoff before a job is left failed.
// Only retryable classes (RateLimit, ServerTransient, NetworkTransient)
// retry; every other class fails on its first attempt (spec §4.6/§7).
const maxAttempts = 5

var retryBackoff = []time.Duration{0, 5 * time.Second, 30 * time.Second, 2 * time.Minute, 10 * time.Minute}

// Per-kind overall job deadlines (spec §4.6/§5: "generous, e.g., 10 min for
// sync, 15 min for transform"). Exceeding one cancels the job rather than
// failing it: the storage gateway's current statement and the OAuth
// client's current retry both observe the deadline through ctx.
const (
	syncJobDeadline      = 10 * time.Minute
	transformJobDeadline = 15 * time.Minute
)

func jobDeadline(kind domain.JobKind, from time.Time) time.Time {
	switch kind {
	case domain.JobSync:
		return from.Add(syncJobDeadline)
	case domain.JobTransform:
		return from.Add(transformJobDeadline)
	default:
		return time.Time{}
	}
}

// Scheduler owns the ready-job heap, the worker pool, and cadence-based
// enqueueing. Registry and transform catalog are attached after
// construction (Attach) because the registry's stream factories close over
// this Scheduler's EnqueueTransforms method, creating an init-order cycle
// that two-phase construction breaks.
type Scheduler struct {
	gw  storage.Gateway
	log *logging.Logger

	reg     *registry.Registry
	catalog *transform.Catalog

	mu      sync.Mutex
	cond    *sync.Cond
	queue   priorityQueue
	running map[string]bool // serialization key -> in flight

	workerCount int
	stopped     bool
	wg          sync.WaitGroup

	cron *cron.Cron
}

// New builds a Scheduler with workerCount worker goroutines (spec §5 /
// WORKER_POOL_SIZE, default 6).
func New(gw storage.Gateway, log *logging.Logger, workerCount int) *Scheduler {
	if workerCount <= 0 {
		workerCount = 6
	}
	s := &Scheduler{
		gw:          gw,
		log:         log,
		running:     map[string]bool{},
		workerCount: workerCount,
		cron:        cron.New(),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Attach wires the registry and transform catalog in after both have been
// built (the registry's stream factories are given s.EnqueueTransforms).
func (s *Scheduler) Attach(reg *registry.Registry, catalog *transform.Catalog) {
	s.reg = reg
	s.catalog = catalog
}

// Start loads any jobs left pending from a previous process and spawns the
// worker pool. ctx cancellation stops every worker after its current job
// finishes.
func (s *Scheduler) Start(ctx context.Context) error {
	pending, err := s.gw.ListPendingJobs(ctx)
	if err != nil {
		return apperr.Wrap(apperr.ClassServerTransient, "load pending jobs at startup", err)
	}
	s.mu.Lock()
	for _, job := range pending {
		heap.Push(&s.queue, &queuedJob{job: job})
	}
	s.mu.Unlock()

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	}()
	s.cron.Start()
	return nil
}

// Stop signals every worker to exit after its current job and waits for
// them to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.cond.Broadcast()
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	<-cronCtx.Done()
	s.wg.Wait()
}

// EnqueueManual submits a user-requested job at the highest priority.
func (s *Scheduler) EnqueueManual(ctx context.Context, kind domain.JobKind, target domain.JobTarget) (domain.Job, error) {
	return s.enqueue(ctx, kind, target, domain.PriorityManual, "")
}

// EnqueueCadence submits a cron-triggered sync job.
func (s *Scheduler) EnqueueCadence(ctx context.Context, target domain.JobTarget) (domain.Job, error) {
	return s.enqueue(ctx, domain.JobSync, target, domain.PriorityCadence, "")
}

// EnqueueTransforms implements streamdriver.EnqueueTransforms, scheduling
// one chained transform job per declared target table after a sync (or
// ingest batch) succeeds (spec §4.6's chained-work rule). parentJobID is
// empty when called from the ingest endpoint rather than a running job.
func (s *Scheduler) EnqueueTransforms(ctx context.Context, sourceID, sourceTable string, targetTables []string) error {
	return s.enqueueTransforms(ctx, sourceID, sourceTable, targetTables, "")
}

func (s *Scheduler) enqueueTransforms(ctx context.Context, sourceID, sourceTable string, targetTables []string, parentJobID string) error {
	for _, target := range targetTables {
		if _, err := s.enqueue(ctx, domain.JobTransform, domain.JobTarget{
			SourceID:    sourceID,
			SourceTable: sourceTable,
			TargetTable: target,
		}, domain.PriorityChained, parentJobID); err != nil {
			return err
		}
	}
	return nil
}

var _ streamdriver.EnqueueTransforms = (*Scheduler)(nil).EnqueueTransforms

func (s *Scheduler) enqueue(ctx context.Context, kind domain.JobKind, target domain.JobTarget, priority domain.JobPriority, parentID string) (domain.Job, error) {
	now := time.Now()
	job, err := s.gw.CreateJob(ctx, domain.Job{
		Kind:     kind,
		Target:   target,
		State:    domain.JobPending,
		Priority: priority,
		ParentID: parentID,
		Deadline: jobDeadline(kind, now),
	})
	if err != nil {
		return domain.Job{}, err
	}

	s.mu.Lock()
	heap.Push(&s.queue, &queuedJob{job: job})
	s.cond.Signal()
	s.mu.Unlock()
	return job, nil
}

// worker is one of workerCount goroutines draining the ready-job heap.
func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	for {
		job, ok := s.next(ctx)
		if !ok {
			return
		}
		s.run(ctx, job)
	}
}

// next blocks until a job is ready to run (not colliding with another
// in-flight job's serialization key), the scheduler is stopped, or ctx is
// cancelled.
func (s *Scheduler) next(ctx context.Context) (domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.stopped || ctx.Err() != nil {
			return domain.Job{}, false
		}

		var held []*queuedJob
		for s.queue.Len() > 0 {
			item := heap.Pop(&s.queue).(*queuedJob)
			key := item.job.Target.SerializationKey(item.job.Kind)
			if s.running[key] {
				held = append(held, item)
				continue
			}
			for _, h := range held {
				heap.Push(&s.queue, h)
			}
			s.running[key] = true
			return item.job, true
		}
		for _, h := range held {
			heap.Push(&s.queue, h)
		}

		s.cond.Wait()
	}
}

// run executes one job end to end: mark started, dispatch by kind, finalize
// with retry-or-terminal state, release its serialization key.
func (s *Scheduler) run(ctx context.Context, job domain.Job) {
	key := job.Target.SerializationKey(job.Kind)
	defer func() {
		s.mu.Lock()
		delete(s.running, key)
		s.cond.Broadcast()
		s.mu.Unlock()
	}()

	started := time.Now()
	if err := s.gw.MarkStarted(ctx, job.ID, started); err != nil {
		s.log.WithContext(ctx).WithError(err).Error("mark job started")
		return
	}
	metrics.JobsStarted.WithLabelValues(string(job.Kind)).Inc()

	// runCtx carries the job's overall deadline (spec §4.6): exceeding it
	// propagates through the storage gateway's current statement and the
	// OAuth client's current retry, both of which already select on ctx.
	runCtx := ctx
	if !job.Deadline.IsZero() {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(ctx, job.Deadline)
		defer cancel()
	}

	var runErr error
	switch job.Kind {
	case domain.JobSync:
		runErr = s.runSync(runCtx, job)
	case domain.JobTransform:
		runErr = s.runTransform(runCtx, job)
	default:
		runErr = apperr.New(apperr.ClassValidation, fmt.Sprintf("unknown job kind %q", job.Kind))
	}

	cancelled := runCtx.Err() == context.DeadlineExceeded
	s.finalize(ctx, job, started, runErr, cancelled)
}

// finalize applies spec §7's retry policy: retryable classes (RateLimit,
// ServerTransient, NetworkTransient) retry with backoff up to maxAttempts;
// every other class fails at once, and a sync job failing with AuthError or
// ClientPermanent also flags its source needs_reauth. A
// job whose deadline was exceeded is cancelled outright and never retried
// (spec §4.6/§5, testable property 7): cursors were never advanced because
// the run's own ctx was already dead when it tried to commit anything past
// the deadline.
func (s *Scheduler) finalize(ctx context.Context, job domain.Job, started time.Time, runErr error, cancelled bool) {
	finished := time.Now()
	metrics.JobDuration.WithLabelValues(string(job.Kind)).Observe(finished.Sub(started).Seconds())

	if cancelled {
		metrics.JobsFinished.WithLabelValues(string(job.Kind), "cancelled").Inc()
		msg := "job exceeded its deadline"
		if runErr != nil {
			msg = runErr.Error()
		}
		if err := s.gw.MarkFinished(ctx, job.ID, finished, domain.JobCancelled, msg, string(apperr.ClassOf(runErr))); err != nil {
			s.log.WithContext(ctx).WithError(err).Error("mark job cancelled")
		}
		return
	}

	if runErr == nil {
		metrics.JobsFinished.WithLabelValues(string(job.Kind), "succeeded").Inc()
		if err := s.gw.MarkFinished(ctx, job.ID, finished, domain.JobSucceeded, "", ""); err != nil {
			s.log.WithContext(ctx).WithError(err).Error("mark job finished")
		}
		return
	}

	class := apperr.ClassOf(runErr)
	attempts := job.Attempts + 1
	terminal := !class.Retryable() || attempts >= maxAttempts

	if terminal {
		metrics.JobsFinished.WithLabelValues(string(job.Kind), "failed").Inc()
		if err := s.gw.MarkFinished(ctx, job.ID, finished, domain.JobFailed, runErr.Error(), string(class)); err != nil {
			s.log.WithContext(ctx).WithError(err).Error("mark job failed")
		}
		if job.Kind == domain.JobSync && (class == apperr.ClassAuth || class == apperr.ClassClientPermanent) {
			if err := s.gw.SetNeedsReauth(ctx, job.Target.SourceID, true); err != nil {
				s.log.WithContext(ctx).WithError(err).Error("flag source needs_reauth")
			}
		}
		return
	}

	if err := s.gw.UpdateState(ctx, job.ID, domain.JobPending, runErr.Error(), string(class)); err != nil {
		s.log.WithContext(ctx).WithError(err).Error("reset job to pending for retry")
		return
	}
	delay := retryBackoff[min(attempts, len(retryBackoff)-1)]
	retryJob := job
	retryJob.Attempts = attempts
	retryJob.State = domain.JobPending
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
		if !s.stopped {
			heap.Push(&s.queue, &queuedJob{job: retryJob})
			s.cond.Signal()
		}
		s.mu.Unlock()
	}()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
