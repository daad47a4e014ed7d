package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernfall/dayline/internal/domain"
	"github.com/fernfall/dayline/internal/platform/apperr"
	"github.com/fernfall/dayline/internal/platform/logging"
	"github.com/fernfall/dayline/internal/registry"
	"github.com/fernfall/dayline/internal/storage/memstore"
	"github.com/fernfall/dayline/internal/streamdriver"
	"github.com/fernfall/dayline/internal/transform"
)

// countingStream records how many times Sync ran and, when active and
// maxActive are set, the highest number of Sync calls in flight at once so
// tests can assert serialization.
type countingStream struct {
	mu        *sync.Mutex
	count     *int
	fail      apperr.Class
	active    *int
	maxActive *int
}

func (c countingStream) Sync(ctx context.Context, mode streamdriver.Mode) (streamdriver.SyncOutcome, error) {
	c.mu.Lock()
	*c.count++
	if c.active != nil {
		*c.active++
		if *c.active > *c.maxActive {
			*c.maxActive = *c.active
		}
	}
	c.mu.Unlock()
	if c.active != nil {
		time.Sleep(10 * time.Millisecond) // widen the window in which an overlap would show
		c.mu.Lock()
		*c.active--
		c.mu.Unlock()
	}
	if c.fail != "" {
		return streamdriver.SyncOutcome{Status: "failed"}, apperr.New(c.fail, "forced failure")
	}
	return streamdriver.SyncOutcome{Status: "success", RecordsFetched: 1, RecordsWritten: 1}, nil
}

func newTestRegistry(count *int, mu *sync.Mutex, fail apperr.Class) *registry.Registry {
	reg := registry.New()
	reg.Register(registry.SourceKind{
		Name: "google",
		Auth: domain.AuthOAuth,
		Streams: map[string]registry.StreamKind{
			"gmail": {
				Name:         "gmail",
				TargetTables: []string{"social_email"},
				NewStream: func(sc domain.SourceConnection) (streamdriver.Stream, error) {
					return countingStream{mu: mu, count: count, fail: fail}, nil
				},
			},
		},
	})
	return reg
}

func TestScheduler_RunsSyncJobAndRecordsSyncLog(t *testing.T) {
	gw := memstore.New()
	ctx := context.Background()

	sc, err := gw.CreateSource(ctx, domain.SourceConnection{Kind: "google", Auth: domain.AuthOAuth, Active: true})
	require.NoError(t, err)
	_, err = gw.CreateStream(ctx, domain.StreamConnection{SourceID: sc.ID, StreamKind: "gmail", Enabled: true, BackfillWindowDays: 30})
	require.NoError(t, err)

	var mu sync.Mutex
	count := 0
	reg := newTestRegistry(&count, &mu, "")

	sched := New(gw, logging.New("test", "error", "json"), 2)
	sched.Attach(reg, transform.NewCatalog())

	runCtx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sched.Start(runCtx))

	_, err = sched.EnqueueManual(ctx, domain.JobSync, domain.JobTarget{SourceID: sc.ID, StreamKind: "gmail"})
	require.NoError(t, err)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	sched.Stop()
	cancel()

	logs, err := gw.ListSyncLogs(ctx, sc.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "success", logs[0].Status)
}

func TestScheduler_SerializesJobsWithSameKey(t *testing.T) {
	gw := memstore.New()
	ctx := context.Background()

	sc, err := gw.CreateSource(ctx, domain.SourceConnection{Kind: "google", Auth: domain.AuthOAuth, Active: true})
	require.NoError(t, err)
	_, err = gw.CreateStream(ctx, domain.StreamConnection{SourceID: sc.ID, StreamKind: "gmail", Enabled: true, BackfillWindowDays: 30})
	require.NoError(t, err)

	var mu sync.Mutex
	count, active, maxActive := 0, 0, 0
	reg := registry.New()
	reg.Register(registry.SourceKind{
		Name: "google",
		Auth: domain.AuthOAuth,
		Streams: map[string]registry.StreamKind{
			"gmail": {
				Name:         "gmail",
				TargetTables: []string{"social_email"},
				NewStream: func(sc domain.SourceConnection) (streamdriver.Stream, error) {
					return countingStream{mu: &mu, count: &count, active: &active, maxActive: &maxActive}, nil
				},
			},
		},
	})

	sched := New(gw, logging.New("test", "error", "json"), 4)
	sched.Attach(reg, transform.NewCatalog())

	runCtx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sched.Start(runCtx))

	for i := 0; i < 3; i++ {
		_, err := sched.EnqueueManual(ctx, domain.JobSync, domain.JobTarget{SourceID: sc.ID, StreamKind: "gmail"})
		require.NoError(t, err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 3
	})

	sched.Stop()
	cancel()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxActive, "jobs sharing a serialization key must never run concurrently")
}

func TestScheduler_AuthErrorFlagsSourceAndDoesNotRetry(t *testing.T) {
	gw := memstore.New()
	ctx := context.Background()

	sc, err := gw.CreateSource(ctx, domain.SourceConnection{Kind: "google", Auth: domain.AuthOAuth, Active: true})
	require.NoError(t, err)
	_, err = gw.CreateStream(ctx, domain.StreamConnection{SourceID: sc.ID, StreamKind: "gmail", Enabled: true, BackfillWindowDays: 30})
	require.NoError(t, err)

	var mu sync.Mutex
	count := 0
	reg := newTestRegistry(&count, &mu, apperr.ClassAuth)

	sched := New(gw, logging.New("test", "error", "json"), 1)
	sched.Attach(reg, transform.NewCatalog())

	runCtx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sched.Start(runCtx))

	_, err = sched.EnqueueManual(ctx, domain.JobSync, domain.JobTarget{SourceID: sc.ID, StreamKind: "gmail"})
	require.NoError(t, err)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})
	time.Sleep(20 * time.Millisecond) // let finalize() run past the single sync attempt

	sched.Stop()
	cancel()

	updated, err := gw.GetSource(ctx, sc.ID)
	require.NoError(t, err)
	assert.True(t, updated.NeedsReauth)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count, "auth errors must not retry")
}

// blockingStream ignores mode and blocks until ctx is done, returning
// whatever error ctx.Err() produced wrapped as a classified error, the way
// a real driver's provider-native HTTP call or storage write would observe
// a deadline firing mid-request.
type blockingStream struct{}

func (blockingStream) Sync(ctx context.Context, mode streamdriver.Mode) (streamdriver.SyncOutcome, error) {
	<-ctx.Done()
	return streamdriver.SyncOutcome{CursorAfter: "unchanged"}, apperr.Wrap(apperr.ClassServerTransient, "sync interrupted", ctx.Err())
}

// TestScheduler_DeadlineExceededCancelsJob exercises spec §4.6/testable
// property 7: a job whose overall deadline fires mid-run is left
// cancelled, not failed-and-retried, and its sync-log row carries status
// "cancelled".
func TestScheduler_DeadlineExceededCancelsJob(t *testing.T) {
	gw := memstore.New()
	ctx := context.Background()

	sc, err := gw.CreateSource(ctx, domain.SourceConnection{Kind: "google", Auth: domain.AuthOAuth, Active: true})
	require.NoError(t, err)
	_, err = gw.CreateStream(ctx, domain.StreamConnection{SourceID: sc.ID, StreamKind: "gmail", Enabled: true, BackfillWindowDays: 30})
	require.NoError(t, err)

	reg := registry.New()
	reg.Register(registry.SourceKind{
		Name: "google",
		Auth: domain.AuthOAuth,
		Streams: map[string]registry.StreamKind{
			"gmail": {
				Name:         "gmail",
				TargetTables: []string{"social_email"},
				NewStream: func(domain.SourceConnection) (streamdriver.Stream, error) {
					return blockingStream{}, nil
				},
			},
		},
	})

	sched := New(gw, logging.New("test", "error", "json"), 1)
	sched.Attach(reg, transform.NewCatalog())

	job, err := gw.CreateJob(ctx, domain.Job{
		Kind:     domain.JobSync,
		Target:   domain.JobTarget{SourceID: sc.ID, StreamKind: "gmail"},
		State:    domain.JobPending,
		Deadline: time.Now().Add(20 * time.Millisecond),
	})
	require.NoError(t, err)

	sched.run(context.Background(), job)

	updated, err := gw.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCancelled, updated.State)

	logs, err := gw.ListSyncLogs(ctx, sc.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "cancelled", logs[0].Status)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
