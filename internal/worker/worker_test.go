package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luqma-backoffice/backend/internal/reconcile"
	"github.com/luqma-backoffice/backend/pkg/queue"
)

type fakeQueue struct {
	mu      sync.Mutex
	pending []*queue.Job
	retried []*queue.Job
}

func (q *fakeQueue) Dequeue(ctx context.Context) (*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
			return nil, nil
		}
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	return job, nil
}

func (q *fakeQueue) Retry(_ context.Context, job *queue.Job, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Attempt++
	job.LastError = cause.Error()
	q.retried = append(q.retried, job)
	return nil
}

func (q *fakeQueue) retriedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.retried)
}

type fakeReconciler struct {
	mu   sync.Mutex
	seen []string
	fail map[string]bool
}

func (r *fakeReconciler) ReconcilePrincipal(_ context.Context, uid string) (reconcile.PrincipalResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, uid)
	if r.fail[uid] {
		return reconcile.PrincipalResult{UID: uid}, errors.New("authority unavailable")
	}
	return reconcile.PrincipalResult{UID: uid, Drifted: true}, nil
}

func (r *fakeReconciler) seenUIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func resyncJob(t *testing.T, uid string) *queue.Job {
	t.Helper()
	job, err := queue.NewJob(queue.JobTypeClaimsResync, queue.ClaimsResyncPayload{UID: uid, Reason: "invite"})
	require.NoError(t, err)
	return job
}

func TestProcess(t *testing.T) {
	rec := &fakeReconciler{fail: map[string]bool{"bad": true}}
	p := NewClaimsResyncProcessor(rec, &fakeQueue{}, nil)
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, resyncJob(t, "u1")))
	assert.Error(t, p.Process(ctx, resyncJob(t, "bad")))
	assert.Error(t, p.Process(ctx, &queue.Job{ID: "x", Type: "email"}))
	assert.Error(t, p.Process(ctx, resyncJob(t, "")))
	assert.Equal(t, []string{"u1", "bad"}, rec.seenUIDs())
}

func TestRun_RetriesFailedJobs(t *testing.T) {
	q := &fakeQueue{}
	q.pending = []*queue.Job{resyncJob(t, "u1"), resyncJob(t, "bad"), resyncJob(t, "u2")}
	rec := &fakeReconciler{fail: map[string]bool{"bad": true}}
	p := NewClaimsResyncProcessor(rec, q, nil)
	p.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(rec.seenUIDs()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	require.Equal(t, 1, q.retriedCount())
	assert.Equal(t, 1, q.retried[0].Attempt)
	assert.Contains(t, q.retried[0].LastError, "authority unavailable")
}

type countingReconciler struct {
	mu   sync.Mutex
	runs int
}

func (c *countingReconciler) Run(context.Context, reconcile.Options) (*reconcile.Report, error) {
	c.mu.Lock()
	c.runs++
	c.mu.Unlock()
	return &reconcile.Report{}, nil
}

func (c *countingReconciler) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

func TestReconcileScheduler(t *testing.T) {
	job := &countingReconciler{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewReconcileScheduler(job, 5*time.Millisecond, reconcile.Options{}, nil).Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return job.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	NewReconcileScheduler(job, 0, reconcile.Options{}, nil).Run(context.Background())
}
