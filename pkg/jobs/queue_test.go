package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("busy")

func TestQueueRetriesUntilSuccess(t *testing.T) {
	var calls int32
	done := make(chan Job, 1)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errBusy
		}
		done <- job
		return nil
	}, QueueConfig{Workers: 2, MaxRetries: 3, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "j1", Type: "reschedule"}))
	select {
	case job := <-done:
		assert.Equal(t, 2, job.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("job never succeeded")
	}
}

func TestQueueStopsOnNonRetryableError(t *testing.T) {
	var calls int32
	exhausted := make(chan error, 1)
	fatal := errors.New("invalid payload")
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&calls, 1)
		return fatal
	}, QueueConfig{
		MaxRetries:  5,
		RetryDelay:  time.Millisecond,
		Retryable:   func(err error) bool { return errors.Is(err, errBusy) },
		OnExhausted: func(job Job, err error) { exhausted <- err },
	})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "j2"}))
	select {
	case err := <-exhausted:
		assert.ErrorIs(t, err, fatal)
	case <-time.After(2 * time.Second):
		t.Fatal("exhaustion hook not called")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestQueueExhaustsRetries(t *testing.T) {
	exhausted := make(chan Job, 1)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		return errBusy
	}, QueueConfig{
		MaxRetries:  2,
		RetryDelay:  time.Millisecond,
		OnExhausted: func(job Job, err error) { exhausted <- job },
	})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "j3"}))
	select {
	case job := <-exhausted:
		assert.Equal(t, 3, job.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("exhaustion hook not called")
	}
}

func TestQueueEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("idle", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(Job{ID: "x"}))
}

func TestQueueRecoversFromPanickingHandler(t *testing.T) {
	exhausted := make(chan error, 1)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		panic("nil content measure")
	}, QueueConfig{OnExhausted: func(job Job, err error) { exhausted <- err }})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "j4"}))
	select {
	case err := <-exhausted:
		assert.Contains(t, err.Error(), "nil content measure")
	case <-time.After(2 * time.Second):
		t.Fatal("panic was not reported")
	}
}

func TestQueueStopReportsBufferedJobs(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	var dropped []string
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		started <- struct{}{}
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	}, QueueConfig{
		Workers:     1,
		BufferSize:  4,
		OnExhausted: func(job Job, err error) {
			if errors.Is(err, ErrStopped) {
				dropped = append(dropped, job.ID)
			}
		},
	})
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(Job{ID: "running"}))
	<-started
	require.NoError(t, q.Enqueue(Job{ID: "queued-1"}))
	require.NoError(t, q.Enqueue(Job{ID: "queued-2"}))

	q.Stop()
	assert.ElementsMatch(t, []string{"queued-1", "queued-2"}, dropped)
	assert.ErrorIs(t, q.Enqueue(Job{ID: "late"}), ErrStopped)
	q.Stop()
}

func TestQueueBackoffIsCapped(t *testing.T) {
	q := NewQueue("test", func(ctx context.Context, job Job) error { return nil }, QueueConfig{
		RetryDelay:    10 * time.Millisecond,
		MaxRetryDelay: 50 * time.Millisecond,
	})
	assert.Equal(t, 10*time.Millisecond, q.backoff(1))
	assert.Equal(t, 20*time.Millisecond, q.backoff(2))
	assert.Equal(t, 40*time.Millisecond, q.backoff(3))
	assert.Equal(t, 50*time.Millisecond, q.backoff(4))
	assert.Equal(t, 50*time.Millisecond, q.backoff(10))
}
