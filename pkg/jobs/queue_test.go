package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDrainsBufferedJobsOnStop(t *testing.T) {
	var handled int32
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&handled, 1)
		return nil
	}, QueueConfig{Workers: 2, BufferSize: 16})

	q.Start(context.Background())
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(context.Background(), Job{Type: "noop"}))
	}
	q.Stop()

	assert.Equal(t, int32(10), atomic.LoadInt32(&handled))
	assert.False(t, q.Running())
	assert.ErrorIs(t, q.Enqueue(context.Background(), Job{}), ErrQueueStopped)
}

func TestQueueRetriesThenReportsExhaustion(t *testing.T) {
	var (
		attempts  int32
		mu        sync.Mutex
		exhausted []Job
	)
	q := NewQueue("retry", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("boom")
	}, QueueConfig{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		OnExhausted: func(job Job, err error) {
			mu.Lock()
			exhausted = append(exhausted, job)
			mu.Unlock()
		},
	})

	q.Start(context.Background())
	require.NoError(t, q.Enqueue(context.Background(), Job{ID: "j1"}))
	q.Stop()

	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	require.Len(t, exhausted, 1)
	assert.Equal(t, "j1", exhausted[0].ID)
	assert.Equal(t, 3, exhausted[0].Attempt)
}

func TestQueueRejectsBeforeStart(t *testing.T) {
	q := NewQueue("idle", func(context.Context, Job) error { return nil }, QueueConfig{})
	assert.ErrorIs(t, q.Enqueue(context.Background(), Job{}), ErrQueueStopped)
	assert.ErrorIs(t, q.TryEnqueue(Job{}), ErrQueueStopped)
	q.Stop()
	q.Start(context.Background())
	assert.False(t, q.Running())
}

func TestQueueTryEnqueueReportsFullBuffer(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	q := NewQueue("full", func(ctx context.Context, job Job) error {
		started <- struct{}{}
		<-release
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})

	q.Start(context.Background())
	require.NoError(t, q.TryEnqueue(Job{ID: "running"}))
	<-started
	require.NoError(t, q.TryEnqueue(Job{ID: "buffered"}))
	assert.ErrorIs(t, q.TryEnqueue(Job{ID: "overflow"}), ErrQueueFull)

	close(release)
	q.Stop()
}
