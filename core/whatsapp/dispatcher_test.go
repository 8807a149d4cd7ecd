package whatsapp

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherRunsQueuedJobs(t *testing.T) {
	d := NewDispatcher(Options{Workers: 2, QueueSize: 8})
	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		require.NoError(t, d.Enqueue(context.Background(), "test", func() error {
			ran.Add(1)
			return nil
		}))
	}
	d.Close()

	assert.Equal(t, int32(3), ran.Load())
	assert.Zero(t, d.ErrorCount())
}

func TestDispatcherDrainsBacklogOnClose(t *testing.T) {
	// A single worker blocked on the first job forces the rest to queue up.
	d := NewDispatcher(Options{Workers: 1, QueueSize: 16})
	var ran atomic.Int32
	release := make(chan struct{})
	require.NoError(t, d.Enqueue(context.Background(), "test", func() error {
		<-release
		return nil
	}))
	for i := 0; i < 5; i++ {
		require.NoError(t, d.Enqueue(context.Background(), "test", func() error {
			ran.Add(1)
			return nil
		}))
	}

	close(release)
	d.Close()
	assert.Equal(t, int32(5), ran.Load())
}

func TestDispatcherEnqueueAfterClose(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1})
	d.Close()

	err := d.Enqueue(context.Background(), "test", func() error { return nil })
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestDispatcherRejectsWhenSaturated(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, QueueSize: 1})
	release := make(chan struct{})
	require.NoError(t, d.Enqueue(context.Background(), "test", func() error {
		<-release
		return nil
	}))

	var full error
	for i := 0; i < 3 && full == nil; i++ {
		full = d.Enqueue(context.Background(), "test", func() error { return nil })
	}
	assert.ErrorIs(t, full, ErrQueueFull)

	close(release)
	d.Close()
}

func TestDispatcherRetriesTransientFailure(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, MaxRetries: 2, RetryBackoff: time.Millisecond})
	var calls atomic.Int32
	require.NoError(t, d.Enqueue(context.Background(), "test", func() error {
		if calls.Add(1) < 3 {
			return &APIError{HTTPStatus: 503}
		}
		return nil
	}))
	d.Close()

	assert.Equal(t, int32(3), calls.Load())
	assert.Zero(t, d.ErrorCount())
}
