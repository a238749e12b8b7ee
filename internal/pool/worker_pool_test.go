package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsAllTasks(t *testing.T) {
	p := New(4)

	var ran atomic.Int64
	for i := 0; i < 20; i++ {
		err := p.Submit(context.Background(), func(ctx context.Context) {
			ran.Add(1)
		})
		require.NoError(t, err)
	}
	p.Close()

	assert.Equal(t, int64(20), ran.Load())
	submitted, completed := p.Stats()
	assert.Equal(t, int64(20), submitted)
	assert.Equal(t, int64(20), completed)
}

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	p := New(2)
	defer p.Close()

	var inFlight, peak atomic.Int64
	for i := 0; i < 10; i++ {
		err := p.Submit(context.Background(), func(ctx context.Context) {
			n := inFlight.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
		})
		require.NoError(t, err)
	}
	p.Close()

	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestWorkerPool_SubmitAfterClose(t *testing.T) {
	p := New(1)
	p.Close()

	err := p.Submit(context.Background(), func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestWorkerPool_SubmitHonorsContext(t *testing.T) {
	p := New(1)
	defer p.Close()

	// 单 worker 被占住，第二个提交在排队时取消
	block := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {
		<-block
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func(ctx context.Context) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
}

func TestWorkerPool_CloseIdempotent(t *testing.T) {
	p := New(2)
	p.Close()
	assert.NotPanics(t, func() { p.Close() })
}
