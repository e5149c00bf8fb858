package concurrent

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPoolRunsSubmittedJobs(t *testing.T) {
	p := New(4)
	defer p.Stop()

	var n int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			atomic.AddInt64(&n, 1)
		})
	}
	wg.Wait()

	assert.Equal(t, int64(20), atomic.LoadInt64(&n))
}

func TestPoolNewClampsBelowOne(t *testing.T) {
	p := New(0)
	defer p.Stop()

	done := make(chan struct{})
	p.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected the clamped single-worker pool to still run jobs")
	}
}

func TestPoolSafeRunRecoversPanic(t *testing.T) {
	p := New(1)
	defer p.Stop()

	var ran int64
	p.Submit(func() { panic("boom") })

	done := make(chan struct{})
	p.Submit(func() {
		atomic.AddInt64(&ran, 1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected the pool to keep processing jobs after a panic")
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&ran))
}

func TestPoolTrySubmitFailsWhenBacklogFull(t *testing.T) {
	p := New(1)
	defer p.Stop()

	block := make(chan struct{})
	require.True(t, p.TrySubmit(func() { <-block }))

	accepted := 0
	rejected := 0
	for i := 0; i < cap(p.jobs)+1; i++ {
		if p.TrySubmit(func() {}) {
			accepted++
		} else {
			rejected++
		}
	}
	close(block)

	assert.Greater(t, rejected, 0, "expected TrySubmit to reject once the backlog channel is full")
	_ = accepted
}

func TestPoolSubmitIsNoOpAfterStop(t *testing.T) {
	p := New(1)
	p.Stop()

	done := make(chan struct{})
	go func() {
		p.Submit(func() {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Submit to return immediately on a stopped pool")
	}
}
