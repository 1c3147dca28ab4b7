package taskq

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/archeonlabs/cloudcore/internal/logging"
)

func testLogger(buf *bytes.Buffer) logging.Logger {
	return logging.NewJSON(buf)
}

func TestSubmit_RunsJobAndReturnsImmediately(t *testing.T) {
	d := New(2, testLogger(&bytes.Buffer{}))

	ran := make(chan struct{})
	start := time.Now()
	d.Submit("job", func(ctx context.Context) error {
		close(ran)
		return nil
	})
	require.Less(t, time.Since(start), 100*time.Millisecond, "Submit must not block")

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}
	require.NoError(t, d.Drain(context.Background()))
}

func TestSubmit_WorkerBoundRespected(t *testing.T) {
	d := New(2, testLogger(&bytes.Buffer{}))

	var running, peak int64
	var mu sync.Mutex
	release := make(chan struct{})

	for i := 0; i < 10; i++ {
		d.Submit("job", func(ctx context.Context) error {
			n := atomic.AddInt64(&running, 1)
			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()
			<-release
			atomic.AddInt64(&running, -1)
			return nil
		})
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	require.NoError(t, d.Drain(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.LessOrEqual(t, peak, int64(2), "no more than two jobs may run at once")
}

func TestSubmit_ErrorLoggedNotPropagated(t *testing.T) {
	var buf bytes.Buffer
	d := New(1, testLogger(&buf))

	d.Submit("failing", func(ctx context.Context) error {
		return errors.New("kaput")
	})
	require.NoError(t, d.Drain(context.Background()))

	require.Contains(t, buf.String(), "background task failed")
	require.Contains(t, buf.String(), "kaput")
}

func TestSubmit_PanicContained(t *testing.T) {
	var buf bytes.Buffer
	d := New(1, testLogger(&buf))

	d.Submit("panicking", func(ctx context.Context) error {
		panic("boom")
	})
	require.NoError(t, d.Drain(context.Background()))

	require.Contains(t, buf.String(), "background task panicked")
}

func TestDrain_TimesOut(t *testing.T) {
	d := New(1, testLogger(&bytes.Buffer{}))

	release := make(chan struct{})
	defer close(release)
	d.Submit("slow", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Drain(ctx), context.DeadlineExceeded)
}
