package async

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/perchsocial/perch/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func TestSafeGo_RunsFunction(t *testing.T) {
	var ran atomic.Bool
	done := make(chan struct{})

	SafeGo(context.Background(), time.Second, "test task", testLogger(), func(ctx context.Context) error {
		ran.Store(true)
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
	if !ran.Load() {
		t.Error("expected task to run")
	}
}

func TestSafeGo_RecoversFromPanic(t *testing.T) {
	done := make(chan struct{})

	SafeGo(context.Background(), time.Second, "panicking task", testLogger(), func(ctx context.Context) error {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
	// Reaching here without the test process crashing is the assertion.
}

func TestSafeGo_EnforcesTimeout(t *testing.T) {
	errCh := make(chan error, 1)

	SafeGo(context.Background(), 10*time.Millisecond, "slow task", testLogger(), func(ctx context.Context) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return nil
	})

	select {
	case err := <-errCh:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("context was never cancelled")
	}
}
