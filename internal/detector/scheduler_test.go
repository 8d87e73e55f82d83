package detector

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingRunner struct {
	calls atomic.Int32
	err   error
}

func (c *countingRunner) Run(context.Context) error {
	c.calls.Add(1)
	return c.err
}

func TestSchedulerRunsImmediatelyAndOnTicks(t *testing.T) {
	runner := &countingRunner{err: errors.New("transient")}
	s := NewScheduler(quietLogger(), runner, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for runner.calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	if runner.calls.Load() < 3 {
		t.Fatalf("runs = %d, want at least 3", runner.calls.Load())
	}
}
