package singleflight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoSingleCaller(t *testing.T) {
	g := New()

	v, err, shared := g.Do(context.Background(), "key", func() (any, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if v.(int) != 42 {
		t.Errorf("Do returned %v, want 42", v)
	}
	if shared {
		t.Error("single caller should not report shared")
	}
}

func TestDoError(t *testing.T) {
	g := New()
	want := errors.New("boom")

	_, err, _ := g.Do(context.Background(), "key", func() (any, error) {
		return nil, want
	})
	if !errors.Is(err, want) {
		t.Errorf("Do error = %v, want %v", err, want)
	}
}

func TestDoCoalescesConcurrentCalls(t *testing.T) {
	g := New()

	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})

	fn := func() (any, error) {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		return "result", nil
	}

	var wg sync.WaitGroup
	var sharedCount int32

	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err, _ := g.Do(context.Background(), "key", fn)
		if err != nil || v.(string) != "result" {
			t.Errorf("owner got (%v, %v)", v, err)
		}
	}()

	<-started

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err, shared := g.Do(context.Background(), "key", func() (any, error) {
				t.Error("duplicate execution")
				return nil, nil
			})
			if err != nil || v.(string) != "result" {
				t.Errorf("waiter got (%v, %v)", v, err)
			}
			if shared {
				atomic.AddInt32(&sharedCount, 1)
			}
		}()
	}

	// Give the waiters time to park on the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("fn executed %d times, want 1", got)
	}
	if got := atomic.LoadInt32(&sharedCount); got != 10 {
		t.Errorf("shared reported by %d waiters, want 10", got)
	}
}

func TestWaiterCancellation(t *testing.T) {
	g := New()

	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _, _ = g.Do(context.Background(), "key", func() (any, error) {
			close(started)
			<-release
			return nil, nil
		})
	}()

	<-started

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err, _ := g.Do(ctx, "key", func() (any, error) { return nil, nil })
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("waiter error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter did not unblock")
	}

	close(release)
}

func TestSequentialCallsRunIndependently(t *testing.T) {
	g := New()
	var calls int32

	for i := 0; i < 3; i++ {
		_, err, _ := g.Do(context.Background(), "key", func() (any, error) {
			atomic.AddInt32(&calls, 1)
			return nil, nil
		})
		if err != nil {
			t.Fatalf("Do returned error: %v", err)
		}
	}

	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("fn executed %d times, want 3", got)
	}
}

func TestForget(t *testing.T) {
	g := New()

	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _, _ = g.Do(context.Background(), "key", func() (any, error) {
			close(started)
			<-release
			return "old", nil
		})
	}()

	<-started
	g.Forget("key")

	var calls int32
	v, err, _ := g.Do(context.Background(), "key", func() (any, error) {
		atomic.AddInt32(&calls, 1)
		return "new", nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if v.(string) != "new" {
		t.Errorf("Do after Forget returned %v, want new execution result", v)
	}

	close(release)
}
