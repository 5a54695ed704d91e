package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRun_ReturnsValue(t *testing.T) {
	p := New(2)
	defer p.Close(context.Background())
	f := Run(p, context.Background(), func(ctx context.Context) (int, error) { return 42, nil })
	v, err := f.Wait(context.Background())
	if err != nil || v != 42 {
		t.Fatalf("got %d, %v", v, err)
	}
}

func TestRun_PanicBecomesError(t *testing.T) {
	p := New(1)
	defer p.Close(context.Background())
	f := Run(p, context.Background(), func(ctx context.Context) (string, error) { panic("boom") })
	_, err := f.Wait(context.Background())
	if !errors.Is(err, ErrTaskPanic) {
		t.Fatalf("expected ErrTaskPanic, got %v", err)
	}
	var pe *PanicError
	if !errors.As(err, &pe) || pe.Value != "boom" {
		t.Fatalf("expected PanicError with value, got %v", err)
	}
	// the worker survives
	g := Run(p, context.Background(), func(ctx context.Context) (int, error) { return 1, nil })
	if v, err := g.Wait(context.Background()); err != nil || v != 1 {
		t.Fatalf("pool unusable after panic: %d %v", v, err)
	}
}

func TestRun_BoundsConcurrency(t *testing.T) {
	p := New(3)
	defer p.Close(context.Background())
	var cur, peak atomic.Int64
	var futures []*Future[struct{}]
	for i := 0; i < 12; i++ {
		futures = append(futures, Run(p, context.Background(), func(ctx context.Context) (struct{}, error) {
			n := cur.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			cur.Add(-1)
			return struct{}{}, nil
		}))
	}
	for _, f := range futures {
		if _, err := f.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if peak.Load() > 3 {
		t.Fatalf("expected at most 3 concurrent tasks, saw %d", peak.Load())
	}
}

func TestRun_FIFOWithSingleWorker(t *testing.T) {
	p := New(1)
	defer p.Close(context.Background())
	var mu sync.Mutex
	var order []int
	var futures []*Future[int]
	for i := 0; i < 5; i++ {
		i := i
		futures = append(futures, Run(p, context.Background(), func(ctx context.Context) (int, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		}))
	}
	for _, f := range futures {
		<-f.Done()
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func TestRun_CanceledBeforeStartSkips(t *testing.T) {
	p := New(1)
	defer p.Close(context.Background())
	block := make(chan struct{})
	first := Run(p, context.Background(), func(ctx context.Context) (int, error) {
		<-block
		return 0, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	second := Run(p, ctx, func(ctx context.Context) (int, error) {
		ran.Store(true)
		return 0, nil
	})
	cancel()
	close(block)
	if _, err := first.Wait(context.Background()); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := second.Wait(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if ran.Load() {
		t.Fatalf("canceled task must not run")
	}
}

func TestWait_TimeoutDoesNotCancelTask(t *testing.T) {
	p := New(1)
	defer p.Close(context.Background())
	f := Run(p, context.Background(), func(ctx context.Context) (int, error) {
		time.Sleep(50 * time.Millisecond)
		return 7, nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if v, err := f.Wait(context.Background()); err != nil || v != 7 {
		t.Fatalf("task should still complete: %d %v", v, err)
	}
}

func TestClose_DrainsAndRejects(t *testing.T) {
	p := New(2, WithName("test-close"))
	var n atomic.Int64
	for i := 0; i < 6; i++ {
		Run(p, context.Background(), func(ctx context.Context) (int, error) {
			time.Sleep(5 * time.Millisecond)
			n.Add(1)
			return 0, nil
		})
	}
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n.Load() != 6 {
		t.Fatalf("expected all queued tasks to run, got %d", n.Load())
	}
	f := Run(p, context.Background(), func(ctx context.Context) (int, error) { return 0, nil })
	if _, err := f.Wait(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if st := p.Stats(); st.Queued != 0 || st.Busy != 0 {
		t.Fatalf("unexpected stats after close: %+v", st)
	}
}
