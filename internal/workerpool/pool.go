// Package workerpool runs blocking recognition work on a fixed set of worker
// goroutines fed by an unbounded FIFO queue.
//
// The pool only bounds concurrency; it does not serialize access to the
// model. Whether concurrent recognition calls are safe is up to the model
// server.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultWorkers = 4

// ErrClosed is returned for tasks submitted after Close.
var ErrClosed = errors.New("worker pool closed")

// ErrTaskPanic matches every PanicError.
var ErrTaskPanic = errors.New("task panicked")

// PanicError carries a recovered panic value and stack.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("task panicked: %v", e.Value) }

func (e *PanicError) Is(target error) bool { return target == ErrTaskPanic }

type task struct {
	ctx      context.Context
	run      func()
	fail     func(error)
	enqueued time.Time
}

// Pool is a fixed-size worker pool.
type Pool struct {
	name    string
	log     zerolog.Logger
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []task
	busy    int
	closed  bool
	workers sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

// WithName labels the pool in metrics and logs.
func WithName(name string) Option { return func(p *Pool) { p.name = name } }

// WithLogger sets the logger used for recovered panics.
func WithLogger(l zerolog.Logger) Option { return func(p *Pool) { p.log = l } }

// New starts a pool with n workers (n <= 0 selects 4).
func New(n int, opts ...Option) *Pool {
	if n <= 0 {
		n = defaultWorkers
	}
	p := &Pool{name: "default", log: zerolog.Nop()}
	p.cond = sync.NewCond(&p.mu)
	for _, o := range opts {
		o(p)
	}
	p.workers.Add(n)
	for i := 0; i < n; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.workers.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.closed {
			p.mu.Unlock()
			return
		}
		t := p.queue[0]
		p.queue[0] = task{}
		p.queue = p.queue[1:]
		p.busy++
		p.mu.Unlock()
		poolQueued.WithLabelValues(p.name).Dec()
		poolBusy.WithLabelValues(p.name).Inc()
		poolWait.WithLabelValues(p.name).Observe(time.Since(t.enqueued).Seconds())

		if err := t.ctx.Err(); err != nil {
			t.fail(err)
		} else {
			t.run()
		}

		p.mu.Lock()
		p.busy--
		p.mu.Unlock()
		poolBusy.WithLabelValues(p.name).Dec()
	}
}

func (p *Pool) submit(t task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	t.enqueued = time.Now()
	p.queue = append(p.queue, t)
	poolQueued.WithLabelValues(p.name).Inc()
	p.cond.Signal()
	return nil
}

// Stats is a snapshot of pool occupancy.
type Stats struct {
	Queued int
	Busy   int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Queued: len(p.queue), Busy: p.busy}
}

// Close stops admission and waits for queued and running tasks to finish or
// ctx to expire.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Future is the pending result of a task.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Done is closed once the task has finished.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the task finishes or ctx is done. Giving up on the wait
// does not cancel the task.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the outcome of a finished task; call only after Done.
func (f *Future[T]) Result() (T, error) { return f.val, f.err }

// Run admits fn to the pool. ctx gates the start only: a task whose context
// is already done when a worker picks it up completes with ctx.Err() without
// running.
func Run[T any](p *Pool, ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	t := task{
		ctx: ctx,
		run: func() {
			defer close(f.done)
			defer func() {
				if r := recover(); r != nil {
					f.err = &PanicError{Value: r, Stack: debug.Stack()}
					p.log.Error().Str("pool", p.name).Interface("panic", r).Msg("task panicked")
				}
			}()
			f.val, f.err = fn(ctx)
		},
		fail: func(err error) {
			f.err = err
			close(f.done)
		},
	}
	if err := p.submit(t); err != nil {
		f.err = err
		close(f.done)
	}
	return f
}
