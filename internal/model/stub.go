package model

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// StubBackend is an in-memory Backend for tests and dry runs. Fn decides the
// response per page; when nil the instruction is echoed back.
type StubBackend struct {
	Fn func(ctx context.Context, p Page, instruction string) (string, error)

	mu     sync.Mutex
	calls  int
	closed int
}

func (b *StubBackend) Name() string  { return "stub" }
func (b *StubBackend) Model() string { return "stub-model" }

func (b *StubBackend) BatchInference(ctx context.Context, pages []Page, instructions []string) ([]string, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	out := make([]string, len(pages))
	for i, p := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if b.Fn == nil {
			out[i] = instructions[i]
			continue
		}
		s, err := b.Fn(ctx, p, instructions[i])
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func (b *StubBackend) Close() error {
	b.mu.Lock()
	b.closed++
	b.mu.Unlock()
	return nil
}

// Calls returns how many batches were run.
func (b *StubBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// Closed returns how many times Close was called.
func (b *StubBackend) Closed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// StubLoader hands out Backend after Delay, or fails with Err.
type StubLoader struct {
	Backend Backend
	Delay   time.Duration
	Err     error

	loads atomic.Int64
}

func (l *StubLoader) Load(ctx context.Context) (Backend, error) {
	l.loads.Add(1)
	if l.Delay > 0 {
		select {
		case <-time.After(l.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.Err != nil {
		return nil, l.Err
	}
	if l.Backend == nil {
		return &StubBackend{}, nil
	}
	return l.Backend, nil
}

// Loads returns how many times Load was called.
func (l *StubLoader) Loads() int { return int(l.loads.Load()) }
