package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var errNoLoader = errors.New("no model loader configured")

// Resource is the single point of control for the shared model.
type Resource struct {
	mu       sync.Mutex
	state    State
	backend  Backend
	active   int
	lastUse  time.Time
	loadedAt time.Time
	lastErr  string
	loads    uint64
	releases uint64
	// changed is closed and replaced on every state transition.
	changed chan struct{}

	loader       Loader
	probe        DeviceProbe
	idleTimeout  time.Duration
	idleInterval time.Duration
	drainTimeout time.Duration
	loadTimeout  time.Duration
	publisher    EventPublisher
	log          zerolog.Logger
	now          func() time.Time

	loadGroup singleflight.Group
	watchOnce sync.Once
}

// New constructs a Resource from Config, applying package defaults.
func New(cfg Config) *Resource {
	r := &Resource{
		state:        StateUnloaded,
		changed:      make(chan struct{}),
		loader:       cfg.Loader,
		probe:        cfg.Probe,
		idleTimeout:  cfg.IdleTimeout,
		drainTimeout: cfg.DrainTimeout,
		loadTimeout:  cfg.LoadTimeout,
		publisher:    cfg.Publisher,
		log:          zerolog.Nop(),
		now:          time.Now,
	}
	if r.idleTimeout == 0 {
		r.idleTimeout = defaultIdleTimeout
	}
	if r.idleTimeout > 0 {
		r.idleInterval = cfg.idleInterval(r.idleTimeout)
	}
	if r.drainTimeout <= 0 {
		r.drainTimeout = defaultDrainTimeout
	}
	if r.loadTimeout <= 0 {
		r.loadTimeout = defaultLoadTimeout
	}
	if r.publisher == nil {
		r.publisher = noopPublisher{}
	}
	if cfg.Logger != nil {
		r.log = cfg.Logger.With().Str("component", "model").Logger()
	}
	return r
}

// Lease is a claim on the loaded model. The model cannot be released while a
// lease is outstanding.
type Lease struct {
	r       *Resource
	backend Backend
	once    sync.Once
}

// Backend returns the loaded backend. Valid until Release.
func (l *Lease) Backend() Backend { return l.backend }

// Release returns the lease and records the completion of work. Safe to call
// more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.r.mu.Lock()
		l.r.active--
		l.r.lastUse = l.r.now()
		l.r.mu.Unlock()
		activeLeases.Dec()
	})
}

// Acquire returns a lease on the loaded model, loading it first if needed.
// Concurrent callers share one in-flight load.
func (r *Resource) Acquire(ctx context.Context) (*Lease, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.mu.Lock()
		switch r.state {
		case StateLoaded:
			r.active++
			r.lastUse = r.now()
			b := r.backend
			r.mu.Unlock()
			activeLeases.Inc()
			return &Lease{r: r, backend: b}, nil
		case StateDraining:
			// wait for the release to finish, then load again
			ch := r.changed
			r.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		default:
			r.mu.Unlock()
			res := r.loadGroup.DoChan("load", func() (any, error) { return nil, r.load() })
			select {
			case out := <-res:
				if out.Err != nil {
					return nil, out.Err
				}
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
}

// load performs the Unloaded -> Loading -> Loaded transition. It runs under a
// detached context so a canceled caller does not abort a load others wait on.
func (r *Resource) load() error {
	r.mu.Lock()
	if r.state != StateUnloaded {
		// loaded or draining meanwhile; the caller loop re-evaluates
		r.mu.Unlock()
		return nil
	}
	if r.loader == nil {
		r.lastErr = errNoLoader.Error()
		r.mu.Unlock()
		return unavailableError{err: errNoLoader}
	}
	r.state = StateLoading
	r.lastErr = ""
	r.broadcastLocked()
	r.mu.Unlock()

	start := time.Now()
	r.log.Info().Str("event", "load_start").Msg("loading model")
	r.publisher.Publish(Event{Name: "load_start", Fields: map[string]any{}})

	ctx, cancel := context.WithTimeout(context.Background(), r.loadTimeout)
	defer cancel()
	b, err := r.loader.Load(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.state = StateUnloaded
		r.lastErr = err.Error()
		r.broadcastLocked()
		loadFailuresTotal.Inc()
		r.log.Error().Str("event", "load_error").Err(err).Msg("model load failed")
		r.publisher.Publish(Event{Name: "load_error", Fields: map[string]any{"error": err.Error()}})
		return unavailableError{err: err}
	}
	now := r.now()
	r.backend = b
	r.state = StateLoaded
	r.loadedAt = now
	r.lastUse = now
	r.loads++
	r.broadcastLocked()
	dur := time.Since(start)
	loadsTotal.Inc()
	loadDuration.Observe(dur.Seconds())
	modelLoaded.Set(1)
	r.log.Info().Str("event", "load_ready").Str("backend", b.Name()).Str("model", b.Model()).Dur("dur", dur).Msg("model loaded")
	r.publisher.Publish(Event{Name: "load_ready", Fields: map[string]any{"backend": b.Name(), "dur_ms": int(dur / time.Millisecond)}})
	return nil
}

// Release unloads the model and reclaims its memory.
//
// An unloaded resource releases immediately. With active leases, force=false
// is refused with a busy error; force=true blocks new acquirers and waits up to
// the drain timeout for the leases to return before unloading.
func (r *Resource) Release(ctx context.Context, force bool) error {
	return r.release(ctx, force, "explicit")
}

func (r *Resource) release(ctx context.Context, force bool, reason string) error {
	r.mu.Lock()
	switch r.state {
	case StateUnloaded:
		r.mu.Unlock()
		return nil
	case StateLoading, StateDraining:
		st := r.state
		r.mu.Unlock()
		return busyError{state: st}
	}
	if reason == "idle" && r.now().Sub(r.lastUse) < r.idleTimeout {
		// used again since the watcher looked
		r.mu.Unlock()
		return nil
	}
	if r.active > 0 && !force {
		n := r.active
		r.mu.Unlock()
		r.log.Debug().Str("event", "release_busy").Str("reason", reason).Int("active", n).Msg("release refused")
		r.publisher.Publish(Event{Name: "release_busy", Fields: map[string]any{"reason": reason, "active": n}})
		return busyError{state: StateLoaded, active: n}
	}
	r.state = StateDraining
	r.broadcastLocked()
	r.mu.Unlock()
	r.publisher.Publish(Event{Name: "release_start", Fields: map[string]any{"reason": reason}})

	if err := r.waitDrained(ctx); err != nil {
		r.mu.Lock()
		r.state = StateLoaded
		n := r.active
		r.broadcastLocked()
		r.mu.Unlock()
		r.log.Warn().Str("event", "release_timeout").Int("active", n).Err(err).Msg("release gave up waiting for leases")
		r.publisher.Publish(Event{Name: "release_busy", Fields: map[string]any{"reason": reason, "active": n}})
		return busyError{state: StateLoaded, active: n}
	}

	// Draining keeps acquirers parked while the backend closes outside the lock.
	r.mu.Lock()
	b := r.backend
	r.mu.Unlock()
	var closeErr error
	if b != nil {
		closeErr = b.Close()
	}

	r.mu.Lock()
	r.backend = nil
	r.state = StateUnloaded
	r.releases++
	r.broadcastLocked()
	r.mu.Unlock()

	releasesTotal.WithLabelValues(reason).Inc()
	modelLoaded.Set(0)
	r.log.Info().Str("event", "release_done").Str("reason", reason).Msg("model released")
	r.publisher.Publish(Event{Name: "release_done", Fields: map[string]any{"reason": reason}})
	if closeErr != nil {
		return fmt.Errorf("close backend: %w", closeErr)
	}
	return nil
}

// waitDrained polls until no leases are active, the drain timeout passes or
// ctx is done.
func (r *Resource) waitDrained(ctx context.Context) error {
	deadline := time.Now().Add(r.drainTimeout)
	for {
		r.mu.Lock()
		n := r.active
		r.mu.Unlock()
		if n == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("drain timeout after %s", r.drainTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (r *Resource) broadcastLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// Loaded reports whether a backend is currently loaded.
func (r *Resource) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateLoaded
}

// Ready reports whether the resource can serve acquirers without waiting on a
// transition in progress.
func (r *Resource) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateLoaded || r.state == StateUnloaded
}

// Status returns a snapshot. Device fields are filled best-effort outside the
// lock and omitted when the probe reports nothing.
func (r *Resource) Status(ctx context.Context) Status {
	r.mu.Lock()
	st := Status{
		Loaded:      r.state == StateLoaded,
		State:       r.state,
		LastUse:     r.lastUse,
		LoadedAt:    r.loadedAt,
		Active:      r.active,
		Loads:       r.loads,
		Releases:    r.releases,
		IdleTimeout: r.idleTimeout,
		LastError:   r.lastErr,
	}
	r.mu.Unlock()
	if !st.Loaded {
		st.LoadedAt = time.Time{}
	}
	if r.probe != nil {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if d, ok := r.probe.Probe(pctx); ok {
			st.Device = &d
		}
	}
	return st
}

// Info describes the loaded model; Loaded is false when nothing is loaded.
func (r *Resource) Info(ctx context.Context) Info {
	r.mu.Lock()
	b := r.backend
	loaded := r.state == StateLoaded
	at := r.loadedAt
	r.mu.Unlock()
	if !loaded || b == nil {
		return Info{}
	}
	info := Info{Loaded: true, Backend: b.Name(), Model: b.Model(), LoadedAt: at, Device: "cpu"}
	if r.probe != nil {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if d, ok := r.probe.Probe(pctx); ok && d.Name != "" {
			info.Device = d.Name
		}
	}
	return info
}

// Close force-releases the model; used on shutdown.
func (r *Resource) Close(ctx context.Context) error {
	return r.release(ctx, true, "shutdown")
}
