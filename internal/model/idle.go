package model

import "context"

// StartIdleWatcher launches the idle reclamation loop. It stops when ctx is
// done. Calling it more than once has no effect; a negative IdleTimeout
// disables it.
func (r *Resource) StartIdleWatcher(ctx context.Context) {
	if r.idleTimeout <= 0 {
		return
	}
	r.watchOnce.Do(func() {
		go r.idleLoop(ctx)
	})
}

func (r *Resource) idleLoop(ctx context.Context) {
	t := timeNewTicker(r.idleInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.reclaimIfIdle(ctx)
		}
	}
}

// reclaimIfIdle releases the model when it has been loaded, unused and
// unleased for at least the idle timeout. It goes through the same release
// path as an explicit non-forced release.
func (r *Resource) reclaimIfIdle(ctx context.Context) bool {
	r.mu.Lock()
	idle := r.state == StateLoaded && r.active == 0 && r.now().Sub(r.lastUse) >= r.idleTimeout
	idleFor := r.now().Sub(r.lastUse)
	r.mu.Unlock()
	if !idle {
		return false
	}
	r.log.Info().Str("event", "idle_release").Dur("idle", idleFor).Msg("model idle, releasing")
	r.publisher.Publish(Event{Name: "idle_release", Fields: map[string]any{"idle_ms": idleFor.Milliseconds()}})
	if err := r.release(ctx, false, "idle"); err != nil {
		r.log.Debug().Err(err).Msg("idle release skipped")
		return false
	}
	return !r.Loaded()
}
