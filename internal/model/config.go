package model

import (
	"time"

	"github.com/rs/zerolog"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultIdleTimeout   = 600 * time.Second
	defaultDrainTimeout  = 30 * time.Second
	defaultLoadTimeout   = 5 * time.Minute
	minIdleCheckInterval = 50 * time.Millisecond
	maxIdleCheckInterval = 30 * time.Second
)

// Config encapsulates all tunables for Resource construction.
type Config struct {
	Loader Loader
	// Probe reports device memory; nil disables device fields in Status.
	Probe DeviceProbe
	// IdleTimeout is the inactivity threshold for automatic release.
	// Zero selects the default (600s); negative disables idle reclamation.
	IdleTimeout time.Duration
	// IdleCheckInterval is how often the idle watcher looks. Zero derives it
	// from IdleTimeout.
	IdleCheckInterval time.Duration
	// DrainTimeout bounds how long a forced release waits for active leases.
	DrainTimeout time.Duration
	// LoadTimeout bounds a single model load.
	LoadTimeout time.Duration
	Publisher   EventPublisher
	Logger      *zerolog.Logger
}

func (c Config) idleInterval(idle time.Duration) time.Duration {
	if c.IdleCheckInterval > 0 {
		return c.IdleCheckInterval
	}
	iv := idle / 10
	if iv < minIdleCheckInterval {
		iv = minIdleCheckInterval
	}
	if iv > maxIdleCheckInterval {
		iv = maxIdleCheckInterval
	}
	return iv
}
