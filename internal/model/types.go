package model

import "time"

// State represents the lifecycle state of the model resource.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateLoaded   State = "loaded"
	StateDraining State = "draining"
)

// DeviceInfo describes the execution device. Memory fields are nil when the
// device cannot report them.
type DeviceInfo struct {
	Name          string
	Count         int
	MemoryUsedMB  *float64
	MemoryTotalMB *float64
}

// Status is a point-in-time snapshot of the resource.
type Status struct {
	Loaded      bool
	State       State
	LastUse     time.Time
	LoadedAt    time.Time
	Active      int
	Loads       uint64
	Releases    uint64
	IdleTimeout time.Duration
	LastError   string
	// Device is nil when no probe is configured or the probe failed.
	Device *DeviceInfo
}

// Info is a minimal view of the loaded model.
type Info struct {
	Loaded   bool
	Backend  string
	Model    string
	Device   string
	LoadedAt time.Time
}
