// Package model owns the lifecycle of the single recognition model shared by
// every job in the process. It is structured into small files by concern:
//
//   - resource.go: Resource state machine (Acquire, Lease, Release, Status).
//   - idle.go: background idle reclamation.
//   - config.go: Config and package defaults; New applies defaults.
//   - types.go: State, Status, DeviceInfo, Info.
//   - errors.go: error types and helpers (IsBusy, IsUnavailable, IsOutOfMemory).
//   - backend.go: Loader/Backend interfaces implemented by runtimes.
//   - backend_openai.go: OpenAI-compatible chat backend with image inputs.
//   - loader_subprocess.go: spawns and stops a model server process.
//   - loader_remote.go: attaches to an already running model server.
//   - backend_tesseract*.go: CPU fallback backend (build tag `tesseract`).
//   - device.go: best-effort GPU introspection via nvidia-smi.
//   - events.go, eventpub_memory.go: lifecycle events for observers and tests.
//
// Lifecycle: unloaded -> loading -> loaded -> (draining) -> unloaded.
// Only Resource mutates the loaded backend. Callers use Acquire to obtain a
// Lease and must Release it when their recognition calls finish; Release of the
// model itself is refused or waits while leases are outstanding.
//
// The Resource does not serialize recognition calls made through a Lease.
// Whether concurrent calls are queued is up to the model server.
package model
