package types

// TaskResponse is returned by POST /ocr/{text,formula,table}.
type TaskResponse struct {
	// Whether recognition succeeded.
	// example: true
	Success bool `json:"success" example:"true"`
	// Task that was run.
	// example: text
	TaskType string `json:"task_type" example:"text"`
	// Recognized content; pages are separated by a blank line.
	Content string `json:"content"`
	// Human readable status or error message.
	// example: text extraction completed
	Message string `json:"message,omitempty" example:"text extraction completed"`
	// Number of pages recognized.
	// example: 1
	Pages int `json:"pages,omitempty" example:"1"`
}

// ParseResponse is returned by POST /parse and /parse/split.
type ParseResponse struct {
	// example: true
	Success bool `json:"success" example:"true"`
	// example: Parsing completed
	Message string `json:"message" example:"Parsing completed"`
	// Name of the job output directory; archive members are relative to it.
	// example: report_6f1c2d3e-7a8b-4c9d-8e0f-112233445566
	OutputDir string `json:"output_dir,omitempty"`
	// Files produced, relative to OutputDir.
	Files []string `json:"files,omitempty"`
	// Relative URL of the zip archive.
	// example: /static/report_parsed_1700000000000.zip
	DownloadURL string `json:"download_url,omitempty" example:"/static/report_parsed_1700000000000.zip"`
	// example: 3
	Pages int `json:"pages,omitempty" example:"3"`
	// Pages that failed under the best-effort policy.
	FailedPages []int `json:"failed_pages,omitempty"`
	// Error kind when the job only partially succeeded.
	// example: partial_failure
	ErrorKind string `json:"error_kind,omitempty"`
	// Job identifier for GET /jobs/{id}.
	JobID string `json:"job_id,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	// example: healthy
	Status string `json:"status" example:"healthy"`
	// example: false
	ModelLoaded bool `json:"model_loaded" example:"false"`
	// Server time in unix seconds (fractional).
	// example: 1700000000.123
	Timestamp float64 `json:"timestamp" example:"1700000000.123"`
}

// GPUStatus is returned by GET /gpu/status. Device fields are omitted when the
// host cannot report them.
type GPUStatus struct {
	ModelLoaded   bool     `json:"model_loaded"`
	GPUAvailable  bool     `json:"gpu_available"`
	GPUName       string   `json:"gpu_name,omitempty"`
	GPUCount      int      `json:"gpu_count,omitempty"`
	MemoryUsedMB  *float64 `json:"memory_used_mb,omitempty"`
	MemoryTotalMB *float64 `json:"memory_total_mb,omitempty"`
	// Lifecycle state of the model resource (unloaded, loading, loaded, draining).
	State string `json:"state"`
	// Leases currently held by running jobs.
	Active int `json:"active"`
	// Last use in unix seconds; zero when never used.
	LastUseUnix int64 `json:"last_use_unix,omitempty"`
	// Idle threshold after which the model is released automatically.
	IdleTimeoutSeconds int64  `json:"idle_timeout_seconds"`
	LoadsTotal         uint64 `json:"loads_total"`
	ReleasesTotal      uint64 `json:"releases_total"`
	LastError          string `json:"last_error,omitempty"`
}

// OffloadResponse is returned by POST /gpu/offload.
type OffloadResponse struct {
	// example: success
	Status string `json:"status" example:"success"`
	// example: GPU memory released
	Message string `json:"message" example:"GPU memory released"`
}

// ModelInfoResponse is returned by GET /model/info.
type ModelInfoResponse struct {
	// example: loaded
	Status       string `json:"status" example:"loaded"`
	Backend      string `json:"backend,omitempty"`
	Model        string `json:"model,omitempty"`
	Device       string `json:"device,omitempty"`
	LoadedAtUnix int64  `json:"loaded_at_unix,omitempty"`
	Message      string `json:"message,omitempty"`
}

// JobResponse describes a ledger entry for GET /jobs/{id}. Done is true once
// the job completed or failed.
type JobResponse struct {
	ID          string `json:"id"`
	DocName     string `json:"doc_name"`
	Task        string `json:"task"`
	Split       bool   `json:"split"`
	Status      string `json:"status"`
	Done        bool   `json:"done"`
	ErrorKind   string `json:"error_kind,omitempty"`
	Message     string `json:"message,omitempty"`
	Pages       int    `json:"pages"`
	FailedPages []int  `json:"failed_pages,omitempty"`
	Archive     string `json:"archive,omitempty"`
	CreatedUnix int64  `json:"created_unix"`
	UpdatedUnix int64  `json:"updated_unix"`
}

// JobsResponse wraps GET /jobs.
type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: unsupported file type: .gif
	Error string `json:"error" example:"unsupported file type: .gif"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
