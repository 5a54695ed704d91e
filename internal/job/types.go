package job

import (
	"io"
	"time"

	"ocrd/pkg/types"
)

// FailurePolicy decides what a page failure does to a split parse.
type FailurePolicy string

const (
	// BestEffort lets sibling pages finish and reports the failed ones.
	BestEffort FailurePolicy = "best-effort"
	// AllOrNothing fails the job on the first page failure and skips pages
	// that have not started yet.
	AllOrNothing FailurePolicy = "all-or-nothing"
)

// Valid reports whether p is a known policy.
func (p FailurePolicy) Valid() bool { return p == BestEffort || p == AllOrNothing }

// Submission is what a surface hands to the executor.
type Submission struct {
	// Filename is the client-supplied name; only its extension and stem are used.
	Filename string
	Source   io.Reader
	Task     types.TaskKind
	Split    bool
	// TableFormat is "html" (default) or "latex"; only used by table tasks.
	TableFormat string
	// ArchiveDir overrides where the archive is written.
	ArchiveDir string
}

// Job is the executor's view of one submission.
type Job struct {
	ID        string
	DocName   string
	DocKind   types.DocKind
	Task      types.TaskKind
	Split     bool
	Status    types.JobStatus
	InputPath string
	OutputDir string
	CreatedAt time.Time
}

// PageUnit is one page of work handed to the model.
type PageUnit struct {
	Index       int
	ImagePath   string
	Instruction string
	Response    string
	Err         error
}

// Result is the structured outcome of a job. Failures are reported here, not
// as Go errors.
type Result struct {
	JobID     string
	Success   bool
	ErrorKind ErrorKind
	Message   string
	Task      types.TaskKind
	DocName   string
	Pages     int
	// Content holds the recognized text, pages joined by a blank line.
	Content     string
	FailedPages []int
	// OutputDir is the base name of the job output directory; Files are
	// relative to it.
	OutputDir   string
	Files       []string
	Archive     string
	ArchiveName string
	Duration    time.Duration
}
