package types

// DocKind is the document family derived from the uploaded file.
type DocKind string

const (
	DocPDF   DocKind = "pdf"
	DocImage DocKind = "image"
)

// TaskKind selects what the recognition model is asked to produce.
type TaskKind string

const (
	TaskParse   TaskKind = "full-parse"
	TaskText    TaskKind = "text"
	TaskFormula TaskKind = "formula"
	TaskTable   TaskKind = "table"
)

// Valid reports whether t is one of the supported task kinds.
func (t TaskKind) Valid() bool {
	switch t {
	case TaskParse, TaskText, TaskFormula, TaskTable:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStaged    JobStatus = "staged"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s JobStatus) Terminal() bool { return s == JobCompleted || s == JobFailed }
