package jobs

import "time"

// Status captures the lifecycle of a job as exposed to clients.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var terminalStatuses = map[Status]bool{
	StatusCompleted: true,
	StatusFailed:    true,
}

// allowedTransitions is the only legal edge set. Dispatch failures are
// recorded as running followed by failed, never queued straight to failed.
var allowedTransitions = map[Status][]Status{
	StatusQueued:    {StatusRunning},
	StatusRunning:   {StatusCompleted, StatusFailed},
	StatusCompleted: {},
	StatusFailed:    {},
}

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	return terminalStatuses[s]
}

func transitionAllowed(from, to Status) bool {
	for _, target := range allowedTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Task is the opaque work payload submitted with a job. The gateway fills it
// from the submit request; the executor is the only component that interprets it.
type Task struct {
	Description  string   `json:"description"`
	Language     string   `json:"language,omitempty"`
	Framework    string   `json:"framework,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
}

// Result is the executor's output for a completed job.
type Result struct {
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
	Reviewed bool   `json:"reviewed"`
	Note     string `json:"note,omitempty"`
}

// Job is one unit of asynchronously executed work. Owner is the submitting
// identity's API key and is never serialized.
type Job struct {
	ID          string     `json:"job_id"`
	Status      Status     `json:"status"`
	Owner       string     `json:"-"`
	Task        Task       `json:"task"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      *Result    `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}
