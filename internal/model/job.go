package model

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the job will not change status anymore.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCancelled
}

// JobRecord is the persisted view of a decomposition job.
type JobRecord struct {
	ID             string    `json:"id"`
	Status         JobStatus `json:"status"`
	Instance       *Instance `json:"instance,omitempty"`
	Result         *Result   `json:"result,omitempty"`
	Error          string    `json:"error,omitempty"`
	CallbackURL    string    `json:"callbackUrl,omitempty"`
	CallbackSecret string    `json:"-"`
	Services       int       `json:"services"`
	Vehicles       int       `json:"vehicles"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// SolveStats summarises one solver call made on behalf of a job.
type SolveStats struct {
	Level         int       `json:"level"`
	SplitNumber   int       `json:"splitNumber"`
	Services      int       `json:"services"`
	Vehicles      int       `json:"vehicles"`
	Unassigned    int       `json:"unassigned"`
	Iterations    int       `json:"iterations"`
	Improvements  int       `json:"improvements"`
	AcceptedWorse int       `json:"acceptedWorse"`
	BestCost      float64   `json:"bestCost"`
	ElapsedMs     float64   `json:"elapsedMs"`
	At            time.Time `json:"ts"`
}
