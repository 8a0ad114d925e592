package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/ocrjobs/constants"
)

// MaxRunningProgress is the highest progress a job may report before it finishes.
const MaxRunningProgress = 99

// Job represents an OCR job for data transfer between layers.
type Job struct {
	ID           uuid.UUID           `json:"id"`
	WorkspaceRef string              `json:"workspace"`
	RecordRef    string              `json:"record"`
	RecordTitle  string              `json:"record_title"`
	ItemRef      string              `json:"item,omitempty"`
	JobType      constants.JobType   `json:"job_type"`
	Status       constants.JobStatus `json:"status"`
	Progress     int                 `json:"progress"`
	QueueRef     string              `json:"queue_ref,omitempty"`
	Error        string              `json:"error,omitempty"`
	Payload      map[string]any      `json:"payload,omitempty"`
	CreatedBy    string              `json:"created_by,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
	StartedAt    *time.Time          `json:"started_at,omitempty"`
	FinishedAt   *time.Time          `json:"finished_at,omitempty"`
}

// JobSpec carries what a caller decides when creating a job.
type JobSpec struct {
	WorkspaceRef string
	RecordRef    string
	RecordTitle  string
	ItemRef      string
	JobType      constants.JobType
	CreatedBy    string
}

// NewJob builds a pending job with a fresh id.
func NewJob(spec JobSpec, now time.Time) *Job {
	jt := spec.JobType
	if jt == "" {
		jt = constants.JobTypeRecordOCR
	}
	return &Job{
		ID:           uuid.New(),
		WorkspaceRef: spec.WorkspaceRef,
		RecordRef:    spec.RecordRef,
		RecordTitle:  spec.RecordTitle,
		ItemRef:      spec.ItemRef,
		JobType:      jt,
		Status:       constants.JobStatusPending,
		CreatedBy:    spec.CreatedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsTerminal reports whether the job reached finished, failed or canceled.
func (j *Job) IsTerminal() bool { return j.Status.IsTerminal() }

// MarkRunning moves the job into running. started_at is only set the first time.
func (j *Job) MarkRunning(now time.Time) {
	j.Status = constants.JobStatusRunning
	if j.StartedAt == nil {
		t := now
		j.StartedAt = &t
	}
	j.UpdatedAt = now
}

// SetProgress clamps pct into [0,MaxRunningProgress] and applies it. Only a
// running job takes progress, and the value never decreases. Any other status
// is left alone and false is returned.
func (j *Job) SetProgress(pct int, now time.Time) bool {
	if j.Status != constants.JobStatusRunning {
		return false
	}
	pct = min(ClampProgress(pct), MaxRunningProgress)
	if pct < j.Progress {
		pct = j.Progress
	}
	j.Progress = pct
	j.UpdatedAt = now
	return true
}

// MarkFinished records success. Progress is forced to 100.
func (j *Job) MarkFinished(payload map[string]any, now time.Time) {
	j.Status = constants.JobStatusFinished
	j.Progress = 100
	j.Error = ""
	if payload != nil {
		j.Payload = payload
	}
	t := now
	j.FinishedAt = &t
	j.UpdatedAt = now
}

// MarkFailed records a failure message.
func (j *Job) MarkFailed(message string, now time.Time) {
	j.Status = constants.JobStatusFailed
	j.Error = message
	if j.Progress > MaxRunningProgress {
		j.Progress = MaxRunningProgress
	}
	t := now
	j.FinishedAt = &t
	j.UpdatedAt = now
}

// MarkCanceled records a cancel request.
func (j *Job) MarkCanceled(now time.Time) {
	j.Status = constants.JobStatusCanceled
	if j.Progress > MaxRunningProgress {
		j.Progress = MaxRunningProgress
	}
	t := now
	j.FinishedAt = &t
	j.UpdatedAt = now
}

// ResetForRetry puts a terminal job back to a fresh pending state, keeping its id.
func (j *Job) ResetForRetry(now time.Time) {
	j.Status = constants.JobStatusPending
	j.Progress = 0
	j.Error = ""
	j.Payload = nil
	j.QueueRef = ""
	j.StartedAt = nil
	j.FinishedAt = nil
	j.UpdatedAt = now
}

// ClampProgress bounds pct to [0,100].
func ClampProgress(pct int) int {
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}
