package constants

// JobStatus is the canonical status for rows in ocr_job.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusPending  JobStatus = "pending"  // created, waiting for a worker
	JobStatusRunning  JobStatus = "running"  // picked up by a worker
	JobStatusFinished JobStatus = "finished" // terminal success
	JobStatusFailed   JobStatus = "failed"   // terminal failure
	JobStatusCanceled JobStatus = "canceled" // terminal, by request
)

// JobStatuses lists every status in lifecycle order.
var JobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusRunning,
	JobStatusFinished,
	JobStatusFailed,
	JobStatusCanceled,
}

// IsTerminal reports whether no worker will touch a job in this status again.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusFinished, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	for _, v := range JobStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// JobType selects the recognition pipeline a job runs.
type JobType string

const (
	JobTypeRecordOCR JobType = "ocr"   // full-page OCR over every page of a record
	JobTypeItemReOCR JobType = "reocr" // box-level re-recognition of one page
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	return t == JobTypeRecordOCR || t == JobTypeItemReOCR
}
