package interfaces

import (
	"context"
	"fmt"
	"time"
)

// Kind identifies a job family. Each family lives in its own table.
type Kind string

const (
	KindTranscription Kind = "transcription"
	KindPresentation  Kind = "presentation"
)

// Kinds lists every job family in lookup order.
var Kinds = []Kind{KindTranscription, KindPresentation}

// ParseKind validates a job type string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindTranscription, KindPresentation:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown job type: %q", s)
	}
}

// JobStatus represents the current state of a job
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// ParseStatus validates a status filter value.
func ParseStatus(s string) (JobStatus, error) {
	switch JobStatus(s) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return JobStatus(s), nil
	default:
		return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", s)}
	}
}

// Job represents one row of a job family table.
type Job struct {
	ID             string     `json:"id"`
	Kind           Kind       `json:"job_type"`
	Payload        Payload    `json:"payload"`
	Status         JobStatus  `json:"status"`
	Result         Result     `json:"result,omitempty"`
	Error          *string    `json:"error,omitempty"`
	Index          *IndexInfo `json:"index,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
}

// IndexInfo records the secondary indexing outcome of a completed transcription.
type IndexInfo struct {
	Indexed    bool   `json:"indexed"`
	Collection string `json:"collection,omitempty"`
	Error      string `json:"error,omitempty"`
}

// String returns a string representation of the job
func (j *Job) String() string {
	return fmt.Sprintf("Job{ID: %s, Type: %s, Status: %s}", j.ID, j.Kind, j.Status)
}

// Subject returns the classification tag recorded at submission.
func (j *Job) Subject() string {
	if j.Payload == nil {
		return ""
	}
	return j.Payload.Tags().Subject
}

// List page sizes: a zero limit means DefaultListLimit, larger ones are capped.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// ListFilter narrows ListJobs. Zero values mean "any".
type ListFilter struct {
	Status  JobStatus
	Subject string
	Limit   int
}

// JobStore is the durable, authoritative record of every job. Every mutation is a
// single-row update keyed by id; transitions are conditional on the current status.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, kind Kind, id string) (*Job, error)
	ListJobs(ctx context.Context, kind Kind, filter ListFilter) ([]*Job, error)
	DeleteJob(ctx context.Context, kind Kind, id string) error

	// ClaimJob moves a pending job to processing. It reports false when the job was
	// not pending (already claimed, terminal, or missing).
	ClaimJob(ctx context.Context, kind Kind, id string, startedAt, leaseExpiresAt time.Time) (bool, error)
	// CompleteJob and FailJob only apply to processing jobs; ErrNotProcessing otherwise.
	CompleteJob(ctx context.Context, kind Kind, id string, result Result, completedAt time.Time) error
	FailJob(ctx context.Context, kind Kind, id string, message string, completedAt time.Time) error
	RecordIndex(ctx context.Context, id string, info IndexInfo) error

	// ExpireLease fails a processing job whose lease ended before now.
	ExpireLease(ctx context.Context, kind Kind, id string, message string, now time.Time) (bool, error)
	ListExpiredLeases(ctx context.Context, kind Kind, now time.Time, limit int) ([]*Job, error)
	// MarkNotified stamps the last queue announcement of a pending job.
	MarkNotified(ctx context.Context, kind Kind, id string, at time.Time) error
	// ListStalePending returns pending jobs last announced (or created) before before.
	ListStalePending(ctx context.Context, kind Kind, before time.Time, limit int) ([]*Job, error)
}
