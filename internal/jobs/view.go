package jobs

import (
	"strings"
	"time"

	"github.com/mtr002/lm-jobs/internal/interfaces"
)

// JobView is what status readers return. Result fields appear only on completed
// jobs and the error only on failed ones.
type JobView struct {
	JobID                 string                `json:"job_id"`
	JobType               interfaces.Kind       `json:"job_type"`
	Status                interfaces.JobStatus  `json:"status"`
	UserID                string                `json:"user_id"`
	Subject               string                `json:"subject"`
	Payload               interfaces.Payload    `json:"payload"`
	Result                interfaces.Result     `json:"result,omitempty"`
	WordCount             *int                  `json:"word_count,omitempty"`
	Index                 *interfaces.IndexInfo `json:"index,omitempty"`
	Error                 *string               `json:"error,omitempty"`
	CreatedAt             time.Time             `json:"created_at"`
	StartedAt             *time.Time            `json:"started_at,omitempty"`
	CompletedAt           *time.Time            `json:"completed_at,omitempty"`
	ProcessingTimeSeconds *float64              `json:"processing_time_seconds,omitempty"`
}

// NewJobView projects a stored job.
func NewJobView(job *interfaces.Job) *JobView {
	tags := job.Payload.Tags()
	v := &JobView{
		JobID:       job.ID,
		JobType:     job.Kind,
		Status:      job.Status,
		UserID:      tags.UserID,
		Subject:     tags.Subject,
		Payload:     job.Payload,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}

	switch job.Status {
	case interfaces.StatusCompleted:
		v.Result = job.Result
		v.Index = job.Index
		if r, ok := job.Result.(*interfaces.TranscriptionResult); ok {
			n := len(strings.Fields(r.Text))
			v.WordCount = &n
		}
	case interfaces.StatusFailed:
		v.Error = job.Error
	}

	if job.StartedAt != nil && job.CompletedAt != nil {
		secs := job.CompletedAt.Sub(*job.StartedAt).Seconds()
		v.ProcessingTimeSeconds = &secs
	}
	return v
}

// NewJobViews projects a list.
func NewJobViews(jobs []*interfaces.Job) []*JobView {
	views := make([]*JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, NewJobView(job))
	}
	return views
}
