package grpc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mtr002/lm-jobs/internal/interfaces"
)

// JobMessage is the wire form of a job. Payload and result stay raw so the receiver
// can decode them by job type.
type JobMessage struct {
	ID          string                `json:"job_id"`
	JobType     interfaces.Kind       `json:"job_type"`
	Status      interfaces.JobStatus  `json:"status"`
	Payload     json.RawMessage       `json:"payload"`
	Result      json.RawMessage       `json:"result,omitempty"`
	Error       *string               `json:"error,omitempty"`
	Index       *interfaces.IndexInfo `json:"index,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	StartedAt   *time.Time            `json:"started_at,omitempty"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

type GetJobRequest struct {
	JobID string `json:"job_id"`
}

type DeleteJobRequest struct {
	JobID string `json:"job_id"`
}

type DeleteJobResponse struct {
	Deleted bool `json:"deleted"`
}

type ListJobsRequest struct {
	JobType interfaces.Kind `json:"job_type"`
	Status  string          `json:"status,omitempty"`
	Subject string          `json:"subject,omitempty"`
	Limit   int             `json:"limit,omitempty"`
}

type ListJobsResponse struct {
	Jobs []*JobMessage `json:"jobs"`
}

func toMessage(job *interfaces.Job) (*JobMessage, error) {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	msg := &JobMessage{
		ID:          job.ID,
		JobType:     job.Kind,
		Status:      job.Status,
		Payload:     payload,
		Error:       job.Error,
		Index:       job.Index,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
	if job.Result != nil {
		if msg.Result, err = json.Marshal(job.Result); err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
	}
	return msg, nil
}

func (m *JobMessage) toJob() (*interfaces.Job, error) {
	payload, err := interfaces.DecodePayload(m.JobType, m.Payload)
	if err != nil {
		return nil, err
	}
	job := &interfaces.Job{
		ID:          m.ID,
		Kind:        m.JobType,
		Payload:     payload,
		Status:      m.Status,
		Error:       m.Error,
		Index:       m.Index,
		CreatedAt:   m.CreatedAt,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
	}
	if len(m.Result) > 0 {
		if job.Result, err = interfaces.DecodeResult(m.JobType, m.Result); err != nil {
			return nil, err
		}
	}
	return job, nil
}
