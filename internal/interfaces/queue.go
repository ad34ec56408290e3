package interfaces

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// QueueMessage is the doorbell a worker pops. It is a hint, not a record: the store
// stays authoritative.
type QueueMessage struct {
	JobID   string          `json:"job_id"`
	JobType Kind            `json:"job_type"`
	Payload json.RawMessage `json:"payload"`
}

// NewQueueMessage builds the message announcing job.
func NewQueueMessage(job *Job) (*QueueMessage, error) {
	raw, err := json.Marshal(job.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return &QueueMessage{JobID: job.ID, JobType: job.Kind, Payload: raw}, nil
}

// Job rebuilds the pending job view carried by the message, without a store read.
func (m *QueueMessage) Job() (*Job, error) {
	if m.JobID == "" {
		return nil, fmt.Errorf("queue message without job_id")
	}
	payload, err := DecodePayload(m.JobType, m.Payload)
	if err != nil {
		return nil, err
	}
	return &Job{ID: m.JobID, Kind: m.JobType, Payload: payload, Status: StatusPending}, nil
}

// Queue is the transient notification channel between submitters and workers.
type Queue interface {
	Push(ctx context.Context, msg *QueueMessage) error
	// Pop blocks up to timeout. It returns (nil, nil) when nothing arrived.
	Pop(ctx context.Context, timeout time.Duration) (*QueueMessage, error)
	Close() error
}
