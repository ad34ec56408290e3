package nats

import (
	"encoding/json"
	"errors"

	"github.com/mtr002/lm-jobs/internal/interfaces"
)

// Reply codes mirror the HTTP error bodies.
const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeNotFound        = "NOT_FOUND"
	CodeStorageError    = "STORAGE_ERROR"
	CodeInternal        = "INTERNAL"
)

// SubmitReply answers a submission request. Code is empty on success.
type SubmitReply struct {
	JobID   string               `json:"job_id,omitempty"`
	JobType interfaces.Kind      `json:"job_type,omitempty"`
	Status  interfaces.JobStatus `json:"status,omitempty"`
	Code    string               `json:"code,omitempty"`
	Message string               `json:"message,omitempty"`
}

func acceptedReply(job *interfaces.Job) SubmitReply {
	return SubmitReply{JobID: job.ID, JobType: job.Kind, Status: job.Status}
}

func errorReply(err error) SubmitReply {
	code := CodeInternal
	switch {
	case interfaces.IsValidation(err):
		code = CodeInvalidArgument
	case errors.Is(err, interfaces.ErrNotFound):
		code = CodeNotFound
	case interfaces.IsStorage(err):
		code = CodeStorageError
	}
	return SubmitReply{Code: code, Message: err.Error()}
}

// decodeReply parses a reply and turns error codes back into typed errors.
func decodeReply(data []byte) (*SubmitReply, error) {
	var reply SubmitReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, err
	}
	switch reply.Code {
	case "":
		return &reply, nil
	case CodeInvalidArgument:
		return nil, &interfaces.ValidationError{Field: "request", Reason: reply.Message}
	case CodeNotFound:
		return nil, interfaces.ErrNotFound
	case CodeStorageError:
		return nil, &interfaces.StorageError{Op: "submit", Err: errors.New(reply.Message)}
	default:
		return nil, errors.New(reply.Message)
	}
}
