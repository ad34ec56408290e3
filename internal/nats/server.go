package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mtr002/lm-jobs/internal/interfaces"
	"github.com/mtr002/lm-jobs/internal/jobs"
	"github.com/mtr002/lm-jobs/internal/logger"
)

const submitQueueGroup = "lmjobs-submitters"

// Submitter accepts new jobs. *jobs.Manager implements it.
type Submitter interface {
	SubmitTranscription(ctx context.Context, req jobs.TranscriptionRequest) (*interfaces.Job, error)
	SubmitPresentation(ctx context.Context, req jobs.PresentationRequest) (*interfaces.Job, error)
}

// Server answers submission requests on lmjobs.submit.<job_type>. Instances share a
// queue group so each request is handled once.
type Server struct {
	conn      *nats.Conn
	submitter Submitter
	timeout   time.Duration
	subs      []*nats.Subscription
}

func NewServer(conn *nats.Conn, submitter Submitter) *Server {
	return &Server{conn: conn, submitter: submitter, timeout: 10 * time.Second}
}

func (s *Server) Subscribe() error {
	for _, kind := range interfaces.Kinds {
		sub, err := s.conn.QueueSubscribe(SubmitSubjectFor(kind), submitQueueGroup, func(msg *nats.Msg) {
			s.handle(kind, msg)
		})
		if err != nil {
			s.Close()
			return fmt.Errorf("failed to subscribe to %s submissions: %w", kind, err)
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

func (s *Server) handle(kind interfaces.Kind, msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	reply := s.submit(ctx, kind, msg.Data)
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to marshal submission reply")
		return
	}
	if err := msg.Respond(data); err != nil {
		logger.Logger.Warn().Err(err).Str("subject", msg.Subject).Msg("Failed to respond to submission")
	}
}

func (s *Server) submit(ctx context.Context, kind interfaces.Kind, data []byte) SubmitReply {
	var (
		job *interfaces.Job
		err error
	)
	switch kind {
	case interfaces.KindTranscription:
		var req jobs.TranscriptionRequest
		if err = json.Unmarshal(data, &req); err == nil {
			job, err = s.submitter.SubmitTranscription(ctx, req)
		} else {
			err = &interfaces.ValidationError{Field: "body", Reason: err.Error()}
		}
	case interfaces.KindPresentation:
		var req jobs.PresentationRequest
		if err = json.Unmarshal(data, &req); err == nil {
			job, err = s.submitter.SubmitPresentation(ctx, req)
		} else {
			err = &interfaces.ValidationError{Field: "body", Reason: err.Error()}
		}
	default:
		err = &interfaces.ValidationError{Field: "job_type", Reason: fmt.Sprintf("unknown job type %q", kind)}
	}

	if err != nil {
		logger.Logger.Warn().Err(err).Str("job_type", string(kind)).Msg("Rejected NATS submission")
		return errorReply(err)
	}
	logger.WithJobID(job.ID).Info().Str("job_type", string(kind)).Msg("Accepted NATS submission")
	return acceptedReply(job)
}

func (s *Server) Close() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
}
