package jobs

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mtr002/lm-jobs/internal/interfaces"
	"github.com/mtr002/lm-jobs/internal/logger"
	"github.com/mtr002/lm-jobs/internal/metrics"
)

const (
	DefaultUserID  = "default_user"
	DefaultSubject = "default"

	DefaultNumSlides = 5
	MaxNumSlides     = 50

	DefaultLanguage = "English"
	DefaultTemplate = "general"
	DefaultTone     = "educational"
)

// SourceChecker tells whether an input file reference exists.
type SourceChecker interface {
	Exists(ctx context.Context, ref string) (bool, error)
}

// TranscriptionRequest is the caller's view of a transcription submission.
type TranscriptionRequest struct {
	Source    string `json:"source"`
	FileName  string `json:"file_name"`
	Language  string `json:"language"`
	AutoIndex *bool  `json:"auto_index"`
	UserID    string `json:"user_id"`
	Subject   string `json:"subject"`
}

// PresentationRequest is the caller's view of a presentation submission.
type PresentationRequest struct {
	Topic     string `json:"topic"`
	NumSlides int    `json:"n_slides"`
	Language  string `json:"language"`
	Template  string `json:"template"`
	Tone      string `json:"tone"`
	UserID    string `json:"user_id"`
	Subject   string `json:"subject"`
}

// ListQuery is an unvalidated list request.
type ListQuery struct {
	Status  string
	Subject string
	Limit   int
}

// Manager submits jobs and answers status queries. The store is authoritative; the
// queue only wakes workers.
type Manager struct {
	store   interfaces.JobStore
	queue   interfaces.Queue
	sources SourceChecker
	now     func() time.Time
	newID   func() string
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithSourceChecker enables the existence check on transcription sources.
func WithSourceChecker(sources SourceChecker) Option {
	return func(m *Manager) { m.sources = sources }
}

// NewManager creates a new job manager
func NewManager(store interfaces.JobStore, queue interfaces.Queue, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		queue: queue,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SubmitTranscription validates req, records a pending job and notifies workers.
func (m *Manager) SubmitTranscription(ctx context.Context, req TranscriptionRequest) (*interfaces.Job, error) {
	req.Source = strings.TrimSpace(req.Source)
	if req.Source == "" {
		return nil, &interfaces.ValidationError{Field: "source", Reason: "is required"}
	}
	if req.FileName == "" {
		req.FileName = baseName(req.Source)
	}

	if m.sources != nil {
		ok, err := m.sources.Exists(ctx, req.Source)
		if err != nil {
			return nil, &interfaces.ValidationError{Field: "source", Reason: err.Error()}
		}
		if !ok {
			return nil, &interfaces.ValidationError{Field: "source", Reason: "file not found: " + req.Source}
		}
	}

	autoIndex := true
	if req.AutoIndex != nil {
		autoIndex = *req.AutoIndex
	}

	payload := &interfaces.TranscriptionPayload{
		Source:    req.Source,
		FileName:  req.FileName,
		Language:  req.Language,
		AutoIndex: autoIndex,
		UserID:    orDefault(req.UserID, DefaultUserID),
		Subject:   orDefault(req.Subject, DefaultSubject),
	}
	return m.submit(ctx, payload)
}

// SubmitPresentation validates req, records a pending job and notifies workers.
func (m *Manager) SubmitPresentation(ctx context.Context, req PresentationRequest) (*interfaces.Job, error) {
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		return nil, &interfaces.ValidationError{Field: "topic", Reason: "is required"}
	}
	if req.NumSlides == 0 {
		req.NumSlides = DefaultNumSlides
	}
	if req.NumSlides < 1 || req.NumSlides > MaxNumSlides {
		return nil, &interfaces.ValidationError{Field: "n_slides", Reason: "must be between 1 and 50"}
	}

	payload := &interfaces.PresentationPayload{
		Topic:     req.Topic,
		NumSlides: req.NumSlides,
		Language:  orDefault(req.Language, DefaultLanguage),
		Template:  orDefault(req.Template, DefaultTemplate),
		Tone:      orDefault(req.Tone, DefaultTone),
		UserID:    orDefault(req.UserID, DefaultUserID),
		Subject:   orDefault(req.Subject, DefaultSubject),
	}
	return m.submit(ctx, payload)
}

func (m *Manager) submit(ctx context.Context, payload interfaces.Payload) (*interfaces.Job, error) {
	job := &interfaces.Job{
		ID:        m.newID(),
		Kind:      payload.Kind(),
		Payload:   payload,
		Status:    interfaces.StatusPending,
		CreatedAt: m.now().UTC(),
	}

	if err := m.store.CreateJob(ctx, job); err != nil {
		return nil, &interfaces.StorageError{Op: "create job", Err: err}
	}

	metrics.JobsSubmittedTotal.WithLabelValues(string(job.Kind)).Inc()
	log := logger.WithJobID(job.ID)

	// The row is durable; a lost notification leaves it pending for the sweeper.
	if err := m.Notify(ctx, job); err != nil {
		metrics.QueueNotifyFailures.WithLabelValues(string(job.Kind)).Inc()
		log.Warn().Err(err).Str("job_type", string(job.Kind)).Msg("Job stored but queue notification failed")
	} else {
		log.Info().Str("job_type", string(job.Kind)).Str("subject", job.Subject()).Msg("Job submitted successfully")
	}
	return job, nil
}

// Notify pushes the queue message for job and stamps the announcement on the row, so
// the sweeper re-announces a job at most once per pending window. It is also used to
// re-announce stale jobs.
func (m *Manager) Notify(ctx context.Context, job *interfaces.Job) error {
	msg, err := interfaces.NewQueueMessage(job)
	if err != nil {
		return err
	}
	if err := m.queue.Push(ctx, msg); err != nil {
		return err
	}
	if err := m.store.MarkNotified(ctx, job.Kind, job.ID, m.now().UTC()); err != nil {
		logger.WithJobID(job.ID).Warn().Err(err).Msg("Failed to record queue notification")
	}
	return nil
}

// GetJob looks the id up in every job family.
func (m *Manager) GetJob(ctx context.Context, id string) (*interfaces.Job, error) {
	for _, kind := range interfaces.Kinds {
		job, err := m.store.GetJob(ctx, kind, id)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, interfaces.ErrNotFound) {
			return nil, &interfaces.StorageError{Op: "get job", Err: err}
		}
	}
	return nil, interfaces.ErrNotFound
}

// ListJobs returns jobs of one family, newest first.
func (m *Manager) ListJobs(ctx context.Context, kind interfaces.Kind, q ListQuery) ([]*interfaces.Job, error) {
	if _, err := interfaces.ParseKind(string(kind)); err != nil {
		return nil, &interfaces.ValidationError{Field: "job_type", Reason: err.Error()}
	}

	filter := interfaces.ListFilter{Subject: q.Subject, Limit: q.Limit}
	if q.Status != "" {
		status, err := interfaces.ParseStatus(q.Status)
		if err != nil {
			return nil, err
		}
		filter.Status = status
	}
	switch {
	case filter.Limit < 0:
		return nil, &interfaces.ValidationError{Field: "limit", Reason: "must not be negative"}
	case filter.Limit == 0:
		filter.Limit = interfaces.DefaultListLimit
	case filter.Limit > interfaces.MaxListLimit:
		filter.Limit = interfaces.MaxListLimit
	}

	jobs, err := m.store.ListJobs(ctx, kind, filter)
	if err != nil {
		return nil, &interfaces.StorageError{Op: "list jobs", Err: err}
	}
	return jobs, nil
}

// DeleteJob removes a job from whichever family holds it.
func (m *Manager) DeleteJob(ctx context.Context, id string) error {
	for _, kind := range interfaces.Kinds {
		err := m.store.DeleteJob(ctx, kind, id)
		if err == nil {
			logger.WithJobID(id).Info().Str("job_type", string(kind)).Msg("Job deleted")
			return nil
		}
		if !errors.Is(err, interfaces.ErrNotFound) {
			return &interfaces.StorageError{Op: "delete job", Err: err}
		}
	}
	return interfaces.ErrNotFound
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func baseName(ref string) string {
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}
