package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mtr002/lm-jobs/internal/interfaces"
	"github.com/mtr002/lm-jobs/internal/logger"
	"github.com/mtr002/lm-jobs/internal/metrics"
)

// JobProcessor runs the external operation of a job. ctx carries the job's deadline.
type JobProcessor interface {
	Process(ctx context.Context, job *interfaces.Job) (interfaces.Result, error)
}

// Indexer makes a completed transcript searchable. It returns the collection written to.
type Indexer interface {
	IndexTranscript(ctx context.Context, job *interfaces.Job, result *interfaces.TranscriptionResult) (string, error)
}

// Config tunes the pool.
type Config struct {
	WorkerCount          int
	PopTimeout           time.Duration
	TranscriptionTimeout time.Duration
	PresentationTimeout  time.Duration
	// LeaseGrace is added to the job timeout when computing lease_expires_at.
	LeaseGrace   time.Duration
	StoreTimeout time.Duration
	IndexTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		WorkerCount:          2,
		PopTimeout:           5 * time.Second,
		TranscriptionTimeout: 30 * time.Minute,
		PresentationTimeout:  30 * time.Minute,
		LeaseGrace:           time.Minute,
		StoreTimeout:         10 * time.Second,
		IndexTimeout:         time.Minute,
	}
}

// Timeout returns the processing deadline for kind.
func (c Config) Timeout(kind interfaces.Kind) time.Duration {
	if kind == interfaces.KindPresentation {
		return c.PresentationTimeout
	}
	return c.TranscriptionTimeout
}

// SecondaryStatus is the outcome of the soft-fail step after completion.
type SecondaryStatus string

const (
	SecondarySkipped SecondaryStatus = "skipped"
	SecondaryOK      SecondaryStatus = "ok"
	SecondaryFailed  SecondaryStatus = "failed"
)

// Secondary describes the indexing step. It never changes the job status.
type Secondary struct {
	Status     SecondaryStatus
	Collection string
	Reason     string
}

// Outcome reports what Handle did with one message.
type Outcome struct {
	JobID   string
	Kind    interfaces.Kind
	Claimed bool
	// Primary is the last durable status Handle wrote or observed.
	Primary   interfaces.JobStatus
	Error     string
	Secondary Secondary
}

// Pool runs WorkerCount pull loops over the queue.
type Pool struct {
	store     interfaces.JobStore
	queue     interfaces.Queue
	processor JobProcessor
	indexer   Indexer
	cfg       Config
	now       func() time.Time

	// loopCtx stops popping; jobCtx cancels in-flight jobs.
	loopCtx    context.Context
	stopLoops  context.CancelFunc
	jobCtx     context.Context
	cancelJobs context.CancelFunc
	wg         sync.WaitGroup
}

// Option customises a Pool.
type Option func(*Pool)

func WithIndexer(indexer Indexer) Option {
	return func(p *Pool) { p.indexer = indexer }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// NewPool creates a new worker pool
func NewPool(store interfaces.JobStore, queue interfaces.Queue, processor JobProcessor, cfg Config, opts ...Option) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	def := DefaultConfig()
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = def.PopTimeout
	}
	if cfg.TranscriptionTimeout <= 0 {
		cfg.TranscriptionTimeout = def.TranscriptionTimeout
	}
	if cfg.PresentationTimeout <= 0 {
		cfg.PresentationTimeout = def.PresentationTimeout
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if cfg.IndexTimeout <= 0 {
		cfg.IndexTimeout = def.IndexTimeout
	}

	loopCtx, stopLoops := context.WithCancel(context.Background())
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	p := &Pool{
		store:      store,
		queue:      queue,
		processor:  processor,
		cfg:        cfg,
		now:        time.Now,
		loopCtx:    loopCtx,
		stopLoops:  stopLoops,
		jobCtx:     jobCtx,
		cancelJobs: cancelJobs,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins processing jobs with the configured number of workers
func (p *Pool) Start() {
	logger.Logger.Info().Int("worker_count", p.cfg.WorkerCount).Msg("Starting worker pool")

	for i := 0; i < p.cfg.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop stops popping and waits for in-flight jobs. When ctx ends first the remaining
// jobs are cancelled and fail with the cancellation cause.
func (p *Pool) Stop(ctx context.Context) error {
	logger.Logger.Info().Msg("Stopping worker pool")
	p.stopLoops()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		logger.Logger.Warn().Msg("Shutdown deadline reached, cancelling in-flight jobs")
		p.cancelJobs()
		<-done
		err = ctx.Err()
	}
	p.cancelJobs()

	logger.Logger.Info().Msg("Worker pool stopped")
	return err
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := logger.WithWorker(id)
	log.Info().Msg("Worker started")

	for {
		if p.loopCtx.Err() != nil {
			log.Info().Msg("Worker shutting down")
			return
		}

		msg, err := p.queue.Pop(p.loopCtx, p.cfg.PopTimeout)
		if err != nil {
			if p.loopCtx.Err() != nil {
				continue
			}
			log.Error().Err(err).Msg("Error popping from queue")
			p.backoff()
			continue
		}
		// nil is the pop timeout: a heartbeat to re-check shutdown
		if msg == nil {
			continue
		}

		p.Handle(p.jobCtx, msg)
	}
}

func (p *Pool) backoff() {
	t := time.NewTimer(time.Second)
	defer t.Stop()
	select {
	case <-p.loopCtx.Done():
	case <-t.C:
	}
}

// storeContext bounds a store call independently of the job deadline.
func (p *Pool) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), p.cfg.StoreTimeout)
}

// Handle claims, runs and records one queued job. It is safe to call with duplicate
// or replayed messages: only a pending job can be claimed.
func (p *Pool) Handle(ctx context.Context, msg *interfaces.QueueMessage) Outcome {
	job, err := msg.Job()
	if err != nil {
		logger.Logger.Error().Err(err).Str("job_id", msg.JobID).Msg("Dropping malformed queue message")
		return Outcome{JobID: msg.JobID, Kind: msg.JobType, Error: err.Error()}
	}

	log := logger.WithJobID(job.ID).With().Str("job_type", string(job.Kind)).Logger()
	out := Outcome{JobID: job.ID, Kind: job.Kind, Secondary: Secondary{Status: SecondarySkipped}}
	timeout := p.cfg.Timeout(job.Kind)

	startedAt := p.now().UTC()
	claimCtx, cancel := p.storeContext()
	claimed, err := p.store.ClaimJob(claimCtx, job.Kind, job.ID, startedAt, startedAt.Add(timeout+p.cfg.LeaseGrace))
	cancel()
	if err != nil {
		log.Error().Err(err).Msg("Failed to claim job")
		out.Error = err.Error()
		return out
	}
	if !claimed {
		metrics.DuplicateClaims.WithLabelValues(string(job.Kind)).Inc()
		log.Debug().Msg("Job not pending, ignoring message")
		return out
	}
	out.Claimed = true
	out.Primary = interfaces.StatusProcessing

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()
	log.Info().Dur("timeout", timeout).Msg("Processing job")

	runCtx, cancelRun := context.WithTimeout(ctx, timeout)
	start := time.Now()
	result, err := p.processor.Process(runCtx, job)
	runErr := runCtx.Err()
	cancelRun()
	metrics.JobProcessingDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(start).Seconds())

	if err == nil && result == nil {
		err = errors.New("engine returned no result")
	}
	if err != nil {
		reason := failureReason(job.Kind, timeout, runErr, err)
		log.Error().Err(err).Str("reason", reason).Msg("Job processing failed")

		storeCtx, cancel := p.storeContext()
		defer cancel()
		if ferr := p.store.FailJob(storeCtx, job.Kind, job.ID, reason, p.now().UTC()); ferr != nil {
			log.Error().Err(ferr).Msg("Failed to update failed job")
			out.Error = ferr.Error()
			return out
		}
		metrics.JobsFailedTotal.WithLabelValues(string(job.Kind)).Inc()
		out.Primary = interfaces.StatusFailed
		out.Error = reason
		return out
	}

	storeCtx, cancel := p.storeContext()
	defer cancel()
	if cerr := p.store.CompleteJob(storeCtx, job.Kind, job.ID, result, p.now().UTC()); cerr != nil {
		log.Error().Err(cerr).Msg("Failed to update job as completed")
		out.Error = cerr.Error()
		return out
	}
	metrics.JobsCompletedTotal.WithLabelValues(string(job.Kind)).Inc()
	out.Primary = interfaces.StatusCompleted
	log.Info().Dur("elapsed", time.Since(start)).Msg("Job completed")

	out.Secondary = p.index(job, result)
	return out
}

func (p *Pool) index(job *interfaces.Job, result interfaces.Result) Secondary {
	payload, ok := job.Payload.(*interfaces.TranscriptionPayload)
	transcript, isTranscript := result.(*interfaces.TranscriptionResult)
	if !ok || !isTranscript || !payload.AutoIndex || p.indexer == nil {
		return Secondary{Status: SecondarySkipped}
	}

	log := logger.WithJobID(job.ID)
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.IndexTimeout)
	defer cancel()

	sec := Secondary{Status: SecondaryOK}
	info := interfaces.IndexInfo{Indexed: true}
	collection, err := p.indexer.IndexTranscript(ctx, job, transcript)
	sec.Collection = collection
	info.Collection = collection
	if err != nil {
		metrics.IndexFailures.Inc()
		log.Warn().Err(err).Msg("Transcript indexing failed, job stays completed")
		sec.Status = SecondaryFailed
		sec.Reason = err.Error()
		info = interfaces.IndexInfo{Collection: collection, Error: err.Error()}
	}

	storeCtx, cancelStore := p.storeContext()
	defer cancelStore()
	if err := p.store.RecordIndex(storeCtx, job.ID, info); err != nil {
		log.Error().Err(err).Msg("Failed to record index outcome")
	}
	return sec
}

func failureReason(kind interfaces.Kind, timeout time.Duration, runErr, err error) string {
	var ext *interfaces.ExternalOperationError
	switch {
	case errors.Is(runErr, context.DeadlineExceeded):
		return fmt.Sprintf("%s timed out after %s", kind, timeout)
	case errors.As(err, &ext) && ext.Timeout:
		return fmt.Sprintf("%s timed out after %s", kind, timeout)
	case errors.Is(runErr, context.Canceled):
		return fmt.Sprintf("%s cancelled: worker shutting down", kind)
	default:
		return err.Error()
	}
}
