package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mtr002/lm-jobs/internal/interfaces"
	"github.com/mtr002/lm-jobs/internal/jobs"
	"github.com/mtr002/lm-jobs/internal/logger"
)

const (
	// StreamName holds the job notifications of both families.
	StreamName = "LMJOBS"
	jobSubject = "lmjobs.jobs"
	// SubmitSubject prefixes the request/reply submission subjects.
	SubmitSubject = "lmjobs.submit"
)

// JobSubject returns the stream subject carrying notifications for kind.
func JobSubject(kind interfaces.Kind) string {
	return jobSubject + "." + string(kind)
}

// SubmitSubjectFor returns the request subject accepting submissions of kind.
func SubmitSubjectFor(kind interfaces.Kind) string {
	return SubmitSubject + "." + string(kind)
}

// Connect dials url with reconnect logging.
func Connect(url, name string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}

	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Logger.Warn().Err(err).Msg("Disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Logger.Info().Str("url", c.ConnectedUrl()).Msg("Reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// JetStreamQueue is the JetStream flavour of the work queue. Messages are acked as
// soon as they are fetched, so delivery is at most once like a Redis pop; the store
// and the sweeper cover anything lost.
type JetStreamQueue struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	durable string

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewJetStreamQueue makes sure the stream exists. The pull consumer is bound on the
// first Pop so publish-only processes never create one.
func NewJetStreamQueue(conn *nats.Conn, durable string) (*JetStreamQueue, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to open JetStream context: %w", err)
	}

	if _, err := js.StreamInfo(StreamName); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return nil, fmt.Errorf("failed to look up stream: %w", err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      StreamName,
			Subjects:  []string{jobSubject + ".*"},
			Retention: nats.WorkQueuePolicy,
			Storage:   nats.FileStorage,
			MaxAge:    24 * time.Hour,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
	}

	return &JetStreamQueue{conn: conn, js: js, durable: durable}, nil
}

func (q *JetStreamQueue) Push(ctx context.Context, msg *interfaces.QueueMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}
	if _, err := q.js.Publish(JobSubject(msg.JobType), data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish job notification: %w", err)
	}
	return nil
}

func (q *JetStreamQueue) subscription() (*nats.Subscription, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sub != nil {
		return q.sub, nil
	}
	sub, err := q.js.PullSubscribe(jobSubject+".*", q.durable, nats.BindStream(StreamName))
	if err != nil {
		return nil, fmt.Errorf("failed to bind pull consumer: %w", err)
	}
	q.sub = sub
	return sub, nil
}

func (q *JetStreamQueue) Pop(ctx context.Context, timeout time.Duration) (*interfaces.QueueMessage, error) {
	sub, err := q.subscription()
	if err != nil {
		return nil, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msgs, err := sub.Fetch(1, nats.Context(fetchCtx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch job notification: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	m := msgs[0]
	if err := m.Ack(); err != nil {
		logger.Logger.Warn().Err(err).Str("subject", m.Subject).Msg("Failed to ack job notification")
	}

	var msg interfaces.QueueMessage
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode queue message: %w", err)
	}
	return &msg, nil
}

// Ping flushes the connection, which round-trips to the server.
func (q *JetStreamQueue) Ping(ctx context.Context) error {
	return q.conn.FlushWithContext(ctx)
}

func (q *JetStreamQueue) Close() error {
	q.conn.Close()
	return nil
}

// Requester sends a request and waits for the reply. *nats.Conn implements it.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// SubmitClient submits jobs over NATS request/reply.
type SubmitClient struct {
	conn Requester
}

func NewSubmitClient(conn Requester) *SubmitClient {
	return &SubmitClient{conn: conn}
}

func (c *SubmitClient) SubmitTranscription(ctx context.Context, req jobs.TranscriptionRequest) (*SubmitReply, error) {
	return c.request(ctx, interfaces.KindTranscription, req)
}

func (c *SubmitClient) SubmitPresentation(ctx context.Context, req jobs.PresentationRequest) (*SubmitReply, error) {
	return c.request(ctx, interfaces.KindPresentation, req)
}

func (c *SubmitClient) request(ctx context.Context, kind interfaces.Kind, req any) (*SubmitReply, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal submission: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}

	resp, err := c.conn.RequestWithContext(ctx, SubmitSubjectFor(kind), data)
	if err != nil {
		return nil, fmt.Errorf("failed to submit %s job: %w", kind, err)
	}
	return decodeReply(resp.Data)
}
