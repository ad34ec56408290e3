package grpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/mtr002/lm-jobs/internal/interfaces"
	"github.com/mtr002/lm-jobs/internal/jobs"
)

const defaultCallTimeout = 10 * time.Second

// Client calls a remote job service. It satisfies the same JobService contract as
// the local manager, translating status codes back into typed errors, so the HTTP
// API can run as a gateway in front of another instance (server.remote_jobs_addr).
type Client struct {
	conn *grpc.ClientConn
}

// NewClient creates a lazily connecting client for addr.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	}, opts...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Ping waits until the connection is ready or ctx ends.
func (c *Client) Ping(ctx context.Context) error {
	c.conn.Connect()
	for {
		state := c.conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return fmt.Errorf("job service connection is closed")
		}
		if !c.conn.WaitForStateChange(ctx, state) {
			return fmt.Errorf("job service %s: %w", state, ctx.Err())
		}
	}
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultCallTimeout)
		defer cancel()
	}
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/"+method, req, resp); err != nil {
		return fromStatus(err)
	}
	return nil
}

func (c *Client) SubmitTranscription(ctx context.Context, req jobs.TranscriptionRequest) (*interfaces.Job, error) {
	var resp JobMessage
	if err := c.invoke(ctx, "SubmitTranscription", &req, &resp); err != nil {
		return nil, err
	}
	return resp.toJob()
}

func (c *Client) SubmitPresentation(ctx context.Context, req jobs.PresentationRequest) (*interfaces.Job, error) {
	var resp JobMessage
	if err := c.invoke(ctx, "SubmitPresentation", &req, &resp); err != nil {
		return nil, err
	}
	return resp.toJob()
}

func (c *Client) GetJob(ctx context.Context, id string) (*interfaces.Job, error) {
	var resp JobMessage
	if err := c.invoke(ctx, "GetJob", &GetJobRequest{JobID: id}, &resp); err != nil {
		return nil, err
	}
	return resp.toJob()
}

func (c *Client) ListJobs(ctx context.Context, kind interfaces.Kind, q jobs.ListQuery) ([]*interfaces.Job, error) {
	var resp ListJobsResponse
	req := &ListJobsRequest{JobType: kind, Status: q.Status, Subject: q.Subject, Limit: q.Limit}
	if err := c.invoke(ctx, "ListJobs", req, &resp); err != nil {
		return nil, err
	}

	out := make([]*interfaces.Job, 0, len(resp.Jobs))
	for _, msg := range resp.Jobs {
		job, err := msg.toJob()
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

func (c *Client) DeleteJob(ctx context.Context, id string) error {
	var resp DeleteJobResponse
	return c.invoke(ctx, "DeleteJob", &DeleteJobRequest{JobID: id}, &resp)
}

// fromStatus turns gRPC codes back into the error taxonomy.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return &interfaces.ValidationError{Field: "request", Reason: st.Message()}
	case codes.NotFound:
		return interfaces.ErrNotFound
	case codes.Unavailable:
		return &interfaces.StorageError{Op: "rpc", Err: err}
	default:
		return err
	}
}
