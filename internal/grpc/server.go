package grpc

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mtr002/lm-jobs/internal/interfaces"
	"github.com/mtr002/lm-jobs/internal/jobs"
	"github.com/mtr002/lm-jobs/internal/logger"
)

const serviceName = "lmjobs.v1.JobService"

// JobService is what the RPC surface exposes. *jobs.Manager implements it.
type JobService interface {
	SubmitTranscription(ctx context.Context, req jobs.TranscriptionRequest) (*interfaces.Job, error)
	SubmitPresentation(ctx context.Context, req jobs.PresentationRequest) (*interfaces.Job, error)
	GetJob(ctx context.Context, id string) (*interfaces.Job, error)
	ListJobs(ctx context.Context, kind interfaces.Kind, q jobs.ListQuery) ([]*interfaces.Job, error)
	DeleteJob(ctx context.Context, id string) error
}

// jobServiceServer is the handler type checked by RegisterService.
type jobServiceServer interface {
	SubmitTranscription(ctx context.Context, req *jobs.TranscriptionRequest) (*JobMessage, error)
	SubmitPresentation(ctx context.Context, req *jobs.PresentationRequest) (*JobMessage, error)
	GetJob(ctx context.Context, req *GetJobRequest) (*JobMessage, error)
	ListJobs(ctx context.Context, req *ListJobsRequest) (*ListJobsResponse, error)
	DeleteJob(ctx context.Context, req *DeleteJobRequest) (*DeleteJobResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*jobServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitTranscription", Handler: unaryHandler("SubmitTranscription", jobServiceServer.SubmitTranscription)},
		{MethodName: "SubmitPresentation", Handler: unaryHandler("SubmitPresentation", jobServiceServer.SubmitPresentation)},
		{MethodName: "GetJob", Handler: unaryHandler("GetJob", jobServiceServer.GetJob)},
		{MethodName: "ListJobs", Handler: unaryHandler("ListJobs", jobServiceServer.ListJobs)},
		{MethodName: "DeleteJob", Handler: unaryHandler("DeleteJob", jobServiceServer.DeleteJob)},
	},
	Metadata: "lmjobs/v1/jobs",
}

func unaryHandler[Req, Resp any](method string, call func(jobServiceServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(jobServiceServer)
		if interceptor == nil {
			return call(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(s, ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Server adapts a JobService to the RPC handlers.
type Server struct {
	jobs JobService
}

// NewGRPCServer builds a grpc.Server with the JSON codec and the job service registered.
func NewGRPCServer(svc JobService, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.ChainUnaryInterceptor(loggingInterceptor),
	}, opts...)
	s := grpc.NewServer(opts...)
	s.RegisterService(&serviceDesc, &Server{jobs: svc})
	return s
}

func (s *Server) SubmitTranscription(ctx context.Context, req *jobs.TranscriptionRequest) (*JobMessage, error) {
	job, err := s.jobs.SubmitTranscription(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return jobMessage(job)
}

func (s *Server) SubmitPresentation(ctx context.Context, req *jobs.PresentationRequest) (*JobMessage, error) {
	job, err := s.jobs.SubmitPresentation(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return jobMessage(job)
}

func (s *Server) GetJob(ctx context.Context, req *GetJobRequest) (*JobMessage, error) {
	if req.JobID == "" {
		return nil, status.Error(codes.InvalidArgument, "job_id is required")
	}
	job, err := s.jobs.GetJob(ctx, req.JobID)
	if err != nil {
		return nil, toStatus(err)
	}
	return jobMessage(job)
}

func (s *Server) ListJobs(ctx context.Context, req *ListJobsRequest) (*ListJobsResponse, error) {
	list, err := s.jobs.ListJobs(ctx, req.JobType, jobs.ListQuery{Status: req.Status, Subject: req.Subject, Limit: req.Limit})
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &ListJobsResponse{Jobs: make([]*JobMessage, 0, len(list))}
	for _, job := range list {
		msg, err := jobMessage(job)
		if err != nil {
			return nil, err
		}
		resp.Jobs = append(resp.Jobs, msg)
	}
	return resp, nil
}

func (s *Server) DeleteJob(ctx context.Context, req *DeleteJobRequest) (*DeleteJobResponse, error) {
	if err := s.jobs.DeleteJob(ctx, req.JobID); err != nil {
		return nil, toStatus(err)
	}
	return &DeleteJobResponse{Deleted: true}, nil
}

func jobMessage(job *interfaces.Job) (*JobMessage, error) {
	msg, err := toMessage(job)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return msg, nil
}

// toStatus maps the error taxonomy onto gRPC codes.
func toStatus(err error) error {
	switch {
	case interfaces.IsValidation(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, interfaces.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case interfaces.IsStorage(err):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	event := logger.Logger.Info()
	if err != nil {
		event = logger.Logger.Warn().Err(err)
	}
	event.Str("method", info.FullMethod).
		Str("code", status.Code(err).String()).
		Dur("elapsed", time.Since(start)).
		Msg("Handled RPC")
	return resp, err
}
