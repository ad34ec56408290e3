package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mtr002/lm-jobs/internal/interfaces"
	"github.com/mtr002/lm-jobs/internal/jobs"
	"github.com/mtr002/lm-jobs/internal/logger"
)

const correlationHeader = "X-Correlation-ID"

type ctxKey string

const correlationKey ctxKey = "correlation_id"

// JobService is the submit and status surface. *jobs.Manager implements it, and so
// does the gRPC client when the API fronts a remote job service.
type JobService interface {
	SubmitTranscription(ctx context.Context, req jobs.TranscriptionRequest) (*interfaces.Job, error)
	SubmitPresentation(ctx context.Context, req jobs.PresentationRequest) (*interfaces.Job, error)
	GetJob(ctx context.Context, id string) (*interfaces.Job, error)
	ListJobs(ctx context.Context, kind interfaces.Kind, q jobs.ListQuery) ([]*interfaces.Job, error)
	DeleteJob(ctx context.Context, id string) error
}

// Uploader stores an uploaded audio file and returns its source reference.
type Uploader interface {
	Save(ctx context.Context, fileName string, body io.Reader, size int64) (string, error)
	Remove(ctx context.Context, ref string) error
}

// Deps wires the router.
type Deps struct {
	Jobs    JobService
	Uploads Uploader
	Checks  []HealthCheck
	Service string
}

// NewRouter builds the gin engine serving /api/v1, health and metrics.
func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), correlationMiddleware(), requestLogger())

	h := &handlers{jobs: deps.Jobs, uploads: deps.Uploads}

	v1 := r.Group("/api/v1")
	{
		v1.POST("/transcriptions", h.submitTranscription)
		v1.POST("/transcriptions/upload", h.uploadTranscription)
		v1.GET("/transcriptions", h.listJobs(interfaces.KindTranscription))
		v1.POST("/presentations", h.submitPresentation)
		v1.GET("/presentations", h.listJobs(interfaces.KindPresentation))
		v1.GET("/jobs/:id", h.getJob)
		v1.DELETE("/jobs/:id", h.deleteJob)
	}

	registerOps(r, deps.Service, deps.Checks)
	return r
}

// NewOpsRouter serves only health and metrics, for processes without the job API.
func NewOpsRouter(service string, checks []HealthCheck) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	registerOps(r, service, checks)
	return r
}

func registerOps(r *gin.Engine, service string, checks []HealthCheck) {
	health := newHealth(service, checks)
	r.GET("/health", health.handleHealth)
	r.GET("/health/ready", health.handleReadiness)
	r.GET("/health/live", health.handleLiveness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(correlationHeader)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		c.Set(string(correlationKey), correlationID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), correlationKey, correlationID))
		c.Header(correlationHeader, correlationID)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithCorrelationID(c.GetString(string(correlationKey))).Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("Handled request")
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case interfaces.IsValidation(err):
		status, code = http.StatusBadRequest, "INVALID_ARGUMENT"
	case errors.Is(err, interfaces.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case interfaces.IsStorage(err):
		status, code = http.StatusServiceUnavailable, "STORAGE_ERROR"
	}

	log := logger.WithCorrelationID(c.GetString(string(correlationKey)))
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
	} else {
		log.Warn().Err(err).Msg("Request rejected")
	}
	c.AbortWithStatusJSON(status, errorResponse{Code: code, Message: err.Error()})
}

type handlers struct {
	jobs    JobService
	uploads Uploader
}

func (h *handlers) submitTranscription(c *gin.Context) {
	var req jobs.TranscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &interfaces.ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	job, err := h.jobs.SubmitTranscription(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, jobs.NewJobView(job))
}

func (h *handlers) uploadTranscription(c *gin.Context) {
	if h.uploads == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, errorResponse{Code: "UNIMPLEMENTED", Message: "uploads are not configured"})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		writeError(c, &interfaces.ValidationError{Field: "file", Reason: "no file uploaded"})
		return
	}
	defer file.Close()

	req := jobs.TranscriptionRequest{
		FileName: header.Filename,
		Language: c.PostForm("language"),
		UserID:   c.PostForm("user_id"),
		Subject:  c.PostForm("subject"),
	}
	if v := c.PostForm("auto_index"); v != "" {
		autoIndex, err := strconv.ParseBool(v)
		if err != nil {
			writeError(c, &interfaces.ValidationError{Field: "auto_index", Reason: err.Error()})
			return
		}
		req.AutoIndex = &autoIndex
	}

	ref, err := h.uploads.Save(c.Request.Context(), header.Filename, file, header.Size)
	if err != nil {
		writeError(c, err)
		return
	}
	req.Source = ref

	job, err := h.jobs.SubmitTranscription(c.Request.Context(), req)
	if err != nil {
		h.discardUpload(c.Request.Context(), ref)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, jobs.NewJobView(job))
}

// discardUpload removes a file whose job was never created.
func (h *handlers) discardUpload(ctx context.Context, ref string) {
	if err := h.uploads.Remove(ctx, ref); err != nil {
		logger.Logger.Warn().Err(err).Str("source", ref).Msg("Failed to remove orphaned upload")
	}
}

func (h *handlers) submitPresentation(c *gin.Context) {
	var req jobs.PresentationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &interfaces.ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	job, err := h.jobs.SubmitPresentation(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, jobs.NewJobView(job))
}

func (h *handlers) getJob(c *gin.Context) {
	job, err := h.jobs.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobs.NewJobView(job))
}

func (h *handlers) deleteJob(c *gin.Context) {
	if err := h.jobs.DeleteJob(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) listJobs(kind interfaces.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := jobs.ListQuery{
			Status:  c.Query("status"),
			Subject: c.Query("subject"),
		}
		if limitParam := c.Query("limit"); limitParam != "" {
			limit, err := strconv.Atoi(limitParam)
			if err != nil {
				writeError(c, &interfaces.ValidationError{Field: "limit", Reason: "must be an integer"})
				return
			}
			q.Limit = limit
		}

		list, err := h.jobs.ListJobs(c.Request.Context(), kind, q)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"jobs":  jobs.NewJobViews(list),
			"count": len(list),
		})
	}
}
