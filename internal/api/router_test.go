package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mtr002/lm-jobs/internal/interfaces"
	"github.com/mtr002/lm-jobs/internal/jobs"
	"github.com/mtr002/lm-jobs/internal/source"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	lastTranscription jobs.TranscriptionRequest
	lastQuery         jobs.ListQuery
	jobs              map[string]*interfaces.Job
	err               error
}

func newFakeService() *fakeService {
	return &fakeService{jobs: make(map[string]*interfaces.Job)}
}

func (f *fakeService) SubmitTranscription(_ context.Context, req jobs.TranscriptionRequest) (*interfaces.Job, error) {
	f.lastTranscription = req
	if f.err != nil {
		return nil, f.err
	}
	if req.Source == "" {
		return nil, &interfaces.ValidationError{Field: "source", Reason: "is required"}
	}
	return &interfaces.Job{
		ID:        "t-1",
		Kind:      interfaces.KindTranscription,
		Payload:   &interfaces.TranscriptionPayload{Source: req.Source, FileName: req.FileName, Subject: req.Subject, UserID: "default_user"},
		Status:    interfaces.StatusPending,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (f *fakeService) SubmitPresentation(_ context.Context, req jobs.PresentationRequest) (*interfaces.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &interfaces.Job{
		ID:        "p-1",
		Kind:      interfaces.KindPresentation,
		Payload:   &interfaces.PresentationPayload{Topic: req.Topic, NumSlides: req.NumSlides},
		Status:    interfaces.StatusPending,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (f *fakeService) GetJob(_ context.Context, id string) (*interfaces.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return job, nil
}

func (f *fakeService) ListJobs(_ context.Context, kind interfaces.Kind, q jobs.ListQuery) ([]*interfaces.Job, error) {
	f.lastQuery = q
	if f.err != nil {
		return nil, f.err
	}
	if q.Status == "bogus" {
		return nil, &interfaces.ValidationError{Field: "status", Reason: "unknown"}
	}
	var out []*interfaces.Job
	for _, job := range f.jobs {
		if job.Kind == kind {
			out = append(out, job)
		}
	}
	return out, nil
}

func (f *fakeService) DeleteJob(_ context.Context, id string) error {
	if _, ok := f.jobs[id]; !ok {
		return interfaces.ErrNotFound
	}
	delete(f.jobs, id)
	return nil
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestSubmitPresentationReturnsPending(t *testing.T) {
	r := NewRouter(Deps{Jobs: newFakeService()})

	w := doJSON(t, r, http.MethodPost, "/api/v1/presentations", map[string]any{"topic": "Rivers", "n_slides": 4})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	view := decode[map[string]any](t, w)
	if view["job_id"] != "p-1" || view["status"] != "pending" || view["job_type"] != "presentation" {
		t.Fatalf("unexpected body: %v", view)
	}
	if _, ok := view["result"]; ok {
		t.Fatalf("pending job exposes result: %v", view)
	}
	if w.Header().Get(correlationHeader) == "" {
		t.Fatal("missing correlation header")
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &interfaces.ValidationError{Field: "topic", Reason: "is required"}, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"storage", &interfaces.StorageError{Op: "create job", Err: errors.New("db down")}, http.StatusServiceUnavailable, "STORAGE_ERROR"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeService()
			svc.err = tt.err
			r := NewRouter(Deps{Jobs: svc})

			w := doJSON(t, r, http.MethodPost, "/api/v1/presentations", map[string]any{"topic": "x"})
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if body := decode[errorResponse](t, w); body.Code != tt.code {
				t.Fatalf("code = %s, want %s", body.Code, tt.code)
			}
		})
	}
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	r := NewRouter(Deps{Jobs: newFakeService()})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcriptions", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestGetJobViews(t *testing.T) {
	svc := newFakeService()
	msg := "presentation returned HTTP 500: boom"
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	completed := started.Add(2 * time.Second)
	svc.jobs["done"] = &interfaces.Job{
		ID:          "done",
		Kind:        interfaces.KindTranscription,
		Payload:     &interfaces.TranscriptionPayload{Source: "/a.mp3"},
		Status:      interfaces.StatusCompleted,
		Result:      &interfaces.TranscriptionResult{Text: "one two three", Language: "en"},
		StartedAt:   &started,
		CompletedAt: &completed,
	}
	svc.jobs["broken"] = &interfaces.Job{
		ID:      "broken",
		Kind:    interfaces.KindPresentation,
		Payload: &interfaces.PresentationPayload{Topic: "x"},
		Status:  interfaces.StatusFailed,
		Error:   &msg,
	}
	r := NewRouter(Deps{Jobs: svc})

	w := doJSON(t, r, http.MethodGet, "/api/v1/jobs/done", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	done := decode[map[string]any](t, w)
	result, _ := done["result"].(map[string]any)
	if result["text"] != "one two three" || done["word_count"] != float64(3) || done["processing_time_seconds"] != float64(2) {
		t.Fatalf("unexpected completed view: %v", done)
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/jobs/broken", nil)
	broken := decode[map[string]any](t, w)
	if broken["error"] != msg || broken["result"] != nil {
		t.Fatalf("unexpected failed view: %v", broken)
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/jobs/missing", nil)
	if w.Code != http.StatusNotFound || decode[errorResponse](t, w).Code != "NOT_FOUND" {
		t.Fatalf("missing job: %d %s", w.Code, w.Body)
	}
}

func TestListJobsQueryParams(t *testing.T) {
	svc := newFakeService()
	r := NewRouter(Deps{Jobs: svc})

	w := doJSON(t, r, http.MethodGet, "/api/v1/presentations?status=completed&subject=math&limit=20", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if svc.lastQuery != (jobs.ListQuery{Status: "completed", Subject: "math", Limit: 20}) {
		t.Fatalf("query = %+v", svc.lastQuery)
	}

	if w := doJSON(t, r, http.MethodGet, "/api/v1/presentations?limit=abc", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodGet, "/api/v1/transcriptions?status=bogus", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad status = %d", w.Code)
	}
}

func TestDeleteJob(t *testing.T) {
	svc := newFakeService()
	svc.jobs["x"] = &interfaces.Job{ID: "x", Kind: interfaces.KindPresentation, Payload: &interfaces.PresentationPayload{}}
	r := NewRouter(Deps{Jobs: svc})

	if w := doJSON(t, r, http.MethodDelete, "/api/v1/jobs/x", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodDelete, "/api/v1/jobs/x", nil); w.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", w.Code)
	}
}

func TestUploadTranscription(t *testing.T) {
	svc := newFakeService()
	dir := t.TempDir()
	uploads := source.NewResolver(source.NewLocalStore(dir), nil)
	r := NewRouter(Deps{Jobs: svc, Uploads: uploads})

	upload := func(name string) *httptest.ResponseRecorder {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		fw, _ := mw.CreateFormFile("file", name)
		fw.Write([]byte("RIFF...."))
		mw.WriteField("subject", "history")
		mw.WriteField("auto_index", "false")
		mw.Close()

		req := httptest.NewRequest(http.MethodPost, "/api/v1/transcriptions/upload", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := upload("lecture.wav")
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	got := svc.lastTranscription
	if filepath.Dir(got.Source) != dir || got.FileName != "lecture.wav" || got.Subject != "history" {
		t.Fatalf("unexpected request: %+v", got)
	}
	if got.AutoIndex == nil || *got.AutoIndex {
		t.Fatalf("auto_index = %v", got.AutoIndex)
	}

	if w := upload("notes.txt"); w.Code != http.StatusBadRequest {
		t.Fatalf("unsupported extension status = %d", w.Code)
	}
}

// failingUploads saves nothing and records removals.
type failingUploads struct {
	saveErr error
	removed []string
}

func (f *failingUploads) Save(context.Context, string, io.Reader, int64) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	return "s3://audio/x_lecture.mp3", nil
}

func (f *failingUploads) Remove(_ context.Context, ref string) error {
	f.removed = append(f.removed, ref)
	return nil
}

func postUpload(t *testing.T, r http.Handler, name string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", name)
	fw.Write([]byte("ID3...."))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcriptions/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestUploadBackendFailureIsStorageError(t *testing.T) {
	uploads := &failingUploads{saveErr: &interfaces.StorageError{Op: "save upload", Err: errors.New("bucket unreachable")}}
	r := NewRouter(Deps{Jobs: newFakeService(), Uploads: uploads})

	w := postUpload(t, r, "lecture.mp3")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	if resp := decode[errorResponse](t, w); resp.Code != "STORAGE_ERROR" {
		t.Fatalf("code = %q", resp.Code)
	}
}

func TestUploadRemovedWhenSubmitFails(t *testing.T) {
	svc := newFakeService()
	svc.err = &interfaces.StorageError{Op: "create job", Err: errors.New("db down")}
	uploads := &failingUploads{}
	r := NewRouter(Deps{Jobs: svc, Uploads: uploads})

	if w := postUpload(t, r, "lecture.mp3"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	if len(uploads.removed) != 1 || uploads.removed[0] != "s3://audio/x_lecture.mp3" {
		t.Fatalf("removed = %v", uploads.removed)
	}
}

func TestUploadLocalFileRemovedWhenSubmitFails(t *testing.T) {
	svc := newFakeService()
	svc.err = &interfaces.ValidationError{Field: "language", Reason: "unsupported"}
	dir := t.TempDir()
	r := NewRouter(Deps{Jobs: svc, Uploads: source.NewResolver(source.NewLocalStore(dir), nil)})

	if w := postUpload(t, r, "lecture.mp3"); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("orphaned uploads left behind: %v", entries)
	}
}

func TestReadiness(t *testing.T) {
	ok := HealthCheck{Name: "database", Check: func(context.Context) error { return nil }}
	down := HealthCheck{Name: "queue", Check: func(context.Context) error { return errors.New("down") }}

	r := NewRouter(Deps{Jobs: newFakeService(), Checks: []HealthCheck{ok}})
	if w := doJSON(t, r, http.MethodGet, "/health/ready", nil); w.Code != http.StatusOK {
		t.Fatalf("ready status = %d", w.Code)
	}

	r = NewRouter(Deps{Jobs: newFakeService(), Checks: []HealthCheck{ok, down}})
	w := doJSON(t, r, http.MethodGet, "/health/ready", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("not ready status = %d", w.Code)
	}
	resp := decode[ReadinessResponse](t, w)
	if resp.Dependencies["queue"] != "disconnected" || resp.Dependencies["database"] != "connected" {
		t.Fatalf("dependencies = %v", resp.Dependencies)
	}

	if w := doJSON(t, r, http.MethodGet, "/health/live", nil); w.Code != http.StatusOK {
		t.Fatalf("live status = %d", w.Code)
	}
}
