package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mtr002/lm-jobs/internal/interfaces"
	_ "modernc.org/sqlite"
)

var testDBSeq atomic.Int64

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:lmjobs_store_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	database, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	database.SetMaxOpenConns(1)
	t.Cleanup(func() { database.Close() })

	if err := RunMigrations(database, DialectSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStore(database, DialectSQLite)
}

func newTranscriptionJob(id, subject string, createdAt time.Time) *interfaces.Job {
	return &interfaces.Job{
		ID:   id,
		Kind: interfaces.KindTranscription,
		Payload: &interfaces.TranscriptionPayload{
			Source:    "/data/" + id + ".mp3",
			FileName:  id + ".mp3",
			AutoIndex: true,
			UserID:    "default_user",
			Subject:   subject,
		},
		Status:    interfaces.StatusPending,
		CreatedAt: createdAt,
	}
}

func newPresentationJob(id, subject string, createdAt time.Time) *interfaces.Job {
	return &interfaces.Job{
		ID:   id,
		Kind: interfaces.KindPresentation,
		Payload: &interfaces.PresentationPayload{
			Topic:     "Photosynthesis",
			NumSlides: 5,
			Language:  "English",
			Template:  "general",
			Tone:      "educational",
			UserID:    "default_user",
			Subject:   subject,
		},
		Status:    interfaces.StatusPending,
		CreatedAt: createdAt,
	}
}

func TestRebind(t *testing.T) {
	pg := NewStore(nil, DialectPostgres)
	got := pg.rebind("UPDATE t SET a = ? WHERE id = ? AND status = ?")
	want := "UPDATE t SET a = $1 WHERE id = $2 AND status = $3"
	if got != want {
		t.Fatalf("rebind = %q, want %q", got, want)
	}

	lite := NewStore(nil, DialectSQLite)
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("sqlite rebind changed query: %q", got)
	}
}

func TestStoreTranscriptionLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	job := newTranscriptionJob("t-1", "biology", now)
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := store.GetJob(ctx, interfaces.KindTranscription, "t-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != interfaces.StatusPending || got.Result != nil || got.Error != nil || got.StartedAt != nil {
		t.Fatalf("unexpected pending job: %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, now)
	}
	p := got.Payload.(*interfaces.TranscriptionPayload)
	if p.Source != "/data/t-1.mp3" || !p.AutoIndex || p.Subject != "biology" {
		t.Fatalf("unexpected payload: %+v", p)
	}

	ok, err := store.ClaimJob(ctx, interfaces.KindTranscription, "t-1", now.Add(time.Second), now.Add(time.Hour))
	if err != nil || !ok {
		t.Fatalf("ClaimJob = %v, %v", ok, err)
	}
	ok, err = store.ClaimJob(ctx, interfaces.KindTranscription, "t-1", now.Add(2*time.Second), now.Add(time.Hour))
	if err != nil || ok {
		t.Fatalf("second ClaimJob = %v, %v; want false, nil", ok, err)
	}

	result := &interfaces.TranscriptionResult{Text: "hello world", Language: "en", DurationSeconds: 12.5}
	if err := store.CompleteJob(ctx, interfaces.KindTranscription, "t-1", result, now.Add(time.Minute)); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	got, err = store.GetJob(ctx, interfaces.KindTranscription, "t-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != interfaces.StatusCompleted || got.Error != nil {
		t.Fatalf("unexpected completed job: %+v", got)
	}
	r, ok := got.Result.(*interfaces.TranscriptionResult)
	if !ok || r.Text != "hello world" || r.Language != "en" || r.DurationSeconds != 12.5 {
		t.Fatalf("unexpected result: %#v", got.Result)
	}
	if got.StartedAt == nil || got.CompletedAt == nil || got.LeaseExpiresAt != nil {
		t.Fatalf("unexpected timestamps: started=%v completed=%v lease=%v", got.StartedAt, got.CompletedAt, got.LeaseExpiresAt)
	}
	if got.Index != nil {
		t.Fatalf("index recorded before RecordIndex: %+v", got.Index)
	}

	if err := store.RecordIndex(ctx, "t-1", interfaces.IndexInfo{Indexed: true, Collection: "Transcripts_Biology"}); err != nil {
		t.Fatalf("RecordIndex: %v", err)
	}
	got, _ = store.GetJob(ctx, interfaces.KindTranscription, "t-1")
	if got.Status != interfaces.StatusCompleted || got.Index == nil || !got.Index.Indexed || got.Index.Collection != "Transcripts_Biology" {
		t.Fatalf("unexpected index info: %+v", got.Index)
	}
}

func TestStorePresentationFailure(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.CreateJob(ctx, newPresentationJob("p-1", "history", now)); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if ok, err := store.ClaimJob(ctx, interfaces.KindPresentation, "p-1", now, now.Add(time.Hour)); err != nil || !ok {
		t.Fatalf("ClaimJob = %v, %v", ok, err)
	}
	if err := store.FailJob(ctx, interfaces.KindPresentation, "p-1", "presentation returned HTTP 500: boom", now.Add(time.Second)); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	got, err := store.GetJob(ctx, interfaces.KindPresentation, "p-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != interfaces.StatusFailed || got.Result != nil {
		t.Fatalf("unexpected failed job: %+v", got)
	}
	if got.Error == nil || *got.Error != "presentation returned HTTP 500: boom" {
		t.Fatalf("unexpected error message: %v", got.Error)
	}
	p := got.Payload.(*interfaces.PresentationPayload)
	if p.Topic != "Photosynthesis" || p.NumSlides != 5 || p.Tone != "educational" {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestStoreTerminalWritesAreForwardOnly(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.CreateJob(ctx, newTranscriptionJob("t-2", "default", now)); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	// pending jobs cannot jump to a terminal state
	err := store.CompleteJob(ctx, interfaces.KindTranscription, "t-2", &interfaces.TranscriptionResult{Text: "x"}, now)
	if !errors.Is(err, interfaces.ErrNotProcessing) {
		t.Fatalf("CompleteJob on pending = %v, want ErrNotProcessing", err)
	}

	store.ClaimJob(ctx, interfaces.KindTranscription, "t-2", now, now.Add(time.Hour))
	if err := store.CompleteJob(ctx, interfaces.KindTranscription, "t-2", &interfaces.TranscriptionResult{Text: "x"}, now); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	if err := store.FailJob(ctx, interfaces.KindTranscription, "t-2", "late failure", now); !errors.Is(err, interfaces.ErrNotProcessing) {
		t.Fatalf("FailJob on completed = %v, want ErrNotProcessing", err)
	}
	if ok, _ := store.ClaimJob(ctx, interfaces.KindTranscription, "t-2", now, now.Add(time.Hour)); ok {
		t.Fatal("completed job was claimed again")
	}
	if ok, _ := store.ExpireLease(ctx, interfaces.KindTranscription, "t-2", "expired", now.Add(2*time.Hour)); ok {
		t.Fatal("completed job lease was expired")
	}

	got, _ := store.GetJob(ctx, interfaces.KindTranscription, "t-2")
	if got.Status != interfaces.StatusCompleted || got.Error != nil {
		t.Fatalf("job moved backwards: %+v", got)
	}
}

func TestStoreNotFound(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.GetJob(ctx, interfaces.KindPresentation, "missing"); !errors.Is(err, interfaces.ErrNotFound) {
		t.Fatalf("GetJob = %v, want ErrNotFound", err)
	}
	if err := store.DeleteJob(ctx, interfaces.KindPresentation, "missing"); !errors.Is(err, interfaces.ErrNotFound) {
		t.Fatalf("DeleteJob = %v, want ErrNotFound", err)
	}
	if ok, err := store.ClaimJob(ctx, interfaces.KindPresentation, "missing", time.Now(), time.Now()); ok || err != nil {
		t.Fatalf("ClaimJob on missing = %v, %v", ok, err)
	}
}

func TestStoreListJobs(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	subjects := []string{"math", "math", "physics", "math"}
	for i, subject := range subjects {
		job := newTranscriptionJob(fmt.Sprintf("t-%d", i), subject, base.Add(time.Duration(i)*time.Minute))
		if err := store.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}
	store.ClaimJob(ctx, interfaces.KindTranscription, "t-1", base, base.Add(time.Hour))

	tests := []struct {
		name   string
		filter interfaces.ListFilter
		want   []string
	}{
		{"all newest first", interfaces.ListFilter{}, []string{"t-3", "t-2", "t-1", "t-0"}},
		{"by subject", interfaces.ListFilter{Subject: "math"}, []string{"t-3", "t-1", "t-0"}},
		{"by status", interfaces.ListFilter{Status: interfaces.StatusPending}, []string{"t-3", "t-2", "t-0"}},
		{"by subject and status", interfaces.ListFilter{Subject: "math", Status: interfaces.StatusProcessing}, []string{"t-1"}},
		{"limit", interfaces.ListFilter{Limit: 2}, []string{"t-3", "t-2"}},
		{"no match", interfaces.ListFilter{Subject: "chemistry"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := store.ListJobs(ctx, interfaces.KindTranscription, tt.filter)
			if err != nil {
				t.Fatalf("ListJobs: %v", err)
			}
			if len(jobs) != len(tt.want) {
				t.Fatalf("got %d jobs, want %d", len(jobs), len(tt.want))
			}
			for i, id := range tt.want {
				if jobs[i].ID != id {
					t.Errorf("jobs[%d] = %s, want %s", i, jobs[i].ID, id)
				}
			}
		})
	}

	// the other family table is independent
	others, err := store.ListJobs(ctx, interfaces.KindPresentation, interfaces.ListFilter{})
	if err != nil || len(others) != 0 {
		t.Fatalf("presentation list = %v, %v", others, err)
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, interfaces.DefaultListLimit},
		{-3, interfaces.DefaultListLimit},
		{10, 10},
		{interfaces.MaxListLimit, interfaces.MaxListLimit},
		{interfaces.MaxListLimit + 1, interfaces.MaxListLimit},
	}
	for _, tt := range tests {
		if got := clampLimit(tt.in); got != tt.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestStoreLeaseExpiryAndStalePending(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for _, id := range []string{"p-a", "p-b", "p-c"} {
		if err := store.CreateJob(ctx, newPresentationJob(id, "default", base)); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}
	store.ClaimJob(ctx, interfaces.KindPresentation, "p-a", base, base.Add(10*time.Minute))
	store.ClaimJob(ctx, interfaces.KindPresentation, "p-b", base, base.Add(time.Hour))

	now := base.Add(30 * time.Minute)
	expired, err := store.ListExpiredLeases(ctx, interfaces.KindPresentation, now, 10)
	if err != nil {
		t.Fatalf("ListExpiredLeases: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "p-a" {
		t.Fatalf("expired = %v, want [p-a]", expired)
	}

	if ok, err := store.ExpireLease(ctx, interfaces.KindPresentation, "p-b", "lease expired", now); ok || err != nil {
		t.Fatalf("ExpireLease on live lease = %v, %v", ok, err)
	}
	if ok, err := store.ExpireLease(ctx, interfaces.KindPresentation, "p-a", "lease expired", now); !ok || err != nil {
		t.Fatalf("ExpireLease = %v, %v", ok, err)
	}
	got, _ := store.GetJob(ctx, interfaces.KindPresentation, "p-a")
	if got.Status != interfaces.StatusFailed || got.Error == nil || *got.Error != "lease expired" {
		t.Fatalf("unexpected expired job: %+v", got)
	}

	stale, err := store.ListStalePending(ctx, interfaces.KindPresentation, base.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("ListStalePending: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "p-c" {
		t.Fatalf("stale = %v, want [p-c]", stale)
	}
}

func TestStoreMarkNotifiedDelaysStalePending(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	if err := store.CreateJob(ctx, newPresentationJob("p-n", "default", base)); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := store.MarkNotified(ctx, interfaces.KindPresentation, "p-n", base.Add(10*time.Minute)); err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}

	stale, err := store.ListStalePending(ctx, interfaces.KindPresentation, base.Add(5*time.Minute), 10)
	if err != nil || len(stale) != 0 {
		t.Fatalf("ListStalePending before the last notification = %v, %v", stale, err)
	}
	stale, err = store.ListStalePending(ctx, interfaces.KindPresentation, base.Add(11*time.Minute), 10)
	if err != nil || len(stale) != 1 {
		t.Fatalf("ListStalePending after the last notification = %v, %v", stale, err)
	}

	// a claimed job keeps its stamp and is never stale
	store.ClaimJob(ctx, interfaces.KindPresentation, "p-n", base.Add(12*time.Minute), base.Add(time.Hour))
	if err := store.MarkNotified(ctx, interfaces.KindPresentation, "p-n", base.Add(13*time.Minute)); err != nil {
		t.Fatalf("MarkNotified on processing job: %v", err)
	}
	stale, _ = store.ListStalePending(ctx, interfaces.KindPresentation, base.Add(time.Hour), 10)
	if len(stale) != 0 {
		t.Fatalf("processing job listed as stale: %v", stale)
	}
}

func TestStoreDeleteJob(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateJob(ctx, newPresentationJob("p-del", "default", time.Now().UTC())); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := store.DeleteJob(ctx, interfaces.KindPresentation, "p-del"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := store.GetJob(ctx, interfaces.KindPresentation, "p-del"); !errors.Is(err, interfaces.ErrNotFound) {
		t.Fatalf("GetJob after delete = %v", err)
	}
}
