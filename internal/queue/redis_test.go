package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mtr002/lm-jobs/internal/interfaces"
)

func startMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisQueue) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(s.Close)

	q := NewRedisQueueFromClient(redis.NewClient(&redis.Options{Addr: s.Addr()}))
	t.Cleanup(func() { q.Close() })
	return s, q
}

func presentationMessage(t *testing.T, id string) *interfaces.QueueMessage {
	t.Helper()
	msg, err := interfaces.NewQueueMessage(&interfaces.Job{
		ID:      id,
		Kind:    interfaces.KindPresentation,
		Payload: &interfaces.PresentationPayload{Topic: "Volcanoes", NumSlides: 3},
	})
	if err != nil {
		t.Fatalf("NewQueueMessage: %v", err)
	}
	return msg
}

func TestRedisQueuePushPop(t *testing.T) {
	s, q := startMiniRedis(t)
	ctx := context.Background()

	if err := q.Push(ctx, presentationMessage(t, "job-1")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	// stored on the family list as plain JSON
	items, err := s.List("presentation_queue")
	if err != nil || len(items) != 1 {
		t.Fatalf("presentation_queue = %v, %v", items, err)
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(items[0]), &raw); err != nil {
		t.Fatalf("queued item is not JSON: %v", err)
	}
	if raw["job_id"] != "job-1" || raw["job_type"] != "presentation" {
		t.Fatalf("unexpected queued item: %v", raw)
	}

	msg, err := q.Pop(ctx, time.Second)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if msg == nil || msg.JobID != "job-1" {
		t.Fatalf("Pop = %+v", msg)
	}

	job, err := msg.Job()
	if err != nil {
		t.Fatalf("msg.Job: %v", err)
	}
	p, ok := job.Payload.(*interfaces.PresentationPayload)
	if !ok || p.Topic != "Volcanoes" || p.NumSlides != 3 {
		t.Fatalf("unexpected payload: %#v", job.Payload)
	}
}

func TestRedisQueuePopTimeout(t *testing.T) {
	_, q := startMiniRedis(t)

	msg, err := q.Pop(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if msg != nil {
		t.Fatalf("expected nil on timeout, got %+v", msg)
	}
}

func TestRedisQueuePopsBothFamilies(t *testing.T) {
	_, q := startMiniRedis(t)
	ctx := context.Background()

	tmsg, _ := interfaces.NewQueueMessage(&interfaces.Job{
		ID:      "t-1",
		Kind:    interfaces.KindTranscription,
		Payload: &interfaces.TranscriptionPayload{Source: "/a.mp3", FileName: "a.mp3"},
	})
	if err := q.Push(ctx, tmsg); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := q.Push(ctx, presentationMessage(t, "p-1")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if n, _ := q.Len(ctx, interfaces.KindTranscription); n != 1 {
		t.Fatalf("transcription len = %d", n)
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		msg, err := q.Pop(ctx, time.Second)
		if err != nil || msg == nil {
			t.Fatalf("Pop = %v, %v", msg, err)
		}
		seen[msg.JobID] = true
	}
	if !seen["t-1"] || !seen["p-1"] {
		t.Fatalf("seen = %v", seen)
	}
}

func TestRedisQueueMalformedMessage(t *testing.T) {
	s, q := startMiniRedis(t)
	s.RPush("transcription_queue", "not json")

	if _, err := q.Pop(context.Background(), time.Second); err == nil {
		t.Fatal("expected error for malformed message")
	}
}
