package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.QueueDriver != QueueRedis || cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("unexpected queue config: %s %+v", cfg.QueueDriver, cfg.Redis)
	}
	if cfg.Worker.PopTimeout != 5*time.Second {
		t.Fatalf("pop timeout = %v", cfg.Worker.PopTimeout)
	}
	if cfg.Worker.TranscriptionTimeout != 30*time.Minute || cfg.Worker.PresentationTimeout != 30*time.Minute {
		t.Fatalf("timeouts = %v / %v", cfg.Worker.TranscriptionTimeout, cfg.Worker.PresentationTimeout)
	}
	if cfg.Postgres.Port != 5432 || cfg.Postgres.Name != "lm_dev" {
		t.Fatalf("postgres = %+v", cfg.Postgres)
	}
	if cfg.MinioEnabled || cfg.WeaviateEnabled {
		t.Fatal("optional backends enabled by default")
	}
	if cfg.RemoteJobsAddr != "" {
		t.Fatalf("remote jobs addr = %q, want local mode by default", cfg.RemoteJobsAddr)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("QUEUE_DRIVER", "nats")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("PRESENTATION_TIMEOUT", "90s")
	t.Setenv("REMOTE_JOBS_ADDR", "jobs.internal:50051")

	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.QueueDriver != QueueNATS || cfg.Worker.WorkerCount != 8 || cfg.Worker.PresentationTimeout != 90*time.Second {
		t.Fatalf("env not applied: %s %d %v", cfg.QueueDriver, cfg.Worker.WorkerCount, cfg.Worker.PresentationTimeout)
	}
	if cfg.RemoteJobsAddr != "jobs.internal:50051" {
		t.Fatalf("RemoteJobsAddr = %q", cfg.RemoteJobsAddr)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
	}{
		{"queue driver", "queue.driver", "kafka"},
		{"worker count", "worker.count", 0},
		{"timeout", "transcription.timeout", "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			SetDefaults(v)
			v.Set(tt.key, tt.val)
			if _, err := Load(v); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
