// Package config loads settings for both binaries from flags, environment and an
// optional config file.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/mtr002/lm-jobs/internal/db"
	"github.com/mtr002/lm-jobs/internal/source"
	"github.com/mtr002/lm-jobs/internal/worker"
)

const (
	QueueRedis = "redis"
	QueueNATS  = "nats"
)

type Config struct {
	LogLevel string
	LogJSON  bool

	Postgres db.Config

	QueueDriver string
	Redis       RedisConfig
	NATS        NATSConfig

	HTTPAddr        string
	GRPCAddr        string
	// RemoteJobsAddr, when set, makes the HTTP API a gateway to the gRPC job
	// service at that address instead of serving jobs from a local store.
	RemoteJobsAddr  string
	MetricsAddr     string
	ShutdownTimeout time.Duration

	TranscriptionURL string
	PresentationURL  string
	PresentationKey  string

	UploadDir string
	Minio     source.MinioConfig
	// MinioEnabled routes uploads and s3:// references through object storage.
	MinioEnabled bool

	WeaviateEnabled    bool
	WeaviateScheme     string
	WeaviateHost       string
	WeaviateVectorizer string

	Worker  worker.Config
	Sweeper worker.SweeperConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type NATSConfig struct {
	URL     string
	Durable string
}

// SetDefaults registers env bindings and defaults on v.
func SetDefaults(v *viper.Viper) {
	v.AutomaticEnv()

	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.json", "LOG_JSON")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.BindEnv("postgres.host", "POSTGRES_HOST")
	v.BindEnv("postgres.port", "POSTGRES_PORT")
	v.BindEnv("postgres.user", "POSTGRES_USER")
	v.BindEnv("postgres.password", "POSTGRES_PASSWORD")
	v.BindEnv("postgres.db", "POSTGRES_DB")
	v.BindEnv("postgres.sslmode", "POSTGRES_SSLMODE")
	pg := db.DefaultConfig()
	v.SetDefault("postgres.host", pg.Host)
	v.SetDefault("postgres.port", pg.Port)
	v.SetDefault("postgres.user", pg.User)
	v.SetDefault("postgres.password", pg.Password)
	v.SetDefault("postgres.db", pg.Name)
	v.SetDefault("postgres.sslmode", pg.SSLMode)
	v.SetDefault("postgres.max_open_conns", pg.MaxOpenConns)
	v.SetDefault("postgres.max_idle_conns", pg.MaxIdleConns)
	v.SetDefault("postgres.conn_max_lifetime", pg.ConnMaxLifetime)

	v.BindEnv("queue.driver", "QUEUE_DRIVER")
	v.BindEnv("queue.pop_timeout", "QUEUE_POP_TIMEOUT")
	v.SetDefault("queue.driver", QueueRedis)
	v.SetDefault("queue.pop_timeout", "5s")

	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.BindEnv("nats.url", "NATS_URL")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.durable", "lmjobs-workers")

	v.BindEnv("server.http_addr", "HTTP_ADDR")
	v.BindEnv("server.grpc_addr", "GRPC_ADDR")
	v.BindEnv("server.remote_jobs_addr", "REMOTE_JOBS_ADDR")
	v.BindEnv("server.metrics_addr", "METRICS_ADDR")
	v.BindEnv("server.shutdown_timeout", "SHUTDOWN_TIMEOUT")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.grpc_addr", ":50051")
	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.BindEnv("transcription.url", "TRANSCRIPTION_URL")
	v.BindEnv("transcription.timeout", "TRANSCRIPTION_TIMEOUT")
	v.SetDefault("transcription.url", "http://speech-to-text:8000/transcribe")
	v.SetDefault("transcription.timeout", "30m")

	v.BindEnv("presentation.url", "PRESENTATION_URL")
	v.BindEnv("presentation.api_key", "PRESENTATION_API_KEY")
	v.BindEnv("presentation.timeout", "PRESENTATION_TIMEOUT")
	v.SetDefault("presentation.url", "http://presenton:5000/api/v1/ppt/presentation/generate")
	v.SetDefault("presentation.timeout", "30m")

	v.BindEnv("storage.upload_dir", "UPLOAD_DIR")
	v.SetDefault("storage.upload_dir", "./uploads")

	v.BindEnv("minio.enabled", "MINIO_ENABLED")
	v.BindEnv("minio.endpoint", "MINIO_ENDPOINT")
	v.BindEnv("minio.access_key", "MINIO_ACCESS_KEY")
	v.BindEnv("minio.secret_key", "MINIO_SECRET_KEY")
	v.BindEnv("minio.bucket", "MINIO_BUCKET")
	v.BindEnv("minio.use_ssl", "MINIO_USE_SSL")
	v.SetDefault("minio.enabled", false)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key", "minioadmin")
	v.SetDefault("minio.secret_key", "minioadmin")
	v.SetDefault("minio.bucket", "audio-uploads")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.url_expiry", "1h")

	v.BindEnv("weaviate.enabled", "WEAVIATE_ENABLED")
	v.BindEnv("weaviate.host", "WEAVIATE_HOST")
	v.BindEnv("weaviate.scheme", "WEAVIATE_SCHEME")
	v.SetDefault("weaviate.enabled", false)
	v.SetDefault("weaviate.host", "weaviate:8080")
	v.SetDefault("weaviate.scheme", "http")
	v.SetDefault("weaviate.vectorizer", "text2vec-transformers")

	wc := worker.DefaultConfig()
	v.BindEnv("worker.count", "WORKER_COUNT")
	v.SetDefault("worker.count", wc.WorkerCount)
	v.SetDefault("worker.lease_grace", wc.LeaseGrace)
	v.SetDefault("worker.store_timeout", wc.StoreTimeout)
	v.SetDefault("worker.index_timeout", wc.IndexTimeout)

	sc := worker.DefaultSweeperConfig()
	v.BindEnv("sweeper.interval", "SWEEPER_INTERVAL")
	v.SetDefault("sweeper.interval", sc.Interval)
	v.SetDefault("sweeper.pending_after", sc.PendingAfter)
	v.SetDefault("sweeper.batch_size", sc.BatchSize)
}

// Load reads the typed configuration from v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		LogLevel: v.GetString("log.level"),
		LogJSON:  v.GetBool("log.json"),
		Postgres: db.Config{
			Host:            v.GetString("postgres.host"),
			Port:            v.GetInt("postgres.port"),
			User:            v.GetString("postgres.user"),
			Password:        v.GetString("postgres.password"),
			Name:            v.GetString("postgres.db"),
			SSLMode:         v.GetString("postgres.sslmode"),
			MaxOpenConns:    v.GetInt("postgres.max_open_conns"),
			MaxIdleConns:    v.GetInt("postgres.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("postgres.conn_max_lifetime"),
		},
		QueueDriver: v.GetString("queue.driver"),
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		NATS: NATSConfig{
			URL:     v.GetString("nats.url"),
			Durable: v.GetString("nats.durable"),
		},
		HTTPAddr:         v.GetString("server.http_addr"),
		GRPCAddr:         v.GetString("server.grpc_addr"),
		RemoteJobsAddr:   v.GetString("server.remote_jobs_addr"),
		MetricsAddr:      v.GetString("server.metrics_addr"),
		ShutdownTimeout:  v.GetDuration("server.shutdown_timeout"),
		TranscriptionURL: v.GetString("transcription.url"),
		PresentationURL:  v.GetString("presentation.url"),
		PresentationKey:  v.GetString("presentation.api_key"),
		UploadDir:        v.GetString("storage.upload_dir"),
		MinioEnabled:     v.GetBool("minio.enabled"),
		Minio: source.MinioConfig{
			Endpoint:  v.GetString("minio.endpoint"),
			AccessKey: v.GetString("minio.access_key"),
			SecretKey: v.GetString("minio.secret_key"),
			UseSSL:    v.GetBool("minio.use_ssl"),
			Bucket:    v.GetString("minio.bucket"),
			URLExpiry: v.GetDuration("minio.url_expiry"),
		},
		WeaviateEnabled:    v.GetBool("weaviate.enabled"),
		WeaviateScheme:     v.GetString("weaviate.scheme"),
		WeaviateHost:       v.GetString("weaviate.host"),
		WeaviateVectorizer: v.GetString("weaviate.vectorizer"),
		Worker: worker.Config{
			WorkerCount:          v.GetInt("worker.count"),
			PopTimeout:           v.GetDuration("queue.pop_timeout"),
			TranscriptionTimeout: v.GetDuration("transcription.timeout"),
			PresentationTimeout:  v.GetDuration("presentation.timeout"),
			LeaseGrace:           v.GetDuration("worker.lease_grace"),
			StoreTimeout:         v.GetDuration("worker.store_timeout"),
			IndexTimeout:         v.GetDuration("worker.index_timeout"),
		},
		Sweeper: worker.SweeperConfig{
			Interval:     v.GetDuration("sweeper.interval"),
			PendingAfter: v.GetDuration("sweeper.pending_after"),
			BatchSize:    v.GetInt("sweeper.batch_size"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.QueueDriver {
	case QueueRedis, QueueNATS:
	default:
		return fmt.Errorf("unknown queue driver %q", c.QueueDriver)
	}
	if c.Worker.WorkerCount < 1 {
		return fmt.Errorf("worker.count must be at least 1, got %d", c.Worker.WorkerCount)
	}
	if c.Worker.TranscriptionTimeout <= 0 || c.Worker.PresentationTimeout <= 0 {
		return fmt.Errorf("job timeouts must be positive")
	}
	return nil
}
