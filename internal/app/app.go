// Package app wires configuration into the store, queue and source backends shared
// by the server and worker binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mtr002/lm-jobs/internal/config"
	"github.com/mtr002/lm-jobs/internal/db"
	"github.com/mtr002/lm-jobs/internal/interfaces"
	"github.com/mtr002/lm-jobs/internal/logger"
	"github.com/mtr002/lm-jobs/internal/nats"
	"github.com/mtr002/lm-jobs/internal/queue"
	"github.com/mtr002/lm-jobs/internal/source"

	natsgo "github.com/nats-io/nats.go"
)

// Queue is a work queue that can report its own health.
type Queue interface {
	interfaces.Queue
	Ping(ctx context.Context) error
}

// BindFlags registers the flags both binaries share.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "path to a config file (yaml, toml or json)")
	flags.String("log-level", "info", "debug, info, warn or error")
	flags.String("queue-driver", config.QueueRedis, "work queue backend: redis or nats")
	v.BindPFlag("log.level", flags.Lookup("log-level"))
	v.BindPFlag("queue.driver", flags.Lookup("queue-driver"))
}

// LoadConfig reads the optional config file named by --config, then the typed config,
// and initializes the process logger.
func LoadConfig(cmd *cobra.Command, v *viper.Viper, service string) (*config.Config, error) {
	config.SetDefaults(v)
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	logger.Init(service, cfg.LogLevel, cfg.LogJSON)
	return cfg, nil
}

// OpenStore connects to PostgreSQL and applies pending migrations.
func OpenStore(ctx context.Context, cfg *config.Config) (*sql.DB, *db.Store, error) {
	database, err := db.Connect(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, err
	}
	if err := db.RunMigrations(database, db.DialectPostgres); err != nil {
		database.Close()
		return nil, nil, err
	}
	logger.Logger.Info().Str("host", cfg.Postgres.Host).Str("db", cfg.Postgres.Name).Msg("Database ready")
	return database, db.NewStore(database, db.DialectPostgres), nil
}

// OpenQueue connects the configured queue driver.
func OpenQueue(ctx context.Context, cfg *config.Config, clientName string) (Queue, *natsgo.Conn, error) {
	switch cfg.QueueDriver {
	case config.QueueRedis:
		q, err := queue.NewRedisQueue(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		logger.Logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis queue")
		return q, nil, nil
	case config.QueueNATS:
		conn, err := nats.Connect(cfg.NATS.URL, clientName)
		if err != nil {
			return nil, nil, err
		}
		q, err := nats.NewJetStreamQueue(conn, cfg.NATS.Durable)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		logger.Logger.Info().Str("url", cfg.NATS.URL).Msg("Connected to NATS JetStream queue")
		return q, conn, nil
	default:
		return nil, nil, fmt.Errorf("unknown queue driver %q", cfg.QueueDriver)
	}
}

// OpenSources builds the resolver over the upload directory and, when enabled, the
// object store.
func OpenSources(ctx context.Context, cfg *config.Config) (*source.Resolver, error) {
	local := source.NewLocalStore(cfg.UploadDir)
	if !cfg.MinioEnabled {
		return source.NewResolver(local, nil), nil
	}

	objects, err := source.NewMinioStore(cfg.Minio)
	if err != nil {
		return nil, err
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	logger.Logger.Info().Str("endpoint", cfg.Minio.Endpoint).Str("bucket", cfg.Minio.Bucket).Msg("Object storage ready")
	return source.NewResolver(local, objects), nil
}
