package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"

	"github.com/mtr002/lm-jobs/internal/api"
	"github.com/mtr002/lm-jobs/internal/app"
	"github.com/mtr002/lm-jobs/internal/config"
	"github.com/mtr002/lm-jobs/internal/db"
	grpcsvc "github.com/mtr002/lm-jobs/internal/grpc"
	"github.com/mtr002/lm-jobs/internal/jobs"
	"github.com/mtr002/lm-jobs/internal/logger"
	"github.com/mtr002/lm-jobs/internal/nats"
)

const serviceName = "lmjobs-api"

func main() {
	v := viper.New()

	root := &cobra.Command{
		Use:          "lmjobs-server",
		Short:        "Job submission and status API",
		SilenceUsage: true,
	}
	app.BindFlags(root, v)

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and gRPC job APIs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd, v)
		},
	})

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, v)
		},
	}
	migrate.Flags().Bool("status", false, "print migration status instead of migrating")
	root.AddCommand(migrate)
	root.AddCommand(newSubmitCommand(v))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := app.LoadConfig(cmd, v, serviceName)
	if err != nil {
		return err
	}
	logger.Logger.Info().Str("queue", cfg.QueueDriver).Msg("Starting job API")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RemoteJobsAddr != "" {
		return serveGateway(ctx, cfg)
	}

	database, store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	queue, natsConn, err := app.OpenQueue(ctx, cfg, serviceName)
	if err != nil {
		return err
	}
	defer queue.Close()

	sources, err := app.OpenSources(ctx, cfg)
	if err != nil {
		return err
	}

	manager := jobs.NewManager(store, queue, jobs.WithSourceChecker(sources))

	if natsConn != nil {
		submissions := nats.NewServer(natsConn, manager)
		if err := submissions.Subscribe(); err != nil {
			return err
		}
		defer submissions.Close()
		logger.Logger.Info().Str("subject", nats.SubmitSubject+".*").Msg("NATS submission listener started")
	}

	router := api.NewRouter(api.Deps{
		Jobs:    manager,
		Uploads: sources,
		Service: serviceName,
		Checks: []api.HealthCheck{
			{Name: "database", Check: database.PingContext},
			{Name: "queue", Check: queue.Ping},
		},
	})
	httpServer := api.NewServer(cfg.HTTPAddr, router)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
	}
	grpcServer := grpcsvc.NewGRPCServer(manager)

	errCh := make(chan error, 2)
	go func() {
		errCh <- httpServer.Start()
	}()
	go func() {
		logger.Logger.Info().Str("addr", cfg.GRPCAddr).Msg("gRPC server listening")
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Logger.Error().Err(err).Msg("Server stopped unexpectedly")
		}
	}

	logger.Logger.Info().Msg("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("http shutdown: %w", err))
	}
	stopGRPC(shutdownCtx, grpcServer)

	logger.Logger.Info().Msg("Job API stopped")
	return shutdownErr
}

// serveGateway runs only the HTTP API, forwarding job calls to the gRPC service at
// cfg.RemoteJobsAddr. Uploads still land in the configured source backends, which
// must be shared with the remote service.
func serveGateway(ctx context.Context, cfg *config.Config) error {
	remote, err := grpcsvc.NewClient(cfg.RemoteJobsAddr)
	if err != nil {
		return err
	}
	defer remote.Close()

	sources, err := app.OpenSources(ctx, cfg)
	if err != nil {
		return err
	}

	router := api.NewRouter(api.Deps{
		Jobs:    remote,
		Uploads: sources,
		Service: serviceName,
		Checks:  []api.HealthCheck{{Name: "jobs", Check: remote.Ping}},
	})
	httpServer := api.NewServer(cfg.HTTPAddr, router)
	logger.Logger.Info().Str("remote", cfg.RemoteJobsAddr).Msg("Serving HTTP gateway to remote job service")

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Logger.Error().Err(err).Msg("Server stopped unexpectedly")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Logger.Info().Msg("Job API stopped")
	return nil
}

// stopGRPC drains in-flight RPCs until ctx ends, then forces the stop.
func stopGRPC(ctx context.Context, s *grpc.Server) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.Stop()
	}
}

func runMigrate(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := app.LoadConfig(cmd, v, serviceName)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	database, err := db.Connect(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer database.Close()

	if status, _ := cmd.Flags().GetBool("status"); status {
		return db.MigrationStatus(database, db.DialectPostgres)
	}
	if err := db.RunMigrations(database, db.DialectPostgres); err != nil {
		return err
	}
	logger.Logger.Info().Msg("Migrations applied")
	return nil
}
