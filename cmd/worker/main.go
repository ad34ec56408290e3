package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mtr002/lm-jobs/internal/api"
	"github.com/mtr002/lm-jobs/internal/app"
	"github.com/mtr002/lm-jobs/internal/engines"
	"github.com/mtr002/lm-jobs/internal/indexer"
	"github.com/mtr002/lm-jobs/internal/jobs"
	"github.com/mtr002/lm-jobs/internal/logger"
	"github.com/mtr002/lm-jobs/internal/worker"
)

const serviceName = "lmjobs-worker"

func main() {
	v := viper.New()

	root := &cobra.Command{
		Use:          "lmjobs-worker",
		Short:        "Background processor for transcription and presentation jobs",
		SilenceUsage: true,
	}
	app.BindFlags(root, v)

	run := &cobra.Command{
		Use:   "run",
		Short: "Consume the work queue until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorkers(cmd, v)
		},
	}
	run.Flags().Int("workers", 0, "number of concurrent workers (overrides worker.count)")
	run.Flags().Bool("sweep", true, "run the lease sweeper alongside the workers")
	v.BindPFlag("worker.count", run.Flags().Lookup("workers"))
	root.AddCommand(run)

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Expire lost leases and re-notify stale pending jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweeper(cmd, v)
		},
	}
	sweep.Flags().Bool("once", false, "run a single pass and exit")
	root.AddCommand(sweep)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runWorkers(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := app.LoadConfig(cmd, v, serviceName)
	if err != nil {
		return err
	}
	logger.Logger.Info().Str("queue", cfg.QueueDriver).Int("workers", cfg.Worker.WorkerCount).Msg("Starting worker service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	queue, _, err := app.OpenQueue(ctx, cfg, serviceName)
	if err != nil {
		return err
	}
	defer queue.Close()

	sources, err := app.OpenSources(ctx, cfg)
	if err != nil {
		return err
	}

	// Each job carries its own deadline, so the clients do not set one.
	client := &http.Client{}
	dispatcher := engines.NewDispatcher(
		engines.NewTranscriber(cfg.TranscriptionURL, client, sources),
		engines.NewPresenter(cfg.PresentationURL, cfg.PresentationKey, client),
	)

	var opts []worker.Option
	if cfg.WeaviateEnabled {
		idx, err := indexer.NewWeaviateIndexer(cfg.WeaviateScheme, cfg.WeaviateHost, cfg.WeaviateVectorizer)
		if err != nil {
			return err
		}
		opts = append(opts, worker.WithIndexer(idx))
		logger.Logger.Info().Str("host", cfg.WeaviateHost).Msg("Transcript indexing enabled")
	}

	pool := worker.NewPool(store, queue, dispatcher, cfg.Worker, opts...)
	pool.Start()

	if withSweeper, _ := cmd.Flags().GetBool("sweep"); withSweeper {
		sweeper := worker.NewSweeper(store, jobs.NewManager(store, queue), cfg.Sweeper)
		go sweeper.Run(ctx)
	}

	metricsServer := api.NewServer(cfg.MetricsAddr, api.NewOpsRouter(serviceName, []api.HealthCheck{
		{Name: "database", Check: database.PingContext},
		{Name: "queue", Check: queue.Ping},
	}))
	go func() {
		if err := metricsServer.Start(); err != nil {
			logger.Logger.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	<-ctx.Done()
	logger.Logger.Info().Msg("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	err = pool.Stop(shutdownCtx)
	if serr := metricsServer.Shutdown(shutdownCtx); serr != nil {
		err = errors.Join(err, serr)
	}
	logger.Logger.Info().Msg("Worker service stopped")
	return err
}

func runSweeper(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := app.LoadConfig(cmd, v, serviceName)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	queue, _, err := app.OpenQueue(ctx, cfg, serviceName)
	if err != nil {
		return err
	}
	defer queue.Close()

	sweeper := worker.NewSweeper(store, jobs.NewManager(store, queue), cfg.Sweeper)

	if once, _ := cmd.Flags().GetBool("once"); once {
		report, err := sweeper.Sweep(ctx)
		if err != nil {
			return err
		}
		logger.Logger.Info().Int("expired", report.Expired).Int("renotified", report.Renotified).Msg("Sweep finished")
		return nil
	}

	logger.Logger.Info().Dur("interval", cfg.Sweeper.Interval).Msg("Sweeper started")
	if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
