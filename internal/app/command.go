package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/redgarden/venue-workers/internal/config"
	"github.com/redgarden/venue-workers/internal/db"
	"github.com/redgarden/venue-workers/internal/observ"
)

// WorkerSpec describes a polling worker binary.
type WorkerSpec struct {
	Name     string
	Short    string
	Validate func(*config.Config) error
	Build    func(ctx context.Context, cfg *config.Config, store db.Store, logger *zap.Logger) (Job, error)
}

// WorkerCommand builds the cobra root shared by the worker binaries. With no
// flags it runs one cycle and exits.
func WorkerCommand(spec WorkerSpec) *cobra.Command {
	var (
		loop     bool
		interval time.Duration
		envFile  string
	)

	cmd := &cobra.Command{
		Use:          spec.Name,
		Short:        spec.Short,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnvFile(envFile); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := spec.Validate(cfg); err != nil {
				return err
			}
			if !cmd.Flags().Changed("interval") {
				interval = cfg.PollInterval
			}

			logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, spec.Name)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runWorker(ctx, cfg, spec, loop, interval, logger)
		},
	}

	cmd.Flags().BoolVar(&loop, "loop", false, "keep polling instead of running once")
	cmd.Flags().DurationVar(&interval, "interval", 15*time.Second, "poll interval in loop mode (default $POLL_INTERVAL)")
	cmd.Flags().StringVar(&envFile, "config-env", ".env", "dotenv file to load before reading the environment")
	return cmd
}

func runWorker(ctx context.Context, cfg *config.Config, spec WorkerSpec, loop bool, interval time.Duration, logger *zap.Logger) error {
	store, closeStore, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	job, err := spec.Build(ctx, cfg, store, logger)
	if err != nil {
		return err
	}

	var leaser Leaser
	if client := OpenRedis(ctx, cfg, logger); client != nil {
		defer client.Close()
		leaser = RedisLeaser{Client: client}
	}

	runner := NewRunner(job, leaser, RunnerConfig{
		Interval:       interval,
		PushgatewayURL: cfg.PushgatewayURL,
	}, logger)

	if !loop {
		return runner.Once(ctx)
	}

	wake, err := WakeUps(ctx, cfg, job.Name(), logger)
	if err != nil {
		logger.Warn("running without wake-ups", zap.Error(err))
	}
	return runner.Loop(ctx, wake)
}
