package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/redgarden/venue-workers/internal/app"
	"github.com/redgarden/venue-workers/internal/config"
	"github.com/redgarden/venue-workers/internal/db"
	"github.com/redgarden/venue-workers/internal/observ"
	"github.com/redgarden/venue-workers/internal/sqs"
	"github.com/redgarden/venue-workers/internal/worker"
)

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:          "venuectl",
		Short:        "Operator tasks for the venue workers",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envFile, "config-env", ".env", "dotenv file to load before reading the environment")

	root.AddCommand(vapidKeysCmd())
	root.AddCommand(createBucketCmd(&envFile))
	root.AddCommand(requestInvoiceCmd(&envFile))
	root.AddCommand(triggerCmd(&envFile))

	return root
}

// setup loads configuration and a logger for commands that talk to services.
func setup(envFile string) (*config.Config, *zap.Logger, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, "venuectl")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

func vapidKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vapid-keys",
		Short: "Generate a VAPID key pair for web push",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printVAPIDKeys(cmd.OutOrStdout())
		},
	}
}

func printVAPIDKeys(w io.Writer) error {
	pub, priv, err := worker.GenerateVAPIDKeys()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", pub, priv)
	return nil
}

func createBucketCmd(envFile *string) *cobra.Command {
	var private bool

	cmd := &cobra.Command{
		Use:   "create-bucket",
		Short: "Create the invoice bucket (public unless --private)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*envFile)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			objects, err := app.NewObjectStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			if err := objects.EnsureBucket(cmd.Context(), !private); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "bucket %q ready (%s)\n", cfg.StorageBucket, cfg.StorageBackend)
			return nil
		},
	}
	cmd.Flags().BoolVar(&private, "private", false, "create the bucket without public read access")
	return cmd
}

func requestInvoiceCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "request-invoice <booking-id>",
		Short: "Mark a booking's invoice as pending so the invoicer picks it up",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid booking id %q: %w", args[0], err)
			}

			cfg, logger, err := setup(*envFile)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if err := cfg.ValidateDatastore(); err != nil {
				return err
			}

			store, closeStore, err := app.OpenStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := db.NewRepository(store, logger).RequestInvoice(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "invoice requested for booking %s\n", id)
			return nil
		},
	}
}

func triggerCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:       "trigger <dispatcher|invoicer>",
		Short:     "Wake a looping worker through the trigger queue",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"dispatcher", "invoicer"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*envFile)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if cfg.TriggerQueueURL == "" {
				return fmt.Errorf("%w: TRIGGER_QUEUE_URL", config.ErrMissingConfig)
			}

			producer, err := sqs.NewProducer(cmd.Context(), sqs.Config{Region: cfg.AWSRegion, QueueURL: cfg.TriggerQueueURL}, logger)
			if err != nil {
				return err
			}
			msgID, err := producer.Trigger(cmd.Context(), args[0], "venuectl")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "triggered %s (message %s)\n", args[0], msgID)
			return nil
		},
	}
}
