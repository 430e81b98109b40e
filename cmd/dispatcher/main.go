package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/redgarden/venue-workers/internal/app"
	"github.com/redgarden/venue-workers/internal/config"
	"github.com/redgarden/venue-workers/internal/db"
)

func main() {
	cmd := app.WorkerCommand(app.WorkerSpec{
		Name:     "dispatcher",
		Short:    "Deliver pending notifications over push, email, SMS and Telegram",
		Validate: (*config.Config).ValidateDispatcher,
		Build: func(ctx context.Context, cfg *config.Config, store db.Store, logger *zap.Logger) (app.Job, error) {
			return app.NewDispatcher(ctx, cfg, store, logger)
		},
	})

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
