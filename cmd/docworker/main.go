package main

import (
	"context"
	"os"

	"github.com/docbuild/docworker/internal/bootstrap"
)

func main() {
	ctx := context.Background()

	app, err := bootstrap.NewApp(ctx)
	if err != nil {
		bootstrap.InitLogger().ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}

	if runErr := app.Run(ctx); runErr != nil {
		app.Logger.ErrorContext(ctx, "fatal error", "error", runErr)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}
