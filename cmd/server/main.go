package main

import (
	"context"
	"fmt"
	"os"

	"github.com/driveline/priceengine/internal/app"
	"github.com/driveline/priceengine/internal/platform/shutdown"
)

func main() {
	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	a, err := app.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		a.Logger().Fatal("server exited", "error", err)
	}
}
