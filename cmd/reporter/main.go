package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/canopy-network/mutualpool/app/reporter"
	"github.com/canopy-network/mutualpool/pkg/utils"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := reporter.Initialize(ctx)

	// REPORT_ONCE publishes a single report and exits, for ad hoc runs from a job scheduler.
	if utils.EnvBool("REPORT_ONCE", false) {
		app.Reporter.Run(ctx)
		app.Stop()
		return
	}

	app.Start(ctx)
}
