package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/trevorstenson/crowd-agent/internal/cmd"
	"github.com/trevorstenson/crowd-agent/internal/exitcode"
	"github.com/trevorstenson/crowd-agent/internal/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		// DefaultLogger falls back to a basic logger when the command
		// failed before configuring one.
		if ctx.Err() == context.Canceled {
			log.DefaultLogger().Warn("operation cancelled")
			exitcode.Exit(exitcode.GeneralError)
		}
		log.DefaultLogger().WithError(err).Error("command failed")
		exitcode.ExitWithError(err)
	}
	exitcode.Exit(exitcode.Success)
}
