package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"bwkeeper/internal/app"
)

func serve(ctx *cli.Context) error {
	a, err := app.NewApp(settingsFrom(ctx))
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(runCtx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigs:
		reason = stopReasonFor(sig)
	case <-a.Done():
	}
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	return a.Stop(stopCtx, reason)
}

func stopReasonFor(sig os.Signal) app.StopReason {
	switch sig {
	case os.Interrupt:
		return app.StopSIGINT
	case syscall.SIGTERM:
		return app.StopSIGTERM
	default:
		return app.StopUnknown
	}
}
