package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aristath/docflow/internal/backend"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pm := backend.NewProcessManager()

	// The first signal cancels ctx, which stops admission of new documents
	// while running ones finish. A second one kills every model process.
	go func() {
		<-ctx.Done()
		stop()

		force := make(chan os.Signal, 1)
		signal.Notify(force, os.Interrupt, syscall.SIGTERM)
		fmt.Fprintln(os.Stderr, "\nFinishing running documents, interrupt again to force quit")
		<-force

		if err := pm.KillAll(); err != nil {
			fmt.Fprintf(os.Stderr, "Error killing model processes: %v\n", err)
		}
		os.Exit(130)
	}()

	a := &app{
		stdout: os.Stdout,
		stderr: os.Stderr,
		getenv: os.Getenv,
		pm:     pm,
	}
	if err := a.rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
