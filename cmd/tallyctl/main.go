// Command tallyctl administers a Tally database: it applies migrations and
// manages accounts without going through the HTTP API.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := newApp(os.Stdin, os.Stdout)
	if err := app.RunContext(ctx, os.Args); err != nil {
		slog.Error("tallyctl failed", "error", err)
		os.Exit(1)
	}
}
