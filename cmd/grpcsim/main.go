package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/shhac/grpcsim/internal/app"
)

func main() {
	os.Exit(run())
}

// run executes the CLI with panic recovery and returns the exit code.
func run() (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Fatal error: panic: %v\n%s", r, debug.Stack())
			code = 1
		}
	}()

	// Cancel in-flight calls on interrupt so open channels are closed.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}
