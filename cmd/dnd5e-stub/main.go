package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/shhac/grpcsim/internal/logging"
	"github.com/shhac/grpcsim/internal/schema"
	"github.com/shhac/grpcsim/internal/stubserver"
)

func main() {
	if err := runServer(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() error {
	fs := pflag.NewFlagSet("dnd5e-stub", pflag.ContinueOnError)
	address := fs.String("address", "0.0.0.0:50051", "listen address")
	schemaPath := fs.StringP("schema", "s", "proto/dnd5e.proto", "dnd5e schema")
	debugLog := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logger, err := logging.InitLogger("dnd5e-stub", *debugLog, "", os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	catalog, err := schema.Load(*schemaPath, schema.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}

	srv := stubserver.New(catalog, logger)
	if err := srv.HandleAll(stubserver.Dnd5eHandlers()); err != nil {
		return fmt.Errorf("failed to attach handlers: %w", err)
	}

	addr, err := srv.Start(*address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	fmt.Fprintf(os.Stderr, "dnd5e stub listening on %s\n", addr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	fmt.Fprintln(os.Stderr, "shutting down")
	srv.Stop()
	return nil
}
