package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/config"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/injector"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var templatesDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the server until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if templatesDir != "" {
				cfg.Templates.Dir = templatesDir
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&templatesDir, "templates", "", "template directory (overrides GRAFT_TEMPLATES_DIR)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, cleanup, err := injector.InitializeServer(cfg)
	if err != nil {
		return fmt.Errorf("assemble server: %w", err)
	}
	defer cleanup()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Stop(stopCtx)
}
