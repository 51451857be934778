package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ldi/sprintboard/internal/server"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

func (a *app) serveCmd() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "Port to listen on (default from config, 8000)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	if !a.verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	database, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	watchCtx, cancelWatch := context.WithCancel(ctx)
	wait := a.watch(watchCtx, database)
	defer func() {
		cancelWatch()
		wait()
	}()

	srv := server.NewServer(a.tracker(database), a.logger.With("component", "http"))
	addr := fmt.Sprintf(":%s", a.cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(addr)
	}()
	a.logger.Info("serving", "addr", addr, "db", a.cfg.DBPath)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}
