package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/tendril"
	httpAdapter "github.com/aretw0/tendril/pkg/adapters/http"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP bridge",
	Long: `Starts the tendril core behind an HTTP API. Remote feature views mount by
holding /features/{feature}/inbox open; metrics are served on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			cfg.HTTP.Port, _ = cmd.Flags().GetInt("port")
		}

		core, cleanup, err := newCore(nil)
		if err != nil {
			return err
		}
		defer cleanup()

		handler := httpAdapter.NewHandler(httpAdapter.Deps{
			Version:      tendril.Version,
			Capabilities: core.Capabilities(),
			Routes:       core.Routes(),
			Outputs:      core.Outputs(),
			Dispatcher:   core.Dispatcher(),
			Scheduler:    core.Scheduler(),
			Router:       core.Router(),
			Gatherer:     core.Gatherer(),
			Logger:       logger,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
		logger.Info("Starting tendril server", "address", addr)
		serveErr := httpAdapter.ListenAndServe(ctx, addr, handler)

		// Promised commits still go out after the listener stops.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*cfg.Scheduler.CommitTimeout+5*time.Second)
		defer cancel()
		if err := core.Shutdown(shutdownCtx); err != nil {
			logger.Error("core shutdown incomplete", "err", err)
		}
		if serveErr != nil {
			return fmt.Errorf("server error: %w", serveErr)
		}
		logger.Info("tendril server stopped gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on (overrides http.port)")
}
