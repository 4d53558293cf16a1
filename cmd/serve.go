// File: cmd/serve.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cfgate/internal/api"
	"github.com/xkilldash9x/cfgate/internal/browser"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		listen      string
		headless    bool
		ignoreTLS   bool
		timeout     time.Duration
		maxAttempts int
	)
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if cmd.Flags().Changed("listen") {
				a.cfg.SetServerListenAddr(listen)
			}
			if cmd.Flags().Changed("headless") {
				a.cfg.SetBrowserHeadless(headless)
			}
			if cmd.Flags().Changed("ignore-tls-errors") {
				a.cfg.SetBrowserIgnoreTLSErrors(ignoreTLS)
			}
			if cmd.Flags().Changed("timeout") {
				a.cfg.SetBypassTimeout(timeout)
			}
			if cmd.Flags().Changed("max-attempts") {
				a.cfg.SetBypassMaxAttempts(maxAttempts)
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			components, err := a.factory.Create(ctx, a.cfg, a.logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}

			server := api.NewServer(a.cfg.Server(), a.logger, components.Service)
			errCh := make(chan error, 1)
			go func() { errCh <- server.ListenAndServe() }()

			var serveErr error
			select {
			case serveErr = <-errCh:
				if serveErr != nil {
					a.logger.Error("API server stopped with error.", zap.Error(serveErr))
				}
			case <-ctx.Done():
				a.logger.Info("Received shutdown signal, shutting down gracefully...")
			}

			// Shutdown outlives the canceled command context.
			shutdownCtx, cancel := context.WithTimeout(browser.Detach(ctx), a.cfg.Server().ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("HTTP server shutdown error.", zap.Error(err))
			}
			if err := components.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("Components did not shut down cleanly.", zap.Error(err))
			}
			return serveErr
		},
	}
	serveCmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides server.listen_addr)")
	serveCmd.Flags().BoolVar(&headless, "headless", true, "run the browser headless (overrides browser.headless)")
	serveCmd.Flags().BoolVar(&ignoreTLS, "ignore-tls-errors", false, "accept invalid TLS certificates")
	serveCmd.Flags().DurationVar(&timeout, "timeout", 0, "default bypass budget (overrides bypass.timeout)")
	serveCmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "default attempt limit (overrides bypass.max_attempts)")
	return serveCmd
}
