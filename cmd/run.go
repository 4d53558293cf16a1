// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cfgate/internal/browser"
	"github.com/xkilldash9x/cfgate/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// runFlags are the request options shared by detect and bypass.
type runFlags struct {
	timeout     time.Duration
	headless    bool
	userAgent   string
	proxy       string
	width       int
	height      int
	maxAttempts int
	fullPage    bool
	noShot      bool
	waitAfter   time.Duration
	output      string
}

func (f *runFlags) options(cmd *cobra.Command) service.Options {
	opts := service.Options{
		TimeoutMs:   int(f.timeout.Milliseconds()),
		UserAgent:   f.userAgent,
		Proxy:       f.proxy,
		Width:       f.width,
		Height:      f.height,
		MaxAttempts: f.maxAttempts,
	}
	flags := cmd.Flags()
	if flags.Changed("headless") {
		opts.Headless = &f.headless
	}
	if flags.Changed("full-page") {
		opts.FullPage = &f.fullPage
	}
	if flags.Changed("no-screenshot") {
		on := !f.noShot
		opts.Screenshot = &on
	}
	if flags.Changed("wait-after") {
		ms := int(f.waitAfter.Milliseconds())
		opts.WaitAfterBypassMs = &ms
	}
	return opts
}

func (f *runFlags) register(cmd *cobra.Command, capture bool) {
	flags := cmd.Flags()
	flags.DurationVar(&f.timeout, "timeout", 0, "overall bypass budget (default from bypass.timeout)")
	flags.BoolVar(&f.headless, "headless", true, "run the browser headless")
	flags.StringVar(&f.userAgent, "user-agent", "", "user agent (default: random from browser.user_agents)")
	flags.StringVar(&f.proxy, "proxy", "", "proxy server URL")
	flags.IntVar(&f.width, "width", 0, "viewport width")
	flags.IntVar(&f.height, "height", 0, "viewport height")
	if !capture {
		return
	}
	flags.IntVar(&f.maxAttempts, "max-attempts", 0, "maximum interaction attempts")
	flags.BoolVar(&f.fullPage, "full-page", true, "capture the full page instead of the viewport")
	flags.BoolVar(&f.noShot, "no-screenshot", false, "skip the screenshot")
	flags.DurationVar(&f.waitAfter, "wait-after", 0, "delay after a cleared challenge before capturing")
	flags.StringVarP(&f.output, "output", "o", "", "write the screenshot to this PNG file")
}

// withService creates the components, runs fn and shuts everything down again.
func withService(ctx context.Context, a *app, fn func(*service.Service) error) error {
	components, err := a.factory.Create(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(browser.Detach(ctx), a.cfg.Server().ShutdownTimeout)
		defer cancel()
		if err := components.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("Components did not shut down cleanly.", zap.Error(err))
		}
	}()
	return fn(components.Service)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newDetectCmd(a *app) *cobra.Command {
	f := &runFlags{}
	detectCmd := &cobra.Command{
		Use:   "detect <url>",
		Short: "Report whether a page shows a verification challenge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), a, func(svc *service.Service) error {
				res, err := svc.Detect(cmd.Context(), args[0], f.options(cmd))
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
	f.register(detectCmd, false)
	return detectCmd
}

func newBypassCmd(a *app) *cobra.Command {
	f := &runFlags{}
	bypassCmd := &cobra.Command{
		Use:   "bypass <url>",
		Short: "Load a page, try to clear its challenge and capture the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), a, func(svc *service.Service) error {
				res, err := svc.Bypass(cmd.Context(), args[0], f.options(cmd))
				if err != nil {
					return err
				}
				if f.output != "" && len(res.Screenshot) > 0 {
					path, err := homedir.Expand(f.output)
					if err != nil {
						return fmt.Errorf("expanding output path: %w", err)
					}
					if err := os.WriteFile(path, res.Screenshot, 0o644); err != nil {
						return fmt.Errorf("writing screenshot: %w", err)
					}
					a.logger.Info("Screenshot saved.", zap.String("path", path), zap.Int("bytes", len(res.Screenshot)))
				}
				// The image goes to the file, not to the terminal.
				res.Screenshot = nil
				return printJSON(cmd, res)
			})
		},
	}
	f.register(bypassCmd, true)
	return bypassCmd
}
