// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/cfgate/internal/config"
	"github.com/xkilldash9x/cfgate/internal/observability"
	"github.com/xkilldash9x/cfgate/internal/service"
)

// app carries what PersistentPreRunE prepared to the subcommands.
type app struct {
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
	logger  *zap.Logger
	factory service.ComponentFactory
}

// NewRootCmd builds the command tree. factory creates the service components for the commands
// that need them.
func NewRootCmd(factory service.ComponentFactory) *cobra.Command {
	a := &app{v: viper.New(), factory: factory}

	rootCmd := &cobra.Command{
		Use:           "cfgate",
		Short:         "cfgate detects and clears browser verification challenges in headless Chromium.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.initializeConfig(); err != nil {
				observability.Initialize(config.NewDefaultConfig().Logger(), zapcore.Lock(os.Stderr))
				return err
			}
			// stdout carries command output, logs go to stderr.
			observability.Initialize(a.cfg.Logger(), zapcore.Lock(os.Stderr))
			a.logger = observability.GetLogger()
			a.logger.Debug("Configuration loaded.", zap.String("version", Version), zap.String("config_file", a.v.ConfigFileUsed()))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			observability.Sync()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newServeCmd(a),
		newDetectCmd(a),
		newBypassCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the CLI with a context canceled on SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd(service.NewComponentFactory()).ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "interrupted")
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		stop()
		os.Exit(1)
	}
}

// initializeConfig reads the config file and CFGATE_ environment variables on top of the defaults.
func (a *app) initializeConfig() error {
	config.SetDefaults(a.v)

	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		a.v.AddConfigPath(".")
		a.v.SetConfigName("config")
		a.v.SetConfigType("yaml")
	}

	a.v.SetEnvPrefix("CFGATE")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg, err := config.NewConfigFromViper(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}
