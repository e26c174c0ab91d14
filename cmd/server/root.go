package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/courier/internal/config"
	"github.com/vovakirdan/courier/internal/log"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "courier",
		Short:        "Realtime messaging server",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config.yaml (default: $COURIER_CONFIG_DEFAULT_PATH/config.yaml or ./config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newUserCmd(opts))
	return cmd
}

// load resolves configuration and builds the logger. overrides win over file and env.
func (o *rootOptions) load(overrides config.Config) (config.Config, *zerolog.Logger, error) {
	boot := log.New("info", "console")
	cfg, path, err := config.Load(boot, o.configPath)
	if err != nil {
		return cfg, boot, err
	}
	overrides.LogLevel = o.logLevel
	cfg.UpdateFrom(overrides)

	logger := log.New(cfg.LogLevel, cfg.LogFormat)
	logger.Debug().Str("config", path).Msg("configuration loaded")
	return cfg, logger, nil
}
