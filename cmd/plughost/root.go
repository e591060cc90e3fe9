// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sigil-dev/plughost/internal/config"
	hosterr "github.com/sigil-dev/plughost/pkg/errors"
)

// cli carries the Viper instance shared by one command tree.
type cli struct {
	v *viper.Viper
}

// NewRootCmd creates the root plughost command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:           "plughost",
		Short:         "plughost: plugin extension host",
		Long:          "plughost resolves, installs, and mounts configured plugins and serves them behind one HTTP API.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.initViper(cmd)
		},
	}

	// Global flags map to viper keys via initViper.
	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("plugins-dir", "", "path to the plugins root")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	root.AddCommand(
		c.newStartCmd(),
		c.newStatusCmd(),
		c.newPluginCmd(),
		newVersionCmd(),
	)

	return root
}

// initViper sets up Viper with defaults, env bindings, flag bindings, and
// an optional config file so the standard precedence
// (flag > env > file > defaults) is handled uniformly.
func (c *cli) initViper(cmd *cobra.Command) error {
	v := c.v

	config.SetDefaults(v)
	config.SetupEnv(v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return hosterr.Errorf(hosterr.CodeConfigLoadReadFailure, "reading config file: %w", err)
		}
	} else {
		// SetConfigType is omitted: with it Viper also tries the bare name,
		// which collides with a ./plughost binary.
		v.SetConfigName("plughost")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/plughost")
		v.AddConfigPath("/etc/plughost")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return hosterr.Errorf(hosterr.CodeConfigLoadReadFailure, "reading config: %w", err)
			}
			if path := config.BootstrapConfig(); path != "" {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return hosterr.Errorf(hosterr.CodeConfigLoadReadFailure, "reading bootstrapped config: %w", err)
				}
			}
		}
	}

	flags := cmd.Root().PersistentFlags()
	if err := v.BindPFlag("plugins_dir", flags.Lookup("plugins-dir")); err != nil {
		return hosterr.Errorf(hosterr.CodeCLISetupFailure, "binding plugins-dir flag: %w", err)
	}
	if err := v.BindPFlag("verbose", flags.Lookup("verbose")); err != nil {
		return hosterr.Errorf(hosterr.CodeCLISetupFailure, "binding verbose flag: %w", err)
	}

	configureLogging(v.GetBool("verbose"))
	return nil
}

// loadConfig decodes and validates the resolved configuration.
func (c *cli) loadConfig() (*config.Config, error) {
	cfg, err := config.FromViper(c.v)
	if err != nil {
		return nil, err
	}
	config.WarnInsecurePermissions(c.v.ConfigFileUsed(), cfg)
	return cfg, nil
}

func configureLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
