// Package cmd wires the feedercam command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/feedercam/cmd/serve"
	"github.com/tphakala/feedercam/cmd/snapshot"
	"github.com/tphakala/feedercam/cmd/version"
	"github.com/tphakala/feedercam/internal/buildinfo"
	"github.com/tphakala/feedercam/internal/conf"
	"github.com/tphakala/feedercam/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(ver, buildDate string) *cobra.Command {
	settings := &conf.Settings{}

	var (
		configFile  string
		printConfig bool
	)

	rootCmd := &cobra.Command{
		Use:          "feedercam",
		Short:        "MJPEG camera streaming server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if printConfig {
				return conf.WriteYAML(cmd.OutOrStdout(), settings)
			}
			return cmd.Help()
		},
	}

	if err := setupFlags(rootCmd, &configFile); err != nil {
		fmt.Fprintf(os.Stderr, "error setting up flags: %v\n", err)
		os.Exit(1)
	}
	rootCmd.Flags().BoolVar(&printConfig, "print-config", false, "Print the effective configuration with secrets masked and exit")

	versionCmd := version.Command(buildinfo.NewContext(ver, buildDate, ""))
	rootCmd.AddCommand(
		serve.Command(settings, ver, buildDate),
		snapshot.Command(settings),
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// version needs no configuration
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return initialize(settings, configFile)
	}
	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return logger.Global().Close()
	}

	return rootCmd
}

// initialize loads the configuration into settings and sets up logging.
func initialize(settings *conf.Settings, configFile string) error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	}

	loaded, err := conf.Load()
	if err != nil {
		return err
	}
	*settings = *loaded

	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
	}
	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)
	return nil
}

// setupFlags defines flags that are global to the command line interface
// and binds them into viper, so they override the config file.
func setupFlags(rootCmd *cobra.Command, configFile *string) error {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(configFile, "config", "c", "", "Path to config.yaml (default: search the standard locations)")
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.StringP("port", "p", "", "HTTP listen port")
	flags.String("source", "", "Camera source: testpattern, directory, exec or http")
	flags.Int("fps", 0, "Producer frame rate")
	flags.Int("max-clients", 0, "Maximum concurrent MJPEG clients")

	bindings := map[string]string{
		"debug":             "debug",
		"webserver.port":    "port",
		"camera.source":     "source",
		"camera.fps":        "fps",
		"stream.maxclients": "max-clients",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}
