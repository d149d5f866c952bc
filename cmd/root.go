// Package main provides the footfall command line: the service and the sensor
// simulator.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "footfall",
		Short: "Footfall occupancy aggregation service",
		Long: `Footfall ingests people-counter readings, tracks device liveness and serves
occupancy analytics:
- serve: run the HTTP API, real-time feed and queue consumers
- simulate: emit simulated sensor readings to a running service`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or /etc/footfall/config.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, text)")

	for key, name := range map[string]string{
		"log.level":  "log-level",
		"log.format": "log-format",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			log.Fatalf("failed to bind %s flag: %v", name, err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if err := InitConfig(cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}
