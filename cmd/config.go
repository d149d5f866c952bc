package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"procodus.dev/footfall/pkg/logger"
)

// InitConfig initializes Viper configuration.
// It supports reading from config files (config.yaml) and environment variables.
func InitConfig(cfgFile string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in current directory and /etc/footfall/
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/footfall/")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// FOOTFALL_SERVER_HTTP_PORT overrides server.http.port and so on.
	viper.SetEnvPrefix("FOOTFALL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var configNotFoundErr viper.ConfigFileNotFoundError
		if errors.As(err, &configNotFoundErr) {
			// Config file not found; rely on env vars and defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// GetLogger creates a slog.Logger based on configuration.
func GetLogger() *slog.Logger {
	return logger.New(&logger.Config{
		Output:  os.Stdout,
		Format:  viper.GetString("log.format"),
		Level:   logger.ParseLevel(viper.GetString("log.level")),
		Service: "footfall",
	})
}

// loadLocation resolves an IANA zone name; empty means UTC.
func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", name, err)
	}
	return loc, nil
}
