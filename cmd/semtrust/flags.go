package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"
)

// Roles the binary can run
const (
	rolePublisher  = "publisher"
	roleSubscriber = "subscriber"
	roleDemo       = "demo"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	Role            string
	LogLevel        string
	LogFormat       string
	Debug           bool
	DashboardAddr   string
	ShutdownTimeout time.Duration
	InitConfig      string
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("SEMTRUST_CONFIG", ""),
		"Path to a JSON or YAML configuration file; empty uses defaults (env: SEMTRUST_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("SEMTRUST_CONFIG", ""),
		"Path to configuration file (env: SEMTRUST_CONFIG)")

	fs.StringVar(&cfg.Role, "role",
		getEnv("SEMTRUST_ROLE", rolePublisher),
		"Role to run: publisher, subscriber, demo (env: SEMTRUST_ROLE)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("SEMTRUST_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: SEMTRUST_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("SEMTRUST_LOG_FORMAT", "json"),
		"Log format: json, text (env: SEMTRUST_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("SEMTRUST_DEBUG", false),
		"Enable debug logging (env: SEMTRUST_DEBUG)")

	fs.StringVar(&cfg.DashboardAddr, "dashboard-addr",
		getEnv("SEMTRUST_DASHBOARD_ADDR", ":8901"),
		"Subscriber listen address in demo mode (env: SEMTRUST_DASHBOARD_ADDR)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("SEMTRUST_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: SEMTRUST_SHUTDOWN_TIMEOUT)")

	fs.StringVar(&cfg.InitConfig, "init-config", "",
		"Write the default configuration to this path and exit")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		printDetailedHelp(fs)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp || cfg.InitConfig != "" {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}
	if !slices.Contains([]string{rolePublisher, roleSubscriber, roleDemo}, cfg.Role) {
		return fmt.Errorf("invalid role: %s", cfg.Role)
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(os.Stderr, `%s - signed sensor readings with trust annotations

Usage: %s [options]

Options:
`, appName, os.Args[0])
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Write a starting configuration
  %s --init-config=semtrust.yaml

  # Run the producer
  %s --role=publisher --config=semtrust.yaml

  # Run the dashboard side against a publisher
  SEMTRUST_PUBLISHER_URL=http://publisher:8900 %s --role=subscriber --config=semtrust.yaml

  # Both roles in one process over an in-memory log
  SEMTRUST_TRANSPORT_KIND=memory SEMTRUST_TRANSPORT_PASSPHRASE=demo %s --role=demo --log-format=text

  # Validate configuration only
  %s --config=semtrust.yaml --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
