package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	NATSURL         string
	ControlSubject  string
	MetadataPrefix  string
	SceneSubject    string
	MetricsAddr     string
	SendInterval    time.Duration
	SceneRate       float64
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	// Define flags with environment variable fallback
	flag.StringVar(&cfg.NATSURL, "nats-url",
		getEnv("SCENESYNC_NATS_URL", "nats://localhost:4222"),
		"NATS server URL (env: SCENESYNC_NATS_URL)")

	flag.StringVar(&cfg.ControlSubject, "control-subject",
		getEnv("SCENESYNC_CONTROL_SUBJECT", "scenesync.control"),
		"Control request/reply subject (env: SCENESYNC_CONTROL_SUBJECT)")

	flag.StringVar(&cfg.MetadataPrefix, "metadata-prefix",
		getEnv("SCENESYNC_METADATA_PREFIX", "scenesync.metadata"),
		"Subject prefix for per-input metadata uploads (env: SCENESYNC_METADATA_PREFIX)")

	flag.StringVar(&cfg.SceneSubject, "scene-subject",
		getEnv("SCENESYNC_SCENE_SUBJECT", "scenesync.scene"),
		"Scene broadcast subject (env: SCENESYNC_SCENE_SUBJECT)")

	flag.StringVar(&cfg.MetricsAddr, "metrics-addr",
		getEnv("SCENESYNC_METRICS_ADDR", ":9090"),
		"Prometheus metrics listen address, empty to disable (env: SCENESYNC_METRICS_ADDR)")

	flag.DurationVar(&cfg.SendInterval, "send-interval",
		getEnvDuration("SCENESYNC_SEND_INTERVAL", 100*time.Millisecond),
		"Scene flush tick interval (env: SCENESYNC_SEND_INTERVAL)")

	flag.Float64Var(&cfg.SceneRate, "scene-rate",
		getEnvFloat("SCENESYNC_SCENE_RATE", 30),
		"Maximum scene broadcasts per second, 0 for unlimited (env: SCENESYNC_SCENE_RATE)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("SCENESYNC_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: SCENESYNC_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("SCENESYNC_LOG_FORMAT", "json"),
		"Log format: json, text (env: SCENESYNC_LOG_FORMAT)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("SCENESYNC_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: SCENESYNC_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")

	flag.Usage = printDetailedHelp

	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.NATSURL == "" {
		return fmt.Errorf("nats-url must not be empty")
	}
	if cfg.ControlSubject == "" || cfg.MetadataPrefix == "" || cfg.SceneSubject == "" {
		return fmt.Errorf("control-subject, metadata-prefix and scene-subject must not be empty")
	}
	if cfg.SendInterval <= 0 {
		return fmt.Errorf("invalid send interval: %s", cfg.SendInterval)
	}
	if cfg.SceneRate < 0 {
		return fmt.Errorf("invalid scene rate: %f", cfg.SceneRate)
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - Scene Synchronization Coordinator

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run against a local NATS server
  %s --nats-url=nats://localhost:4222

  # Run with debug logging
  %s --log-level=debug --log-format=text

  # Run with environment variables
  export SCENESYNC_NATS_URL=nats://broker:4222
  export SCENESYNC_LOG_LEVEL=debug
  %s

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Utility function to check if slice contains string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
