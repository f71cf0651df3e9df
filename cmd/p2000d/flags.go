package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration. Flags override the config
// file; environment variables are the fallback for each flag's default.
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ListenAddr      string
	CapcodePath     string
	StorePath       string
	DecoderCommand  string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("P2000_CONFIG", ""),
		"Path to YAML configuration file, empty for defaults (env: P2000_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("P2000_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error (env: P2000_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("P2000_LOG_FORMAT", ""),
		"Log format: json, text (env: P2000_LOG_FORMAT)")

	flag.StringVar(&cfg.ListenAddr, "addr",
		getEnv("P2000_ADDR", ""),
		"Gateway listen address (env: P2000_ADDR)")

	flag.StringVar(&cfg.CapcodePath, "capcodes",
		getEnv("P2000_CAPCODES", ""),
		"Path to the capcode CSV table (env: P2000_CAPCODES)")

	flag.StringVar(&cfg.StorePath, "store",
		getEnv("P2000_STORE", ""),
		"Path to the alert snapshot file (env: P2000_STORE)")

	flag.StringVar(&cfg.DecoderCommand, "decoder",
		getEnv("P2000_DECODER", ""),
		"Decoder command spawned via /bin/sh -c, empty reads stdin (env: P2000_DECODER)")

	flag.BoolVar(&cfg.Debug, "debug",
		getEnvBool("P2000_DEBUG", false),
		"Enable debug logging (env: P2000_DEBUG)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("P2000_SHUTDOWN_TIMEOUT", 15*time.Second),
		"Graceful shutdown timeout (env: P2000_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printHelp
	flag.Parse()

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	return cfg
}

func printHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - P2000 pager alert monitor

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Monitor a live receiver
  %s --decoder='rtl_fm -f 169.65M -M fm -s 22050 | multimon-ng -a FLEX -t raw -'

  # Replay a capture from stdin
  cat capture.txt | %s --addr=:8080

  # Validate a config file
  %s --config=/etc/p2000/p2000.yaml --validate

Version: %s
`, os.Args[0], os.Args[0], os.Args[0], Version)
}

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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
