// SSDS Ingest - device packet ingestion for the Shore Side Data System
//
// This is the main entry point for the ssdsingest command. It has three
// subcommands:
//   - run:     consume device packets from the broker into the archive
//   - publish: encode and publish test packets to the queue
//   - queues:  list queues through the RabbitMQ management API
//
// The configuration file path comes from --config, then the SSDS_CONFIG
// environment variable, then configs/config.yaml.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/nerrad567/ssds-ingest/internal/infrastructure/config"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnv names the environment variable holding the config path.
const configEnv = "SSDS_CONFIG"

const usage = `ssdsingest - SSDS device packet ingestion

Usage:
  ssdsingest <command> [flags]

Commands:
  run       Consume device packets from the queue into the configured sinks
  publish   Publish test device packets to the queue
  queues    List broker queues via the management API
  version   Print version information
  help      Show this help

Run "ssdsingest <command> --help" for command flags.
`

func main() {
	// Cancel on Ctrl+C or SIGTERM so the pipeline drains before exit.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run dispatches to a subcommand, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: Command line without the program name
//   - stdout: Destination for command output and help text
//
// Returns:
//   - error: nil on success or clean shutdown
func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, usage)
		return errors.New("no command given")
	}

	command, rest := args[0], args[1:]
	switch command {
	case "run":
		return runServe(ctx, rest, stdout)
	case "publish":
		return runPublish(ctx, rest, stdout)
	case "queues":
		return runQueues(ctx, rest, stdout)
	case "version", "--version":
		fmt.Fprintf(stdout, "ssdsingest %s (commit %s, built %s)\n", version, commit, date)
		return nil
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q (see \"ssdsingest help\")", command)
	}
}

// newFlagSet creates a subcommand flag set with the shared --config flag.
func newFlagSet(name string, stdout io.Writer, configPath *string) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flagSet.SetOutput(stdout)
	flagSet.StringVarP(configPath, "config", "c", "", "path to config.yaml (default $"+configEnv+" or "+defaultConfigPath+")")
	return flagSet
}

// parseFlags parses args and reports whether help was shown.
// Positional arguments are rejected.
func parseFlags(flagSet *pflag.FlagSet, args []string) (bool, error) {
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return true, nil
		}
		return false, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return false, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return false, nil
}

// loadConfig loads the configuration from flagPath, or from getConfigPath
// when the flag is empty.
func loadConfig(flagPath string) (*config.Config, string, error) {
	path := flagPath
	if path == "" {
		path = getConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

// getConfigPath returns the configuration file path.
// Uses SSDS_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return defaultConfigPath
}
