// Package main implements lgrkit, a command line front end for the data
// access manager. It serves configured sources to websocket clients, runs
// one-off queries and browses source symbols.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	// Database drivers selectable through the database source driver property
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "lgrkit"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		slog.Error("Command failed", "error", err, "exit_code", 1)
		stop()
		os.Exit(1)
	}
}

// NewRootCommand builds the lgrkit command tree
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	flags := &CLIConfig{}

	rc := &cobra.Command{
		Use:     appName,
		Short:   "Datalogger data access toolkit",
		Version: fmt.Sprintf("%s (build %s)", Version, BuildTime),
		Long: `lgrkit reads datalogger tables from LoggerNet servers, data files and
SQL databases through one request model.

Sources are declared in a JSON or YAML configuration file. Environment
variables prefixed with LGRKIT_ override flag defaults.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return validateFlags(flags)
		},
	}
	rc.SetIn(stdin)
	rc.SetOut(stdout)
	rc.SetErr(stderr)

	pf := rc.PersistentFlags()
	pf.StringVarP(&flags.ConfigPath, "config", "c",
		getEnv("LGRKIT_CONFIG", "lgrkit.yaml"),
		"Path to configuration file (env: LGRKIT_CONFIG)")
	pf.StringVar(&flags.LogLevel, "log-level",
		getEnv("LGRKIT_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error; overrides the config file (env: LGRKIT_LOG_LEVEL)")
	pf.StringVar(&flags.LogFormat, "log-format",
		getEnv("LGRKIT_LOG_FORMAT", ""),
		"Log format: json, text; overrides the config file (env: LGRKIT_LOG_FORMAT)")
	pf.BoolVar(&flags.Debug, "debug",
		getEnvBool("LGRKIT_DEBUG", false),
		"Enable debug logging (env: LGRKIT_DEBUG)")
	pf.DurationVar(&flags.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("LGRKIT_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		"Graceful shutdown timeout (env: LGRKIT_SHUTDOWN_TIMEOUT)")

	rc.AddCommand(newServeCommand(flags, stdout, stderr))
	rc.AddCommand(newQueryCommand(flags, stdout, stderr))
	rc.AddCommand(newBrowseCommand(flags, stdout, stderr))
	rc.AddCommand(newSymbolsCommand(flags, stdout, stderr))
	rc.AddCommand(newClockCommand(flags, stdout))
	rc.AddCommand(newSetCommand(flags))
	rc.AddCommand(newSendFileCommand(flags))
	rc.AddCommand(newReceiveFileCommand(flags, stdout))
	rc.AddCommand(newValidateCommand(flags, stdout, stderr))
	return rc
}

// newValidateCommand loads the configuration and reports whether it is valid
func newValidateCommand(flags *CLIConfig, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger := flags.logger(cfg, stderr)
			logger.Info("Configuration is valid", "path", flags.ConfigPath, "sources", len(cfg.Sources))
			_, err = fmt.Fprintf(stdout, "%s: %d sources\n", flags.ConfigPath, len(cfg.Sources))
			return err
		},
	}
}

