package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rcourtman/healthdash/internal/config"
	"github.com/rcourtman/healthdash/internal/logging"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var envFiles []string

var rootCmd = &cobra.Command{
	Use:     "healthdash",
	Short:   "Live process health dashboard",
	Long:    `healthdash streams scheduler latency, memory and CPU samples from an in-process agent to a viewer over a websocket.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setup(cmd.Name()); err != nil {
			return err
		}
		go watchEnvFiles(cmd.Context())
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "Env files to load before reading configuration")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(demoCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "healthdash %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Fprintf(out, "Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Fprintf(out, "Commit: %s\n", GitCommit)
		}
	},
}

// setup loads env files and initialises logging for a subcommand.
func setup(component string) error {
	loaded, err := config.LoadEnvFiles(envFiles...)
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Format:    os.Getenv(config.EnvLogFormat),
		Level:     os.Getenv(config.EnvLogLevel),
		Component: component,
	})
	if len(loaded) > 0 {
		log.Debug().Strs("files", loaded).Msg("Loaded env files")
	}
	return nil
}

// watchEnvFiles applies LOG_LEVEL edits in the env files while running.
func watchEnvFiles(ctx context.Context) {
	watcher := config.NewEnvWatcher(envFiles, func(key, value string) {
		if key == config.EnvLogLevel {
			logging.SetGlobalLevel(value)
		}
	})
	watcher.Run(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
