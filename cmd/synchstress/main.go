// Command synchstress drives a synchronization manager with a randomized mix
// of waits, signals, callbacks and suspensions, then reports its metrics.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joeycumines/go-synchmgr/internal/stressconfig"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/spf13/cobra"
)

var (
	configPath   string
	outputFormat string
	flagThreads  int
	flagDuration time.Duration
	flagSeed     int64
	flagLogLevel string
	flagNoWorker bool
)

var rootCmd = &cobra.Command{
	Use:           "synchstress",
	Short:         "Stress a synchronization manager",
	Long:          `synchstress runs attached threads over shared mutexes, events and semaphores, and prints the resulting metrics`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE:          runStress,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "path to a TOML configuration file")
	flags.StringVar(&outputFormat, "format", "pretty", "output format (pretty|json)")
	flags.IntVar(&flagThreads, "threads", 0, "number of stress threads")
	flags.DurationVar(&flagDuration, "duration", 0, "how long to run")
	flags.Int64Var(&flagSeed, "seed", 0, "random seed")
	flags.StringVar(&flagLogLevel, "log-level", "", "log level (disabled|err|warning|notice|info|debug|trace)")
	flags.BoolVar(&flagNoWorker, "no-worker", false, "run without the deferred signal worker")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "synchstress:", err)
		os.Exit(1)
	}
}

func runStress(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	format := strings.ToLower(outputFormat)
	if format != "pretty" && format != "json" {
		return fmt.Errorf("unknown output format %q", outputFormat)
	}

	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(cmd.ErrOrStderr())),
		logiface.WithLevel[*stumpy.Event](cfg.Level()),
	).Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	report, err := run(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return report.write(cmd.OutOrStdout(), format)
}

// loadConfig resolves the configuration file, if any, then applies any flags
// that were explicitly set.
func loadConfig(cmd *cobra.Command) (stressconfig.Config, error) {
	cfg := stressconfig.Default()
	if configPath != "" {
		var err error
		if cfg, err = stressconfig.Load(configPath); err != nil {
			return stressconfig.Config{}, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("threads") {
		cfg.Threads = flagThreads
	}
	if flags.Changed("duration") {
		cfg.Duration = stressconfig.Duration(flagDuration)
	}
	if flags.Changed("seed") {
		cfg.Seed = flagSeed
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	if flags.Changed("no-worker") {
		cfg.Manager.Worker = !flagNoWorker
	}

	if err := cfg.Validate(); err != nil {
		return stressconfig.Config{}, err
	}
	return cfg, nil
}
