package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/ctcbeam/internal/config"
	"github.com/MeKo-Tech/ctcbeam/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Global configuration loader.
	configLoader *config.Loader
	// Global configuration.
	globalConfig *config.Config
	// Configuration file path.
	cfgFile string
)

// NewRootCommand builds the command tree. Each call returns fresh commands
// and flags, so several command lines can run in one process.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "ctcbeam",
		Short: "CTC prefix beam search decoder",
		Long: `ctcbeam decodes the per-timestep class probabilities produced by CTC-trained
sequence models (speech and text recognition) into ranked label sequences.

This tool provides:
- Prefix beam search with configurable beam width and number of results
- Optional per-position symbol constraints (e.g. licence plates, serial numbers)
- Greedy best-path decoding for comparison
- Batch decoding of many files in parallel
- An HTTP and WebSocket decoding service
- Optional ONNX model inference in front of the decoder

Examples:
  ctcbeam decode probs.json --alphabet dict.txt
  ctcbeam decode probs.csv --symbols 0123456789 --topk 3 --format json
  ctcbeam batch outputs/ --recursive --alphabet dict.txt
  ctcbeam serve --port 8080 --alphabet dict.txt`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, _ := cmd.PersistentFlags().GetBool("version")
			if v {
				ver, commit, date := version.Info()
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ctcbeam version %s\n", ver)
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Commit: %s\n", commit)
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Date: %s\n", date)
				return nil
			}
			return cmd.Help()
		},
		PersistentPreRunE: setupConfigAndLogging,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is search in ., $HOME, $HOME/.config/ctcbeam, /etc/ctcbeam)")
	root.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("version", false, "print version information and exit")

	root.AddCommand(
		newDecodeCommand(),
		newBatchCommand(),
		newServeCommand(),
		newBenchmarkCommand(),
		newConfigCommand(),
	)
	return root
}

// Execute builds the command tree and runs it. This is called by main.main().
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func setupConfigAndLogging(cmd *cobra.Command, args []string) error {
	bindRootFlags(cmd.Root())
	if globalConfig == nil {
		if err := initConfig(); err != nil {
			return err
		}
	}
	cfg := GetConfig()

	logLevel := slog.LevelInfo
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	} else {
		switch cfg.LogLevel {
		case "debug":
			logLevel = slog.LevelDebug
		case "warn":
			logLevel = slog.LevelWarn
		case "error":
			logLevel = slog.LevelError
		}
	}

	// Logs go to stderr; stdout carries decode output.
	logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	return nil
}

// bindRootFlags points the global viper keys at the flags of the tree being run.
func bindRootFlags(root *cobra.Command) {
	_ = viper.BindPFlag("verbose", root.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))
}

// ResetConfig drops the loaded configuration and the global viper state so
// the next command starts from defaults. Tests that run several commands in
// one process call it between runs.
func ResetConfig() {
	viper.Reset()
	globalConfig = nil
	configLoader = nil
	cfgFile = ""
}

// initConfig reads in config file and ENV variables if set.
func initConfig() error {
	configLoader = config.NewLoader()

	var err error
	if cfgFile != "" {
		globalConfig, err = configLoader.LoadWithFile(cfgFile)
	} else {
		globalConfig, err = configLoader.Load()
	}
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	return nil
}

// GetConfig returns the global configuration, re-read from viper so that
// flags bound after the initial load are included.
func GetConfig() *config.Config {
	if globalConfig == nil {
		if err := initConfig(); err != nil {
			slog.Error("Falling back to default configuration", "error", err)
			cfg := config.DefaultConfig()
			return &cfg
		}
	}

	var cfg config.Config
	if err := GetConfigLoader().GetViper().Unmarshal(&cfg); err != nil {
		slog.Error("Error unmarshaling updated configuration", "error", err)
		return globalConfig
	}
	return &cfg
}

// GetConfigLoader returns the global configuration loader.
func GetConfigLoader() *config.Loader {
	if configLoader == nil {
		configLoader = config.NewLoader()
	}
	return configLoader
}
