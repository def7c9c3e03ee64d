package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/MeKo-Tech/ctcbeam/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newConfigCommand groups the configuration file helpers.
func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create configuration files",
	}

	cmd.AddCommand(
		newConfigInitCommand(),
		newConfigShowCommand(),
		newConfigPathsCommand(),
		newConfigValidateCommand(),
	)
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [file]",
		Short: "Write the default configuration to a YAML file",
		Long: `Write the default configuration to a YAML file (default: ctcbeam.yaml in the
current directory). Existing files are kept unless --force is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ConfigFileName + ".yaml"
			if len(args) == 1 {
				path = args[0]
			}
			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := config.GenerateDefaultConfigFile(path); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().Bool("force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.MarshalYAML(*GetConfig())
			if err != nil {
				return err
			}
			if used := GetConfigLoader().GetConfigFileUsed(); used != "" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", used)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigPathsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Show where configuration is loaded from",
		Run: func(cmd *cobra.Command, args []string) {
			GetConfigLoader().PrintConfigInfo(cmd.OutOrStdout())
		},
	}
}

func newConfigValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a configuration file, or the discovered one, for invalid values",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoaderWithViper(viper.New())
			var (
				cfg *config.Config
				err error
			)
			if len(args) == 1 {
				cfg, err = loader.LoadWithFileWithoutValidation(args[0])
			} else {
				cfg, err = loader.LoadWithoutValidation()
			}
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			source := loader.GetConfigFileUsed()
			if source == "" {
				source = "defaults and environment"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid (%s)\n", source)
			return nil
		},
	}
}
