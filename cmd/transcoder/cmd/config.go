package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"mkv-transcoder/internal/config"
)

var dumpDefaults bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration after applying the config file, MKVT_* environment
variables and flags. With --defaults only built-in defaults are shown, which
makes a starting template:

  mkv-transcoder config dump --defaults > transcoder.yaml

Environment variables use the MKVT_ prefix and underscores for nesting.
Example: logging.level -> MKVT_LOGGING_LEVEL`,
	RunE: runConfigDump,
}

func init() {
	configDumpCmd.Flags().BoolVar(&dumpDefaults, "defaults", false, "ignore file, environment and flags")
	configCmd.AddCommand(configDumpCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	var (
		cfg *config.Config
		err error
	)
	if dumpDefaults {
		cfg, err = config.Defaults()
	} else {
		cfg, err = loadConfig()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "# mkv-transcoder configuration")
	fmt.Fprintln(out, "# Durations use Go syntax (90m, 2h30m); min_free_space is in bytes.")
	fmt.Fprintln(out)
	_, err = out.Write(data)
	return err
}
