// Package cli provides shared scaffolding for statehub commands: standard
// flags, logger wiring, and error presentation.
package cli

import (
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/grovetools/statehub/config"
	"github.com/grovetools/statehub/logging"
	"github.com/grovetools/statehub/pkg/paths"
	"github.com/grovetools/statehub/util/pathutil"
)

// NewStandardCommand creates a new command with standard statehub flags
func NewStandardCommand(use, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	cmd.PersistentFlags().StringP("config", "c", "", "Path to statehub.yml config file")

	// Accept snake_case flag spellings, matching the statehub.yml keys.
	cmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	return cmd
}

// GetLogger returns a component logger honoring the standard flags.
func GetLogger(cmd *cobra.Command, component string) *logrus.Entry {
	entry := logging.NewLogger(component)

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		entry.Logger.SetLevel(logrus.DebugLevel)
	}
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		entry.Logger.SetFormatter(&logrus.JSONFormatter{})
	}

	return entry
}

// LoadConfig loads the configuration honoring the --config flag, falling
// back to the XDG location and then to defaults.
func LoadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		expanded, err := pathutil.Expand(path)
		if err != nil {
			return nil, err
		}
		return config.Load(expanded)
	}
	if path := paths.ConfigFilePath(); path != "" {
		return config.LoadDefault()
	}
	return config.Default(), nil
}
